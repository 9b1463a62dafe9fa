package model

// Price types a broker quote can be asked for. Bid and ask for the same
// symbol are materially different values and are cached under separate keys.
const (
	PriceTypeBid = "bid"
	PriceTypeAsk = "ask"
	PriceTypeMid = "mid"
)

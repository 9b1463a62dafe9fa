package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

const (
	OrderKindMarket = "MARKET"
	OrderKindLimit  = "LIMIT"
	OrderKindStop   = "STOP"
)

const (
	OrderOriginManual    = "MANUAL"
	OrderOriginAutomatic = "AUTOMATIC"
)

const (
	OrderStatusPending         = "pending"
	OrderStatusOpen            = "open"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCanceled        = "canceled"
	OrderStatusRejected        = "rejected"
	OrderStatusErrored         = "errored"
	OrderStatusExpired         = "expired"
	// OrderStatusWaitingTrigger is local-only: the order exists but has not
	// been submitted to the broker because its parent has not filled yet.
	OrderStatusWaitingTrigger = "waiting_trigger"
)

// Metadata keys used on dependent take-profit/stop-loss orders.
const (
	MetaTakeProfitPercent = "tp_percent"
	MetaStopLossPercent   = "sl_percent"
	MetaParentFilledPrice = "parent_filled_price"
)

// Order represents one order the system sends (or will send) to the broker.
// Dependent TP/SL orders carry ParentOrderID and stay in waiting_trigger
// until the parent order fills.
type Order struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	TransactionID    uint             `gorm:"index" json:"transaction_id"`
	ParentOrderID    *uint            `gorm:"index" json:"parent_order_id,omitempty"`
	RecommendationID *uint            `gorm:"index" json:"recommendation_id,omitempty"`
	Symbol           string           `gorm:"size:30;index" json:"symbol"`
	Side             string           `gorm:"size:10;not null" json:"side"`
	Kind             string           `gorm:"size:10;not null" json:"kind"`
	Quantity         decimal.Decimal  `gorm:"type:numeric" json:"quantity"`
	LimitPrice       *decimal.Decimal `gorm:"type:numeric" json:"limit_price,omitempty"`
	StopPrice        *decimal.Decimal `gorm:"type:numeric" json:"stop_price,omitempty"`
	OpenPrice        *decimal.Decimal `gorm:"type:numeric" json:"open_price,omitempty"`
	Status           string           `gorm:"size:50;not null;default:pending" json:"status"`
	Origin           string           `gorm:"size:10;not null;default:MANUAL" json:"origin"`
	BrokerRef        *string          `gorm:"size:120;index" json:"broker_ref,omitempty"`
	Metadata         map[string]any   `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`
	FilledAt         *time.Time       `json:"filled_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`

	// One-to-many relation: one order can have many lifecycle log entries.
	Logs []OrderLog `gorm:"foreignKey:OrderID" json:"order_logs,omitempty"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}

// IsEntry reports whether the order opens a position (no parent).
func (o *Order) IsEntry() bool {
	return o.ParentOrderID == nil
}

// IsTerminal reports whether the order reached a final state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected,
		OrderStatusErrored, OrderStatusExpired:
		return true
	}
	return false
}

// IsTerminalUnexecuted reports whether the order ended without ever
// executing at the broker.
func (o *Order) IsTerminalUnexecuted() bool {
	switch o.Status {
	case OrderStatusCanceled, OrderStatusRejected, OrderStatusErrored,
		OrderStatusExpired:
		return true
	}
	return false
}

// MetaDecimal reads a decimal value from the metadata map. Values written
// by the engine are stored as strings so they survive JSON round-trips.
func (o *Order) MetaDecimal(key string) (decimal.Decimal, bool) {
	if o.Metadata == nil {
		return decimal.Zero, false
	}
	raw, ok := o.Metadata[key]
	if !ok {
		return decimal.Zero, false
	}
	switch v := raw.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(v), true
	}
	return decimal.Zero, false
}

// SetMetaDecimal stores a decimal value in the metadata map as a string.
func (o *Order) SetMetaDecimal(key string, value decimal.Decimal) {
	if o.Metadata == nil {
		o.Metadata = map[string]any{}
	}
	o.Metadata[key] = value.String()
}

// OrderLog is an append-only lifecycle record for an order. Rows are
// written by the audit writer off the submission critical path.
type OrderLog struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	OrderID   uint             `gorm:"index" json:"order_id"`
	Symbol    string           `gorm:"size:30" json:"symbol"`
	Side      string           `gorm:"size:10" json:"side"`
	Kind      string           `gorm:"size:10" json:"kind"`
	Quantity  decimal.Decimal  `gorm:"type:numeric" json:"quantity"`
	Price     *decimal.Decimal `gorm:"type:numeric" json:"price,omitempty"`
	Status    string           `gorm:"size:50" json:"status"`
	Reason    string           `gorm:"size:255" json:"reason,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func (OrderLog) TableName() string {
	return "order_logs"
}

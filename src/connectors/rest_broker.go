// REST client for the broker order API.
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradecore/src/model"
	"tradecore/src/retry"
)

// APIResponse is the broker envelope shared by all endpoints.
type APIResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type brokerOrderPayload struct {
	ClientOrderID string `json:"clOrdID"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	OrdType       string `json:"ordType"`
	Quantity      string `json:"orderQty"`
	LimitPrice    string `json:"limitPrice,omitempty"`
	StopPrice     string `json:"stopPrice,omitempty"`
}

type brokerOrderState struct {
	OrderID   string `json:"orderID"`
	Status    string `json:"ordStatus"`
	FillPrice string `json:"avgFillPrice,omitempty"`
}

type brokerPosition struct {
	Symbol   string `json:"symbol"`
	Quantity string `json:"size"`
}

type brokerQuote struct {
	Bid string `json:"bid"`
	Ask string `json:"ask"`
}

// RESTBroker implements the Account capability over the broker's signed
// JSON API.
type RESTBroker struct {
	apiKey    string
	apiSecret string
	baseURL   string
	http      *resty.Client
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

// NewRESTBroker builds an authenticated client with internal bounded
// retry, sharing the backoff policy used for other transient contention.
func NewRESTBroker(apiKey, apiSecret, baseURL string) *RESTBroker {
	policy := retry.DefaultPolicy()

	config := GetConfig()
	if baseURL == "" {
		baseURL = config.BrokerBaseURL
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(config.RequestTimeout).
		SetRetryCount(policy.Attempts - 1).
		SetRetryWaitTime(policy.BaseDelay).
		SetRetryMaxWaitTime(policy.MaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &RESTBroker{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		http:      httpClient,
	}
}

func signRequest(path, query, body string, expiry int64, secret string) string {
	base := path
	if query != "" {
		base += query
	}
	base += fmt.Sprintf("%d", expiry)
	if body != "" {
		base += body
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *RESTBroker) doRequest(ctx context.Context, method, path, query string, body []byte) (*APIResponse, error) {
	expiry := time.Now().Add(1 * time.Minute).Unix()

	sig := signRequest(path, query, string(body), expiry, c.apiSecret)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("x-api-access-token", c.apiKey).
		SetHeader("x-api-request-expiry", fmt.Sprintf("%d", expiry)).
		SetHeader("x-api-request-signature", sig)

	if query != "" {
		req = req.SetQueryString(query)
	}
	if body != nil {
		req = req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}

	raw := resp.Body()

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(raw))
	}

	var apiResp APIResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, err
	}

	return &apiResp, nil
}

// SubmitOrder sends the order and returns the broker order id. Rejects are
// surfaced as ErrOrderRejected so the order book can mark the order
// terminal without retrying.
func (c *RESTBroker) SubmitOrder(ctx context.Context, order *model.Order) (string, error) {
	payload := brokerOrderPayload{
		ClientOrderID: fmt.Sprintf("tc-%s", uuid.NewString()),
		Symbol:        order.Symbol,
		Side:          order.Side,
		OrdType:       order.Kind,
		Quantity:      order.Quantity.String(),
	}
	if order.LimitPrice != nil {
		payload.LimitPrice = order.LimitPrice.String()
	}
	if order.StopPrice != nil {
		payload.StopPrice = order.StopPrice.String()
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	resp, err := c.doRequest(ctx, "POST", "/v1/orders", "", b)
	if err != nil {
		return "", err
	}
	if resp.Code != 0 {
		if isRejectCode(resp.Code) {
			return "", fmt.Errorf("%w: %s", ErrOrderRejected, resp.Msg)
		}
		return "", fmt.Errorf("API error %d: %s", resp.Code, resp.Msg)
	}

	var state brokerOrderState
	if err := json.Unmarshal(resp.Data, &state); err != nil {
		return "", err
	}

	logger.WithFields(map[string]interface{}{
		"symbol":     order.Symbol,
		"side":       order.Side,
		"kind":       order.Kind,
		"broker_ref": state.OrderID,
	}).Info("order submitted to broker")

	return state.OrderID, nil
}

// CancelOrder cancels an open broker order.
func (c *RESTBroker) CancelOrder(ctx context.Context, brokerRef string) error {
	resp, err := c.doRequest(ctx, "DELETE", "/v1/orders", fmt.Sprintf("orderID=%s", brokerRef), nil)
	if err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("API error %d: %s", resp.Code, resp.Msg)
	}
	return nil
}

// GetOrderStatus fetches the broker state of one order and maps it onto
// the local status vocabulary.
func (c *RESTBroker) GetOrderStatus(ctx context.Context, brokerRef string) (OrderStatusUpdate, error) {
	resp, err := c.doRequest(ctx, "GET", "/v1/orders/status", fmt.Sprintf("orderID=%s", brokerRef), nil)
	if err != nil {
		return OrderStatusUpdate{}, err
	}
	if resp.Code != 0 {
		return OrderStatusUpdate{}, fmt.Errorf("API error %d: %s", resp.Code, resp.Msg)
	}

	var state brokerOrderState
	if err := json.Unmarshal(resp.Data, &state); err != nil {
		return OrderStatusUpdate{}, err
	}

	update := OrderStatusUpdate{Status: mapBrokerStatus(state.Status)}
	if state.FillPrice != "" {
		fill, err := decimal.NewFromString(state.FillPrice)
		if err != nil {
			return OrderStatusUpdate{}, fmt.Errorf("invalid fill price %q: %w", state.FillPrice, err)
		}
		update.FillPrice = &fill
	}

	return update, nil
}

// GetPositions lists the broker's open positions.
func (c *RESTBroker) GetPositions(ctx context.Context) ([]PositionInfo, error) {
	resp, err := c.doRequest(ctx, "GET", "/v1/positions", "", nil)
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("API error %d: %s", resp.Code, resp.Msg)
	}

	var raw []brokerPosition
	if err := json.Unmarshal(resp.Data, &raw); err != nil {
		return nil, err
	}

	positions := make([]PositionInfo, 0, len(raw))
	for _, p := range raw {
		qty, err := decimal.NewFromString(p.Quantity)
		if err != nil {
			return nil, fmt.Errorf("invalid position size %q: %w", p.Quantity, err)
		}
		positions = append(positions, PositionInfo{Symbol: p.Symbol, Quantity: qty})
	}

	return positions, nil
}

// GetPrice fetches a live quote. Mid is derived client side.
func (c *RESTBroker) GetPrice(ctx context.Context, symbol string, priceType string) (decimal.Decimal, error) {
	resp, err := c.doRequest(ctx, "GET", "/v1/quotes", fmt.Sprintf("symbol=%s", symbol), nil)
	if err != nil {
		return decimal.Zero, err
	}
	if resp.Code != 0 {
		return decimal.Zero, fmt.Errorf("API error %d: %s", resp.Code, resp.Msg)
	}

	var quote brokerQuote
	if err := json.Unmarshal(resp.Data, &quote); err != nil {
		return decimal.Zero, err
	}

	bid, err := decimal.NewFromString(quote.Bid)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid bid %q: %w", quote.Bid, err)
	}
	ask, err := decimal.NewFromString(quote.Ask)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid ask %q: %w", quote.Ask, err)
	}

	switch priceType {
	case model.PriceTypeBid:
		return bid, nil
	case model.PriceTypeAsk:
		return ask, nil
	case model.PriceTypeMid:
		return bid.Add(ask).Div(decimal.NewFromInt(2)), nil
	}
	return decimal.Zero, fmt.Errorf("unknown price type %q", priceType)
}

// Broker reject codes: validation and balance failures.
func isRejectCode(code int) bool {
	return code >= 11000 && code < 12000
}

func mapBrokerStatus(status string) string {
	switch strings.ToLower(status) {
	case "new", "untriggered":
		return model.OrderStatusOpen
	case "partiallyfilled", "partially_filled":
		return model.OrderStatusPartiallyFilled
	case "filled":
		return model.OrderStatusFilled
	case "canceled", "cancelled":
		return model.OrderStatusCanceled
	case "rejected":
		return model.OrderStatusRejected
	case "expired":
		return model.OrderStatusExpired
	}
	return model.OrderStatusErrored
}

var _ Account = (*RESTBroker)(nil)

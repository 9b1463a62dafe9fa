package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionStatusWaiting = "waiting"
	TransactionStatusOpened  = "opened"
	TransactionStatusClosing = "closing"
	TransactionStatusClosed  = "closed"
)

// Transaction aggregates all orders for one position-opening intent.
// Quantity is the signed sum of filled entry orders (BUY positive,
// SELL negative).
type Transaction struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	AccountID  uint             `gorm:"index" json:"account_id"`
	ExpertID   string           `gorm:"size:60;index" json:"expert_id"`
	Symbol     string           `gorm:"size:30;index" json:"symbol"`
	Quantity   decimal.Decimal  `gorm:"type:numeric" json:"quantity"`
	OpenPrice  *decimal.Decimal `gorm:"type:numeric" json:"open_price,omitempty"`
	ClosePrice *decimal.Decimal `gorm:"type:numeric" json:"close_price,omitempty"`
	OpenDate   *time.Time       `json:"open_date,omitempty"`
	CloseDate  *time.Time       `json:"close_date,omitempty"`
	Status     string           `gorm:"size:50;not null;default:waiting" json:"status"`
	// Pending target values not yet materialized as dependent orders.
	TakeProfit *decimal.Decimal `gorm:"type:numeric" json:"take_profit,omitempty"`
	StopLoss   *decimal.Decimal `gorm:"type:numeric" json:"stop_loss,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`

	Orders []Order `gorm:"foreignKey:TransactionID" json:"orders,omitempty"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// IsActive reports whether the transaction still has or seeks a position.
func (t *Transaction) IsActive() bool {
	return t.Status == TransactionStatusWaiting ||
		t.Status == TransactionStatusOpened ||
		t.Status == TransactionStatusClosing
}

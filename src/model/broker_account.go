package model

import "time"

// BrokerAccount holds the connection settings for one broker account.
// API credentials are stored encrypted (see src/security).
type BrokerAccount struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"size:120;uniqueIndex" json:"name"`
	BaseURL       string    `gorm:"size:255" json:"base_url"`
	APIKeyHash    string    `gorm:"size:255" json:"-"`
	APISecretHash string    `gorm:"size:255" json:"-"`
	Active        bool      `gorm:"default:true" json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (BrokerAccount) TableName() string {
	return "broker_accounts"
}

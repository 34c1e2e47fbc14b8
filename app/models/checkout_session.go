package models

import "time"

// CheckoutSession maps a gateway preference back to the buyer. It is written
// when a preference is created and read as the last-resort attribution source
// when a payment arrives without usable metadata.
type CheckoutSession struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PreferenceID    string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_checkout_sessions_preference" json:"preference_id"`
	UserID          uint      `gorm:"not null;index" json:"user_id"`
	CreditsToAdd    uint      `gorm:"not null;default:0" json:"credits_to_add"`
	AmountRequested float64   `gorm:"type:decimal(12,2);not null;default:0" json:"amount_requested"`
	BuyerName       string    `gorm:"type:varchar(150);default:''" json:"buyer_name"`
	BuyerEmail      string    `gorm:"type:varchar(200);default:''" json:"buyer_email"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

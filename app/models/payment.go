package models

import "time"

// Payment statuses after normalization of gateway values.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusApproved = "approved"
	PaymentStatusRejected = "rejected"
	PaymentStatusUnknown  = "unknown"
)

// Payment is the write-once settlement record for one gateway payment id.
// The unique index on PaymentID is what collapses duplicate webhook
// deliveries into a single financial effect.
type Payment struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	PaymentID      string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_payments_payment_id" json:"payment_id"`
	Status         string     `gorm:"type:varchar(20);not null;index" json:"status"`
	UserID         *uint      `gorm:"index" json:"user_id,omitempty"`
	CreditsToAdd   uint       `gorm:"not null;default:0" json:"credits_to_add"`
	AmountPaid     float64    `gorm:"type:decimal(12,2);not null;default:0" json:"amount_paid"`
	PreferenceID   string     `gorm:"type:varchar(128);default:'';index" json:"preference_id"`
	RawPayloadJSON string     `gorm:"type:longtext" json:"-"`
	SettledAt      *time.Time `gorm:"type:timestamp;default:null" json:"settled_at,omitempty"`
	ReconcileNote  string     `gorm:"type:varchar(255);default:''" json:"reconcile_note,omitempty"`
	ReceivedAt     time.Time  `gorm:"not null" json:"received_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsSettled reports whether this record already carried its credit increment.
func (p *Payment) IsSettled() bool {
	return p.SettledAt != nil
}

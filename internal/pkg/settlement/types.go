package settlement

import "time"

// Outcome describes what Settle did with a verified payment.
type Outcome string

const (
	// OutcomeSettled: payment recorded and the user credited exactly once.
	OutcomeSettled Outcome = "settled"
	// OutcomeDuplicate: the payment id was already recorded; nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeRecorded: non-approved payment stored for audit, no credit mutation.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeUnattributed: approved payment with no recoverable user or zero
	// credits; stored and flagged for manual reconciliation.
	OutcomeUnattributed Outcome = "unattributed"
	// OutcomeOrphaned: approved and attributed, but the user row is missing.
	OutcomeOrphaned Outcome = "orphaned"
)

// PaymentResult is the normalized, gateway-verified view of one payment. It
// is the only input Settle accepts; webhook bodies never reach the ledger.
type PaymentResult struct {
	ID           string
	Status       string
	UserID       *uint
	CreditsToAdd uint
	AmountPaid   float64
	PreferenceID string
	RawJSON      string
	ReceivedAt   time.Time
}

// Attribution is the recovered {user, credits} pair a payment should settle
// against.
type Attribution struct {
	UserID       uint
	CreditsToAdd uint
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

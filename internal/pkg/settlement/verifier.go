package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/quiniela360/backend/app/models"
	"github.com/quiniela360/backend/internal/pkg/gateway"
)

// ErrGatewayUnavailable marks a verification that failed transiently: the
// event should be acknowledged to stop retry storms and flagged for manual
// reconciliation.
var ErrGatewayUnavailable = errors.New("gateway unavailable")

const (
	defaultVerifyAttempts = 3
	defaultVerifyBackoff  = 500 * time.Millisecond
)

// PaymentFetcher is the single gateway operation verification needs.
type PaymentFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
}

// Verifier turns a webhook payment id into an authoritative PaymentResult by
// re-querying the gateway. Webhook-embedded status and amounts are never
// trusted.
type Verifier struct {
	gateway  PaymentFetcher
	sessions SessionSource
	attempts int
	backoff  time.Duration
}

// NewVerifier wires a verifier from an injected gateway client and session
// source.
func NewVerifier(fetcher PaymentFetcher, sessions SessionSource) *Verifier {
	return &Verifier{
		gateway:  fetcher,
		sessions: sessions,
		attempts: defaultVerifyAttempts,
		backoff:  defaultVerifyBackoff,
	}
}

// Verify fetches and normalizes a payment. Gateway failures are retried a
// small fixed number of times with brief backoff before being reported as
// ErrGatewayUnavailable.
func (v *Verifier) Verify(ctx context.Context, paymentID string) (*PaymentResult, error) {
	var (
		payment *gateway.Payment
		err     error
	)
	for attempt := 1; attempt <= v.attempts; attempt++ {
		payment, err = v.gateway.GetPayment(ctx, paymentID)
		if err == nil {
			break
		}
		if attempt < v.attempts {
			log.Printf("payment %s lookup failed (try %d/%d): %v", paymentID, attempt, v.attempts, err)
			select {
			case <-time.After(v.backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, ctx.Err())
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	result := &PaymentResult{
		ID:           payment.ID,
		Status:       NormalizeStatus(payment.Status),
		AmountPaid:   payment.TransactionAmount,
		PreferenceID: payment.PreferenceID,
		ReceivedAt:   time.Now(),
	}
	if raw, marshalErr := json.Marshal(payment); marshalErr == nil {
		result.RawJSON = string(raw)
	}

	if attr, source := recoverAttribution(v.sessions, payment); attr != nil {
		uid := attr.UserID
		result.UserID = &uid
		result.CreditsToAdd = attr.CreditsToAdd
		log.Printf("payment %s attributed to user %d via %s (credits=%d)", payment.ID, uid, source, attr.CreditsToAdd)
	} else {
		log.Printf("payment %s could not be attributed to a user, reconciliation required", payment.ID)
	}

	return result, nil
}

// NormalizeStatus maps raw gateway payment statuses onto the four settlement
// statuses.
func NormalizeStatus(raw string) string {
	switch raw {
	case "approved":
		return models.PaymentStatusApproved
	case "pending", "in_process", "in_mediation", "authorized":
		return models.PaymentStatusPending
	case "rejected", "cancelled", "refunded", "charged_back":
		return models.PaymentStatusRejected
	default:
		return models.PaymentStatusUnknown
	}
}

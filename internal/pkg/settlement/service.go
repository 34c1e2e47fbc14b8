package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/quiniela360/backend/app/models"
	"gorm.io/gorm"
)

const (
	txAttempts   = 3
	txRetryDelay = 100 * time.Millisecond
)

// Service is the settlement ledger: it converts verified payment results into
// at-most-once credit adjustments.
type Service struct {
	repo Repository
}

// NewService creates a settlement service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a settlement service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// Repo exposes the underlying repository, for collaborators that share it
// (checkout persistence, verifier session lookups).
func (s *Service) Repo() Repository {
	return s.repo
}

// Settle applies a verified payment to the ledger:
//
//	unseen -> recorded(pending|rejected|unknown)  terminal, no balance effect
//	unseen -> recorded(approved)+settled          terminal, one balance increment
//
// A payment id that is already recorded is a duplicate delivery and a no-op,
// whatever status the new delivery claims. The existence check, the record
// insert, and the credit increment run in one transaction so concurrent
// deliveries of the same id cannot split them.
func (s *Service) Settle(ctx context.Context, res PaymentResult) (Outcome, error) {
	_ = ctx
	if strings.TrimSpace(res.ID) == "" {
		return "", errors.New("payment id is required")
	}
	if res.ReceivedAt.IsZero() {
		res.ReceivedAt = time.Now()
	}

	var outcome Outcome
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		outcome, err = s.settleOnce(res)
		if err == nil || !isRetryableTxError(err) {
			return outcome, err
		}
		log.Printf("settle %s: transaction conflict (try %d/%d): %v", res.ID, attempt, txAttempts, err)
		if attempt < txAttempts {
			time.Sleep(txRetryDelay)
		}
	}
	return "", fmt.Errorf("settle %s: transaction conflict persisted: %w", res.ID, err)
}

func (s *Service) settleOnce(res PaymentResult) (Outcome, error) {
	record := &models.Payment{
		PaymentID:      res.ID,
		Status:         res.Status,
		UserID:         res.UserID,
		CreditsToAdd:   res.CreditsToAdd,
		AmountPaid:     res.AmountPaid,
		PreferenceID:   res.PreferenceID,
		RawPayloadJSON: res.RawJSON,
		ReceivedAt:     res.ReceivedAt,
	}

	outcome := OutcomeRecorded
	if res.Status == models.PaymentStatusApproved {
		switch {
		case res.UserID == nil:
			outcome = OutcomeUnattributed
			record.ReconcileNote = "approved payment without recoverable user"
		case res.CreditsToAdd == 0:
			outcome = OutcomeUnattributed
			record.ReconcileNote = "approved payment with no credit amount"
		default:
			outcome = OutcomeSettled
		}
	}

	err := s.repo.WithTx(func(r Repository) error {
		created, err := r.CreatePaymentIfNotExists(record)
		if err != nil {
			return err
		}
		if !created {
			outcome = OutcomeDuplicate
			return nil
		}

		if outcome != OutcomeSettled {
			if record.ReconcileNote != "" {
				log.Printf("settle %s: %s", res.ID, record.ReconcileNote)
			}
			return nil
		}

		credited, err := r.AddUserCredits(*res.UserID, res.CreditsToAdd)
		if err != nil {
			return err
		}
		if !credited {
			// Never create a user implicitly with financial side effects.
			outcome = OutcomeOrphaned
			log.Printf("settle %s: user %d not found, payment recorded for reconciliation", res.ID, *res.UserID)
			return r.FlagPaymentForReconciliation(res.ID, "user record not found at settlement")
		}
		return r.MarkPaymentSettled(res.ID, time.Now())
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

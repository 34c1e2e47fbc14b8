package settlement

import (
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/quiniela360/backend/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSessionNotFound is returned when no checkout session maps a preference
// id back to a buyer.
var ErrSessionNotFound = errors.New("checkout session not found")

// Repository provides DB operations used by the settlement service.
type Repository interface {
	// CreatePaymentIfNotExists inserts the payment unless its payment id is
	// already recorded. It reports whether this call created the row.
	CreatePaymentIfNotExists(p *models.Payment) (bool, error)
	// AddUserCredits atomically increments a user's credit balance. It
	// reports whether a user row was actually updated.
	AddUserCredits(userID uint, credits uint) (bool, error)
	MarkPaymentSettled(paymentID string, at time.Time) error
	FlagPaymentForReconciliation(paymentID, note string) error

	CreateCheckoutSession(cs *models.CheckoutSession) error
	GetCheckoutSessionByPreferenceID(preferenceID string) (*models.CheckoutSession, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error

	// WithTx runs fn against a transaction-scoped repository.
	WithTx(fn func(Repository) error) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a settlement repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreatePaymentIfNotExists(p *models.Payment) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_id"}},
		DoNothing: true,
	}).Create(p)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) AddUserCredits(userID uint, credits uint) (bool, error) {
	tx := r.db.Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("credits", gorm.Expr("credits + ?", credits))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkPaymentSettled(paymentID string, at time.Time) error {
	return r.db.Model(&models.Payment{}).
		Where("payment_id = ?", paymentID).
		UpdateColumn("settled_at", &at).Error
}

func (r *gormRepository) FlagPaymentForReconciliation(paymentID, note string) error {
	return r.db.Model(&models.Payment{}).
		Where("payment_id = ?", paymentID).
		UpdateColumn("reconcile_note", note).Error
}

func (r *gormRepository) CreateCheckoutSession(cs *models.CheckoutSession) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "preference_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"credits_to_add",
			"amount_requested",
			"buyer_name",
			"buyer_email",
			"updated_at",
		}),
	}).Create(cs).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("preference_id = ?", cs.PreferenceID).First(cs).Error
}

func (r *gormRepository) GetCheckoutSessionByPreferenceID(preferenceID string) (*models.CheckoutSession, error) {
	var cs models.CheckoutSession
	err := r.db.Where("preference_id = ?", preferenceID).First(&cs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) WithTx(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

// MySQL deadlock and lock-wait-timeout, the two errors worth retrying a
// settlement transaction for.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

func isRetryableTxError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDeadlock || mysqlErr.Number == mysqlErrLockWaitTimeout
	}
	return false
}

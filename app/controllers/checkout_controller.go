package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/quiniela360/backend/app/models"
	"github.com/quiniela360/backend/internal/pkg/env"
	"github.com/quiniela360/backend/internal/pkg/gateway"
	"github.com/quiniela360/backend/internal/pkg/settlement"
)

// PreferenceCreator abstracts the gateway call for handler tests.
type PreferenceCreator interface {
	CreatePreference(ctx context.Context, in gateway.PreferenceRequest) (*gateway.Preference, error)
}

// CheckoutController creates gateway checkout preferences and stores the
// preference-to-buyer mapping used later for attribution recovery.
type CheckoutController struct {
	gateway PreferenceCreator
	repo    settlement.Repository
}

func NewCheckoutController(creator PreferenceCreator, repo settlement.Repository) *CheckoutController {
	return &CheckoutController{gateway: creator, repo: repo}
}

type createPreferenceRequest struct {
	UserID       uint    `json:"userId" validate:"required,gt=0"`
	Amount       float64 `json:"amount" validate:"required,gt=0"`
	CreditsToAdd uint    `json:"creditsToAdd" validate:"required,gt=0"`
	Name         string  `json:"name" validate:"max=150"`
	Email        string  `json:"email" validate:"omitempty,email"`
}

func (cc *CheckoutController) HandleCreatePreference(c *fiber.Ctx) error {
	var req createPreferenceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_fields", "detail": err.Error()})
	}

	buyerName := req.Name
	if buyerName == "" {
		buyerName = "Usuario"
	}

	// The attribution travels twice: structured metadata plus an
	// external_reference JSON blob, so a payment stays recoverable even when
	// the gateway drops one of them.
	externalRef, _ := json.Marshal(fiber.Map{
		"userId":       strconv.FormatUint(uint64(req.UserID), 10),
		"creditsToAdd": req.CreditsToAdd,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pref, err := cc.gateway.CreatePreference(ctx, gateway.PreferenceRequest{
		Items: []gateway.PreferenceItem{{
			Title:      fmt.Sprintf("%d Créditos Quiniela360", req.CreditsToAdd),
			Quantity:   1,
			CurrencyID: env.GetEnv("CHECKOUT_CURRENCY", "MXN"),
			UnitPrice:  req.Amount,
		}},
		Payer: gateway.PreferencePayer{
			Name:  buyerName,
			Email: req.Email,
		},
		Metadata: map[string]interface{}{
			"user_id":        req.UserID,
			"credits_to_add": req.CreditsToAdd,
		},
		ExternalReference: string(externalRef),
		BackURLs: &gateway.PreferenceBackURLs{
			Success: env.GetEnv("CHECKOUT_SUCCESS_URL", ""),
			Failure: env.GetEnv("CHECKOUT_FAILURE_URL", ""),
			Pending: env.GetEnv("CHECKOUT_PENDING_URL", ""),
		},
		AutoReturn:      "approved",
		NotificationURL: env.GetEnv("MP_NOTIFICATION_URL", ""),
	})
	if err != nil {
		log.Printf("checkout: preference create for user %d failed: %v", req.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "preference_create_failed"})
	}

	// A failed mapping write is not fatal: the metadata and
	// external_reference strategies still attribute the payment.
	if err := cc.repo.CreateCheckoutSession(&models.CheckoutSession{
		PreferenceID:    pref.ID,
		UserID:          req.UserID,
		CreditsToAdd:    req.CreditsToAdd,
		AmountRequested: req.Amount,
		BuyerName:       buyerName,
		BuyerEmail:      req.Email,
	}); err != nil {
		log.Printf("checkout: could not store session mapping for preference %s: %v", pref.ID, err)
	}

	log.Printf("checkout: preference %s created for user %d (%.2f %s, %d credits)",
		pref.ID, req.UserID, req.Amount, env.GetEnv("CHECKOUT_CURRENCY", "MXN"), req.CreditsToAdd)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"id": pref.ID, "init_point": pref.InitPoint})
}

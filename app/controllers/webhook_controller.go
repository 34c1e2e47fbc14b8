package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/quiniela360/backend/app/models"
	"github.com/quiniela360/backend/internal/pkg/cache"
	"github.com/quiniela360/backend/internal/pkg/env"
	"github.com/quiniela360/backend/internal/pkg/gateway"
	"github.com/quiniela360/backend/internal/pkg/metrics/counter"
	"github.com/quiniela360/backend/internal/pkg/settlement"
)

// PaymentVerifier abstracts the verification step for handler tests.
type PaymentVerifier interface {
	Verify(ctx context.Context, paymentID string) (*settlement.PaymentResult, error)
}

// WebhookController receives gateway payment notifications and drives
// verification and settlement. Dependencies are injected; the controller
// holds no state of its own.
type WebhookController struct {
	verifier      PaymentVerifier
	svc           *settlement.Service
	webhookSecret string
}

func NewWebhookController(verifier PaymentVerifier, svc *settlement.Service, webhookSecret string) *WebhookController {
	return &WebhookController{
		verifier:      verifier,
		svc:           svc,
		webhookSecret: strings.TrimSpace(webhookSecret),
	}
}

// NewWebhookControllerFromEnv wires the controller against the real gateway
// and the shared database.
func NewWebhookControllerFromEnv(client *gateway.Client, svc *settlement.Service) *WebhookController {
	verifier := settlement.NewVerifier(client, svc.Repo())
	return NewWebhookController(verifier, svc, env.GetEnv("MP_WEBHOOK_SECRET", ""))
}

// webhookNotification covers the notification shapes the gateway has used
// over time: {type, data.id}, {topic, id} and {action: "payment.updated"}.
type webhookNotification struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Topic  string      `json:"topic"`
	Action string      `json:"action"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

func (n *webhookNotification) eventType() string {
	for _, v := range []string{n.Type, n.Topic, n.Action} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return "unknown"
}

func (n *webhookNotification) isPaymentEvent() bool {
	if strings.EqualFold(strings.TrimSpace(n.Type), "payment") {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(n.Topic), "payment") {
		return true
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(n.Action)), "payment.")
}

// paymentID prefers the body's data.id, then the query params older
// notification modes use.
func (n *webhookNotification) paymentID(c *fiber.Ctx) string {
	if id := n.Data.ID.String(); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.Query("data.id")); id != "" {
		return id
	}
	if id := n.ID.String(); id != "" && strings.EqualFold(strings.TrimSpace(n.Topic), "payment") {
		return id
	}
	if id := strings.TrimSpace(c.Query("id")); id != "" {
		return id
	}
	return ""
}

func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	requestID := firstHeaderValue(c, "X-Request-Id", "X-Request-ID")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var notification webhookNotification
	parseErr := json.Unmarshal(rawBody, &notification)

	paymentID := ""
	if parseErr == nil {
		paymentID = notification.paymentID(c)
	}

	signatureValid := false
	if wc.webhookSecret != "" {
		signatureValid = gateway.VerifyWebhookSignature(c.Get("x-signature"), requestID, paymentID, wc.webhookSecret)
	}

	created, stored, err := wc.svc.RecordWebhookEvent(ctx, settlement.WebhookEventInput{
		Provider:        models.ProviderMercadoPago,
		ProviderEventID: requestID,
		EventType:       notification.eventType(),
		PayloadJSON:     string(rawBody),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	if parseErr != nil {
		_ = wc.svc.MarkWebhookProcessed(ctx, stored.ID, parseErr)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if wc.webhookSecret != "" && !signatureValid {
		_ = wc.svc.MarkWebhookProcessed(ctx, stored.ID, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}
	if !notification.isPaymentEvent() {
		_ = wc.svc.MarkWebhookProcessed(ctx, stored.ID, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}
	if paymentID == "" {
		_ = wc.svc.MarkWebhookProcessed(ctx, stored.ID, errors.New("payment event without payment id"))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_payment_id"})
	}

	// Fast path for provider retries of an already-recorded payment. The
	// ledger's unique key stays authoritative; this only skips a gateway
	// round trip.
	if cache.PaymentSeen(paymentID) {
		_ = wc.svc.MarkWebhookProcessed(ctx, stored.ID, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	result, err := wc.verifier.Verify(ctx, paymentID)
	if err != nil {
		// Transient gateway trouble: acknowledge so the provider stops
		// hammering us, keep the event flagged for manual follow-up.
		log.Printf("webhook: payment %s verification failed: %v", paymentID, err)
		_ = wc.svc.MarkWebhookProcessed(ctx, stored.ID, err)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "flagged": "manual_reconciliation"})
	}

	outcome, err := wc.svc.Settle(ctx, *result)
	if err != nil {
		_ = wc.svc.MarkWebhookProcessed(ctx, stored.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settlement_failed"})
	}

	cache.MarkPaymentSeen(paymentID, result.Status)
	_ = counter.AddOutcome(string(outcome))
	if outcome == settlement.OutcomeSettled {
		_ = counter.AddCreditsGranted(result.CreditsToAdd)
	}
	_ = wc.svc.MarkWebhookProcessed(ctx, stored.ID, nil)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "outcome": string(outcome)})
}

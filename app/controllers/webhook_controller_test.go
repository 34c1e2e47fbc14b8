package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/quiniela360/backend/app/models"
	"github.com/quiniela360/backend/internal/pkg/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo implements settlement.Repository in memory for handler tests.
type fakeRepo struct {
	mu       sync.Mutex
	payments map[string]*models.Payment
	users    map[uint]*models.User
	sessions map[string]*models.CheckoutSession
	events   map[string]*models.WebhookEvent
	nextID   uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		payments: make(map[string]*models.Payment),
		users:    make(map[uint]*models.User),
		sessions: make(map[string]*models.CheckoutSession),
		events:   make(map[string]*models.WebhookEvent),
	}
}

func (f *fakeRepo) CreatePaymentIfNotExists(p *models.Payment) (bool, error) {
	if _, ok := f.payments[p.PaymentID]; ok {
		return false, nil
	}
	f.nextID++
	p.ID = f.nextID
	cp := *p
	f.payments[p.PaymentID] = &cp
	return true, nil
}

func (f *fakeRepo) AddUserCredits(userID uint, credits uint) (bool, error) {
	u, ok := f.users[userID]
	if !ok {
		return false, nil
	}
	u.Credits += credits
	return true, nil
}

func (f *fakeRepo) MarkPaymentSettled(paymentID string, at time.Time) error {
	if p, ok := f.payments[paymentID]; ok {
		p.SettledAt = &at
	}
	return nil
}

func (f *fakeRepo) FlagPaymentForReconciliation(paymentID, note string) error {
	if p, ok := f.payments[paymentID]; ok {
		p.ReconcileNote = note
	}
	return nil
}

func (f *fakeRepo) CreateCheckoutSession(cs *models.CheckoutSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *cs
	f.sessions[cs.PreferenceID] = &cp
	return nil
}

func (f *fakeRepo) GetCheckoutSessionByPreferenceID(preferenceID string) (*models.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs, ok := f.sessions[preferenceID]
	if !ok {
		return nil, settlement.ErrSessionNotFound
	}
	cp := *cs
	return &cp, nil
}

func (f *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := event.Provider + "/" + event.ProviderEventID
	if stored, ok := f.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	f.nextID++
	event.ID = f.nextID
	cp := *event
	f.events[key] = &cp
	out := cp
	return true, &out, nil
}

func (f *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, ev := range f.events {
		if ev.ID == id {
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
		}
	}
	return nil
}

func (f *fakeRepo) WithTx(fn func(settlement.Repository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(&fakeRepoTx{f})
}

// fakeRepoTx runs inside WithTx's lock.
type fakeRepoTx struct{ repo *fakeRepo }

func (t *fakeRepoTx) CreatePaymentIfNotExists(p *models.Payment) (bool, error) {
	return t.repo.CreatePaymentIfNotExists(p)
}
func (t *fakeRepoTx) AddUserCredits(userID uint, credits uint) (bool, error) {
	return t.repo.AddUserCredits(userID, credits)
}
func (t *fakeRepoTx) MarkPaymentSettled(paymentID string, at time.Time) error {
	return t.repo.MarkPaymentSettled(paymentID, at)
}
func (t *fakeRepoTx) FlagPaymentForReconciliation(paymentID, note string) error {
	return t.repo.FlagPaymentForReconciliation(paymentID, note)
}
func (t *fakeRepoTx) CreateCheckoutSession(cs *models.CheckoutSession) error {
	cp := *cs
	t.repo.sessions[cs.PreferenceID] = &cp
	return nil
}
func (t *fakeRepoTx) GetCheckoutSessionByPreferenceID(preferenceID string) (*models.CheckoutSession, error) {
	cs, ok := t.repo.sessions[preferenceID]
	if !ok {
		return nil, settlement.ErrSessionNotFound
	}
	cp := *cs
	return &cp, nil
}
func (t *fakeRepoTx) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	return false, nil, nil
}
func (t *fakeRepoTx) MarkWebhookProcessed(id uint, processingError string) error { return nil }
func (t *fakeRepoTx) WithTx(fn func(settlement.Repository) error) error          { return fn(t) }

// stubVerifier hands out canned results per payment id.
type stubVerifier struct {
	results map[string]*settlement.PaymentResult
	err     error
}

func (s *stubVerifier) Verify(ctx context.Context, paymentID string) (*settlement.PaymentResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	result, ok := s.results[paymentID]
	if !ok {
		return nil, settlement.ErrGatewayUnavailable
	}
	cp := *result
	return &cp, nil
}

func newWebhookTestApp(repo *fakeRepo, verifier PaymentVerifier, secret string) *fiber.App {
	app := fiber.New()
	wc := NewWebhookController(verifier, settlement.NewService(repo), secret)
	app.Post("/webhook", wc.HandleWebhook)
	return app
}

func postWebhook(t *testing.T, app *fiber.App, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func uintPtr(v uint) *uint { return &v }

func approvedP1Result() *settlement.PaymentResult {
	return &settlement.PaymentResult{
		ID:           "P1",
		Status:       models.PaymentStatusApproved,
		UserID:       uintPtr(1),
		CreditsToAdd: 50,
		AmountPaid:   50,
	}
}

func TestWebhookApprovedPaymentCreditsUser(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &models.User{ID: 1, Credits: 10}
	verifier := &stubVerifier{results: map[string]*settlement.PaymentResult{"P1": approvedP1Result()}}
	app := newWebhookTestApp(repo, verifier, "")

	resp, body := postWebhook(t, app, `{"type":"payment","data":{"id":"P1"}}`, map[string]string{"X-Request-Id": "req-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "settled", body["outcome"])

	assert.Equal(t, uint(60), repo.users[1].Credits)
	require.Contains(t, repo.payments, "P1")
	assert.Equal(t, uint(50), repo.payments["P1"].CreditsToAdd)
}

func TestWebhookSameDeliveryTwiceCreditsOnce(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &models.User{ID: 1, Credits: 10}
	verifier := &stubVerifier{results: map[string]*settlement.PaymentResult{"P1": approvedP1Result()}}
	app := newWebhookTestApp(repo, verifier, "")

	resp, _ := postWebhook(t, app, `{"type":"payment","data":{"id":"P1"}}`, map[string]string{"X-Request-Id": "req-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Identical redelivery: caught by the webhook event store.
	resp, body := postWebhook(t, app, `{"type":"payment","data":{"id":"P1"}}`, map[string]string{"X-Request-Id": "req-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["duplicate"])

	// Fresh delivery id, same payment: caught by the ledger.
	resp, body = postWebhook(t, app, `{"type":"payment","data":{"id":"P1"}}`, map[string]string{"X-Request-Id": "req-2"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", body["outcome"])

	assert.Equal(t, uint(60), repo.users[1].Credits)
}

func TestWebhookPendingPaymentRecordedWithoutCredit(t *testing.T) {
	repo := newFakeRepo()
	repo.users[1] = &models.User{ID: 1, Credits: 10}
	verifier := &stubVerifier{results: map[string]*settlement.PaymentResult{
		"P2": {ID: "P2", Status: models.PaymentStatusPending, UserID: uintPtr(1), CreditsToAdd: 50},
	}}
	app := newWebhookTestApp(repo, verifier, "")

	resp, body := postWebhook(t, app, `{"type":"payment","data":{"id":"P2"}}`, map[string]string{"X-Request-Id": "req-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "recorded", body["outcome"])

	assert.Equal(t, uint(10), repo.users[1].Credits)
	require.Contains(t, repo.payments, "P2")
	assert.Equal(t, models.PaymentStatusPending, repo.payments["P2"].Status)
}

func TestWebhookUnattributedApprovedPaymentFlagged(t *testing.T) {
	repo := newFakeRepo()
	verifier := &stubVerifier{results: map[string]*settlement.PaymentResult{
		"P3": {ID: "P3", Status: models.PaymentStatusApproved, CreditsToAdd: 0},
	}}
	app := newWebhookTestApp(repo, verifier, "")

	resp, body := postWebhook(t, app, `{"type":"payment","data":{"id":"P3"}}`, map[string]string{"X-Request-Id": "req-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "unattributed", body["outcome"])

	require.Contains(t, repo.payments, "P3")
	assert.Nil(t, repo.payments["P3"].UserID)
	assert.NotEmpty(t, repo.payments["P3"].ReconcileNote)
}

func TestWebhookNonPaymentEventIgnored(t *testing.T) {
	repo := newFakeRepo()
	app := newWebhookTestApp(repo, &stubVerifier{}, "")

	resp, body := postWebhook(t, app, `{"type":"plan","data":{"id":"X"}}`, map[string]string{"X-Request-Id": "req-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ignored"])
	assert.Empty(t, repo.payments)
}

func TestWebhookPaymentEventWithoutIDRejected(t *testing.T) {
	repo := newFakeRepo()
	app := newWebhookTestApp(repo, &stubVerifier{}, "")

	resp, body := postWebhook(t, app, `{"type":"payment","data":{}}`, map[string]string{"X-Request-Id": "req-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing_payment_id", body["error"])
}

func TestWebhookMalformedBodyRejected(t *testing.T) {
	repo := newFakeRepo()
	app := newWebhookTestApp(repo, &stubVerifier{}, "")

	resp, body := postWebhook(t, app, `{"type":`, map[string]string{"X-Request-Id": "req-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_payload", body["error"])
}

func TestWebhookGatewayFailureAcknowledgedAndFlagged(t *testing.T) {
	repo := newFakeRepo()
	verifier := &stubVerifier{err: settlement.ErrGatewayUnavailable}
	app := newWebhookTestApp(repo, verifier, "")

	resp, body := postWebhook(t, app, `{"type":"payment","data":{"id":"P9"}}`, map[string]string{"X-Request-Id": "req-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "manual_reconciliation", body["flagged"])
	assert.Empty(t, repo.payments)

	// The stored event keeps the failure for follow-up.
	ev := repo.events[models.ProviderMercadoPago+"/req-1"]
	require.NotNil(t, ev)
	assert.Contains(t, ev.ProcessingError, "gateway unavailable")
}

func TestWebhookTopicAndActionClassification(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "topic with top-level id", body: `{"topic":"payment","id":"P1"}`},
		{name: "action prefix", body: `{"action":"payment.updated","data":{"id":"P1"}}`},
		{name: "numeric data id", body: `{"type":"payment","data":{"id":123}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			repo.users[1] = &models.User{ID: 1, Credits: 0}
			verifier := &stubVerifier{results: map[string]*settlement.PaymentResult{
				"P1":  approvedP1Result(),
				"123": {ID: "123", Status: models.PaymentStatusApproved, UserID: uintPtr(1), CreditsToAdd: 50},
			}}
			app := newWebhookTestApp(repo, verifier, "")

			resp, body := postWebhook(t, app, tt.body, map[string]string{"X-Request-Id": "req-1"})
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "settled", body["outcome"])
			assert.Equal(t, uint(50), repo.users[1].Credits)
		})
	}
}

func TestWebhookInvalidSignatureRejected(t *testing.T) {
	repo := newFakeRepo()
	app := newWebhookTestApp(repo, &stubVerifier{}, "webhook-secret")

	resp, body := postWebhook(t, app, `{"type":"payment","data":{"id":"P1"}}`, map[string]string{
		"X-Request-Id": "req-1",
		"x-signature":  "ts=1700000000,v1=deadbeef",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_signature", body["error"])
	assert.Empty(t, repo.payments)
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quiniela360/backend/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.mercadopago.com"

// ErrPaymentNotFound signals that the gateway does not (yet) know the payment
// id. Freshly created payments can 404 for a short while, so callers may
// retry before treating this as final.
var ErrPaymentNotFound = errors.New("gateway payment not found")

// Client talks to the Mercado Pago REST API. It is constructed explicitly and
// passed to its consumers; there is no process-global SDK configuration.
type Client struct {
	AccessToken string
	APIBaseURL  string

	HTTPClient *http.Client
}

func NewClientFromEnv() *Client {
	return &Client{
		AccessToken: strings.TrimSpace(env.GetEnv("MP_ACCESS_TOKEN", "")),
		APIBaseURL:  strings.TrimRight(env.GetEnv("MP_API_BASE_URL", defaultAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// PreferenceItem is one purchasable line item on a checkout preference.
type PreferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	CurrencyID string  `json:"currency_id,omitempty"`
	UnitPrice  float64 `json:"unit_price"`
}

// PreferencePayer identifies the buyer shown on the checkout page.
type PreferencePayer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// PreferenceBackURLs are the redirect targets after checkout.
type PreferenceBackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

// PreferenceRequest is the body for creating a checkout preference.
type PreferenceRequest struct {
	Items             []PreferenceItem       `json:"items"`
	Payer             PreferencePayer        `json:"payer"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	ExternalReference string                 `json:"external_reference,omitempty"`
	BackURLs          *PreferenceBackURLs    `json:"back_urls,omitempty"`
	AutoReturn        string                 `json:"auto_return,omitempty"`
	NotificationURL   string                 `json:"notification_url,omitempty"`
}

// Preference is the created checkout session returned by the gateway.
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// Payment is the authoritative payment state as reported by the gateway.
type Payment struct {
	ID                string
	Status            string
	StatusDetail      string
	TransactionAmount float64
	ExternalReference string
	PreferenceID      string
	Metadata          map[string]interface{}
}

// CreatePreference creates a checkout preference. A fresh idempotency key is
// attached so a timed-out create can be retried by the caller without
// producing a second preference.
func (c *Client) CreatePreference(ctx context.Context, in PreferenceRequest) (*Preference, error) {
	if strings.TrimSpace(c.AccessToken) == "" {
		return nil, errors.New("MP_ACCESS_TOKEN is not configured")
	}
	if len(in.Items) == 0 {
		return nil, errors.New("preference requires at least one item")
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/checkout/preferences", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("X-Idempotency-Key", uuid.NewString())

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("preference create failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out Preference
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("preference create returned empty id")
	}
	return &out, nil
}

// GetPayment retrieves the authoritative state for a payment id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return nil, errors.New("payment id is required")
	}
	if strings.TrimSpace(c.AccessToken) == "" {
		return nil, errors.New("MP_ACCESS_TOKEN is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+"/v1/payments/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: id=%s", ErrPaymentNotFound, id)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("payment lookup failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	// The gateway serializes the payment id as a JSON number.
	type rawPayment struct {
		ID                json.Number            `json:"id"`
		Status            string                 `json:"status"`
		StatusDetail      string                 `json:"status_detail"`
		TransactionAmount float64                `json:"transaction_amount"`
		ExternalReference string                 `json:"external_reference"`
		PreferenceID      string                 `json:"preference_id"`
		Metadata          map[string]interface{} `json:"metadata"`
		Order             struct {
			PreferenceID string `json:"preference_id"`
		} `json:"order"`
	}

	var raw rawPayment
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw.ID.String() == "" {
		return nil, errors.New("payment response missing id")
	}

	preferenceID := strings.TrimSpace(raw.PreferenceID)
	if preferenceID == "" {
		preferenceID = strings.TrimSpace(raw.Order.PreferenceID)
	}

	return &Payment{
		ID:                raw.ID.String(),
		Status:            strings.ToLower(strings.TrimSpace(raw.Status)),
		StatusDetail:      strings.TrimSpace(raw.StatusDetail),
		TransactionAmount: raw.TransactionAmount,
		ExternalReference: strings.TrimSpace(raw.ExternalReference),
		PreferenceID:      preferenceID,
		Metadata:          raw.Metadata,
	}, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

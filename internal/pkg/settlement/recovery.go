package settlement

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/quiniela360/backend/app/models"
	"github.com/quiniela360/backend/internal/pkg/gateway"
)

// SessionSource resolves a preference id to the checkout session stored when
// the preference was created.
type SessionSource interface {
	GetCheckoutSessionByPreferenceID(preferenceID string) (*models.CheckoutSession, error)
}

// recoveryStrategy tries to recover the buyer attribution from one source.
// Strategies are tried in order; the first hit wins.
type recoveryStrategy struct {
	name    string
	recover func(p *gateway.Payment) (Attribution, bool)
}

func attributionStrategies(sessions SessionSource) []recoveryStrategy {
	return []recoveryStrategy{
		{name: "metadata", recover: attributionFromMetadata},
		{name: "external_reference", recover: attributionFromExternalReference},
		{name: "checkout_session", recover: attributionFromSession(sessions)},
	}
}

// recoverAttribution walks the strategy chain. The returned source names the
// winning strategy; an empty source means nothing could attribute the payment.
func recoverAttribution(sessions SessionSource, p *gateway.Payment) (*Attribution, string) {
	for _, s := range attributionStrategies(sessions) {
		if attr, ok := s.recover(p); ok {
			return &attr, s.name
		}
	}
	return nil, ""
}

// attributionFromMetadata reads the structured metadata attached at checkout
// creation. The gateway lowercases and snake_cases metadata keys, so both
// spellings are accepted.
func attributionFromMetadata(p *gateway.Payment) (Attribution, bool) {
	if len(p.Metadata) == 0 {
		return Attribution{}, false
	}
	userID, ok := uintFromAny(metadataValue(p.Metadata, "user_id", "userId"))
	if !ok || userID == 0 {
		return Attribution{}, false
	}
	credits, _ := uintFromAny(metadataValue(p.Metadata, "credits_to_add", "creditsToAdd"))
	return Attribution{UserID: userID, CreditsToAdd: credits}, true
}

// attributionFromExternalReference parses the external_reference string,
// which is either a JSON blob {"userId":…,"creditsToAdd":…} or a bare user id.
func attributionFromExternalReference(p *gateway.Payment) (Attribution, bool) {
	ref := strings.TrimSpace(p.ExternalReference)
	if ref == "" {
		return Attribution{}, false
	}

	if strings.HasPrefix(ref, "{") {
		var blob struct {
			UserID       json.Number `json:"userId"`
			CreditsToAdd json.Number `json:"creditsToAdd"`
		}
		if err := json.Unmarshal([]byte(ref), &blob); err != nil {
			return Attribution{}, false
		}
		userID, ok := uintFromString(blob.UserID.String())
		if !ok || userID == 0 {
			return Attribution{}, false
		}
		credits, _ := uintFromString(blob.CreditsToAdd.String())
		return Attribution{UserID: userID, CreditsToAdd: credits}, true
	}

	// Bare identifier carries no credit amount; settlement treats the
	// missing amount as invalid and records without mutation.
	userID, ok := uintFromString(ref)
	if !ok || userID == 0 {
		return Attribution{}, false
	}
	return Attribution{UserID: userID}, true
}

func attributionFromSession(sessions SessionSource) func(p *gateway.Payment) (Attribution, bool) {
	return func(p *gateway.Payment) (Attribution, bool) {
		if sessions == nil || strings.TrimSpace(p.PreferenceID) == "" {
			return Attribution{}, false
		}
		cs, err := sessions.GetCheckoutSessionByPreferenceID(p.PreferenceID)
		if err != nil || cs.UserID == 0 {
			return Attribution{}, false
		}
		return Attribution{UserID: cs.UserID, CreditsToAdd: cs.CreditsToAdd}, true
	}
}

func metadataValue(meta map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := meta[k]; ok {
			return v
		}
	}
	return nil
}

func uintFromAny(v interface{}) (uint, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case string:
		return uintFromString(t)
	case float64:
		if t < 0 || t != float64(uint64(t)) {
			return 0, false
		}
		return uint(t), true
	case json.Number:
		return uintFromString(t.String())
	case int:
		if t < 0 {
			return 0, false
		}
		return uint(t), true
	default:
		return 0, false
	}
}

func uintFromString(s string) (uint, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}

package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// VerifyWebhookSignature checks the x-signature header Mercado Pago sends
// with webhook notifications. The header carries "ts=...,v1=..." and v1 is an
// HMAC-SHA256 over the manifest "id:{data.id};request-id:{rid};ts:{ts};".
func VerifyWebhookSignature(signatureHeader, requestID, dataID, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	ts, v1 := parseSignatureHeader(sig)
	if ts == "" || v1 == "" {
		return false
	}

	expected, err := hex.DecodeString(strings.ToLower(v1))
	if err != nil {
		return false
	}

	// Alphanumeric data ids are lowercased in the signed manifest.
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", strings.ToLower(strings.TrimSpace(dataID)), strings.TrimSpace(requestID), ts)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hmac.Equal(mac.Sum(nil), expected)
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "ts":
			ts = strings.TrimSpace(v)
		case "v1":
			v1 = strings.TrimSpace(v)
		}
	}
	return ts, v1
}

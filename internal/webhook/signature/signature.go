package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/smallbiznis/creatorpay/internal/webhook/domain"
)

// HeaderName carries the hex HMAC-SHA256 of the raw body.
const HeaderName = "X-Razorpay-Signature"

// Verify checks signature against the HMAC-SHA256 of the exact body bytes.
func Verify(body []byte, signature string, secret string) error {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return domain.ErrMissingSignature
	}
	if secret == "" {
		return domain.ErrSecretNotConfigured
	}

	expected := Sign(body, secret)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Sign returns the lowercase hex signature the gateway would send for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

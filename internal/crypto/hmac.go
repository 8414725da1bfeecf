package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// WebhookAuth verifies HMAC-signed alert webhooks. The sending platform signs
// each request with a shared secret; the signature covers the request
// timestamp and body so replayed or tampered payloads are rejected.
type WebhookAuth struct {
	Secret string
	// MaxSkew is the accepted clock drift between the signed timestamp and
	// the server clock. Zero means no timestamp check.
	MaxSkew time.Duration
}

// Sign computes the signature for a webhook payload at the given Unix
// timestamp. The signature is HMAC-SHA256(secret, timestamp+"."+body) encoded
// as base64.
func (w *WebhookAuth) Sign(unixTS int64, body []byte) string {
	ts := strconv.FormatInt(unixTS, 10)
	return hmacSHA256Base64([]byte(w.Secret), ts+"."+string(body))
}

// Verify checks a webhook signature against the payload. The timestamp header
// value is the sender's Unix epoch seconds as a decimal string. Comparison
// uses constant-time equality.
func (w *WebhookAuth) Verify(timestamp, signature string, body []byte) error {
	return w.verifyAt(timestamp, signature, body, time.Now())
}

func (w *WebhookAuth) verifyAt(timestamp, signature string, body []byte, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: invalid webhook timestamp %q: %w", timestamp, err)
	}

	if w.MaxSkew > 0 {
		drift := now.Sub(time.Unix(ts, 0))
		if drift < 0 {
			drift = -drift
		}
		if drift > w.MaxSkew {
			return fmt.Errorf("crypto: webhook timestamp outside accepted window (%s drift)", drift)
		}
	}

	expected := w.Sign(ts, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("crypto: webhook signature mismatch")
	}
	return nil
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (w *WebhookAuth) String() string {
	s := w.Secret
	if len(s) <= 4 {
		return "WebhookAuth{secret=****}"
	}
	return fmt.Sprintf("WebhookAuth{secret=%s****}", s[:4])
}

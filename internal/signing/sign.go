package signing

import (
	"crypto/hmac"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/ivan2020J/nozier/internal/credential"
)

// SignedPayload is an outbound body together with its authenticity stamp.
type SignedPayload struct {
	Body      []byte
	Timestamp int64
	Signature string
}

// Sign stamps body with the response scope so the caller can verify it the
// same way the agent verifies requests.
func Sign(body []byte, cred credential.Credential, now time.Time) SignedPayload {
	ts := now.Unix()
	msg := Message{
		Scope:     ScopeResponse,
		Token:     string(cred),
		Timestamp: ts,
		Body:      body,
	}
	return SignedPayload{
		Body:      body,
		Timestamp: ts,
		Signature: msg.Signature(cred),
	}
}

// Apply writes the signature headers. It must be called before WriteHeader.
func (p SignedPayload) Apply(h http.Header) {
	h.Set(HeaderTimestamp, strconv.FormatInt(p.Timestamp, 10))
	h.Set(HeaderSignature, p.Signature)
}

// VerifyResponse checks a response stamp produced by Sign. It is the caller
// side of the protocol and does not apply a skew window.
func VerifyResponse(body []byte, timestamp int64, signature string, cred credential.Credential) bool {
	if cred.IsZero() {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	msg := Message{
		Scope:     ScopeResponse,
		Token:     string(cred),
		Timestamp: timestamp,
		Body:      body,
	}
	return hmac.Equal(msg.mac(cred), got)
}

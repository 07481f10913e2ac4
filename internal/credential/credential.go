// Package credential manages the shared secret held by the agent and the
// remote operator. The secret keys every request and response signature.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// tokenBytes is the amount of entropy in a generated credential.
const tokenBytes = 32

var (
	// ErrEmpty is returned when an empty value is offered as a credential.
	ErrEmpty = errors.New("credential is empty")

	// ErrInvalid is returned for values containing whitespace or control characters.
	ErrInvalid = errors.New("credential contains whitespace or control characters")
)

// Credential is the opaque shared secret. Its String method is redacted so
// that it never ends up in logs by accident; use string(c) for the raw value.
type Credential string

// IsZero reports whether the credential has not been provisioned.
func (c Credential) IsZero() bool {
	return c == ""
}

func (c Credential) String() string {
	if c.IsZero() {
		return ""
	}
	return "[redacted]"
}

// Fingerprint returns a short non-secret identifier for log correlation.
func (c Credential) Fingerprint() string {
	if c.IsZero() {
		return ""
	}
	sum := sha256.Sum256([]byte(c))
	return hex.EncodeToString(sum[:4])
}

// Validate checks the invariants a credential must hold once provisioned.
func (c Credential) Validate() error {
	if c.IsZero() {
		return ErrEmpty
	}
	if strings.IndexFunc(string(c), func(r rune) bool { return r <= ' ' || r == 0x7f }) >= 0 {
		return ErrInvalid
	}
	return nil
}

// Generate returns a fresh credential drawn from crypto/rand.
func Generate() (Credential, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	return Credential(hex.EncodeToString(b)), nil
}

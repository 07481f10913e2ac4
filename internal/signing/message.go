// Package signing implements the shared-secret authentication protocol used
// on the remote command surface: canonical message construction, request
// verification and response signing.
//
// Both directions use the same construction. The signature is the lowercase
// hex HMAC-SHA256, keyed by the shared token, of the canonical form:
//
//	nozier-v1 \n <scope> \n <token> \n <unix timestamp> \n <hex sha256(body)>
//
// Requests use "<METHOD> <PATH>" as scope and responses use ScopeResponse, so
// a signature is only valid for the command it was produced for.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/ivan2020J/nozier/internal/credential"
)

const (
	// protocolVersion prefixes every canonical form.
	protocolVersion = "nozier-v1"

	// ScopeResponse is the scope of every outbound response signature.
	ScopeResponse = "response"
)

// Header and query parameter names carrying the authentication fields.
const (
	HeaderToken     = "X-Nozier-Token"
	HeaderTimestamp = "X-Nozier-Timestamp"
	HeaderSignature = "X-Nozier-Signature"

	QueryToken     = "token"
	QueryTimestamp = "timestamp"
	QuerySignature = "signature"
)

// Message is the tuple covered by a signature.
type Message struct {
	Scope     string
	Token     string
	Timestamp int64
	Body      []byte
}

// RequestScope returns the scope string binding a request signature to a
// method and path.
func RequestScope(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Canonical returns the exact bytes fed to the MAC.
func (m Message) Canonical() []byte {
	digest := sha256.Sum256(m.Body)

	var b strings.Builder
	b.Grow(len(protocolVersion) + len(m.Scope) + len(m.Token) + 20 + hex.EncodedLen(len(digest)) + 4)
	b.WriteString(protocolVersion)
	b.WriteByte('\n')
	b.WriteString(m.Scope)
	b.WriteByte('\n')
	b.WriteString(m.Token)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(m.Timestamp, 10))
	b.WriteByte('\n')
	b.WriteString(hex.EncodeToString(digest[:]))
	return []byte(b.String())
}

// Signature computes the hex-encoded HMAC-SHA256 of the canonical form keyed
// by the given credential.
func (m Message) Signature(cred credential.Credential) string {
	return hex.EncodeToString(m.mac(cred))
}

func (m Message) mac(cred credential.Credential) []byte {
	h := hmac.New(sha256.New, []byte(cred))
	h.Write(m.Canonical())
	return h.Sum(nil)
}

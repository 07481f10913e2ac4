package signing

import (
	"crypto/hmac"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ivan2020J/nozier/internal/credential"
)

// DefaultMaxSkew bounds the replay window of a request timestamp.
const DefaultMaxSkew = 300 * time.Second

// Outcome is the terminal result of one verification attempt.
type Outcome int

const (
	Authenticated Outcome = iota
	MissingToken
	StaleTimestamp
	BadSignature
	InternalError
)

func (o Outcome) String() string {
	switch o {
	case Authenticated:
		return "authenticated"
	case MissingToken:
		return "missing_token"
	case StaleTimestamp:
		return "stale_timestamp"
	case BadSignature:
		return "bad_signature"
	case InternalError:
		return "internal_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Status maps an outcome to the HTTP status the command surface responds with.
func (o Outcome) Status() int {
	switch o {
	case Authenticated:
		return http.StatusOK
	case MissingToken:
		return http.StatusUnprocessableEntity
	case StaleTimestamp:
		return http.StatusExpectationFailed
	case BadSignature:
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}

// Causes recorded on a Verification. They are for logs only; the caller sees
// nothing but the status code of the outcome.
var (
	ErrNoToken          = errors.New("token missing")
	ErrTokenMismatch    = errors.New("token does not match credential")
	ErrNoTimestamp      = errors.New("timestamp missing")
	ErrBadTimestamp     = errors.New("timestamp is not an integer")
	ErrTimestampSkew    = errors.New("timestamp outside allowed skew")
	ErrNoSignature      = errors.New("signature missing")
	ErrSignatureFormat  = errors.New("signature is not hex encoded")
	ErrSignatureInvalid = errors.New("signature mismatch")
	ErrNoCredential     = errors.New("credential not provisioned")
)

// InboundRequest carries the authentication fields of one request exactly as
// received. Timestamp is kept as text so that a non-integer value can be
// reported instead of silently becoming zero.
type InboundRequest struct {
	Scope     string
	Token     string
	Timestamp string
	Signature string
	Body      []byte
}

// Verification is the result of Verify. Cause is nil only when the request
// was authenticated.
type Verification struct {
	Outcome Outcome
	Cause   error
}

// OK reports whether the request was authenticated.
func (v Verification) OK() bool {
	return v.Outcome == Authenticated
}

func reject(o Outcome, cause error) Verification {
	return Verification{Outcome: o, Cause: cause}
}

// Verify checks req against the shared credential. Checks run in a fixed
// order and the first failure wins: token presence, token match, timestamp
// freshness, signature. Verify has no side effects.
func Verify(req InboundRequest, cred credential.Credential, now time.Time, maxSkew time.Duration) Verification {
	if cred.IsZero() {
		return reject(InternalError, ErrNoCredential)
	}

	if req.Token == "" {
		return reject(MissingToken, ErrNoToken)
	}
	if subtle.ConstantTimeCompare([]byte(req.Token), []byte(cred)) != 1 {
		return reject(BadSignature, ErrTokenMismatch)
	}

	if req.Timestamp == "" {
		return reject(StaleTimestamp, ErrNoTimestamp)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(req.Timestamp), 10, 64)
	if err != nil {
		return reject(StaleTimestamp, fmt.Errorf("%w: %q", ErrBadTimestamp, req.Timestamp))
	}
	// Compared in whole seconds: a Duration between now and a far-off ts
	// would saturate.
	if lo, hi := now.Add(-maxSkew).Unix(), now.Add(maxSkew).Unix(); ts < lo || ts > hi {
		return reject(StaleTimestamp, fmt.Errorf("%w: ts %d outside [%d, %d]", ErrTimestampSkew, ts, lo, hi))
	}

	if req.Signature == "" {
		return reject(BadSignature, ErrNoSignature)
	}
	got, err := hex.DecodeString(strings.TrimSpace(req.Signature))
	if err != nil {
		return reject(BadSignature, ErrSignatureFormat)
	}

	msg := Message{Scope: req.Scope, Token: req.Token, Timestamp: ts, Body: req.Body}
	if !hmac.Equal(msg.mac(cred), got) {
		return reject(BadSignature, ErrSignatureInvalid)
	}

	return Verification{Outcome: Authenticated}
}

// FromHTTP extracts the authentication fields from r, preferring headers over
// query parameters. The body must already have been read by the caller.
func FromHTTP(r *http.Request, body []byte) InboundRequest {
	q := r.URL.Query()
	pick := func(header, param string) string {
		if v := r.Header.Get(header); v != "" {
			return v
		}
		return q.Get(param)
	}
	return InboundRequest{
		Scope:     RequestScope(r.Method, r.URL.Path),
		Token:     pick(HeaderToken, QueryToken),
		Timestamp: pick(HeaderTimestamp, QueryTimestamp),
		Signature: pick(HeaderSignature, QuerySignature),
		Body:      body,
	}
}

// SignRequest stamps an outgoing request with token, timestamp and signature
// headers. Used by clients and tests.
func SignRequest(r *http.Request, body []byte, cred credential.Credential, now time.Time) {
	ts := now.Unix()
	msg := Message{
		Scope:     RequestScope(r.Method, r.URL.Path),
		Token:     string(cred),
		Timestamp: ts,
		Body:      body,
	}
	r.Header.Set(HeaderToken, string(cred))
	r.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	r.Header.Set(HeaderSignature, msg.Signature(cred))
}

package server

import (
	"encoding/json"
	"net/http"
)

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound         = "https://nozier.com/problems/not-found"
	ProblemTypeUnprocessable    = "https://nozier.com/problems/unprocessable"
	ProblemTypeInternal         = "https://nozier.com/problems/internal-error"
	ProblemTypeUnavailable      = "https://nozier.com/problems/unavailable"
	ProblemTypeMethodNotAllowed = "https://nozier.com/problems/method-not-allowed"
	ProblemTypePayloadTooLarge  = "https://nozier.com/problems/payload-too-large"
	ProblemTypeRateLimited      = "https://nozier.com/problems/rate-limited"
)

// ProblemContentType is the media type of problem responses.
const ProblemContentType = "application/problem+json"

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type" example:"https://nozier.com/problems/unprocessable"`
	Title    string `json:"title" example:"Unprocessable Entity"`
	Status   int    `json:"status" example:"422"`
	Detail   string `json:"detail,omitempty" example:"update must be a non-empty list of target ids"`
	Instance string `json:"instance,omitempty" example:"/nozier/v1/plugins/update"`
}

// NewProblem builds a Problem whose title is the standard status text.
func NewProblem(problemType string, status int, detail, instance string) Problem {
	return Problem{
		Type:     problemType,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

// Encode returns the JSON encoding of p, newline terminated like
// json.Encoder output.
func (p Problem) Encode() []byte {
	b, _ := json.Marshal(p)
	return append(b, '\n')
}

// WriteProblem writes an RFC 7807 Problem Details JSON response.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", ProblemContentType)
	w.WriteHeader(p.Status)
	_, _ = w.Write(p.Encode())
}

// NotFound writes a 404 problem response.
func NotFound(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(ProblemTypeNotFound, http.StatusNotFound, detail, instance))
}

// InternalError writes a 500 problem response.
func InternalError(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(ProblemTypeInternal, http.StatusInternalServerError, detail, instance))
}

// RateLimited writes a 429 problem response.
func RateLimited(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, NewProblem(ProblemTypeRateLimited, http.StatusTooManyRequests, detail, instance))
}

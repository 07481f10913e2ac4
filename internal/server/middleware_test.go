package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		incoming  string
		propagate bool
	}{
		{"absent", "", false},
		{"well formed", "trace-01.abc_DEF", true},
		{"too long", strings.Repeat("a", 65), false},
		{"bad characters", "id with spaces", false},
		{"header injection", "abc\r\nX-Evil: 1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestID(r.Context())
			}))

			req := httptest.NewRequest("GET", "/test", http.NoBody)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			if got != seen {
				t.Errorf("header %q and context %q differ", got, seen)
			}
			if tt.propagate {
				if got != tt.incoming {
					t.Errorf("X-Request-ID = %q, want %q", got, tt.incoming)
				}
				return
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("X-Request-ID = %q, want a generated UUID", got)
			}
		})
	}
}

func TestRequestID_EmptyContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/", http.NoBody)
	if id := RequestID(req.Context()); id != "" {
		t.Errorf("RequestID = %q, want empty", id)
	}
}

func TestLoggingMiddleware_Levels(t *testing.T) {
	tests := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusOK, zapcore.InfoLevel},
		{http.StatusUnauthorized, zapcore.WarnLevel},
		{http.StatusServiceUnavailable, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			handler := LoggingMiddleware(zap.New(core), nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("hello"))
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/nozier/v1/core/upgrade", http.NoBody))

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("got %d entries, want 1", len(entries))
			}
			if entries[0].Level != tt.level {
				t.Errorf("level = %s, want %s", entries[0].Level, tt.level)
			}
			fields := entries[0].ContextMap()
			if fields["status"] != int64(tt.status) {
				t.Errorf("status field = %v", fields["status"])
			}
			if fields["bytes"] != int64(5) {
				t.Errorf("bytes field = %v, want 5", fields["bytes"])
			}
		})
	}
}

func TestLoggingMiddleware_SkipPathsAndQuery(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := LoggingMiddleware(zap.New(core), []string{"/healthz"})(http.HandlerFunc(okHandler))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", http.NoBody))
	if logs.Len() != 0 {
		t.Fatalf("skipped path produced %d log entries", logs.Len())
	}

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nozier/v1/core/fetch?token=s3cret", http.NoBody))
	for _, e := range logs.All() {
		for _, f := range e.Context {
			if strings.Contains(f.String, "s3cret") {
				t.Errorf("query string leaked in field %q", f.Key)
			}
		}
	}
}

func TestLoggingMiddleware_RouteLabel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := LoggingMiddleware(zap.New(core), nil)(mux)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/items/42", http.NoBody))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nowhere", http.NoBody))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if got := entries[0].ContextMap()["route"]; got != "GET /items/{id}" {
		t.Errorf("matched route = %v", got)
	}
	if got := entries[1].ContextMap()["route"]; got != "unmatched" {
		t.Errorf("unmatched route = %v", got)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := SecurityHeadersMiddleware(http.HandlerFunc(okHandler))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", http.NoBody))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestVersionHeaderMiddleware(t *testing.T) {
	handler := VersionHeaderMiddleware(http.HandlerFunc(okHandler))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", http.NoBody))

	if w.Header().Get("X-Nozier-Version") == "" {
		t.Error("expected X-Nozier-Version header")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("test panic")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/panic", http.NoBody))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != ProblemContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Error("expected the panic to be logged")
	}
}

func TestRecoveryMiddleware_RepanicsAbort(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", http.NoBody))
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(1, 2, []string{"/healthz"})(http.HandlerFunc(okHandler))

	do := func(path, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", path, http.NoBody)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := range 2 {
		if w := do("/api", "10.0.0.1:1234"); w.Code != http.StatusOK {
			t.Fatalf("request %d within burst: status %d", i, w.Code)
		}
	}
	w := do("/api", "10.0.0.1:5678")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}

	if w := do("/api", "10.0.0.2:1234"); w.Code != http.StatusOK {
		t.Errorf("other client limited: status %d", w.Code)
	}
	if w := do("/healthz", "10.0.0.1:1234"); w.Code != http.StatusOK {
		t.Errorf("skipped path limited: status %d", w.Code)
	}
}

func TestRateLimitMiddleware_IgnoresForwardedFor(t *testing.T) {
	handler := RateLimitMiddleware(1, 1, nil)(http.HandlerFunc(okHandler))

	for i, xff := range []string{"1.1.1.1", "2.2.2.2"} {
		req := httptest.NewRequest("GET", "/api", http.NoBody)
		req.RemoteAddr = "10.0.0.9:4000"
		req.Header.Set("X-Forwarded-For", xff)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		want := http.StatusOK
		if i == 1 {
			want = http.StatusTooManyRequests
		}
		if w.Code != want {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, want)
		}
	}
}

func TestLimiterSet_SweepsIdleClients(t *testing.T) {
	s := newLimiterSet(rate.Inf, 1, time.Minute)
	start := time.Now()

	for i := range maxTrackedClients {
		s.allow(strconv.Itoa(i), start)
	}
	if len(s.clients) != maxTrackedClients {
		t.Fatalf("tracked = %d, want %d", len(s.clients), maxTrackedClients)
	}

	s.allow("late", start.Add(2*time.Minute))
	if len(s.clients) != 1 {
		t.Errorf("tracked after sweep = %d, want 1", len(s.clients))
	}
}

func TestChain(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("first"), mw("second"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", http.NoBody))

	want := []string{"first", "second", "handler"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.168.1.1:12345", "192.168.1.1"},
		{"[::1]:8080", "::1"},
		{"no-port", "no-port"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", http.NoBody)
		req.RemoteAddr = tt.remote
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestStatusWriter(t *testing.T) {
	w := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

	sw.WriteHeader(http.StatusCreated)
	sw.WriteHeader(http.StatusNotFound)
	_, _ = sw.Write([]byte("abc"))
	_, _ = sw.Write([]byte("de"))

	if sw.status != http.StatusCreated {
		t.Errorf("status = %d, want first WriteHeader to win", sw.status)
	}
	if sw.bytes != 5 {
		t.Errorf("bytes = %d, want 5", sw.bytes)
	}
	if sw.Unwrap() != w {
		t.Error("Unwrap should return the wrapped writer")
	}
}

// Package remote serves the signed command surface used by the monitoring
// service: status fetch, core upgrade and batch upgrade.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ivan2020J/nozier/internal/credential"
	"github.com/ivan2020J/nozier/internal/server"
	"github.com/ivan2020J/nozier/internal/signing"
	"github.com/ivan2020J/nozier/internal/update"
)

// Route namespace and request limits.
const (
	Namespace    = "/nozier/v1"
	MaxBodyBytes = 1 << 20
)

// CredentialSource returns the shared credential used to verify requests and
// sign responses.
type CredentialSource interface {
	Credential(ctx context.Context) (credential.Credential, error)
}

// Policy decides whether upgrades may modify files on the host.
type Policy interface {
	FileModsAllowed(ctx context.Context) (bool, error)
}

// Updater runs upgrades. *update.Orchestrator satisfies it.
type Updater interface {
	RunBatch(ctx context.Context, targets []string) update.BatchReport
	UpgradeCore(ctx context.Context) update.CoreResult
}

// Options tune verification.
type Options struct {
	// MaxSkew is the accepted distance between a request timestamp and the
	// agent's clock. Defaults to signing.DefaultMaxSkew.
	MaxSkew time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Handler serves the command routes.
type Handler struct {
	creds   CredentialSource
	source  update.Source
	updater Updater
	policy  Policy
	logger  *zap.Logger
	maxSkew time.Duration
	now     func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(creds CredentialSource, source update.Source, updater Updater, policy Policy, logger *zap.Logger, opts Options) *Handler {
	if opts.MaxSkew <= 0 {
		opts.MaxSkew = signing.DefaultMaxSkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		creds:   creds,
		source:  source,
		updater: updater,
		policy:  policy,
		logger:  logger.With(zap.String("component", "remote")),
		maxSkew: opts.MaxSkew,
		now:     opts.Now,
	}
}

// RegisterRoutes registers the command routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET "+Namespace+"/core/fetch", h.command("fetch_status", h.fetchStatus))
	mux.Handle("POST "+Namespace+"/core/upgrade", h.command("upgrade_core", h.upgradeCore))

	batch := h.command("upgrade_batch", h.upgradeBatch)
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch} {
		mux.Handle(method+" "+Namespace+"/plugins/update", batch)
	}
}

// request is an authenticated command invocation.
type request struct {
	path string
	body []byte
}

// reply is a command result before signing. A non-nil err means the result
// could not be encoded; run replaces it with a 503 problem.
type reply struct {
	status      int
	contentType string
	body        []byte
	err         error
}

type commandFunc func(ctx context.Context, req request) reply

// command wraps fn with body limits, request verification, panic recovery
// and response signing. Every response leaves signed unless no credential
// could be loaded.
func (h *Handler) command(name string, fn commandFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := h.logger.With(
			zap.String("command", name),
			zap.String("request_id", server.RequestID(ctx)),
		)

		cred, err := h.creds.Credential(ctx)
		if err != nil {
			log.Error("credential unavailable", zap.Error(err))
			verificationsTotal.WithLabelValues(signing.InternalError.String()).Inc()
			commandsTotal.WithLabelValues(name, "503").Inc()
			server.WriteProblem(w, server.NewProblem(server.ProblemTypeUnavailable,
				http.StatusServiceUnavailable, "", r.URL.Path))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				log.Warn("request body too large", zap.Int64("limit", tooLarge.Limit))
				h.write(w, name, cred, problem(server.ProblemTypePayloadTooLarge,
					http.StatusRequestEntityTooLarge, "request body too large", r.URL.Path))
				return
			}
			log.Error("reading request body", zap.Error(err))
			verificationsTotal.WithLabelValues(signing.InternalError.String()).Inc()
			h.write(w, name, cred, reply{status: signing.InternalError.Status()})
			return
		}

		v := signing.Verify(signing.FromHTTP(r, body), cred, h.now(), h.maxSkew)
		verificationsTotal.WithLabelValues(v.Outcome.String()).Inc()
		if !v.OK() {
			log.Warn("request rejected",
				zap.Stringer("outcome", v.Outcome),
				zap.NamedError("cause", v.Cause),
				zap.String("remote", r.RemoteAddr),
			)
			h.write(w, name, cred, reply{status: v.Outcome.Status()})
			return
		}

		h.write(w, name, cred, h.run(ctx, log, fn, request{path: r.URL.Path, body: body}))
	})
}

// run executes fn, turning a panic or an unencodable result into a 503
// problem.
func (h *Handler) run(ctx context.Context, log *zap.Logger, fn commandFunc, req request) (rep reply) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("command panicked", zap.Any("panic", rec), zap.Stack("stack"))
			rep = problem(server.ProblemTypeUnavailable, http.StatusServiceUnavailable,
				"the command failed unexpectedly", req.path)
		}
	}()
	rep = fn(ctx, req)
	if rep.err != nil {
		log.Error("encoding command result", zap.Error(rep.err))
		rep = problem(server.ProblemTypeUnavailable, http.StatusServiceUnavailable,
			"the command result could not be encoded", req.path)
	}
	return rep
}

// write signs and sends rep.
func (h *Handler) write(w http.ResponseWriter, name string, cred credential.Credential, rep reply) {
	signing.Sign(rep.body, cred, h.now()).Apply(w.Header())
	if rep.contentType != "" {
		w.Header().Set("Content-Type", rep.contentType)
	}
	w.WriteHeader(rep.status)
	if len(rep.body) > 0 {
		_, _ = w.Write(rep.body)
	}
	commandsTotal.WithLabelValues(name, strconv.Itoa(rep.status)).Inc()
}

func jsonReply(status int, v any) reply {
	b, err := json.Marshal(v)
	if err != nil {
		return reply{err: err}
	}
	return reply{status: status, contentType: "application/json", body: append(b, '\n')}
}

func problem(problemType string, status int, detail, instance string) reply {
	return reply{
		status:      status,
		contentType: server.ProblemContentType,
		body:        server.NewProblem(problemType, status, detail, instance).Encode(),
	}
}

// fileModsAllowed consults the policy and fails closed on error.
func (h *Handler) fileModsAllowed(ctx context.Context) bool {
	allowed, err := h.policy.FileModsAllowed(ctx)
	if err != nil {
		h.logger.Error("file modification policy unavailable, refusing upgrade", zap.Error(err))
		return false
	}
	return allowed
}

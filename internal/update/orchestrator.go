package update

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults for Options.
const (
	DefaultConcurrency   = 1
	DefaultTargetTimeout = 10 * time.Minute
)

// Options tune batch execution.
type Options struct {
	// Concurrency is the number of targets attempted at once. Calls into the
	// same Kind are serialized regardless.
	Concurrency int

	// TargetTimeout bounds one target, including time spent waiting for its
	// kind's upgrader to become free.
	TargetTimeout time.Duration
}

// Outcome is the result of one target of a batch.
type Outcome struct {
	Raw       string
	Target    Target
	Succeeded bool
	Err       error
}

// BatchReport lists target ids by result, both in input order. Every input
// appears in exactly one list.
type BatchReport struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

// NewBatchReport builds a report from outcomes in the order given.
func NewBatchReport(outcomes []Outcome) BatchReport {
	r := BatchReport{
		Succeeded: make([]string, 0, len(outcomes)),
		Failed:    make([]string, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		if o.Succeeded {
			r.Succeeded = append(r.Succeeded, o.Raw)
		} else {
			r.Failed = append(r.Failed, o.Raw)
		}
	}
	return r
}

// Orchestrator runs update batches against a fixed capability set. It is
// safe for concurrent use; concurrent batches share the per-kind slots.
type Orchestrator struct {
	upgraders   Upgraders
	core        CoreUpgrader
	logger      *zap.Logger
	concurrency int
	timeout     time.Duration
	slots       map[Kind]chan struct{}
}

// NewOrchestrator creates an Orchestrator. core may be nil when core
// upgrades are not supported.
func NewOrchestrator(upgraders Upgraders, core CoreUpgrader, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.TargetTimeout <= 0 {
		opts.TargetTimeout = DefaultTargetTimeout
	}

	slots := make(map[Kind]chan struct{}, len(kindNames))
	for k := range kindNames {
		slots[k] = make(chan struct{}, 1)
	}

	return &Orchestrator{
		upgraders:   upgraders,
		core:        core,
		logger:      logger,
		concurrency: opts.Concurrency,
		timeout:     opts.TargetTimeout,
		slots:       slots,
	}
}

// RunBatch attempts every raw target and reports the results in input
// order. It never fails as a whole: parse errors, missing upgraders, upgrader
// errors, panics and timeouts all become failed entries. Once started, a
// batch runs to completion even if ctx is cancelled.
func (o *Orchestrator) RunBatch(ctx context.Context, raw []string) BatchReport {
	ctx = context.WithoutCancel(ctx)
	batchID := uuid.NewString()
	log := o.logger.With(zap.String("batch_id", batchID))
	start := time.Now()

	log.Info("update batch started",
		zap.Int("targets", len(raw)),
		zap.Int("concurrency", o.concurrency),
	)

	outcomes := make([]Outcome, len(raw))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, r := range raw {
		g.Go(func() error {
			outcomes[i] = o.attempt(ctx, log, r)
			return nil
		})
	}
	_ = g.Wait()

	report := NewBatchReport(outcomes)
	log.Info("update batch finished",
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("duration", time.Since(start)),
	)
	return report
}

func (o *Orchestrator) attempt(ctx context.Context, log *zap.Logger, raw string) Outcome {
	out := Outcome{Raw: raw}

	target, err := ParseTarget(raw)
	if err != nil {
		out.Err = err
		targetsTotal.WithLabelValues("invalid", resultFailed).Inc()
		log.Warn("rejected update target", zap.String("target", raw), zap.Error(err))
		return out
	}
	out.Target = target

	up := o.upgraders[target.Kind]
	if up == nil {
		out.Err = fmt.Errorf("%w: %s", ErrNoUpgraderForKind, target.Kind)
		targetsTotal.WithLabelValues(target.Kind.String(), resultFailed).Inc()
		log.Warn("no upgrader for target", zap.String("target", raw), zap.Stringer("kind", target.Kind))
		return out
	}

	start := time.Now()
	ok, err := guard(ctx, o, target.Kind, func(ctx context.Context) (bool, error) {
		return up.Update(ctx, target.Identifier)
	})
	targetDuration.WithLabelValues(target.Kind.String()).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		out.Err = err
	case !ok:
		out.Err = ErrUpgraderNotUpdated
	default:
		out.Succeeded = true
	}

	if out.Succeeded {
		targetsTotal.WithLabelValues(target.Kind.String(), resultSucceeded).Inc()
		log.Info("target updated", zap.String("target", raw), zap.Duration("duration", time.Since(start)))
	} else {
		targetsTotal.WithLabelValues(target.Kind.String(), resultFailed).Inc()
		log.Warn("target update failed",
			zap.String("target", raw),
			zap.Duration("duration", time.Since(start)),
			zap.Error(out.Err),
		)
	}
	return out
}

// UpgradeCore runs the core upgrader inside the same timeout and fault
// boundary as batch targets. Errors become ReasonUpgradeFailed; the engine's
// error is logged, not returned.
func (o *Orchestrator) UpgradeCore(ctx context.Context) CoreResult {
	if o.core == nil {
		o.logger.Error("core upgrade requested but no core upgrader configured")
		coreUpgradesTotal.WithLabelValues(string(ReasonUpgradeFailed)).Inc()
		return CoreResult{Reason: ReasonUpgradeFailed}
	}

	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	res, err := guard(ctx, o, KindCore, o.core.UpdateCore)
	if err != nil {
		o.logger.Error("core upgrade failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		res = CoreResult{Reason: ReasonUpgradeFailed}
	}
	if res.Updated {
		res.Reason = ReasonNone
	} else if res.Reason == ReasonNone {
		res.Reason = ReasonUpgradeFailed
	}

	label := "updated"
	if !res.Updated {
		label = string(res.Reason)
	}
	coreUpgradesTotal.WithLabelValues(label).Inc()

	o.logger.Info("core upgrade finished",
		zap.Bool("updated", res.Updated),
		zap.String("version", res.Version),
		zap.String("reason", string(res.Reason)),
		zap.Duration("duration", time.Since(start)),
	)
	return res
}

// guard runs fn with the orchestrator's timeout while holding the slot for
// kind. A call that outlives its timeout keeps the slot until it returns, so
// later calls of the same kind time out instead of running alongside it.
func guard[T any](ctx context.Context, o *Orchestrator, kind Kind, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	slot := o.slots[kind]

	go func() {
		var res result
		defer func() {
			if rec := recover(); rec != nil {
				res = result{err: fmt.Errorf("%w: %v", ErrUpgraderPanicked, rec)}
			}
			done <- res
		}()

		select {
		case slot <- struct{}{}:
		case <-ctx.Done():
			res.err = fmt.Errorf("%w waiting for %s upgrader", ErrTargetTimeout, kind)
			return
		}
		defer func() { <-slot }()

		res.val, res.err = fn(ctx)
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		select {
		case res := <-done:
			return res.val, res.err
		default:
		}
		var zero T
		return zero, fmt.Errorf("%w after %s", ErrTargetTimeout, o.timeout)
	}
}

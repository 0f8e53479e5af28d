package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/reportwatch/internal/model"
)

// DefaultInterval is the delay between the end of one settled poll and the
// start of the next.
const DefaultInterval = 2500 * time.Millisecond

const tracerName = "github.com/seantiz/reportwatch/internal/poller"

// ErrDetached is returned by Attach and Retry once the engine was detached.
var ErrDetached = errors.New("poller: engine detached")

// Transport performs a single status request for a job. It must return an
// error for any failure to obtain a well-formed payload.
type Transport interface {
	FetchStatus(ctx context.Context, subject string) (model.StatusPayload, error)
}

// Observer is notified after every applied snapshot change, in order. It is
// called while the engine serializes updates, so it must not block and must
// not call back into the engine.
type Observer func(prev, next model.Snapshot)

// Option configures an Engine.
type Option func(*Engine)

// WithInterval sets the polling cadence. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithLogger sets the engine's structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer used for poll spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithObserver registers a change observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// Engine tracks one report job at a time. It is safe for concurrent use.
type Engine struct {
	transport Transport
	kind      model.ReportKind
	interval  time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
	observer  Observer

	mu         sync.Mutex
	subject    string
	generation uint64
	snapshot   model.Snapshot
	cancel     context.CancelFunc // scheduling token of the live cycle
	detached   bool

	wg sync.WaitGroup
}

// New creates an idle engine for the given report kind. No requests are made
// until Attach is called with a subject.
func New(t Transport, kind model.ReportKind, opts ...Option) *Engine {
	e := &Engine{
		transport: t,
		kind:      kind,
		interval:  DefaultInterval,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		snapshot:  model.IdleSnapshot("", 0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Watch creates an engine and attaches it to subject.
func Watch(t Transport, kind model.ReportKind, subject string, opts ...Option) (*Engine, error) {
	e := New(t, kind, opts...)
	if err := e.Attach(subject); err != nil {
		return nil, err
	}
	return e, nil
}

// Attach binds the engine to subject. An empty subject means no job: any
// live cycle is cancelled and the snapshot returns to idle without network
// activity. Attaching the subject that is already bound is a no-op. A new
// subject starts a new generation and polls immediately.
func (e *Engine) Attach(subject string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.detached {
		return ErrDetached
	}
	if subject == e.subject {
		return nil
	}
	if subject == "" {
		e.stopLocked()
		e.generation++
		e.subject = ""
		generationResets.WithLabelValues(string(e.kind), reasonAttach).Inc()
		e.setLocked(reduce(e.snapshot, event{typ: eventReset, generation: e.generation, at: time.Now().UTC()}, e.kind))
		return nil
	}

	e.startLocked(subject, reasonAttach)
	return nil
}

// Retry discards the current cycle and starts polling the bound subject again
// from an idle snapshot. It may be called at any time; a result still in
// flight for the previous generation is dropped when it arrives. Retry is a
// no-op when no subject is bound.
func (e *Engine) Retry() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.detached {
		return ErrDetached
	}
	if e.subject == "" {
		return nil
	}

	e.logger.Info("retrying job poll", "kind", e.kind, "subject", e.subject, "generation", e.generation+1)
	e.startLocked(e.subject, reasonRetry)
	return nil
}

// Detach releases the engine. Pending scheduling is cancelled and in-flight
// results are discarded on arrival; the snapshot is never changed again and
// the observer is never called again. Detach is idempotent.
func (e *Engine) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.detached {
		return
	}
	e.detached = true
	e.stopLocked()
	e.generation++
	generationResets.WithLabelValues(string(e.kind), reasonDetach).Inc()
}

// Wait blocks until every cycle goroutine has exited. Cycles whose transport
// call is still in flight exit once that call returns.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Snapshot returns a copy of the engine's current belief about the job.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot.Clone()
}

// Subject returns the bound subject, or "" when none is bound.
func (e *Engine) Subject() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subject
}

// Generation returns the live generation counter.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// Kind returns the report kind the engine reads results for.
func (e *Engine) Kind() model.ReportKind {
	return e.kind
}

// Detached reports whether Detach was called.
func (e *Engine) Detached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detached
}

// startLocked cancels the live cycle, resets the snapshot under a new
// generation and launches the next cycle. e.mu must be held.
func (e *Engine) startLocked(subject, reason string) {
	e.stopLocked()
	e.generation++
	e.subject = subject
	generationResets.WithLabelValues(string(e.kind), reason).Inc()
	e.setLocked(reduce(e.snapshot, event{
		typ:        eventReset,
		subject:    subject,
		generation: e.generation,
		at:         time.Now().UTC(),
	}, e.kind))

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	gen := e.generation

	activeCycles.WithLabelValues(string(e.kind)).Inc()
	e.wg.Go(func() {
		defer activeCycles.WithLabelValues(string(e.kind)).Dec()
		e.run(ctx, gen, subject)
	})
}

// stopLocked releases the scheduling token. e.mu must be held.
func (e *Engine) stopLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// setLocked replaces the snapshot and notifies the observer. e.mu must be held.
func (e *Engine) setLocked(next model.Snapshot) {
	prev := e.snapshot
	e.snapshot = next
	if e.observer != nil {
		e.observer(prev.Clone(), next.Clone())
	}
}

// run is one generation's polling cycle: poll immediately, then wait the
// interval after each settled call. Only one call is ever in flight.
func (e *Engine) run(ctx context.Context, gen uint64, subject string) {
	for {
		if ctx.Err() != nil {
			return
		}

		payload, err := e.poll(ctx, gen, subject)
		if !e.apply(gen, payload, err) {
			return
		}

		timer := time.NewTimer(e.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// poll performs one traced transport call.
func (e *Engine) poll(ctx context.Context, gen uint64, subject string) (model.StatusPayload, error) {
	ctx, span := e.tracer.Start(ctx, "poller.poll", trace.WithAttributes(
		attribute.String("report.kind", string(e.kind)),
		attribute.String("job.id", subject),
		attribute.Int64("poller.generation", int64(gen)),
	))
	defer span.End()

	start := time.Now()
	payload, err := e.transport.FetchStatus(ctx, subject)
	pollDuration.WithLabelValues(string(e.kind)).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("job.status", payload.Status))
	}
	return payload, err
}

// apply folds a settled call into the snapshot and reports whether the cycle
// should keep polling. Results for a superseded generation change nothing.
func (e *Engine) apply(gen uint64, payload model.StatusPayload, err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	kind := string(e.kind)
	if e.detached || gen != e.generation {
		pollsTotal.WithLabelValues(kind, outcomeDiscarded).Inc()
		e.logger.Debug("discarding stale poll result",
			"kind", e.kind,
			"generation", gen,
			"live_generation", e.generation,
		)
		return false
	}

	now := time.Now().UTC()

	var phase model.Phase
	if err == nil {
		phase, err = model.ParsePhase(payload.Status)
	}
	if err != nil {
		pollsTotal.WithLabelValues(kind, outcomeError).Inc()
		e.logger.Warn("status poll failed", "kind", e.kind, "subject", e.subject, "generation", gen, "error", err)
		e.setLocked(reduce(e.snapshot, event{typ: eventPollFailed, err: err, at: now}, e.kind))
		e.stopLocked()
		return false
	}

	e.setLocked(reduce(e.snapshot, event{typ: eventPollSucceeded, phase: phase, payload: payload, at: now}, e.kind))

	switch phase {
	case model.PhaseComplete:
		pollsTotal.WithLabelValues(kind, outcomeComplete).Inc()
	case model.PhaseFailed:
		pollsTotal.WithLabelValues(kind, outcomeFailed).Inc()
	default:
		pollsTotal.WithLabelValues(kind, outcomeProgress).Inc()
		return true
	}

	e.logger.Info("job reached terminal phase",
		"kind", e.kind,
		"subject", e.subject,
		"generation", gen,
		"phase", phase,
	)
	e.stopLocked()
	return false
}

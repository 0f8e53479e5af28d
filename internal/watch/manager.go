// Package watch runs polling engines on behalf of long-lived consumers. Each
// watch is one engine bound to one report job; its snapshot changes are
// fanned out to subscribers and recorded in the store.
package watch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/reportwatch/internal/analytics"
	"github.com/seantiz/reportwatch/internal/model"
	"github.com/seantiz/reportwatch/internal/poller"
	"github.com/seantiz/reportwatch/internal/store"
)

// ErrNotFound is returned for ids that do not name a live watch.
var ErrNotFound = errors.New("watch not found")

// ErrEmptySubject is returned when a watch is started without a job id.
var ErrEmptySubject = errors.New("job id is required")

// ErrClosed is returned by Start after Shutdown.
var ErrClosed = errors.New("watch manager closed")

const defaultPersistQueueSize = 1024

var (
	activeWatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reportwatch_watch_active",
		Help: "Number of watches currently held by the manager.",
	})

	persistDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reportwatch_watch_persist_dropped_total",
		Help: "Snapshot writes dropped because the persistence queue was full.",
	})

	unexpectedTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportwatch_watch_unexpected_transitions_total",
			Help: "Observed phase changes outside the transition table.",
		},
		[]string{"from", "to"},
	)
)

func init() {
	prometheus.MustRegister(activeWatches)
	prometheus.MustRegister(persistDropped)
	prometheus.MustRegister(unexpectedTransitions)
}

// View is the externally visible state of a live watch.
type View struct {
	ID        string           `json:"id"`
	Kind      model.ReportKind `json:"kind"`
	CreatedAt time.Time        `json:"created_at"`
	Snapshot  model.Snapshot   `json:"snapshot"`
}

// Options configures a Manager.
type Options struct {
	// Interval is the polling cadence of every engine. Zero means
	// poller.DefaultInterval.
	Interval time.Duration
	// Tracker receives lifecycle events. Nil disables analytics.
	Tracker *analytics.Tracker
	// PersistQueueSize bounds pending store writes.
	PersistQueueSize int
}

type watch struct {
	id        string
	kind      model.ReportKind
	createdAt time.Time
	engine    *poller.Engine
	seq       int // guarded by the engine's observer serialization
}

func (w *watch) view() View {
	return View{
		ID:        w.id,
		Kind:      w.kind,
		CreatedAt: w.createdAt,
		Snapshot:  w.engine.Snapshot(),
	}
}

type persistOp int

const (
	opUpdate persistOp = iota
	opDetach
)

type persistJob struct {
	op         persistOp
	record     model.WatchRecord
	transition model.Transition
	at         time.Time
}

// Manager holds the live watches of the process.
type Manager struct {
	transport poller.Transport
	store     store.Store
	broker    *Broker
	tracker   *analytics.Tracker
	logger    *slog.Logger
	interval  time.Duration

	mu      sync.RWMutex
	watches map[string]*watch
	closing bool
	engines sync.WaitGroup

	queueMu sync.RWMutex
	closed  bool
	queue   chan persistJob
	done    chan struct{}
}

// NewManager creates a manager and starts its persistence worker.
func NewManager(t poller.Transport, s store.Store, logger *slog.Logger, opts Options) *Manager {
	size := opts.PersistQueueSize
	if size <= 0 {
		size = defaultPersistQueueSize
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = poller.DefaultInterval
	}

	m := &Manager{
		transport: t,
		store:     s,
		broker:    NewBroker(),
		tracker:   opts.Tracker,
		logger:    logger,
		interval:  interval,
		watches:   make(map[string]*watch),
		queue:     make(chan persistJob, size),
		done:      make(chan struct{}),
	}
	go m.persistLoop()
	return m
}

func (m *Manager) isClosing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closing
}

// Broker returns the manager's snapshot broker for streaming.
func (m *Manager) Broker() *Broker {
	return m.broker
}

// Start records a new watch for subject and begins polling it immediately.
func (m *Manager) Start(ctx context.Context, kind model.ReportKind, subject string) (View, error) {
	if subject == "" {
		return View{}, ErrEmptySubject
	}
	if m.isClosing() {
		return View{}, ErrClosed
	}

	now := time.Now().UTC()
	w := &watch{
		id:        model.NewID(),
		kind:      kind,
		createdAt: now,
	}

	rec := &model.WatchRecord{
		ID:        w.id,
		Kind:      kind,
		Subject:   subject,
		Phase:     model.PhaseIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateWatch(ctx, rec); err != nil {
		return View{}, fmt.Errorf("create watch: %w", err)
	}

	w.engine = poller.New(m.transport, kind,
		poller.WithInterval(m.interval),
		poller.WithLogger(m.logger.With("watch_id", w.id)),
		poller.WithObserver(m.observer(w)),
	)

	// The engine joins the wait group while registered, so Shutdown waits
	// for it whether it is detached by Stop or by Shutdown.
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		if err := m.store.MarkDetached(context.WithoutCancel(ctx), w.id, time.Now().UTC()); err != nil {
			m.logger.Error("failed to mark watch detached", "watch_id", w.id, "error", err)
		}
		return View{}, ErrClosed
	}
	m.watches[w.id] = w
	m.engines.Add(1)
	m.mu.Unlock()
	activeWatches.Inc()

	// Attach only fails when a concurrent Stop already detached the engine,
	// and that Stop records the detach.
	if err := w.engine.Attach(subject); err != nil {
		return View{}, translate(err)
	}

	m.logger.Info("watch started", "watch_id", w.id, "kind", kind, "subject", subject)
	return w.view(), nil
}

// observer publishes, tracks and persists every change of one watch. It runs
// under the engine's lock and never blocks.
func (m *Manager) observer(w *watch) poller.Observer {
	var lifecycle poller.Observer
	if m.tracker != nil {
		lifecycle = analytics.LifecycleObserver(m.tracker, w.kind)
	}

	return func(prev, next model.Snapshot) {
		if !model.ValidTransition(prev.Phase, next.Phase) {
			unexpectedTransitions.WithLabelValues(string(prev.Phase), string(next.Phase)).Inc()
			m.logger.Warn("unexpected phase transition",
				"watch_id", w.id,
				"from", prev.Phase,
				"to", next.Phase,
				"generation", next.Generation,
			)
		}

		m.broker.Publish(w.id, next)
		if lifecycle != nil {
			lifecycle(prev, next)
		}

		rec := model.WatchRecord{ID: w.id, Kind: w.kind, CreatedAt: w.createdAt}
		rec.ApplySnapshot(next)
		m.enqueue(persistJob{
			op:         opUpdate,
			record:     rec,
			transition: model.TransitionFrom(w.id, w.seq, next),
		})
		w.seq++
	}
}

func (m *Manager) enqueue(job persistJob) {
	m.queueMu.RLock()
	defer m.queueMu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- job:
	default:
		persistDropped.Inc()
		m.logger.Warn("persistence queue full, dropping write", "watch_id", job.record.ID)
	}
}

// persistLoop applies store writes in the order they were observed.
func (m *Manager) persistLoop() {
	defer close(m.done)
	for job := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		switch job.op {
		case opUpdate:
			if err := m.store.UpdateWatch(ctx, &job.record); err != nil {
				m.logger.Error("failed to persist watch", "watch_id", job.record.ID, "error", err)
			}
			if err := m.store.InsertTransition(ctx, job.transition); err != nil {
				m.logger.Error("failed to persist transition", "watch_id", job.record.ID, "seq", job.transition.Seq, "error", err)
			}
		case opDetach:
			if err := m.store.MarkDetached(ctx, job.record.ID, job.at); err != nil {
				m.logger.Error("failed to mark watch detached", "watch_id", job.record.ID, "error", err)
			}
		}
		cancel()
	}
}

func (m *Manager) lookup(id string) (*watch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.watches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return w, nil
}

// Get returns the live view of a watch.
func (m *Manager) Get(id string) (View, error) {
	w, err := m.lookup(id)
	if err != nil {
		return View{}, err
	}
	return w.view(), nil
}

// List returns every live watch, oldest first.
func (m *Manager) List() []View {
	m.mu.RLock()
	watches := make([]*watch, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
	}
	m.mu.RUnlock()

	slices.SortFunc(watches, func(a, b *watch) int {
		if c := a.createdAt.Compare(b.createdAt); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	views := make([]View, len(watches))
	for i, w := range watches {
		views[i] = w.view()
	}
	return views
}

// Retry restarts polling of a watch from an idle snapshot.
func (m *Manager) Retry(id string) (View, error) {
	w, err := m.lookup(id)
	if err != nil {
		return View{}, err
	}
	if err := w.engine.Retry(); err != nil {
		return View{}, translate(err)
	}
	m.logger.Info("watch retried", "watch_id", id, "generation", w.engine.Generation())
	return w.view(), nil
}

// Rebind points a watch at another job. An empty subject parks the watch
// idle without polling.
func (m *Manager) Rebind(id, subject string) (View, error) {
	w, err := m.lookup(id)
	if err != nil {
		return View{}, err
	}
	if err := w.engine.Attach(subject); err != nil {
		return View{}, translate(err)
	}
	m.logger.Info("watch rebound", "watch_id", id, "subject", subject)
	return w.view(), nil
}

// Stop detaches a watch. Its subscribers are closed and its record keeps the
// last persisted snapshot.
func (m *Manager) Stop(id string) (View, error) {
	m.mu.Lock()
	w, ok := m.watches[id]
	if ok {
		delete(m.watches, id)
	}
	m.mu.Unlock()
	if !ok {
		return View{}, ErrNotFound
	}

	m.detach(w)
	m.logger.Info("watch stopped", "watch_id", id)
	return w.view(), nil
}

// detach releases a watch that was already removed from the map. The detach
// write is queued before the engine's wait group slot is released, so
// Shutdown drains it.
func (m *Manager) detach(w *watch) {
	w.engine.Detach()
	activeWatches.Dec()
	m.broker.Close(w.id)
	m.enqueue(persistJob{
		op:     opDetach,
		record: model.WatchRecord{ID: w.id},
		at:     time.Now().UTC(),
	})
	go func() {
		defer m.engines.Done()
		w.engine.Wait()
	}()
}

// Shutdown detaches every watch, waits for in-flight polls to settle and
// drains pending store writes. It returns ctx.Err() if ctx ends first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	watches := m.watches
	m.watches = make(map[string]*watch)
	m.mu.Unlock()

	for _, w := range watches {
		m.detach(w)
	}

	finished := make(chan struct{})
	go func() {
		m.engines.Wait()
		m.queueMu.Lock()
		if !m.closed {
			m.closed = true
			close(m.queue)
		}
		m.queueMu.Unlock()
		<-m.done
		close(finished)
	}()

	select {
	case <-finished:
		m.logger.Info("watch manager stopped", "detached", len(watches))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func translate(err error) error {
	if errors.Is(err, poller.ErrDetached) {
		return ErrNotFound
	}
	return err
}

// Package analytics emits product events about report generation to a
// pluggable handler.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// EventName identifies a tracked event.
type EventName string

// Tracked events.
const (
	EventReportGenerationStart    EventName = "report_generation_start"
	EventReportGenerationComplete EventName = "report_generation_complete"
	EventReportGenerationFailed   EventName = "report_generation_failed"
	EventCTAClick                 EventName = "cta_click"
	EventTabSwitch                EventName = "tab_switch"
	EventEvidenceExpand           EventName = "evidence_expand"
	EventSEOReportStart           EventName = "seo_report_start"
	EventSEOReportComplete        EventName = "seo_report_complete"
)

var knownEvents = map[EventName]bool{
	EventReportGenerationStart:    true,
	EventReportGenerationComplete: true,
	EventReportGenerationFailed:   true,
	EventCTAClick:                 true,
	EventTabSwitch:                true,
	EventEvidenceExpand:           true,
	EventSEOReportStart:           true,
	EventSEOReportComplete:        true,
}

// ParseEventName validates an event name.
func ParseEventName(s string) (EventName, error) {
	if n := EventName(s); knownEvents[n] {
		return n, nil
	}
	return "", fmt.Errorf("unknown analytics event %q", s)
}

// Properties are the free-form attributes of an event.
type Properties map[string]any

// Event is one tracked occurrence as delivered to handlers.
type Event struct {
	Name       EventName  `json:"event"`
	Properties Properties `json:"properties"`
}

// Handler delivers events somewhere.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

const (
	defaultQueueSize = 256
	handleTimeout    = 10 * time.Second
)

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithHandler installs h instead of the default log handler.
func WithHandler(h Handler) TrackerOption {
	return func(t *Tracker) {
		t.handler = h
	}
}

// WithQueueSize sets how many events may wait for delivery.
func WithQueueSize(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.queueSize = n
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker enriches events with a timestamp and hands them to the current
// handler on a background goroutine, in the order they were tracked. Track
// never blocks; events are dropped with a warning when the queue is full.
type Tracker struct {
	logger    *slog.Logger
	now       func() time.Time
	queueSize int

	mu       sync.RWMutex
	handler  Handler
	fallback Handler
	closed   bool

	queue chan Event
	done  chan struct{}
}

// NewTracker creates a tracker and starts its delivery goroutine. The default
// handler logs every event through logger.
func NewTracker(logger *slog.Logger, opts ...TrackerOption) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		logger:    logger,
		now:       time.Now,
		queueSize: defaultQueueSize,
		fallback:  NewLogHandler(logger),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.queue = make(chan Event, t.queueSize)
	go t.run()
	return t
}

// Track records an event. A "timestamp" property (unix milliseconds) is
// added; props is not modified.
func (t *Tracker) Track(name EventName, props Properties) {
	enriched := make(Properties, len(props)+1)
	maps.Copy(enriched, props)
	enriched["timestamp"] = t.now().UnixMilli()
	ev := Event{Name: name, Properties: enriched}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.logger.Warn("analytics event after close", "event", name)
		return
	}
	select {
	case t.queue <- ev:
	default:
		t.logger.Warn("analytics queue full, dropping event", "event", name)
	}
}

// SetHandler replaces the delivery handler.
func (t *Tracker) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// ResetHandler restores the default log handler.
func (t *Tracker) ResetHandler() {
	t.SetHandler(nil)
}

// Close stops accepting events and blocks until queued ones are delivered.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		<-t.done
		return
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()
	<-t.done
}

func (t *Tracker) current() Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.handler != nil {
		return t.handler
	}
	return t.fallback
}

func (t *Tracker) run() {
	defer close(t.done)
	for ev := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		if err := t.current().Handle(ctx, ev); err != nil {
			t.logger.Warn("analytics handler failed", "event", ev.Name, "error", err)
		}
		cancel()
	}
}

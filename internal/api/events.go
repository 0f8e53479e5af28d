package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/reportwatch/internal/model"
	"github.com/seantiz/reportwatch/internal/store"
)

// SSE event names.
const (
	eventSnapshot = "snapshot"
	eventDone     = "done"
)

// handleStreamEvents streams snapshot changes of a watch. The stream ends
// with a done event carrying the last snapshot once the watch reaches a
// terminal phase or is stopped.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	v, err := s.watches.Get(id)
	if err != nil {
		rec, err := s.store.GetWatch(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "watch not found")
			return
		}
		if err != nil {
			s.logger.Error("get watch for events", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to get watch")
			return
		}
		setSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		_ = s.writeSnapshotEvent(w, eventDone, storedView(rec).Snapshot)
		return
	}

	// Subscribing to a stopped watch yields a closed channel, so the loop
	// below ends with done. Re-read after subscribing so no change falls
	// between the view and the subscription.
	ch, unsub := s.watches.Broker().Subscribe(id)
	defer unsub()
	if cur, err := s.watches.Get(id); err == nil {
		v = cur
	}

	setSSEHeaders(w)
	eventStreamsOpen.Inc()
	defer eventStreamsOpen.Dec()

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	last := v.Snapshot
	if last.Phase.Terminal() {
		_ = s.writeSnapshotEvent(w, eventDone, last)
		flush()
		return
	}
	if err := s.writeSnapshotEvent(w, eventSnapshot, last); err != nil {
		return
	}
	flush()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				// Watch stopped; close with the last snapshot seen.
				_ = s.writeSnapshotEvent(w, eventDone, last)
				flush()
				return
			}
			if stale(snap, last) {
				continue
			}
			last = snap
			if snap.Phase.Terminal() {
				_ = s.writeSnapshotEvent(w, eventDone, snap)
				flush()
				return
			}
			if err := s.writeSnapshotEvent(w, eventSnapshot, snap); err != nil {
				return // Write failed (e.g. client gone).
			}
			flush()
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// stale reports whether snap was published before last.
func stale(snap, last model.Snapshot) bool {
	if snap.Generation != last.Generation {
		return snap.Generation < last.Generation
	}
	return snap.UpdatedAt.Before(last.UpdatedAt)
}

const sseContentType = "text/event-stream"

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", sseContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func (s *Server) writeSnapshotEvent(w http.ResponseWriter, eventType string, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error("encode snapshot event", "error", err)
		return err
	}
	return writeSSEEvent(w, eventType, string(data))
}

// writeSSEData writes the data lines of an SSE event. Multi-line strings are
// split so that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, data string) error {
	for seg := range strings.SplitSeq(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	return writeSSEData(w, data)
}

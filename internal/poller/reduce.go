package poller

import (
	"time"

	"github.com/seantiz/reportwatch/internal/model"
)

// Messages used when neither the server nor the transport supplied one.
const (
	DefaultFailureMessage   = "An unknown error occurred"
	DefaultTransportMessage = "Failed to fetch report status"
)

type eventType int

const (
	eventReset eventType = iota
	eventPollSucceeded
	eventPollFailed
)

// event is one input to the transition function.
type event struct {
	typ        eventType
	subject    string
	generation uint64
	phase      model.Phase
	payload    model.StatusPayload
	err        error
	at         time.Time
}

// reduce is the pure transition function of the engine. It never mutates s.
func reduce(s model.Snapshot, ev event, kind model.ReportKind) model.Snapshot {
	switch ev.typ {
	case eventReset:
		next := model.IdleSnapshot(ev.subject, ev.generation)
		next.UpdatedAt = ev.at
		return next

	case eventPollSucceeded:
		next := s.Clone()
		next.Phase = ev.phase
		next.Progress = ev.payload.Progress
		next.CurrentStep = ""
		if ev.payload.CurrentStep != nil {
			next.CurrentStep = *ev.payload.CurrentStep
		}
		next.StepsCompleted = append([]string{}, ev.payload.StepsCompleted...)
		next.Result = nil
		next.ErrorMessage = ""
		switch ev.phase {
		case model.PhaseComplete:
			next.Result = ev.payload.ResultFor(kind)
		case model.PhaseFailed:
			next.ErrorMessage = DefaultFailureMessage
			if ev.payload.Error != nil && *ev.payload.Error != "" {
				next.ErrorMessage = *ev.payload.Error
			}
		}
		next.UpdatedAt = ev.at
		return next

	case eventPollFailed:
		next := s.Clone()
		next.Phase = model.PhaseFailed
		next.Result = nil
		next.ErrorMessage = DefaultTransportMessage
		if ev.err != nil && ev.err.Error() != "" {
			next.ErrorMessage = ev.err.Error()
		}
		next.UpdatedAt = ev.at
		return next
	}
	return s
}

package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string for use as an entity identifier.
func NewID() string {
	return ulid.Make().String()
}

// WatchRecord is the persisted history of one watch: the last snapshot the
// gateway observed for it plus bookkeeping timestamps.
type WatchRecord struct {
	ID           string     `json:"id"`
	Kind         ReportKind `json:"kind"`
	Subject      string     `json:"subject"`
	Generation   uint64     `json:"generation"`
	Phase        Phase      `json:"phase"`
	Progress     float64    `json:"progress"`
	CurrentStep  string     `json:"current_step,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	DetachedAt   *time.Time `json:"detached_at,omitempty"`
}

// ApplySnapshot copies the observable fields of s into r.
func (r *WatchRecord) ApplySnapshot(s Snapshot) {
	r.Subject = s.Subject
	r.Generation = s.Generation
	r.Phase = s.Phase
	r.Progress = s.Progress
	r.CurrentStep = s.CurrentStep
	r.ErrorMessage = s.ErrorMessage
	r.UpdatedAt = s.UpdatedAt
	if s.Phase.Terminal() {
		t := s.UpdatedAt
		r.FinishedAt = &t
	} else {
		r.FinishedAt = nil
	}
}

// Transition is one recorded snapshot change of a watch.
type Transition struct {
	WatchID      string    `json:"watch_id"`
	Seq          int       `json:"seq"`
	Generation   uint64    `json:"generation"`
	Phase        Phase     `json:"phase"`
	Progress     float64   `json:"progress"`
	CurrentStep  string    `json:"current_step,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	At           time.Time `json:"at"`
}

// TransitionFrom builds the record of snapshot s as the seq-th change of a watch.
func TransitionFrom(watchID string, seq int, s Snapshot) Transition {
	return Transition{
		WatchID:      watchID,
		Seq:          seq,
		Generation:   s.Generation,
		Phase:        s.Phase,
		Progress:     s.Progress,
		CurrentStep:  s.CurrentStep,
		ErrorMessage: s.ErrorMessage,
		At:           s.UpdatedAt,
	}
}

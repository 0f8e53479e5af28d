package model

import (
	"encoding/json"
	"slices"
	"time"
)

// Snapshot is a point-in-time description of job progress. The engine
// replaces it wholesale on every change and only hands out clones, so a
// consumer may keep one without further locking.
type Snapshot struct {
	Subject        string          `json:"subject,omitempty"`
	Generation     uint64          `json:"generation"`
	Phase          Phase           `json:"phase"`
	Progress       float64         `json:"progress"`
	CurrentStep    string          `json:"current_step,omitempty"`
	StepsCompleted []string        `json:"steps_completed"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IdleSnapshot returns the reset state for a subject and generation.
func IdleSnapshot(subject string, generation uint64) Snapshot {
	return Snapshot{
		Subject:        subject,
		Generation:     generation,
		Phase:          PhaseIdle,
		StepsCompleted: []string{},
		UpdatedAt:      time.Now().UTC(),
	}
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.StepsCompleted = slices.Clone(s.StepsCompleted)
	if c.StepsCompleted == nil {
		c.StepsCompleted = []string{}
	}
	if s.Result != nil {
		c.Result = slices.Clone(s.Result)
	}
	return c
}

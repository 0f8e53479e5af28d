package model

import "fmt"

// Phase is the engine's view of where a report job is in its lifecycle.
// Idle is the local pre-first-poll default; the others mirror the status
// strings reported by the report API.
type Phase string

// Job phases.
const (
	PhaseIdle       Phase = "idle"
	PhaseQueued     Phase = "queued"
	PhaseProcessing Phase = "processing"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
)

// ParsePhase converts a wire status string into a Phase. Only the four
// server-side statuses are accepted; "idle" is never valid on the wire.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseQueued, PhaseProcessing, PhaseComplete, PhaseFailed:
		return p, nil
	default:
		return "", fmt.Errorf("unrecognized job status %q", s)
	}
}

// Terminal reports whether no further polling happens once p is reached.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// Active reports whether p is a non-terminal server-reported phase.
func (p Phase) Active() bool {
	return p == PhaseQueued || p == PhaseProcessing
}

// validTransitions maps each phase to the set of phases a poll result may
// move it to. Resets to idle are always allowed and are not listed.
// Processing may go back to queued: the server does not promise ordering.
var validTransitions = map[Phase]map[Phase]bool{
	PhaseIdle: {
		PhaseQueued:     true,
		PhaseProcessing: true,
		PhaseComplete:   true,
		PhaseFailed:     true,
	},
	PhaseQueued: {
		PhaseQueued:     true,
		PhaseProcessing: true,
		PhaseComplete:   true,
		PhaseFailed:     true,
	},
	PhaseProcessing: {
		PhaseQueued:     true,
		PhaseProcessing: true,
		PhaseComplete:   true,
		PhaseFailed:     true,
	},
}

// ValidTransition reports whether moving from one phase to another is allowed.
func ValidTransition(from, to Phase) bool {
	if to == PhaseIdle {
		return true
	}
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// ReportKind selects which report a job produces and therefore which result
// field of the status payload the engine reads.
type ReportKind string

// Report kinds.
const (
	KindGovernance ReportKind = "governance"
	KindSEO        ReportKind = "seo"
)

// ParseReportKind validates a report kind string.
func ParseReportKind(s string) (ReportKind, error) {
	switch k := ReportKind(s); k {
	case KindGovernance, KindSEO:
		return k, nil
	default:
		return "", fmt.Errorf("unknown report kind %q", s)
	}
}

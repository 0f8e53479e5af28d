package analytics

import (
	"github.com/seantiz/reportwatch/internal/model"
	"github.com/seantiz/reportwatch/internal/poller"
)

// ErrorTypeJobFailed marks a failure observed while polling, as opposed to a
// rejected submission.
const ErrorTypeJobFailed = "job_failed"

// LifecycleObserver returns an engine observer that tracks the completion or
// failure of each polled job. It only enqueues, so it is safe to run under
// the engine's lock.
func LifecycleObserver(t *Tracker, kind model.ReportKind) poller.Observer {
	return func(prev, next model.Snapshot) {
		if next.Subject == "" || (prev.Phase == next.Phase && prev.Generation == next.Generation) {
			return
		}
		switch next.Phase {
		case model.PhaseComplete:
			name := EventReportGenerationComplete
			if kind == model.KindSEO {
				name = EventSEOReportComplete
			}
			t.Track(name, Properties{
				"job_id": next.Subject,
				"kind":   string(kind),
			})
		case model.PhaseFailed:
			t.Track(EventReportGenerationFailed, Properties{
				"error_type": ErrorTypeJobFailed,
				"job_id":     next.Subject,
				"kind":       string(kind),
				"error":      next.ErrorMessage,
			})
		}
	}
}

// Package poller provides the job-polling engine. An Engine is bound to one
// subject (a report job id) at a time, queries the status transport on a fixed
// cadence, and exposes its current belief about the job as an immutable
// Snapshot. Subject changes, retries and detach start a new generation; results
// that arrive for an older generation are discarded.
package poller

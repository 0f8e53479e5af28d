package store

import (
	"context"
	"time"

	"github.com/seantiz/reportwatch/internal/model"
)

// WatchStats holds aggregate watch statistics.
type WatchStats struct {
	Total         int            `json:"total"`
	Active        int            `json:"active"`
	CountByPhase  map[string]int `json:"count_by_phase"`
	CountByKind   map[string]int `json:"count_by_kind"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for watch history.
type Store interface {
	CreateWatch(ctx context.Context, w *model.WatchRecord) error
	GetWatch(ctx context.Context, id string) (*model.WatchRecord, error)
	ListWatches(ctx context.Context, limit, offset int) ([]*model.WatchRecord, int, error)
	UpdateWatch(ctx context.Context, w *model.WatchRecord) error
	MarkDetached(ctx context.Context, id string, at time.Time) error
	GetWatchStats(ctx context.Context) (*WatchStats, error)
	InsertTransition(ctx context.Context, tr model.Transition) error
	ListTransitions(ctx context.Context, watchID string) ([]model.Transition, error)
	Close() error
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/reportwatch/internal/model"

	_ "modernc.org/sqlite"
)

const createWatchesTable = `
CREATE TABLE IF NOT EXISTS watches (
    id            TEXT PRIMARY KEY,
    kind          TEXT NOT NULL,
    subject       TEXT NOT NULL,
    generation    INTEGER NOT NULL DEFAULT 0,
    phase         TEXT NOT NULL,
    progress      REAL NOT NULL DEFAULT 0,
    current_step  TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL,
    finished_at   DATETIME,
    detached_at   DATETIME
)`

const createTransitionsTable = `
CREATE TABLE IF NOT EXISTS watch_transitions (
    watch_id      TEXT NOT NULL,
    seq           INTEGER NOT NULL,
    generation    INTEGER NOT NULL,
    phase         TEXT NOT NULL,
    progress      REAL NOT NULL,
    current_step  TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    at            DATETIME NOT NULL,
    PRIMARY KEY (watch_id, seq)
)`

const watchColumns = `id, kind, subject, generation, phase, progress, current_step,
	error_message, created_at, updated_at, finished_at, detached_at`

// ErrNotFound is returned when a watch is not found.
var ErrNotFound = errors.New("watch not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createWatchesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create watches table: %w", err)
	}

	if _, err := db.Exec(createTransitionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create watch_transitions table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWatch(row scanner) (*model.WatchRecord, error) {
	w := &model.WatchRecord{}
	err := row.Scan(
		&w.ID, &w.Kind, &w.Subject, &w.Generation, &w.Phase, &w.Progress, &w.CurrentStep,
		&w.ErrorMessage, &w.CreatedAt, &w.UpdatedAt, &w.FinishedAt, &w.DetachedAt,
	)
	return w, err
}

// CreateWatch inserts a new watch record.
func (s *SQLiteStore) CreateWatch(ctx context.Context, w *model.WatchRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watches (`+watchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, string(w.Kind), w.Subject, int64(w.Generation), string(w.Phase), w.Progress, w.CurrentStep,
		w.ErrorMessage, w.CreatedAt, w.UpdatedAt, w.FinishedAt, w.DetachedAt,
	)
	if err != nil {
		return fmt.Errorf("insert watch: %w", err)
	}
	return nil
}

// GetWatch retrieves a watch by ID.
func (s *SQLiteStore) GetWatch(ctx context.Context, id string) (*model.WatchRecord, error) {
	w, err := scanWatch(s.db.QueryRowContext(ctx,
		`SELECT `+watchColumns+` FROM watches WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get watch: %w", err)
	}
	return w, nil
}

// ListWatches returns a paginated list of watches ordered by created_at DESC,
// along with the total count of all watches.
func (s *SQLiteStore) ListWatches(ctx context.Context, limit, offset int) ([]*model.WatchRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM watches").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count watches: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+watchColumns+` FROM watches ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list watches: %w", err)
	}
	defer rows.Close()

	var watches []*model.WatchRecord
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan watch: %w", err)
		}
		watches = append(watches, w)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate watches: %w", err)
	}

	return watches, total, nil
}

// UpdateWatch writes the observable fields of w. CreatedAt and DetachedAt are
// left untouched.
func (s *SQLiteStore) UpdateWatch(ctx context.Context, w *model.WatchRecord) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE watches SET subject = ?, generation = ?, phase = ?, progress = ?,
			current_step = ?, error_message = ?, updated_at = ?, finished_at = ?
		WHERE id = ?`,
		w.Subject, int64(w.Generation), string(w.Phase), w.Progress,
		w.CurrentStep, w.ErrorMessage, w.UpdatedAt, w.FinishedAt,
		w.ID,
	)
	if err != nil {
		return fmt.Errorf("update watch: %w", err)
	}
	return checkAffected(result)
}

// MarkDetached records when a watch stopped being observed.
func (s *SQLiteStore) MarkDetached(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE watches SET detached_at = ? WHERE id = ?", at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark watch detached: %w", err)
	}
	return checkAffected(result)
}

func checkAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetWatchStats returns counts by phase and kind, the number of watches
// still being observed, and the mean time from creation to a terminal phase.
func (s *SQLiteStore) GetWatchStats(ctx context.Context) (*WatchStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &WatchStats{
		CountByPhase: make(map[string]int),
		CountByKind:  make(map[string]int),
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN detached_at IS NULL AND finished_at IS NULL THEN 1 ELSE 0 END), 0)
		FROM watches`,
	).Scan(&stats.Total, &stats.Active); err != nil {
		return nil, fmt.Errorf("count watches: %w", err)
	}

	if err := countBy(ctx, tx, "phase", stats.CountByPhase); err != nil {
		return nil, err
	}
	if err := countBy(ctx, tx, "kind", stats.CountByKind); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT created_at, finished_at FROM watches WHERE finished_at IS NOT NULL",
	)
	if err != nil {
		return nil, fmt.Errorf("query durations: %w", err)
	}
	defer rows.Close()

	var sum time.Duration
	var n int
	for rows.Next() {
		var created, finished time.Time
		if err := rows.Scan(&created, &finished); err != nil {
			return nil, fmt.Errorf("scan duration: %w", err)
		}
		sum += finished.Sub(created)
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate durations: %w", err)
	}
	if n > 0 {
		stats.AvgDurationMS = float64(sum.Milliseconds()) / float64(n)
	}

	return stats, nil
}

// countBy fills counts with the number of watches per value of column.
// column is always a constant from this file.
func countBy(ctx context.Context, tx *sql.Tx, column string, counts map[string]int) error {
	rows, err := tx.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM watches GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var value string
		var count int
		if err := rows.Scan(&value, &count); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		counts[value] = count
	}
	return rows.Err()
}

// InsertTransition appends one snapshot change to a watch's history.
func (s *SQLiteStore) InsertTransition(ctx context.Context, tr model.Transition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watch_transitions (watch_id, seq, generation, phase, progress, current_step, error_message, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.WatchID, tr.Seq, int64(tr.Generation), string(tr.Phase), tr.Progress, tr.CurrentStep, tr.ErrorMessage, tr.At,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// ListTransitions returns a watch's history ordered by sequence number.
func (s *SQLiteStore) ListTransitions(ctx context.Context, watchID string) ([]model.Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT watch_id, seq, generation, phase, progress, current_step, error_message, at
		FROM watch_transitions WHERE watch_id = ? ORDER BY seq ASC`, watchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []model.Transition
	for rows.Next() {
		var tr model.Transition
		if err := rows.Scan(&tr.WatchID, &tr.Seq, &tr.Generation, &tr.Phase, &tr.Progress,
			&tr.CurrentStep, &tr.ErrorMessage, &tr.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}

// Package history keeps a SQLite log of workflow runs and the user
// subscriptions. Only sizes and outcomes of runs are stored, never message
// text.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"factbot/internal/domain"
)

const defaultRecentLimit = 20

// SQLiteStore records domain.RunRecords.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Stats aggregates the runs since a point in time.
type Stats struct {
	Runs          int
	Sent          int
	Failed        int
	AvgDurationMS int64
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Record inserts a run. Re-recording the same run ID replaces it.
func (s *SQLiteStore) Record(ctx context.Context, rec domain.RunRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs
		 (id, chat_id, update_id, source_len, verdict_len, chunks_total, chunks_sent, sent, error, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ChatID, rec.UpdateID, rec.SourceLen, rec.VerdictLen,
		rec.ChunksTotal, rec.ChunksSent, rec.Sent, rec.Error,
		rec.StartedAt.UnixMilli(), rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns the newest runs first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return s.query(ctx,
		`SELECT id, chat_id, update_id, source_len, verdict_len, chunks_total, chunks_sent, sent, error, started_at, duration_ms
		 FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
}

// RecentForChat returns the newest runs of one chat first.
func (s *SQLiteStore) RecentForChat(ctx context.Context, chatID int64, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return s.query(ctx,
		`SELECT id, chat_id, update_id, source_len, verdict_len, chunks_total, chunks_sent, sent, error, started_at, duration_ms
		 FROM runs WHERE chat_id = ? ORDER BY started_at DESC, id LIMIT ?`, chatID, limit)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]domain.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RunRecord
	for rows.Next() {
		var (
			rec        domain.RunRecord
			startedMS  int64
			durationMS int64
		)
		if err := rows.Scan(&rec.ID, &rec.ChatID, &rec.UpdateID, &rec.SourceLen, &rec.VerdictLen,
			&rec.ChunksTotal, &rec.ChunksSent, &rec.Sent, &rec.Error, &startedMS, &durationMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.StartedAt = time.UnixMilli(startedMS)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats summarises runs started at or after since.
func (s *SQLiteStore) Stats(ctx context.Context, since time.Time) (Stats, error) {
	var st Stats
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(sent), 0), AVG(duration_ms) FROM runs WHERE started_at >= ?`,
		since.UnixMilli(),
	).Scan(&st.Runs, &st.Sent, &avg)
	if err != nil {
		return Stats{}, fmt.Errorf("run stats: %w", err)
	}
	st.Failed = st.Runs - st.Sent
	if avg.Valid {
		st.AvgDurationMS = int64(avg.Float64)
	}
	return st, nil
}

// Prune deletes runs older than the cutoff and returns how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("run history pruned", "deleted", n, "before", olderThan.Format(time.RFC3339))
	}
	return n, nil
}

// Snapshot writes a consistent copy of the database to path, which must not
// exist yet.
func (s *SQLiteStore) Snapshot(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("snapshot history: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

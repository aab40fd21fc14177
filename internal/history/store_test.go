package history

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"factbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "history.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		err := s.Record(ctx, domain.RunRecord{
			ID:          id,
			ChatID:      42,
			UpdateID:    100 + i,
			SourceLen:   10,
			VerdictLen:  900,
			ChunksTotal: 1,
			ChunksSent:  1,
			Sent:        true,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			Duration:    1500 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("Record %s: %v", id, err)
		}
	}

	runs, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("expected newest first, got %+v", runs)
	}
	r := runs[0]
	if !r.Sent || r.UpdateID != 102 || r.VerdictLen != 900 || r.Duration != 1500*time.Millisecond {
		t.Fatalf("fields not round-tripped: %+v", r)
	}
	if !r.StartedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("unexpected start time %v", r.StartedAt)
	}
}

func TestStore_FailedRunKeepsError(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, domain.RunRecord{ID: "x", ChatID: 1, Error: "assessment failed: timeout"}); err != nil {
		t.Fatal(err)
	}
	runs, _ := s.Recent(ctx, 0)
	if len(runs) != 1 || runs[0].Sent || runs[0].Error != "assessment failed: timeout" {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if runs[0].StartedAt.IsZero() {
		t.Fatal("missing start time should default to now")
	}
}

func TestStore_RecentForChat(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	s.Record(ctx, domain.RunRecord{ID: "1", ChatID: 1, StartedAt: now})
	s.Record(ctx, domain.RunRecord{ID: "2", ChatID: 2, StartedAt: now})
	s.Record(ctx, domain.RunRecord{ID: "3", ChatID: 1, StartedAt: now.Add(time.Second)})

	runs, err := s.RecentForChat(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "3" {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

func TestStore_StatsAndPrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	s.Record(ctx, domain.RunRecord{ID: "old", ChatID: 1, Sent: true, StartedAt: now.Add(-48 * time.Hour), Duration: time.Second})
	s.Record(ctx, domain.RunRecord{ID: "ok", ChatID: 1, Sent: true, StartedAt: now, Duration: 2 * time.Second})
	s.Record(ctx, domain.RunRecord{ID: "bad", ChatID: 1, StartedAt: now, Duration: 4 * time.Second})

	st, err := s.Stats(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if st.Runs != 2 || st.Sent != 1 || st.Failed != 1 || st.AvgDurationMS != 3000 {
		t.Fatalf("unexpected stats %+v", st)
	}

	n, err := s.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned run, got %d", n)
	}
	runs, _ := s.Recent(ctx, 10)
	if len(runs) != 2 {
		t.Fatalf("expected 2 remaining runs, got %d", len(runs))
	}
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	s.Record(context.Background(), domain.RunRecord{ID: "keep", ChatID: 1})
	s.Close()

	s, err = NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	runs, _ := s.Recent(context.Background(), 10)
	if len(runs) != 1 || runs[0].ID != "keep" {
		t.Fatalf("data lost on reopen: %+v", runs)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		if err := RunMigrations(db, testLogger()); err != nil {
			t.Fatalf("RunMigrations pass %d: %v", i+1, err)
		}
	}
	v, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if v != schemaVersion() {
		t.Fatalf("expected schema version %d, got %d", schemaVersion(), v)
	}
}

func TestStore_Snapshot(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.Record(ctx, domain.RunRecord{ID: "snap", ChatID: 7, StartedAt: time.Now(), Sent: true}); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "copy.db")
	if err := s.Snapshot(ctx, path); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	copyStore, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer copyStore.Close()
	runs, err := copyStore.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "snap" {
		t.Fatalf("snapshot should contain the run, got %+v", runs)
	}
}

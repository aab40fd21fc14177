package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// migration is a single schema step, applied exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "runs table",
		SQL: `
		CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			chat_id      INTEGER NOT NULL,
			update_id    INTEGER DEFAULT 0,
			source_len   INTEGER DEFAULT 0,
			verdict_len  INTEGER DEFAULT 0,
			chunks_total INTEGER DEFAULT 0,
			chunks_sent  INTEGER DEFAULT 0,
			sent         INTEGER NOT NULL DEFAULT 0,
			error        TEXT DEFAULT '',
			started_at   INTEGER NOT NULL,
			duration_ms  INTEGER DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
		`,
	},
	{
		Version:     2,
		Description: "per-chat lookup index",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_runs_chat ON runs(chat_id, started_at);`,
	},
	{
		Version:     3,
		Description: "subscriptions table",
		SQL: `
		CREATE TABLE IF NOT EXISTS subscriptions (
			user_id    INTEGER PRIMARY KEY,
			username   TEXT DEFAULT '',
			expires_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_expires ON subscriptions(expires_at);
		`,
	},
}

// schemaVersion is the version after all migrations ran.
func schemaVersion() int { return migrations[len(migrations)-1].Version }

// RunMigrations applies pending migrations, tracked in schema_version.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		for _, stmt := range splitSQL(m.SQL) {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration v%d: %w", m.Version, err)
			}
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// GetSchemaVersion returns the highest applied migration, 0 for a fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}

func splitSQL(sql string) []string {
	var out []string
	for _, s := range strings.Split(sql, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

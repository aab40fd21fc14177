package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"factbot/internal/domain"
)

// Grant creates the subscription or moves its expiry. The creation time of an
// existing subscription is kept.
func (s *SQLiteStore) Grant(ctx context.Context, userID int64, username string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, username, expires_at, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   expires_at = excluded.expires_at,
		   username = CASE WHEN excluded.username != '' THEN excluded.username ELSE subscriptions.username END`,
		userID, username, expiresAt.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("grant subscription %d: %w", userID, err)
	}
	return nil
}

// Revoke deletes the subscription and reports whether one existed.
func (s *SQLiteStore) Revoke(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("revoke subscription %d: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Subscription returns the user's subscription, expired or not.
func (s *SQLiteStore) Subscription(ctx context.Context, userID int64) (domain.Subscription, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, expires_at, created_at FROM subscriptions WHERE user_id = ?`, userID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscription{}, false, nil
	}
	if err != nil {
		return domain.Subscription{}, false, fmt.Errorf("get subscription %d: %w", userID, err)
	}
	return sub, true, nil
}

// Subscriptions lists every subscription, latest expiry first.
func (s *SQLiteStore) Subscriptions(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, username, expires_at, created_at FROM subscriptions ORDER BY expires_at DESC, user_id`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ExpireSubscriptions removes the subscriptions that ended before now and
// returns them.
func (s *SQLiteStore) ExpireSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin expiry: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT user_id, username, expires_at, created_at FROM subscriptions WHERE expires_at < ? ORDER BY expires_at, user_id`,
		now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query expired subscriptions: %w", err)
	}
	expired, err := scanSubscriptions(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE expires_at < ?`, now.UnixMilli()); err != nil {
		return nil, fmt.Errorf("delete expired subscriptions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit expiry: %w", err)
	}
	s.logger.Info("subscriptions expired", "count", len(expired))
	return expired, nil
}

// TouchUsername records the user's current @username.
func (s *SQLiteStore) TouchUsername(ctx context.Context, userID int64, username string) error {
	if username == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET username = ? WHERE user_id = ? AND username != ?`, username, userID, username)
	if err != nil {
		return fmt.Errorf("update username %d: %w", userID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (domain.Subscription, error) {
	var (
		sub       domain.Subscription
		expiresMS int64
		createdMS int64
	)
	if err := row.Scan(&sub.UserID, &sub.Username, &expiresMS, &createdMS); err != nil {
		return domain.Subscription{}, err
	}
	sub.ExpiresAt = time.UnixMilli(expiresMS)
	sub.CreatedAt = time.UnixMilli(createdMS)
	return sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]domain.Subscription, error) {
	var out []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

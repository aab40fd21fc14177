package domain

import "time"

// Subscription grants a Telegram user access to the bot until ExpiresAt.
type Subscription struct {
	UserID    int64
	Username  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Active reports whether the subscription is still valid at now.
func (s Subscription) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// ChatUser identifies the sender of an update.
type ChatUser struct {
	ID       int64
	Username string
	FullName string
}

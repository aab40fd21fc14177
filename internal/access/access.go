// Package access decides who may use the bot. Admins and allow-listed users
// always may; everyone else needs an active subscription granted by an admin.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"factbot/internal/domain"
)

const displayLayout = "2006-01-02 15:04"

// Store persists subscriptions.
type Store interface {
	Grant(ctx context.Context, userID int64, username string, expiresAt time.Time) error
	Revoke(ctx context.Context, userID int64) (bool, error)
	Subscription(ctx context.Context, userID int64) (domain.Subscription, bool, error)
	Subscriptions(ctx context.Context) ([]domain.Subscription, error)
	ExpireSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error)
	TouchUsername(ctx context.Context, userID int64, username string) error
}

// Notifier sends plain-text service messages.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	Admins    []int64
	AllowFrom []int64
	Store     Store // nil disables subscriptions
	Notifier  Notifier
	Location  *time.Location // for displayed dates; UTC when nil
	Now       func() time.Time
	Logger    *slog.Logger
}

// Manager answers access checks and the subscription commands.
type Manager struct {
	admins    map[int64]bool
	adminIDs  []int64
	allowFrom map[int64]bool
	store     Store
	notifier  Notifier
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	notified map[int64]bool // refused users the admins already heard about
}

func NewManager(cfg Config) *Manager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Manager{
		admins:    make(map[int64]bool, len(cfg.Admins)),
		allowFrom: make(map[int64]bool, len(cfg.AllowFrom)),
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		loc:       cfg.Location,
		now:       cfg.Now,
		logger:    cfg.Logger,
		notified:  make(map[int64]bool),
	}
	for _, id := range cfg.Admins {
		if !m.admins[id] {
			m.admins[id] = true
			m.adminIDs = append(m.adminIDs, id)
		}
	}
	for _, id := range cfg.AllowFrom {
		m.allowFrom[id] = true
	}
	return m
}

// Subscriptions reports whether access is granted through subscriptions.
func (m *Manager) Subscriptions() bool { return m.store != nil }

func (m *Manager) IsAdmin(userID int64) bool { return m.admins[userID] }

// Allowed reports whether user may submit claims. With neither an allow
// list nor subscriptions the bot is open to everyone. A failing store denies.
func (m *Manager) Allowed(ctx context.Context, user domain.ChatUser) bool {
	if m.admins[user.ID] || m.allowFrom[user.ID] {
		return true
	}
	if m.store == nil {
		return len(m.allowFrom) == 0
	}
	sub, ok, err := m.store.Subscription(ctx, user.ID)
	if err != nil {
		m.logger.Error("subscription lookup failed", "user_id", user.ID, "err", err)
		return false
	}
	if !ok || !sub.Active(m.now()) {
		return false
	}
	if user.Username != "" && user.Username != sub.Username {
		if err := m.store.TouchUsername(ctx, user.ID, user.Username); err != nil {
			m.logger.Warn("username not updated", "user_id", user.ID, "err", err)
		}
	}
	return true
}

// Refuse returns the reply for a user who may not use the bot. The admins
// are told about each such user once per process lifetime.
func (m *Manager) Refuse(ctx context.Context, user domain.ChatUser) string {
	m.mu.Lock()
	first := !m.notified[user.ID]
	m.notified[user.ID] = true
	m.mu.Unlock()

	if first && len(m.adminIDs) > 0 {
		m.logger.Info("notifying admins about refused user", "user_id", user.ID)
		m.notifyAdmins(ctx, newUserText(user, m.store != nil))
	}
	if m.store == nil {
		return fmt.Sprintf("⛔ You are not allowed to use this bot.\n\nYour ID: %d", user.ID)
	}
	return noSubscriptionText(user.ID)
}

// Command runs a subscription command. ok is false for commands this
// package does not own.
func (m *Manager) Command(ctx context.Context, user domain.ChatUser, command, args string) (reply string, ok bool) {
	switch command {
	case "mystatus":
		return m.myStatus(ctx, user), true
	case "grant", "revoke", "list":
	default:
		return "", false
	}

	if !m.admins[user.ID] {
		m.logger.Warn("admin command refused", "user_id", user.ID, "command", command)
		return "❌ You are not allowed to run this command.", true
	}
	if m.store == nil {
		return "Subscriptions are not enabled.", true
	}
	switch command {
	case "grant":
		return m.grant(ctx, user, strings.Fields(args)), true
	case "revoke":
		return m.revoke(ctx, user, strings.Fields(args)), true
	default:
		return m.list(ctx), true
	}
}

func (m *Manager) myStatus(ctx context.Context, user domain.ChatUser) string {
	switch {
	case m.admins[user.ID]:
		return fmt.Sprintf("👑 You are an administrator.\n\nYour ID: %d", user.ID)
	case m.allowFrom[user.ID]:
		return fmt.Sprintf("✅ You have permanent access.\n\nYour ID: %d", user.ID)
	case m.store == nil:
		if len(m.allowFrom) == 0 {
			return fmt.Sprintf("✅ The bot is open to everyone.\n\nYour ID: %d", user.ID)
		}
		return fmt.Sprintf("⛔ You are not allowed to use this bot.\n\nYour ID: %d", user.ID)
	}

	sub, ok, err := m.store.Subscription(ctx, user.ID)
	if err != nil {
		m.logger.Error("subscription lookup failed", "user_id", user.ID, "err", err)
		return "❌ Your subscription could not be checked right now."
	}
	if !ok || !sub.Active(m.now()) {
		return noSubscriptionText(user.ID)
	}
	return fmt.Sprintf("✅ Your subscription is active.\n📅 Valid until: %s", m.formatTime(sub.ExpiresAt))
}

func (m *Manager) grant(ctx context.Context, admin domain.ChatUser, args []string) string {
	if len(args) != 2 {
		return "Usage: /grant <user_id> <period>\n\n" +
			"Periods: 1m (minute), 1d (day), 1M (month), 6M (6 months), 1y (year).\n\n" +
			"Example: /grant 123456789 1M"
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "❌ Invalid user ID: " + args[0]
	}
	period, err := ParseDuration(args[1])
	if err != nil {
		return "❌ " + err.Error()
	}

	expires := m.now().Add(period)
	if err := m.store.Grant(ctx, userID, "", expires); err != nil {
		m.logger.Error("grant failed", "user_id", userID, "err", err)
		return "❌ The subscription could not be saved."
	}
	m.mu.Lock()
	delete(m.notified, userID)
	m.mu.Unlock()

	m.logger.Info("subscription granted",
		"user_id", userID, "period", args[1], "expires_at", expires.Format(time.RFC3339), "admin_id", admin.ID)
	m.notify(ctx, userID, fmt.Sprintf(
		"🎉 You have been granted a subscription!\n\n⏰ Period: %s\n📅 Valid until: %s\n\n"+
			"Send me any claim and I will check it.",
		FormatDuration(args[1]), m.formatTime(expires)))

	return fmt.Sprintf("✅ Subscription granted to %d for %s (until %s).",
		userID, FormatDuration(args[1]), m.formatTime(expires))
}

func (m *Manager) revoke(ctx context.Context, admin domain.ChatUser, args []string) string {
	if len(args) != 1 {
		return "Usage: /revoke <user_id>\n\nExample: /revoke 123456789"
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "❌ Invalid user ID: " + args[0]
	}
	found, err := m.store.Revoke(ctx, userID)
	if err != nil {
		m.logger.Error("revoke failed", "user_id", userID, "err", err)
		return "❌ The subscription could not be revoked."
	}
	if !found {
		return fmt.Sprintf("❌ No subscription found for %d.", userID)
	}
	m.logger.Info("subscription revoked", "user_id", userID, "admin_id", admin.ID)
	m.notify(ctx, userID, "❌ Your subscription has been revoked.\n\nContact an administrator to renew access.")
	return fmt.Sprintf("✅ Subscription of %d revoked.", userID)
}

func (m *Manager) list(ctx context.Context) string {
	subs, err := m.store.Subscriptions(ctx)
	if err != nil {
		m.logger.Error("list subscriptions failed", "err", err)
		return "❌ Subscriptions could not be listed."
	}
	if len(subs) == 0 {
		return "📋 No subscriptions."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 Subscriptions (%d):\n", len(subs))
	now := m.now()
	for _, s := range subs {
		b.WriteString("\n👤 ID: ")
		b.WriteString(strconv.FormatInt(s.UserID, 10))
		if s.Username != "" {
			b.WriteString(" @" + s.Username)
		}
		fmt.Fprintf(&b, "\n   Created: %s\n   Expires: %s", m.formatTime(s.CreatedAt), m.formatTime(s.ExpiresAt))
		if !s.Active(now) {
			b.WriteString(" (expired)")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Sweep deletes expired subscriptions and tells the users and the admins.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	expired, err := m.store.ExpireSubscriptions(ctx, m.now())
	if err != nil {
		return 0, err
	}
	for _, s := range expired {
		m.notify(ctx, s.UserID,
			"⏰ Your subscription has expired.\n\nContact an administrator to renew access.")
		m.notifyAdmins(ctx, fmt.Sprintf("⏰ Subscription expired:\n\nID: %d%s\nExpired: %s\n\nRenew with: /grant %d 1M",
			s.UserID, usernameSuffix(s.Username), m.formatTime(s.ExpiresAt), s.UserID))
	}
	return len(expired), nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if m.store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.logger.Info("subscription sweeper started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("subscription sweeper stopped")
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("subscription sweep failed", "err", err)
			}
		}
	}
}

func (m *Manager) notify(ctx context.Context, chatID int64, text string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, chatID, text); err != nil {
		m.logger.Warn("notification not delivered", "chat_id", chatID, "err", err)
	}
}

func (m *Manager) notifyAdmins(ctx context.Context, text string) {
	for _, id := range m.adminIDs {
		m.notify(ctx, id, text)
	}
}

func (m *Manager) formatTime(t time.Time) string {
	return t.In(m.loc).Format(displayLayout) + " " + m.loc.String()
}

func noSubscriptionText(userID int64) string {
	return fmt.Sprintf("❌ You do not have an active subscription.\n\nYour ID: %d\n\n"+
		"Send your ID to an administrator to get access.", userID)
}

func newUserText(user domain.ChatUser, subscriptions bool) string {
	name := user.FullName
	if name == "" {
		name = "unknown"
	}
	text := fmt.Sprintf("🔔 Request from a user without access:\n\nID: %d%s\nName: %s",
		user.ID, usernameSuffix(user.Username), name)
	if subscriptions {
		text += fmt.Sprintf("\n\nTo grant a subscription: /grant %d 1M", user.ID)
	}
	return text
}

func usernameSuffix(username string) string {
	if username == "" {
		return ""
	}
	return " (@" + username + ")"
}

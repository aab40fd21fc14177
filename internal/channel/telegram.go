package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"factbot/internal/domain"
	"factbot/internal/segment"
)

const (
	DefaultProcessingText = "⏳ Checking the claim..."
	DefaultFailureText    = "❌ Sorry, the claim could not be checked right now. Please try again later."

	// ParseModePlain disables Telegram markup.
	ParseModePlain = "plain"

	pollTimeoutSeconds = 30
)

const (
	startText = "👋 Hello! Send me any claim, quote or news headline and I will check it " +
		"against current sources.\n\nI reply with a conclusion, the reasoning behind it and the sources I used.\n\n" +
		"Commands:\n/help Show this message\n/mystatus Show your access"
	helpText = "📖 How it works\n\n1. Send a claim as a plain text message.\n" +
		"2. Wait while it is checked (usually under a minute).\n" +
		"3. Read the verdict: CONCLUSION, REASONING and SOURCES.\n\n" +
		"Long answers arrive in several messages."
	unknownCommandText = "Unknown command. Send a claim as plain text, or /help."

	// maxReplyLen is Telegram's limit for one message.
	maxReplyLen = 4096
)

// AccessControl decides who may submit claims and answers the commands that
// manage access.
type AccessControl interface {
	Allowed(ctx context.Context, user domain.ChatUser) bool
	// Refuse returns the reply for a refused user.
	Refuse(ctx context.Context, user domain.ChatUser) string
	IsAdmin(userID int64) bool
	// Command answers command; ok is false when it is not an access command.
	Command(ctx context.Context, user domain.ChatUser, command, args string) (reply string, ok bool)
}

// Publisher accepts requests for the worker.
type Publisher interface {
	Publish(ctx context.Context, req domain.InboundRequest) error
}

// Telegram implements domain.Messenger over the Telegram Bot API and turns
// incoming updates into InboundRequests.
type Telegram struct {
	token             string
	apiEndpoint       string
	allowFrom         map[int64]bool // empty = allow all
	parseMode         string
	plainTextFallback bool
	processingText    string
	failureText       string
	httpClient        *http.Client

	bot       *tgbotapi.BotAPI
	publisher Publisher
	access    AccessControl
	logger    *slog.Logger
}

type TelegramConfig struct {
	Token             string
	APIEndpoint       string // format string with two %s verbs: token and method
	AllowFrom         []int64
	ParseMode         string // HTML by default; "plain" disables markup
	PlainTextFallback bool
	ProcessingText    string // empty disables the processing indicator
	FailureText       string // empty disables the failure notice
	Publisher         Publisher
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	allowed := make(map[int64]bool, len(cfg.AllowFrom))
	for _, id := range cfg.AllowFrom {
		allowed[id] = true
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	switch strings.ToLower(cfg.ParseMode) {
	case "":
		cfg.ParseMode = tgbotapi.ModeHTML
	case ParseModePlain:
		cfg.ParseMode = ""
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:             cfg.Token,
		apiEndpoint:       cfg.APIEndpoint,
		allowFrom:         allowed,
		parseMode:         cfg.ParseMode,
		plainTextFallback: cfg.PlainTextFallback,
		processingText:    cfg.ProcessingText,
		failureText:       cfg.FailureText,
		httpClient:        cfg.HTTPClient,
		publisher:         cfg.Publisher,
		logger:            cfg.Logger,
	}
}

// Connect authenticates the token with getMe. It must be called before any
// other method.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.token == "" {
		return errors.New("telegram bot token is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.apiEndpoint, t.httpClient)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return nil
}

// SetAccess replaces the allowFrom check with ac. It must be called before
// updates are handled.
func (t *Telegram) SetAccess(ac AccessControl) {
	t.access = ac
}

// Username returns the bot's @username once connected.
func (t *Telegram) Username() string {
	if t.bot == nil {
		return ""
	}
	return t.bot.Self.UserName
}

// Poll receives updates with getUpdates until ctx is cancelled. Telegram
// refuses getUpdates while a webhook is set, so the webhook is removed first.
func (t *Telegram) Poll(ctx context.Context) error {
	if t.bot == nil {
		return errors.New("telegram: not connected")
	}
	if _, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		t.logger.Warn("could not remove webhook before polling", "err", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := t.bot.GetUpdatesChan(u)
	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram polling stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate answers commands, filters senders, posts the processing
// indicator and queues the claim for assessment.
func (t *Telegram) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	user := chatUser(msg.From)
	chatID := msg.Chat.ID

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		return
	}

	// Commands stay open so refused users can learn their ID.
	if msg.IsCommand() {
		t.handleCommand(ctx, chatID, user, msg.Command(), msg.CommandArguments())
		return
	}

	if !t.allowed(ctx, user) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", user.ID,
			"username", user.Username,
		)
		t.reply(ctx, chatID, t.refusal(ctx, user))
		return
	}

	t.logger.Info("telegram message received",
		"update_id", update.UpdateID,
		"user_id", user.ID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	req := domain.InboundRequest{
		SourceText: text,
		ChatID:     chatID,
		UpdateID:   update.UpdateID,
		SenderID:   user.ID,
		ReceivedAt: time.Unix(int64(msg.Date), 0),
	}
	if t.processingText != "" {
		id, err := t.reply(ctx, chatID, t.processingText)
		if err == nil {
			req.IndicatorID = id
		}
	}

	if t.publisher == nil {
		t.logger.Error("no publisher configured, request dropped", "chat_id", chatID)
		return
	}
	if err := t.publisher.Publish(ctx, req); err != nil {
		t.logger.Error("request not queued", "chat_id", chatID, "err", err)
		t.NotifyFailure(ctx, req, err)
	}
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, user domain.ChatUser, command, args string) {
	switch command {
	case "start":
		text := startText + fmt.Sprintf("\n\n🆔 Your ID: %d", user.ID)
		if t.access != nil && t.access.IsAdmin(user.ID) {
			text += "\n\n👑 You are an administrator.\n" + adminHelpText
		}
		t.reply(ctx, chatID, text)
		return
	case "help":
		t.reply(ctx, chatID, helpText)
		return
	case "mystatus":
		if t.access == nil {
			if t.allowed(ctx, user) {
				t.reply(ctx, chatID, fmt.Sprintf("✅ You can use this bot.\n\nYour ID: %d", user.ID))
			} else {
				t.reply(ctx, chatID, t.refusal(ctx, user))
			}
			return
		}
	}
	if t.access != nil {
		if answer, ok := t.access.Command(ctx, user, command, args); ok {
			for _, part := range segment.Segment(answer, maxReplyLen) {
				t.reply(ctx, chatID, part)
			}
			return
		}
	}
	t.reply(ctx, chatID, unknownCommandText)
}

const adminHelpText = "Admin commands:\n" +
	"/grant <user_id> <period> Grant a subscription (1m, 1d, 1M, 6M, 1y)\n" +
	"/revoke <user_id> Revoke a subscription\n" +
	"/list List subscriptions"

func (t *Telegram) allowed(ctx context.Context, user domain.ChatUser) bool {
	if t.access != nil {
		return t.access.Allowed(ctx, user)
	}
	return len(t.allowFrom) == 0 || t.allowFrom[user.ID]
}

func (t *Telegram) refusal(ctx context.Context, user domain.ChatUser) string {
	if t.access != nil {
		return t.access.Refuse(ctx, user)
	}
	return fmt.Sprintf("⛔ You are not allowed to use this bot.\n\nYour ID: %d", user.ID)
}

func chatUser(u *tgbotapi.User) domain.ChatUser {
	return domain.ChatUser{
		ID:       u.ID,
		Username: u.UserName,
		FullName: strings.TrimSpace(u.FirstName + " " + u.LastName),
	}
}

// Notify sends a plain-text service message, such as a subscription notice.
func (t *Telegram) Notify(ctx context.Context, chatID int64, text string) error {
	_, err := t.send(ctx, chatID, text, "")
	return err
}

// reply sends a plain-text service message and logs failures.
func (t *Telegram) reply(ctx context.Context, chatID int64, text string) (int, error) {
	id, err := t.send(ctx, chatID, text, "")
	if err != nil {
		t.logger.Warn("telegram reply failed", "chat_id", chatID, "err", err)
	}
	return id, err
}

// SendMessage transmits one message with the configured parse mode. When
// Telegram rejects the markup and the fallback is enabled, the same text is
// resent once as plain text.
func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string) (int, error) {
	id, err := t.send(ctx, chatID, text, t.parseMode)
	if err == nil || !t.plainTextFallback || t.parseMode == "" || !isParseError(err) {
		return id, err
	}
	t.logger.Warn("telegram markup rejected, resending as plain text",
		"chat_id", chatID, "parse_mode", t.parseMode, "err", err,
	)
	return t.send(ctx, chatID, text, "")
}

func (t *Telegram) send(ctx context.Context, chatID int64, text, parseMode string) (int, error) {
	if t.bot == nil {
		return 0, errors.New("telegram: not connected")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	msg.DisableWebPagePreview = true

	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, classify("sendMessage", err)
	}
	return sent.MessageID, nil
}

// DeleteMessage removes a message from a chat.
func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if t.bot == nil {
		return errors.New("telegram: not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return classify("deleteMessage", err)
	}
	return nil
}

// NotifyFailure tells the user their request could not be completed: the
// processing indicator is removed and the failure text, when set, is sent.
func (t *Telegram) NotifyFailure(ctx context.Context, req domain.InboundRequest, cause error) {
	// The request is already lost; the notice must still go out after shutdown starts.
	ctx = context.WithoutCancel(ctx)
	if req.HasIndicator() {
		if err := t.DeleteMessage(ctx, req.ChatID, req.IndicatorID); err != nil {
			t.logger.Warn("processing indicator not removed",
				"chat_id", req.ChatID,
				"err", &domain.DeleteIndicatorError{MessageID: req.IndicatorID, Err: err},
			)
		}
	}
	if t.failureText == "" {
		return
	}
	t.logger.Info("sending failure notice", "chat_id", req.ChatID, "cause", cause)
	t.reply(ctx, req.ChatID, t.failureText)
}

// SetWebhook registers url with Telegram. secret, when set, is echoed back by
// Telegram in the X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (t *Telegram) SetWebhook(url, secret string, dropPending bool) error {
	if t.bot == nil {
		return errors.New("telegram: not connected")
	}
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	params.AddBool("drop_pending_updates", dropPending)
	params["allowed_updates"] = `["message"]`

	if _, err := t.bot.MakeRequest("setWebhook", params); err != nil {
		return classify("setWebhook", err)
	}
	t.logger.Info("telegram webhook registered", "url", url)
	return nil
}

// WebhookInfo returns Telegram's view of the current webhook.
func (t *Telegram) WebhookInfo() (tgbotapi.WebhookInfo, error) {
	if t.bot == nil {
		return tgbotapi.WebhookInfo{}, errors.New("telegram: not connected")
	}
	info, err := t.bot.GetWebhookInfo()
	if err != nil {
		return tgbotapi.WebhookInfo{}, classify("getWebhookInfo", err)
	}
	return info, nil
}

// DeleteWebhook removes the webhook so the bot can be polled again.
func (t *Telegram) DeleteWebhook(dropPending bool) error {
	if t.bot == nil {
		return errors.New("telegram: not connected")
	}
	if _, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: dropPending}); err != nil {
		return classify("deleteWebhook", err)
	}
	return nil
}

// classify maps Bot API flood-control answers to *domain.RateLimitError.
func classify(method string, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusTooManyRequests || apiErr.RetryAfter > 0) {
		return &domain.RateLimitError{
			RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
			Err:        fmt.Errorf("telegram %s: %w", method, err),
		}
	}
	return fmt.Errorf("telegram %s: %w", method, err)
}

func isParseError(err error) bool {
	return strings.Contains(err.Error(), "can't parse entities")
}

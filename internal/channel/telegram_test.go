package channel

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"factbot/internal/domain"
)

type fakePublisher struct {
	mu   sync.Mutex
	reqs []domain.InboundRequest
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, req domain.InboundRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.reqs = append(p.reqs, req)
	return nil
}

func (p *fakePublisher) published() []domain.InboundRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.InboundRequest(nil), p.reqs...)
}

func newTestTelegram(t *testing.T, api *fakeBotAPI, mutate func(*TelegramConfig)) *Telegram {
	t.Helper()
	cfg := TelegramConfig{
		Token:             "123:abc",
		APIEndpoint:       api.endpoint(),
		PlainTextFallback: true,
		ProcessingText:    DefaultProcessingText,
		FailureText:       DefaultFailureText,
		Publisher:         &fakePublisher{},
		Logger:            testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	tg := NewTelegram(cfg)
	if err := tg.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return tg
}

func textUpdate(updateID int, userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: updateID,
		Message: &tgbotapi.Message{
			MessageID: 10,
			From:      &tgbotapi.User{ID: userID},
			Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
			Date:      1700000000,
			Text:      text,
		},
	}
}

func commandUpdate(userID int64, command string) tgbotapi.Update {
	u := textUpdate(1, userID, "/"+command)
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command) + 1}}
	return u
}

func TestConnect_RequiresToken(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Logger: testLogger()})
	if err := tg.Connect(context.Background()); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestConnect_Username(t *testing.T) {
	api := newFakeBotAPI(t)
	tg := newTestTelegram(t, api, nil)
	if tg.Username() != "factbot" {
		t.Fatalf("unexpected username %q", tg.Username())
	}
}

func TestSendMessage_HTMLByDefault(t *testing.T) {
	api := newFakeBotAPI(t)
	tg := newTestTelegram(t, api, nil)

	id, err := tg.SendMessage(context.Background(), 42, "<b>CONCLUSION:</b> true")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected a message ID, got %d", id)
	}
	calls := api.callsTo("sendMessage")
	if len(calls) != 1 {
		t.Fatalf("expected 1 sendMessage, got %d", len(calls))
	}
	if calls[0].form.Get("parse_mode") != "HTML" || calls[0].form.Get("chat_id") != "42" {
		t.Fatalf("unexpected form %v", calls[0].form)
	}
	if calls[0].form.Get("text") != "<b>CONCLUSION:</b> true" {
		t.Fatal("text must be sent verbatim")
	}
}

func TestSendMessage_PlainMode(t *testing.T) {
	api := newFakeBotAPI(t)
	tg := newTestTelegram(t, api, func(c *TelegramConfig) { c.ParseMode = ParseModePlain })

	if _, err := tg.SendMessage(context.Background(), 42, "x"); err != nil {
		t.Fatal(err)
	}
	if pm := api.callsTo("sendMessage")[0].form.Get("parse_mode"); pm != "" {
		t.Fatalf("expected no parse mode, got %q", pm)
	}
}

func TestSendMessage_PlainTextFallback(t *testing.T) {
	api := newFakeBotAPI(t)
	api.override = func(method string, form url.Values) (string, bool) {
		if method == "sendMessage" && form.Get("parse_mode") == "HTML" {
			return `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: unsupported start tag"}`, true
		}
		return "", false
	}
	tg := newTestTelegram(t, api, nil)

	if _, err := tg.SendMessage(context.Background(), 42, "<x>broken"); err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}
	calls := api.callsTo("sendMessage")
	if len(calls) != 2 || calls[1].form.Get("parse_mode") != "" {
		t.Fatalf("expected an HTML attempt then a plain attempt, got %d calls", len(calls))
	}
}

func TestSendMessage_FallbackDisabled(t *testing.T) {
	api := newFakeBotAPI(t)
	api.override = func(method string, form url.Values) (string, bool) {
		if method == "sendMessage" {
			return `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`, true
		}
		return "", false
	}
	tg := newTestTelegram(t, api, func(c *TelegramConfig) { c.PlainTextFallback = false })

	if _, err := tg.SendMessage(context.Background(), 42, "<x>"); err == nil {
		t.Fatal("expected failure")
	}
	if n := len(api.callsTo("sendMessage")); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
}

func TestSendMessage_RateLimit(t *testing.T) {
	api := newFakeBotAPI(t)
	api.override = func(method string, _ url.Values) (string, bool) {
		if method == "sendMessage" {
			return `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`, true
		}
		return "", false
	}
	tg := newTestTelegram(t, api, nil)

	_, err := tg.SendMessage(context.Background(), 42, "x")
	var rl *domain.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Fatalf("expected 7s, got %v", rl.RetryAfter)
	}
}

func TestSendMessage_CancelledContext(t *testing.T) {
	api := newFakeBotAPI(t)
	tg := newTestTelegram(t, api, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := tg.SendMessage(ctx, 42, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(api.callsTo("sendMessage")) != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestDeleteMessage(t *testing.T) {
	api := newFakeBotAPI(t)
	tg := newTestTelegram(t, api, nil)

	if err := tg.DeleteMessage(context.Background(), 42, 77); err != nil {
		t.Fatal(err)
	}
	calls := api.callsTo("deleteMessage")
	if len(calls) != 1 || calls[0].form.Get("message_id") != "77" {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestDeleteMessage_Error(t *testing.T) {
	api := newFakeBotAPI(t)
	api.override = func(method string, _ url.Values) (string, bool) {
		if method == "deleteMessage" {
			return `{"ok":false,"error_code":400,"description":"Bad Request: message to delete not found"}`, true
		}
		return "", false
	}
	tg := newTestTelegram(t, api, nil)

	err := tg.DeleteMessage(context.Background(), 42, 77)
	if err == nil || !strings.Contains(err.Error(), "message to delete not found") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestHandleUpdate_PublishesWithIndicator(t *testing.T) {
	api := newFakeBotAPI(t)
	pub := &fakePublisher{}
	tg := newTestTelegram(t, api, func(c *TelegramConfig) { c.Publisher = pub })

	tg.HandleUpdate(context.Background(), textUpdate(555, 42, "  The moon is made of cheese  "))

	reqs := pub.published()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.SourceText != "The moon is made of cheese" || req.ChatID != 42 || req.UpdateID != 555 || req.SenderID != 42 {
		t.Fatalf("unexpected request %+v", req)
	}
	if !req.HasIndicator() {
		t.Fatal("expected a processing indicator")
	}
	sends := api.callsTo("sendMessage")
	if len(sends) != 1 || sends[0].form.Get("text") != DefaultProcessingText {
		t.Fatalf("expected the processing indicator to be posted, got %+v", sends)
	}
}

func TestHandleUpdate_NoIndicatorWhenDisabled(t *testing.T) {
	api := newFakeBotAPI(t)
	pub := &fakePublisher{}
	tg := newTestTelegram(t, api, func(c *TelegramConfig) {
		c.Publisher = pub
		c.ProcessingText = ""
	})

	tg.HandleUpdate(context.Background(), textUpdate(1, 42, "claim"))

	if reqs := pub.published(); len(reqs) != 1 || reqs[0].IndicatorID != 0 {
		t.Fatalf("expected a request without indicator, got %+v", reqs)
	}
	if len(api.callsTo("sendMessage")) != 0 {
		t.Fatal("no indicator should be posted")
	}
}

func TestHandleUpdate_AllowList(t *testing.T) {
	api := newFakeBotAPI(t)
	pub := &fakePublisher{}
	tg := newTestTelegram(t, api, func(c *TelegramConfig) {
		c.Publisher = pub
		c.AllowFrom = []int64{1}
	})

	tg.HandleUpdate(context.Background(), textUpdate(1, 99, "claim"))

	if len(pub.published()) != 0 {
		t.Fatal("unauthorized sender must not be queued")
	}
	sends := api.callsTo("sendMessage")
	if len(sends) != 1 || !strings.Contains(sends[0].form.Get("text"), "99") {
		t.Fatalf("expected a refusal naming the user ID, got %+v", sends)
	}

	tg.HandleUpdate(context.Background(), textUpdate(2, 1, "claim"))
	if len(pub.published()) != 1 {
		t.Fatal("allowed sender should be queued")
	}
}

func TestHandleUpdate_Commands(t *testing.T) {
	cases := map[string]string{
		"start":    startText + "\n\n🆔 Your ID: 42",
		"help":     helpText,
		"mystatus": "✅ You can use this bot.\n\nYour ID: 42",
		"status":   unknownCommandText,
		"grant":    unknownCommandText,
	}
	for cmd, want := range cases {
		api := newFakeBotAPI(t)
		pub := &fakePublisher{}
		tg := newTestTelegram(t, api, func(c *TelegramConfig) { c.Publisher = pub })

		tg.HandleUpdate(context.Background(), commandUpdate(42, cmd))

		sends := api.callsTo("sendMessage")
		if len(sends) != 1 || sends[0].form.Get("text") != want {
			t.Fatalf("/%s: unexpected replies %+v", cmd, sends)
		}
		if len(pub.published()) != 0 {
			t.Fatalf("/%s: commands must not be assessed", cmd)
		}
	}
}

// fakeAccess allows the users in allowed and answers /grant.
type fakeAccess struct {
	mu       sync.Mutex
	allowed  map[int64]bool
	admins   map[int64]bool
	refused  []domain.ChatUser
	commands []string
	reply    string
}

func (a *fakeAccess) Allowed(_ context.Context, user domain.ChatUser) bool {
	return a.allowed[user.ID]
}

func (a *fakeAccess) Refuse(_ context.Context, user domain.ChatUser) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refused = append(a.refused, user)
	return "no subscription"
}

func (a *fakeAccess) IsAdmin(userID int64) bool { return a.admins[userID] }

func (a *fakeAccess) Command(_ context.Context, user domain.ChatUser, command, args string) (string, bool) {
	if command != "grant" {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commands = append(a.commands, command+" "+args)
	return a.reply, true
}

func TestHandleUpdate_AccessRefusal(t *testing.T) {
	api := newFakeBotAPI(t)
	pub := &fakePublisher{}
	ac := &fakeAccess{allowed: map[int64]bool{1: true}}
	tg := newTestTelegram(t, api, func(c *TelegramConfig) {
		c.Publisher = pub
		c.AllowFrom = []int64{99} // ignored once access control is set
	})
	tg.SetAccess(ac)

	u := textUpdate(1, 99, "claim")
	u.Message.From.UserName = "bob"
	u.Message.From.FirstName = "Bob"
	u.Message.From.LastName = "Stone"
	tg.HandleUpdate(context.Background(), u)

	if len(pub.published()) != 0 {
		t.Fatal("refused sender must not be queued")
	}
	if len(ac.refused) != 1 || ac.refused[0] != (domain.ChatUser{ID: 99, Username: "bob", FullName: "Bob Stone"}) {
		t.Fatalf("unexpected refused users %+v", ac.refused)
	}
	if sends := api.callsTo("sendMessage"); len(sends) != 1 || sends[0].form.Get("text") != "no subscription" {
		t.Fatalf("expected the access refusal, got %+v", sends)
	}

	tg.HandleUpdate(context.Background(), textUpdate(2, 1, "claim"))
	if len(pub.published()) != 1 {
		t.Fatal("allowed sender should be queued")
	}
}

func TestHandleUpdate_AccessCommands(t *testing.T) {
	api := newFakeBotAPI(t)
	ac := &fakeAccess{admins: map[int64]bool{42: true}, reply: "granted"}
	tg := newTestTelegram(t, api, nil)
	tg.SetAccess(ac)

	u := textUpdate(1, 42, "/grant 77 1M")
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len("/grant")}}
	tg.HandleUpdate(context.Background(), u)

	if len(ac.commands) != 1 || ac.commands[0] != "grant 77 1M" {
		t.Fatalf("command not delegated with its arguments: %v", ac.commands)
	}
	if sends := api.callsTo("sendMessage"); len(sends) != 1 || sends[0].form.Get("text") != "granted" {
		t.Fatalf("unexpected replies %+v", sends)
	}

	tg.HandleUpdate(context.Background(), commandUpdate(42, "start"))
	start := api.callsTo("sendMessage")[1].form.Get("text")
	if !strings.Contains(start, "Your ID: 42") || !strings.Contains(start, "/grant <user_id>") {
		t.Fatalf("admin /start should list admin commands, got %q", start)
	}

	tg.HandleUpdate(context.Background(), commandUpdate(42, "weather"))
	if got := api.callsTo("sendMessage")[2].form.Get("text"); got != unknownCommandText {
		t.Fatalf("unhandled command: got %q", got)
	}
}

func TestHandleUpdate_CommandsOpenToRefusedUsers(t *testing.T) {
	api := newFakeBotAPI(t)
	ac := &fakeAccess{}
	tg := newTestTelegram(t, api, nil)
	tg.SetAccess(ac)

	tg.HandleUpdate(context.Background(), commandUpdate(99, "start"))

	sends := api.callsTo("sendMessage")
	if len(sends) != 1 || !strings.Contains(sends[0].form.Get("text"), "Your ID: 99") {
		t.Fatalf("refused user should still see /start, got %+v", sends)
	}
	if strings.Contains(sends[0].form.Get("text"), "/grant") {
		t.Fatal("admin commands must not be shown to other users")
	}
	if len(ac.refused) != 0 {
		t.Fatal("commands must not trigger a refusal")
	}
}

func TestHandleUpdate_LongCommandReplySplit(t *testing.T) {
	api := newFakeBotAPI(t)
	ac := &fakeAccess{reply: strings.Repeat("line of the list\n", 400)}
	tg := newTestTelegram(t, api, nil)
	tg.SetAccess(ac)

	tg.HandleUpdate(context.Background(), commandUpdate(42, "grant"))

	sends := api.callsTo("sendMessage")
	if len(sends) != 2 {
		t.Fatalf("expected the reply in 2 messages, got %d", len(sends))
	}
	if sends[0].form.Get("text")+sends[1].form.Get("text") != ac.reply {
		t.Fatal("split reply must concatenate to the original")
	}
}

func TestNotify_PlainText(t *testing.T) {
	api := newFakeBotAPI(t)
	tg := newTestTelegram(t, api, nil)

	if err := tg.Notify(context.Background(), 77, "<subscription> granted"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	sends := api.callsTo("sendMessage")
	if len(sends) != 1 || sends[0].form.Get("parse_mode") != "" || sends[0].form.Get("chat_id") != "77" {
		t.Fatalf("expected a plain-text message to 77, got %+v", sends)
	}
}

func TestHandleUpdate_IgnoresNonText(t *testing.T) {
	api := newFakeBotAPI(t)
	pub := &fakePublisher{}
	tg := newTestTelegram(t, api, func(c *TelegramConfig) { c.Publisher = pub })

	tg.HandleUpdate(context.Background(), tgbotapi.Update{UpdateID: 1})
	tg.HandleUpdate(context.Background(), textUpdate(2, 42, "   "))

	if len(pub.published()) != 0 || len(api.methods()) != 0 {
		t.Fatal("updates without text should be ignored silently")
	}
}

func TestHandleUpdate_CaptionUsed(t *testing.T) {
	api := newFakeBotAPI(t)
	pub := &fakePublisher{}
	tg := newTestTelegram(t, api, func(c *TelegramConfig) { c.Publisher = pub })

	u := textUpdate(1, 42, "")
	u.Message.Caption = "Photo claims the bridge collapsed"
	tg.HandleUpdate(context.Background(), u)

	if reqs := pub.published(); len(reqs) != 1 || reqs[0].SourceText != "Photo claims the bridge collapsed" {
		t.Fatalf("caption should be assessed, got %+v", reqs)
	}
}

func TestHandleUpdate_QueueFullNotifiesUser(t *testing.T) {
	api := newFakeBotAPI(t)
	pub := &fakePublisher{err: errors.New("bus full")}
	tg := newTestTelegram(t, api, func(c *TelegramConfig) { c.Publisher = pub })

	tg.HandleUpdate(context.Background(), textUpdate(1, 42, "claim"))

	got := api.methods()
	want := []string{"sendMessage", "deleteMessage", "sendMessage"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected indicator, cleanup and notice, got %v", got)
	}
	if text := api.callsTo("sendMessage")[1].form.Get("text"); text != DefaultFailureText {
		t.Fatalf("unexpected notice %q", text)
	}
}

func TestNotifyFailure_WithoutFailureText(t *testing.T) {
	api := newFakeBotAPI(t)
	tg := newTestTelegram(t, api, func(c *TelegramConfig) { c.FailureText = "" })

	tg.NotifyFailure(context.Background(), domain.InboundRequest{ChatID: 42, IndicatorID: 5}, errors.New("x"))

	if got := api.methods(); len(got) != 1 || got[0] != "deleteMessage" {
		t.Fatalf("expected only indicator cleanup, got %v", got)
	}
}

func TestWebhookAdmin(t *testing.T) {
	api := newFakeBotAPI(t)
	tg := newTestTelegram(t, api, nil)

	if err := tg.SetWebhook("https://example.com/webhooks/telegram/action", "s3cret", true); err != nil {
		t.Fatalf("SetWebhook: %v", err)
	}
	set := api.callsTo("setWebhook")
	if len(set) != 1 {
		t.Fatalf("expected setWebhook call, got %d", len(set))
	}
	if set[0].form.Get("secret_token") != "s3cret" || set[0].form.Get("drop_pending_updates") != "true" {
		t.Fatalf("unexpected setWebhook form %v", set[0].form)
	}

	info, err := tg.WebhookInfo()
	if err != nil {
		t.Fatalf("WebhookInfo: %v", err)
	}
	if info.URL != "https://example.com/webhooks/telegram/action" || info.PendingUpdateCount != 2 {
		t.Fatalf("unexpected info %+v", info)
	}

	if err := tg.DeleteWebhook(false); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}
	if len(api.callsTo("deleteWebhook")) != 1 {
		t.Fatal("expected deleteWebhook call")
	}
}

func TestNotConnected(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "x", Logger: testLogger()})
	if _, err := tg.SendMessage(context.Background(), 1, "x"); err == nil {
		t.Fatal("expected error before Connect")
	}
	if err := tg.DeleteMessage(context.Background(), 1, 1); err == nil {
		t.Fatal("expected error before Connect")
	}
}

package channel

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type apiCall struct {
	method string
	form   url.Values
}

// fakeBotAPI answers Bot API methods the way api.telegram.org does.
type fakeBotAPI struct {
	t   *testing.T
	srv *httptest.Server

	mu     sync.Mutex
	calls  []apiCall
	nextID int
	// override returns a raw JSON response for a method; ok=false uses the default.
	override func(method string, form url.Values) (string, bool)
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{t: t, nextID: 100}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBotAPI) endpoint() string { return f.srv.URL + "/bot%s/%s" }

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		f.t.Errorf("parse form: %v", err)
	}
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{method: method, form: r.PostForm})
	override := f.override
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if override != nil {
		if body, ok := override(method, r.PostForm); ok {
			io.WriteString(w, body)
			return
		}
	}

	switch method {
	case "getMe":
		io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Fact","username":"factbot"}}`)
	case "sendMessage":
		f.mu.Lock()
		f.nextID++
		id := f.nextID
		f.mu.Unlock()
		chatID := r.PostForm.Get("chat_id")
		text, _ := json.Marshal(r.PostForm.Get("text"))
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":%s,"type":"private"},"text":%s}}`, id, chatID, text)
	case "deleteMessage", "setWebhook", "deleteWebhook":
		io.WriteString(w, `{"ok":true,"result":true}`)
	case "getWebhookInfo":
		io.WriteString(w, `{"ok":true,"result":{"url":"https://example.com/webhooks/telegram/action","has_custom_certificate":false,"pending_update_count":2}}`)
	default:
		io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found: method not found"}`)
	}
}

// callsTo returns the recorded calls to method.
func (f *fakeBotAPI) callsTo(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeBotAPI) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.method != "getMe" {
			out = append(out, c.method)
		}
	}
	return out
}

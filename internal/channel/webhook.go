package channel

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"factbot/internal/metrics"
)

const (
	DefaultWebhookPath = "/webhooks/telegram/action"
	SecretTokenHeader  = "X-Telegram-Bot-Api-Secret-Token"

	maxWebhookBody = 1 << 20
)

// UpdateHandler processes a decoded Telegram update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// DuplicateFilter reports update IDs that were already accepted.
type DuplicateFilter interface {
	Seen(ctx context.Context, updateID int) (bool, error)
}

// WebhookConfig configures the webhook server.
type WebhookConfig struct {
	Host        string
	Port        int
	Path        string // default /webhooks/telegram/action
	SecretToken string // compared with the X-Telegram-Bot-Api-Secret-Token header
	Handler     UpdateHandler
	Dedup       DuplicateFilter // optional
	MetricsPath string          // empty disables the metrics endpoint
	Metrics     http.Handler
	Logger      *slog.Logger
}

// Webhook receives Telegram updates over HTTP. Each accepted update is
// acknowledged at once and handled in the background, so a slow assessment
// never makes Telegram redeliver.
type Webhook struct {
	host        string
	port        int
	path        string
	secret      string
	handler     UpdateHandler
	dedup       DuplicateFilter
	metricsPath string
	metrics     http.Handler
	logger      *slog.Logger
	server      *http.Server

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewWebhook creates a new webhook server.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = DefaultWebhookPath
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default.Handler()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		host:        cfg.Host,
		port:        cfg.Port,
		path:        cfg.Path,
		secret:      cfg.SecretToken,
		handler:     cfg.Handler,
		dedup:       cfg.Dedup,
		metricsPath: cfg.MetricsPath,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		baseCtx:     context.Background(),
	}
}

// Addr is the listen address.
func (w *Webhook) Addr() string { return fmt.Sprintf("%s:%d", w.host, w.port) }

// Handler returns the HTTP routes of the server.
func (w *Webhook) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleWebhook)
	mux.HandleFunc("/healthz", w.handleHealth)
	if w.metricsPath != "" {
		mux.Handle(w.metricsPath, w.metrics)
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully and waits
// for updates still being handed off.
func (w *Webhook) Start(ctx context.Context) error {
	w.baseCtx = ctx
	w.server = &http.Server{
		Addr:              w.Addr(),
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", w.server.Addr, "path", w.path,
		"secret", w.secret != "", "metrics", w.metricsPath)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := w.server.Shutdown(shutdownCtx)
		w.wg.Wait()
		return err
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if w.secret != "" {
		token := r.Header.Get(SecretTokenHeader)
		if token == "" {
			http.Error(rw, "Missing secret token", http.StatusUnauthorized)
			return
		}
		if !hmac.Equal([]byte(token), []byte(w.secret)) {
			w.logger.Warn("webhook secret mismatch", "remote", r.RemoteAddr)
			http.Error(rw, "Invalid secret token", http.StatusForbidden)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if len(body) > maxWebhookBody {
		http.Error(rw, "Payload Too Large", http.StatusRequestEntityTooLarge)
		return
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if w.dedup != nil {
		seen, err := w.dedup.Seen(r.Context(), update.UpdateID)
		switch {
		case err != nil:
			w.logger.Warn("duplicate check failed, processing update", "update_id", update.UpdateID, "err", err)
		case seen:
			metrics.DuplicateUpdates.Inc()
			w.logger.Info("duplicate update ignored", "update_id", update.UpdateID)
			writeStatus(rw, "duplicate")
			return
		}
	}

	w.logger.Debug("webhook update received", "update_id", update.UpdateID)

	if w.handler != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.handler.HandleUpdate(w.baseCtx, update)
		}()
	}

	writeStatus(rw, "accepted")
}

func (w *Webhook) handleHealth(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	writeStatus(rw, "ok")
}

// Wait blocks until background update handling has finished.
func (w *Webhook) Wait() { w.wg.Wait() }

func writeStatus(rw http.ResponseWriter, status string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(map[string]string{
		"status": status,
	})
}

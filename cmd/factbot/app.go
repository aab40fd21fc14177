package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"factbot/internal/access"
	"factbot/internal/assess"
	"factbot/internal/bus"
	"factbot/internal/channel"
	"factbot/internal/config"
	"factbot/internal/dedup"
	"factbot/internal/delivery"
	"factbot/internal/history"
	"factbot/internal/httpclient"
	"factbot/internal/worker"
	"factbot/internal/workflow"
)

const shutdownTimeout = 30 * time.Second

// app is the runtime shared by serve and poll: the Telegram channel feeds the
// bus, the worker loop drains it through the workflow.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	telegram *channel.Telegram
	bus      *bus.InMemoryBus
	loop     *worker.Loop
	dedup    dedup.Filter
	access   *access.Manager
	store    *history.SQLiteStore
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	if err := requireCredentials(cfg); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	a.bus = bus.New(cfg.Worker.QueueSize, log)

	tg, err := newTelegram(cfg, a.bus, log)
	if err != nil {
		return nil, err
	}
	if err := tg.Connect(ctx); err != nil {
		return nil, err
	}
	a.telegram = tg

	assessor, err := newAssessor(cfg, log)
	if err != nil {
		return nil, err
	}

	pipeline := delivery.NewPipeline(delivery.PipelineConfig{
		Messenger:    tg,
		MaxChunkSize: cfg.Delivery.MaxChunkSize,
		ChunkDelay:   cfg.Delivery.ChunkDelay(),
		ChunkRetries: cfg.Delivery.ChunkRetries,
		Logger:       log,
	})

	var recorder workflow.Recorder
	if cfg.History.Enabled || cfg.Subscriptions.Enabled {
		store, err := history.NewSQLiteStore(cfg.History.DBPath, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("history store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	}
	if cfg.History.Enabled {
		recorder = a.store

		cutoff := time.Now().AddDate(0, 0, -cfg.History.RetentionDays)
		if n, err := a.store.Prune(ctx, cutoff); err != nil {
			log.Warn("history prune failed", "err", err)
		} else if n > 0 {
			log.Info("history pruned", "runs", n, "older_than", cutoff.Format(time.DateOnly))
		}
	}

	mgr, err := newAccess(cfg, a.store, tg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.access = mgr
	tg.SetAccess(mgr)

	orchestrator := workflow.NewOrchestrator(workflow.OrchestratorConfig{
		Assessor:  assessor,
		Deliverer: pipeline,
		Recorder:  recorder,
		Logger:    log,
	})

	a.loop = worker.NewLoop(worker.LoopConfig{
		Queue:       a.bus.Subscribe(),
		Runner:      orchestrator,
		Notifier:    tg,
		Limiter:     worker.NewRateLimiter(cfg.Assessor.Burst, cfg.Assessor.RatePerMinute),
		Concurrency: cfg.Worker.Concurrency,
		Logger:      log,
	})

	if cfg.Dedup.Enabled {
		f, err := newDedup(ctx, cfg.Dedup)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.dedup = f
		if c, ok := f.(interface{ Close() error }); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	return a, nil
}

// Run starts the worker, then blocks in source until ctx is cancelled. On
// return the queue is closed and drained, bounded by shutdownTimeout.
func (a *app) Run(ctx context.Context, source func(ctx context.Context) error) error {
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.loop.Run(workCtx)
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		if a.access != nil && a.cfg.Subscriptions.Enabled {
			a.access.RunSweeper(sweepCtx, a.cfg.Subscriptions.SweepInterval())
		}
	}()

	srcErr := source(ctx)
	stopSweep()
	<-sweeperDone

	a.log.Info("draining queued requests", "queued", a.bus.Len())
	a.bus.Close()

	select {
	case <-done:
		a.log.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		a.log.Warn("shutdown timed out, cancelling running checks")
		cancelWork()
		<-done
	}
	return srcErr
}

// Close releases the history store and the dedup backend.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}

func requireCredentials(cfg *config.Config) error {
	var missing []string
	if cfg.Telegram.Token == "" {
		missing = append(missing, "telegram.token (or TELEGRAM_BOT_TOKEN)")
	}
	if cfg.Assessor.APIKey == "" {
		missing = append(missing, "assessor.apiKey (or PERPLEXITY_API_KEY)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %v", missing)
	}
	return nil
}

func newTelegram(cfg *config.Config, pub channel.Publisher, log *slog.Logger) (*channel.Telegram, error) {
	allow, err := cfg.Telegram.AllowFrom.IDs()
	if err != nil {
		return nil, fmt.Errorf("telegram.allowFrom: %w", err)
	}
	return channel.NewTelegram(channel.TelegramConfig{
		Token:             cfg.Telegram.Token,
		APIEndpoint:       cfg.Telegram.APIEndpoint,
		AllowFrom:         allow,
		ParseMode:         cfg.Telegram.ParseMode,
		PlainTextFallback: cfg.Telegram.PlainTextFallback,
		ProcessingText:    cfg.Telegram.ProcessingText,
		FailureText:       cfg.Telegram.FailureText,
		Publisher:         pub,
		HTTPClient:        httpclient.New(time.Duration(cfg.Telegram.RequestTimeoutSeconds) * time.Second),
		Logger:            log,
	}), nil
}

// newAccess builds the access manager. store serves subscriptions only when
// they are enabled.
func newAccess(cfg *config.Config, store *history.SQLiteStore, tg *channel.Telegram, log *slog.Logger) (*access.Manager, error) {
	admins, err := cfg.Telegram.AdminIDs.IDs()
	if err != nil {
		return nil, fmt.Errorf("telegram.adminIds: %w", err)
	}
	allow, err := cfg.Telegram.AllowFrom.IDs()
	if err != nil {
		return nil, fmt.Errorf("telegram.allowFrom: %w", err)
	}
	loc, err := cfg.Subscriptions.Location()
	if err != nil {
		return nil, fmt.Errorf("subscriptions.timezone: %w", err)
	}
	var subs access.Store
	if cfg.Subscriptions.Enabled && store != nil {
		subs = store
	}
	return access.NewManager(access.Config{
		Admins:    admins,
		AllowFrom: allow,
		Store:     subs,
		Notifier:  tg,
		Location:  loc,
		Logger:    log,
	}), nil
}

// assessProfile returns the YAML profile when one is configured, otherwise
// the built-in profile tuned by the assessor section.
func assessProfile(cfg config.AssessorConfig) (assess.Profile, error) {
	if cfg.ProfilePath != "" {
		return assess.LoadProfile(cfg.ProfilePath)
	}
	p := assess.DefaultProfile()
	if cfg.Model != "" {
		p.Model = cfg.Model
	}
	if cfg.MaxTokens > 0 {
		p.MaxTokens = cfg.MaxTokens
	}
	p.Temperature = cfg.Temperature
	if cfg.TimeoutSeconds > 0 {
		p.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return p, p.Validate()
}

func newAssessor(cfg *config.Config, log *slog.Logger) (*assess.Client, error) {
	profile, err := assessProfile(cfg.Assessor)
	if err != nil {
		return nil, err
	}
	// The request context carries the profile timeout; the transport gets
	// a little more so the context deadline is what fires.
	return assess.NewClient(assess.ClientConfig{
		APIKey:     cfg.Assessor.APIKey,
		BaseURL:    cfg.Assessor.BaseURL,
		Profile:    profile,
		HTTPClient: httpclient.New(profile.Timeout + 5*time.Second),
		Logger:     log,
	})
}

func newDedup(ctx context.Context, cfg config.DedupConfig) (dedup.Filter, error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	switch cfg.Backend {
	case "redis":
		f, err := dedup.NewRedisFilter(dedup.RedisConfig{URL: cfg.RedisURL, KeyPrefix: cfg.KeyPrefix, TTL: ttl})
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := f.Ping(pingCtx); err != nil {
			f.Close()
			return nil, fmt.Errorf("redis dedup: %w", err)
		}
		return f, nil
	case "", "memory":
		return dedup.NewMemoryFilter(ttl), nil
	default:
		return nil, errors.New("unknown dedup backend: " + cfg.Backend)
	}
}

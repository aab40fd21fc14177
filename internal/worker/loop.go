// Package worker consumes queued requests and runs the fact-check workflow
// for each of them with bounded concurrency.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"factbot/internal/domain"
)

const defaultConcurrency = 3

// Runner executes one workflow invocation.
type Runner interface {
	Run(ctx context.Context, req domain.InboundRequest) (domain.DeliveryOutcome, error)
}

// FailureNotifier tells the user that their request failed.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, req domain.InboundRequest, cause error)
}

// Loop pulls InboundRequests off the queue and runs them.
type Loop struct {
	queue       <-chan domain.InboundRequest
	runner      Runner
	notifier    FailureNotifier
	limiter     *RateLimiter
	concurrency int
	logger      *slog.Logger
}

// LoopConfig holds the dependencies and tuning of a Loop.
type LoopConfig struct {
	Queue       <-chan domain.InboundRequest
	Runner      Runner
	Notifier    FailureNotifier // optional
	Limiter     *RateLimiter    // optional; throttles invocations
	Concurrency int             // max parallel invocations (default 3)
	Logger      *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		queue:       cfg.Queue,
		runner:      cfg.Runner,
		notifier:    cfg.Notifier,
		limiter:     cfg.Limiter,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Run consumes requests until ctx is cancelled or the queue is closed, then
// waits for invocations already started.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("worker loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("worker loop stopping")
			return
		case req, ok := <-l.queue:
			if !ok {
				l.logger.Info("queue closed, worker loop stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				l.notify(ctx, req, ctx.Err())
				return
			}
			wg.Add(1)
			go func(r domain.InboundRequest) {
				defer wg.Done()
				defer func() { <-sem }()
				l.Process(ctx, r)
			}(req)
		}
	}
}

// Process runs a single request and notifies the user if it did not reach
// them.
func (l *Loop) Process(ctx context.Context, req domain.InboundRequest) {
	if l.limiter != nil {
		waited, err := l.limiter.Wait(ctx)
		if err != nil {
			l.notify(ctx, req, err)
			return
		}
		if waited > 0 {
			l.logger.Debug("assessment throttled", "chat_id", req.ChatID, "waited", waited)
		}
	}

	out, err := l.runner.Run(ctx, req)
	switch {
	case err != nil:
		if errors.Is(err, domain.ErrInvalidRequest) {
			l.logger.Warn("invalid request skipped", "chat_id", req.ChatID, "update_id", req.UpdateID)
		}
		l.notify(ctx, req, err)
	case !out.Sent && out.ChunksSent == 0:
		// The indicator was already handled by delivery.
		req.IndicatorID = 0
		l.notify(ctx, req, out.Err)
	case !out.Sent:
		l.logger.Warn("verdict partially delivered",
			"chat_id", req.ChatID, "sent", out.ChunksSent, "total", out.ChunksTotal, "err", out.Err)
	}
}

func (l *Loop) notify(ctx context.Context, req domain.InboundRequest, cause error) {
	if l.notifier == nil {
		return
	}
	l.notifier.NotifyFailure(ctx, req, cause)
}

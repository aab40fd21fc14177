// Package delivery sends an assessment verdict back to its chat: it removes
// the processing indicator, splits the verdict into platform-sized chunks and
// transmits them in order with a pause between sends.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"factbot/internal/domain"
	"factbot/internal/metrics"
	"factbot/internal/segment"
)

const (
	DefaultMaxChunkSize = 4096
	DefaultChunkDelay   = 100 * time.Millisecond

	defaultRetryAfter = time.Second
)

// Pipeline delivers AssessmentResults through a Messenger.
type Pipeline struct {
	messenger    domain.Messenger
	maxChunkSize int
	chunkDelay   time.Duration
	chunkRetries int
	logger       *slog.Logger

	// wait pauses between sends; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Messenger    domain.Messenger
	MaxChunkSize int           // platform message limit in characters (default 4096)
	ChunkDelay   time.Duration // pause between consecutive chunks (default 100ms)
	ChunkRetries int           // resends of a rate-limited chunk; 0 aborts on first failure
	Logger       *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.ChunkDelay < 0 {
		cfg.ChunkDelay = 0
	}
	if cfg.ChunkRetries < 0 {
		cfg.ChunkRetries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		messenger:    cfg.Messenger,
		maxChunkSize: cfg.MaxChunkSize,
		chunkDelay:   cfg.ChunkDelay,
		chunkRetries: cfg.ChunkRetries,
		logger:       cfg.Logger,
		wait:         sleep,
	}
}

// Deliver removes the processing indicator (best-effort) and sends the verdict
// chunk by chunk. The first chunk that fails stops delivery; chunks already
// sent stay in the chat.
func (p *Pipeline) Deliver(ctx context.Context, res domain.AssessmentResult) domain.DeliveryOutcome {
	log := p.logger.With("chat_id", res.ChatID)

	if res.IndicatorID > 0 {
		p.deleteIndicator(ctx, log, res)
	}

	chunks := segment.Segment(res.VerdictText, p.maxChunkSize)
	out := domain.DeliveryOutcome{ChunksTotal: len(chunks)}
	if len(chunks) == 0 {
		out.Err = domain.ErrNothingToSend
		log.Warn("empty verdict, nothing delivered")
		return out
	}
	if len(chunks) > 1 {
		log.Info("verdict split into chunks",
			"length", utf8.RuneCountInString(res.VerdictText),
			"chunks", len(chunks),
		)
	}

	for i, chunk := range chunks {
		msgID, err := p.sendChunk(ctx, log, res.ChatID, chunk)
		if err != nil {
			metrics.ChunkFailures.Inc()
			out.Err = &domain.ChunkTransmissionError{Index: i, Total: len(chunks), Err: err}
			log.Error("chunk not sent, delivery aborted",
				"chunk", i+1, "total", len(chunks), "sent", out.ChunksSent, "err", err,
			)
			return out
		}
		out.ChunksSent++
		metrics.ChunksSent.Inc()
		log.Debug("chunk sent", "chunk", i+1, "total", len(chunks), "message_id", msgID)

		if i < len(chunks)-1 && p.chunkDelay > 0 {
			if err := p.wait(ctx, p.chunkDelay); err != nil {
				out.Err = err
				log.Warn("delivery interrupted", "sent", out.ChunksSent, "total", len(chunks), "err", err)
				return out
			}
		}
	}

	out.Sent = true
	log.Info("verdict delivered", "chunks", len(chunks))
	return out
}

func (p *Pipeline) deleteIndicator(ctx context.Context, log *slog.Logger, res domain.AssessmentResult) {
	if err := p.messenger.DeleteMessage(ctx, res.ChatID, res.IndicatorID); err != nil {
		metrics.IndicatorFailures.Inc()
		log.Warn("processing indicator not removed",
			"err", &domain.DeleteIndicatorError{MessageID: res.IndicatorID, Err: err},
		)
		return
	}
	log.Debug("processing indicator removed", "message_id", res.IndicatorID)
}

// sendChunk transmits one chunk. A rate-limited chunk is resent only while
// retries remain; any other failure is returned at once.
func (p *Pipeline) sendChunk(ctx context.Context, log *slog.Logger, chatID int64, text string) (int, error) {
	for attempt := 0; ; attempt++ {
		msgID, err := p.messenger.SendMessage(ctx, chatID, text)
		if err == nil {
			return msgID, nil
		}

		var rl *domain.RateLimitError
		if attempt >= p.chunkRetries || !errors.As(err, &rl) {
			return 0, err
		}
		backoff := rl.RetryAfter
		if backoff <= 0 {
			backoff = defaultRetryAfter
		}
		log.Warn("chunk rate limited, retrying", "retry_after", backoff, "attempt", attempt+1)
		if werr := p.wait(ctx, backoff); werr != nil {
			return 0, werr
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

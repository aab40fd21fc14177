// Package bus is the in-process queue between the Telegram channel and the
// workflow worker.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"factbot/internal/domain"
	"factbot/internal/metrics"
)

const (
	defaultBufferSize     = 100
	defaultPublishTimeout = 10 * time.Second
)

var (
	ErrClosed = errors.New("bus closed")
	ErrFull   = errors.New("bus full")
)

var _ domain.RequestQueue = (*InMemoryBus)(nil)

// InMemoryBus is a buffered Go channel of InboundRequests.
type InMemoryBus struct {
	inbound        chan domain.InboundRequest
	publishTimeout time.Duration
	mu             sync.RWMutex
	closed         bool
	logger         *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:        make(chan domain.InboundRequest, bufferSize),
		publishTimeout: defaultPublishTimeout,
		logger:         logger,
	}
}

// Publish enqueues req. When the buffer is full it waits up to the publish
// timeout, then drops the request with ErrFull.
func (b *InMemoryBus) Publish(ctx context.Context, req domain.InboundRequest) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "chat_id", req.ChatID)
		return ErrClosed
	}

	select {
	case b.inbound <- req:
		return nil
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "chat_id", req.ChatID, "update_id", req.UpdateID)
	timer := time.NewTimer(b.publishTimeout)
	defer timer.Stop()
	select {
	case b.inbound <- req:
		b.logger.Info("request queued after wait", "chat_id", req.ChatID)
		return nil
	case <-ctx.Done():
		metrics.QueueDrops.Inc()
		return ctx.Err()
	case <-timer.C:
		metrics.QueueDrops.Inc()
		b.logger.Error("request dropped: bus full",
			"chat_id", req.ChatID,
			"update_id", req.UpdateID,
			"waited", b.publishTimeout,
		)
		return ErrFull
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundRequest {
	return b.inbound
}

// Len reports the number of queued requests.
func (b *InMemoryBus) Len() int { return len(b.inbound) }

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}

// Package dedup drops Telegram updates that were already accepted. Telegram
// redelivers a webhook update when the previous delivery was not acknowledged
// in time, so the same update_id can arrive more than once.
package dedup

import (
	"context"
	"sync"
	"time"
)

const DefaultTTL = 10 * time.Minute

// Filter remembers update IDs.
type Filter interface {
	// Seen records updateID and reports whether it had been recorded before.
	Seen(ctx context.Context, updateID int) (bool, error)
}

// MemoryFilter keeps update IDs in a map with a TTL. Expired entries are
// swept lazily on insert.
type MemoryFilter struct {
	mu        sync.Mutex
	ttl       time.Duration
	seen      map[int]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryFilter(ttl time.Duration) *MemoryFilter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryFilter{
		ttl:  ttl,
		seen: make(map[int]time.Time),
		now:  time.Now,
	}
}

func (f *MemoryFilter) Seen(_ context.Context, updateID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if now.Sub(f.lastSweep) > f.ttl {
		for id, at := range f.seen {
			if now.Sub(at) > f.ttl {
				delete(f.seen, id)
			}
		}
		f.lastSweep = now
	}

	if at, ok := f.seen[updateID]; ok && now.Sub(at) <= f.ttl {
		return true, nil
	}
	f.seen[updateID] = now
	return false, nil
}

// Len reports how many IDs are currently remembered.
func (f *MemoryFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

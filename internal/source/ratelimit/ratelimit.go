package ratelimit

import (
	"context"
	"sync"
	"time"

	"marketfeed/internal/market"
	"marketfeed/internal/source"
)

// MinInterval wraps a source and enforces a minimum time between calls.
// Concurrent calls wait until the interval has elapsed since the last call,
// or return early if the context is canceled.
type MinInterval struct {
	S        source.Source
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func (m *MinInterval) Name() string { return m.S.Name() }

func (m *MinInterval) Quotes(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	if m.Interval > 0 {
		m.mu.Lock()
		wait := time.Until(m.last.Add(m.Interval))
		m.mu.Unlock()
		if wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
	out, err := m.S.Quotes(ctx, symbols)
	if m.Interval > 0 {
		m.mu.Lock()
		m.last = time.Now()
		m.mu.Unlock()
	}
	return out, err
}

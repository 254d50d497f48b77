// Package bars fetches historical bar series with single-flight semantics:
// at most one in-flight request per (symbol, timeframe), and loaded series
// are reused until a caller forces a refresh.
package bars

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"marketfeed/internal/market"
	"marketfeed/internal/source"
)

// ErrNoSource reports that no bar source is configured; bar endpoints stay
// reachable but resolve to this error instead of panicking.
var ErrNoSource = errors.New("no bar source configured")

// State tracks one (symbol, timeframe) fetch.
type State int

const (
	Idle State = iota
	InFlight
	Loaded
	Failed
)

func (s State) String() string {
	switch s {
	case InFlight:
		return "in-flight"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

type Fetcher struct {
	src     source.BarSource
	timeout time.Duration

	group singleflight.Group

	mu    sync.Mutex
	state map[string]State
	bars  map[string][]market.Bar
	errs  map[string]error
}

func New(src source.BarSource, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		src:     src,
		timeout: timeout,
		state:   make(map[string]State),
		bars:    make(map[string][]market.Bar),
		errs:    make(map[string]error),
	}
}

func key(symbol, timeframe string) string { return symbol + "|" + timeframe }

// Fetch returns the bar series for (symbol, timeframe). A Loaded series is
// returned without a network call unless force is set; concurrent calls for
// the same key share a single upstream request. Returned series are always
// sorted ascending by timestamp.
func (f *Fetcher) Fetch(ctx context.Context, symbol, timeframe string, limit int, force bool) ([]market.Bar, error) {
	if f.src == nil {
		return nil, ErrNoSource
	}
	k := key(symbol, timeframe)

	if !force {
		f.mu.Lock()
		if f.state[k] == Loaded {
			cached := f.bars[k]
			f.mu.Unlock()
			return cached, nil
		}
		f.mu.Unlock()
	}

	v, err, _ := f.group.Do(k, func() (any, error) {
		// mark in-flight before suspending on the network call
		f.mu.Lock()
		f.state[k] = InFlight
		f.mu.Unlock()

		tctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		series, ferr := f.src.Bars(tctx, symbol, timeframe, limit)
		f.mu.Lock()
		defer f.mu.Unlock()
		if ferr != nil {
			f.state[k] = Failed
			f.errs[k] = ferr
			return nil, ferr
		}
		market.SortBars(series)
		f.state[k] = Loaded
		f.bars[k] = series
		delete(f.errs, k)
		return series, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]market.Bar), nil
}

// State reports the fetch state for (symbol, timeframe).
func (f *Fetcher) State(symbol, timeframe string) State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[key(symbol, timeframe)]
}

// Err returns the error behind a Failed state, preserved for diagnostics.
func (f *Fetcher) Err(symbol, timeframe string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[key(symbol, timeframe)]
}

// Loaded returns the series for (symbol, timeframe) if one is loaded.
func (f *Fetcher) Loaded(symbol, timeframe string) ([]market.Bar, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(symbol, timeframe)
	if f.state[k] != Loaded {
		return nil, false
	}
	return f.bars[k], true
}

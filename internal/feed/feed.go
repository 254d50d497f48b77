// Package feed wires the streaming connection, subscription coordinator,
// quote cascade and bar fetcher together behind one explicitly owned
// lifecycle. It holds no pricing logic of its own.
package feed

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"marketfeed/internal/bars"
	"marketfeed/internal/market"
	"marketfeed/internal/quote"
	"marketfeed/internal/recorder"
	"marketfeed/internal/stream"
)

// Store is the only surface through which this layer pushes data outward.
// It never reads application state back.
type Store interface {
	SetBars(symbol string, bars []market.Bar)
	SetLoadingBars(symbol string, loading bool)
	UpdateQuotes(quotes []market.Quote)
}

// MultiStore fans every update out to each member.
type MultiStore []Store

func (m MultiStore) SetBars(symbol string, b []market.Bar) {
	for _, s := range m {
		s.SetBars(symbol, b)
	}
}

func (m MultiStore) SetLoadingBars(symbol string, loading bool) {
	for _, s := range m {
		s.SetLoadingBars(symbol, loading)
	}
}

func (m MultiStore) UpdateQuotes(quotes []market.Quote) {
	for _, s := range m {
		s.UpdateQuotes(quotes)
	}
}

type Config struct {
	// Watch is the symbol set the application already tracks; quotes are
	// prefetched and bars pre-warmed for it on Start.
	Watch            []string
	DefaultTimeframe string
	DefaultLimit     int
	// PollInterval drives the degraded polling-only mode entered after the
	// stream gives up reconnecting. Zero disables polling.
	PollInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.DefaultTimeframe == "" {
		c.DefaultTimeframe = "1D"
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 180
	}
}

// Feed is the orchestrator. Construct with New, then Start/Stop.
type Feed struct {
	cfg     Config
	conn    *stream.Conn
	subs    *stream.Coordinator
	cascade *quote.Cascade
	bars    *bars.Fetcher
	store   Store
	rec     recorder.Recorder

	mu      sync.Mutex
	focus   string
	cron    *cron.Cron
	polling bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(cfg Config, streamCfg stream.Config, cascade *quote.Cascade, barFetcher *bars.Fetcher, store Store, rec recorder.Recorder) *Feed {
	cfg.withDefaults()
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	f := &Feed{
		cfg:     cfg,
		cascade: cascade,
		bars:    barFetcher,
		store:   store,
		rec:     rec,
	}
	f.conn = stream.New(streamCfg, f.onTick, f.onState)
	f.subs = stream.NewCoordinator(f.conn)
	return f
}

// Start connects the stream, queues the initial reconcile and kicks off the
// background prefetch of the watch set.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.cancel != nil {
		f.mu.Unlock()
		return fmt.Errorf("feed already started")
	}
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	if err := f.conn.Connect(); err != nil {
		// reconnect machinery is already armed; degraded, not fatal
		log.Printf("feed: initial connect failed: %v", err)
	}
	f.subs.Reconcile(f.desired())
	go f.prefetch(f.ctx)
	return nil
}

// Stop tears the feed down: polling stops, in-flight fetches are abandoned
// via context cancellation, and the stream disconnects terminally.
func (f *Feed) Stop() {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	c := f.cron
	f.cron = nil
	f.polling = false
	f.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	f.conn.Disconnect()
	if err := f.rec.Close(); err != nil {
		log.Printf("feed: recorder close: %v", err)
	}
}

// SetFocus switches the symbol of interest: the subscription set is
// reconciled and, unless bars for the symbol are already loaded or being
// fetched, a bar fetch starts.
func (f *Feed) SetFocus(symbol string) error {
	syms, err := market.ValidateSymbols([]string{symbol})
	if err != nil {
		return err
	}
	sym := syms[0]

	f.mu.Lock()
	f.focus = sym
	ctx := f.ctx
	f.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	f.subs.Reconcile(f.desired())

	switch f.bars.State(sym, f.cfg.DefaultTimeframe) {
	case bars.Loaded, bars.InFlight:
		// nothing to fetch
	default:
		go f.loadBars(ctx, sym, false)
	}
	return nil
}

// FetchQuotes resolves quotes through the cascade. Inbound contract for the
// rest of the application.
func (f *Feed) FetchQuotes(ctx context.Context, symbols []string) (quote.Result, error) {
	return f.cascade.Fetch(ctx, symbols)
}

// FetchBars fetches a bar series, publishing loading transitions and the
// result to the store.
func (f *Feed) FetchBars(ctx context.Context, symbol, timeframe string, limit int) ([]market.Bar, error) {
	syms, err := market.ValidateSymbols([]string{symbol})
	if err != nil {
		return nil, err
	}
	sym := syms[0]
	if timeframe == "" {
		timeframe = f.cfg.DefaultTimeframe
	}
	if limit <= 0 {
		limit = f.cfg.DefaultLimit
	}

	f.store.SetLoadingBars(sym, true)
	series, err := f.bars.Fetch(ctx, sym, timeframe, limit, false)
	f.store.SetLoadingBars(sym, false)
	if err != nil {
		return nil, err
	}
	f.store.SetBars(sym, series)
	return series, nil
}

// SubscribeSymbols forwards a subscribe to the transport. False means not
// connected; nothing is buffered here.
func (f *Feed) SubscribeSymbols(symbols []string) bool {
	return f.conn.Send(stream.OpSubscribe, symbols)
}

func (f *Feed) UnsubscribeSymbols(symbols []string) bool {
	return f.conn.Send(stream.OpUnsubscribe, symbols)
}

func (f *Feed) IsConnected() bool { return f.conn.IsConnected() }

// desired is the watch set plus the current focus symbol.
func (f *Feed) desired() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.cfg.Watch)+1)
	seen := make(map[string]struct{}, len(f.cfg.Watch)+1)
	for _, s := range f.cfg.Watch {
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	if f.focus != "" {
		if _, dup := seen[f.focus]; !dup {
			out = append(out, f.focus)
		}
	}
	return out
}

func (f *Feed) prefetch(ctx context.Context) {
	if len(f.cfg.Watch) == 0 {
		return
	}
	res, err := f.cascade.Fetch(ctx, f.cfg.Watch)
	if err != nil {
		log.Printf("feed: prefetch quotes: %v", err)
	} else {
		f.store.UpdateQuotes(quotesOf(res))
		if res.Warning != "" {
			log.Printf("feed: prefetch: %s", res.Warning)
		}
	}
	for _, s := range f.cfg.Watch {
		select {
		case <-ctx.Done():
			return
		default:
		}
		f.loadBars(ctx, s, false)
	}
}

func (f *Feed) loadBars(ctx context.Context, symbol string, force bool) {
	f.store.SetLoadingBars(symbol, true)
	series, err := f.bars.Fetch(ctx, symbol, f.cfg.DefaultTimeframe, f.cfg.DefaultLimit, force)
	f.store.SetLoadingBars(symbol, false)
	if err != nil {
		log.Printf("feed: bars for %s: %v", symbol, err)
		return
	}
	f.store.SetBars(symbol, series)
}

func (f *Feed) onTick(t market.Tick) {
	f.store.UpdateQuotes([]market.Quote{t.Quote()})
	if err := f.rec.RecordTick(t); err != nil {
		log.Printf("feed: record tick: %v", err)
	}
}

func (f *Feed) onState(s stream.State) {
	f.subs.OnStateChange(s)
	if s == stream.GivenUp {
		f.startPolling()
	}
}

// startPolling enters the degraded polling-only mode: periodic cascade
// refreshes of the desired set until Stop.
func (f *Feed) startPolling() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.polling || f.cfg.PollInterval <= 0 || f.ctx == nil {
		return
	}
	f.polling = true
	f.cron = cron.New()
	spec := fmt.Sprintf("@every %s", f.cfg.PollInterval)
	if _, err := f.cron.AddFunc(spec, f.pollOnce); err != nil {
		log.Printf("feed: schedule polling: %v", err)
		f.polling = false
		f.cron = nil
		return
	}
	f.cron.Start()
	log.Printf("feed: stream gave up, polling quotes every %s", f.cfg.PollInterval)
}

func (f *Feed) pollOnce() {
	f.mu.Lock()
	ctx := f.ctx
	f.mu.Unlock()
	if ctx == nil {
		return
	}
	symbols := f.desired()
	if len(symbols) == 0 {
		return
	}
	res, err := f.cascade.Fetch(ctx, symbols)
	if err != nil {
		log.Printf("feed: poll: %v", err)
		return
	}
	f.store.UpdateQuotes(quotesOf(res))
}

func quotesOf(res quote.Result) []market.Quote {
	out := make([]market.Quote, 0, len(res.Quotes))
	for _, q := range res.Quotes {
		out = append(out, q)
	}
	return out
}

// Package quote resolves batches of symbols through an ordered tier
// cascade: cache, aggregator backend, direct vendor, derived from the most
// recent daily bar. Each tier only sees symbols the previous tiers left
// unresolved, so a later tier can never overwrite an earlier result within
// one run.
package quote

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"marketfeed/internal/cache"
	"marketfeed/internal/market"
	"marketfeed/internal/source"
)

// dailyTimeframe is the bar granularity the last-resort tier derives from.
const dailyTimeframe = "1D"

// Result is the outcome of one cascade run. Mock is structurally part of
// the contract and always false: this layer reports missing data through
// Failed, it never invents prices.
type Result struct {
	Quotes  map[string]market.Quote `json:"quotes"`
	Failed  []string                `json:"failed_symbols,omitempty"`
	Warning string                  `json:"warning,omitempty"`
	Mock    bool                    `json:"mock"`
}

type Config struct {
	// TTL is the quote cache lifetime; seconds-scale, prices go stale fast.
	TTL time.Duration
	// Timeout bounds each network tier's batched call.
	Timeout time.Duration
	// BarFanout caps concurrent per-symbol bar fallback fetches.
	BarFanout int
}

func (c *Config) withDefaults() {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.BarFanout <= 0 {
		c.BarFanout = 8
	}
}

// Cascade applies the ordered resolver tiers.
type Cascade struct {
	cfg     Config
	cache   *cache.Cache[market.Quote]
	sources []source.Source // network tiers, in strict order
	bars    source.BarSource
}

// New builds a cascade. Sources are tried in the order given (aggregator
// first, then vendor); bars may be nil to disable the last-resort tier.
func New(cfg Config, c *cache.Cache[market.Quote], sources []source.Source, bars source.BarSource) *Cascade {
	cfg.withDefaults()
	return &Cascade{cfg: cfg, cache: c, sources: sources, bars: bars}
}

// Fetch resolves quotes for symbols. Partial success returns a populated
// Result with Failed naming the unresolved symbols; only when zero symbols
// resolved does it return market.ErrDataUnavailable.
func (ca *Cascade) Fetch(ctx context.Context, symbols []string) (Result, error) {
	syms, err := market.ValidateSymbols(symbols)
	if err != nil {
		return Result{}, err
	}

	res := Result{Quotes: make(map[string]market.Quote, len(syms))}

	// tier 1: cache
	pending := make([]string, 0, len(syms))
	for _, s := range syms {
		if q, ok := ca.cache.Get(s); ok {
			res.Quotes[s] = q
			continue
		}
		pending = append(pending, s)
	}

	// network tiers, one batched call each
	for _, src := range ca.sources {
		if len(pending) == 0 {
			break
		}
		tctx, cancel := context.WithTimeout(ctx, ca.cfg.Timeout)
		got, err := src.Quotes(tctx, pending)
		cancel()
		if err != nil {
			log.Printf("quote: tier %s failed, falling through: %v", src.Name(), err)
			continue
		}
		pending = ca.absorb(&res, pending, got)
	}

	// last resort: derive from the most recent daily bar, fan-out per symbol
	if len(pending) > 0 && ca.bars != nil {
		pending = ca.absorb(&res, pending, ca.fromBars(ctx, pending))
	}

	if len(res.Quotes) == 0 {
		return Result{}, fmt.Errorf("%w (requested: %s)", market.ErrDataUnavailable, strings.Join(syms, ","))
	}
	if len(pending) > 0 {
		res.Failed = pending
		res.Warning = "no data for: " + strings.Join(pending, ", ")
	}
	return res, nil
}

// absorb moves resolved symbols out of pending, caching each hit. Only
// symbols still pending are consulted, which is what keeps earlier tiers
// authoritative.
func (ca *Cascade) absorb(res *Result, pending []string, got map[string]market.Quote) []string {
	if len(got) == 0 {
		return pending
	}
	still := pending[:0]
	for _, s := range pending {
		q, ok := got[s]
		if !ok {
			still = append(still, s)
			continue
		}
		ca.cache.Set(s, q, ca.cfg.TTL)
		res.Quotes[s] = q
	}
	return still
}

func (ca *Cascade) fromBars(ctx context.Context, symbols []string) map[string]market.Quote {
	tctx, cancel := context.WithTimeout(ctx, ca.cfg.Timeout)
	defer cancel()

	var mu sync.Mutex
	out := make(map[string]market.Quote, len(symbols))

	g, gctx := errgroup.WithContext(tctx)
	g.SetLimit(ca.cfg.BarFanout)
	for _, s := range symbols {
		s := s
		g.Go(func() error {
			bars, err := ca.bars.Bars(gctx, s, dailyTimeframe, 1)
			if err != nil || len(bars) == 0 {
				log.Printf("quote: bar fallback for %s failed: %v", s, err)
				return nil
			}
			q := market.DeriveQuote(s, bars[len(bars)-1])
			mu.Lock()
			out[s] = q
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

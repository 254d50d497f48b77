package market

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Tier identifies which source produced a quote. A quote served from the
// cache keeps the tier of the source that originally produced it.
type Tier string

const (
	TierAggregator Tier = "aggregator"
	TierVendor     Tier = "vendor"
	TierBarDerived Tier = "bar-derived"
	// TierStream marks quotes built from live streaming ticks, which arrive
	// outside the resolution cascade.
	TierStream Tier = "stream"
)

// Quote is the normalized shape all upstream quote payloads are parsed into.
// Quotes are only ever constructed from a genuine source response; this
// layer has no fabricated-quote variant.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Last          float64   `json:"last"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Volume        float64   `json:"volume"`
	Bid           float64   `json:"bid,omitempty"`
	Ask           float64   `json:"ask,omitempty"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Timestamp     time.Time `json:"timestamp"`
	Tier          Tier      `json:"tier"`
}

// Bar is one OHLCV bar.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// SortBars orders a bar series ascending by timestamp in place. Every series
// handed to a caller goes through this regardless of upstream ordering.
func SortBars(bars []Bar) {
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
}

// DeriveQuote builds a quote from the most recent daily bar. Last resort of
// the resolution cascade: the values are real, only the packaging differs.
func DeriveQuote(symbol string, b Bar) Quote {
	change := b.Close - b.Open
	pct := 0.0
	if b.Open != 0 {
		pct = change / b.Open * 100
	}
	return Quote{
		Symbol:        symbol,
		Last:          b.Close,
		Open:          b.Open,
		High:          b.High,
		Low:           b.Low,
		Close:         b.Close,
		Volume:        b.Volume,
		Change:        change,
		ChangePercent: pct,
		Timestamp:     b.Time,
		Tier:          TierBarDerived,
	}
}

// ErrDataUnavailable is returned when every tier failed for every requested
// symbol. Partial success is always preferred over this.
var ErrDataUnavailable = errors.New("no source could resolve any requested symbol")

// ErrNotConnected reports that the streaming transport is not live.
var ErrNotConnected = errors.New("stream not connected")

// ValidationError rejects malformed symbol input before any network call.
type ValidationError struct {
	Symbol string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid symbol %q: %s", e.Symbol, e.Reason)
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,15}$`)

// ValidateSymbols trims, upper-cases and de-duplicates the requested symbols
// preserving request order.
func ValidateSymbols(symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, &ValidationError{Reason: "empty symbol list"}
	}
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		if !symbolPattern.MatchString(sym) {
			return nil, &ValidationError{Symbol: s, Reason: "must match " + symbolPattern.String()}
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out, nil
}

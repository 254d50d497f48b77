package source

import (
	"context"

	"marketfeed/internal/market"
)

// Source resolves a batch of symbols in a single upstream round trip.
// Implementations return only the symbols they could resolve; absence in the
// returned map means unresolved, not an error.
type Source interface {
	Name() string
	Quotes(ctx context.Context, symbols []string) (map[string]market.Quote, error)
}

// BarSource serves historical bar series.
type BarSource interface {
	Bars(ctx context.Context, symbol, timeframe string, limit int) ([]market.Bar, error)
}

package recorder

import "marketfeed/internal/market"

// Recorder persists streaming diagnostics for offline analysis. It sits
// off the hot path: failures are logged by callers, never propagated.
type Recorder interface {
	RecordTick(t market.Tick) error
	Close() error
}

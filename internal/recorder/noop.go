package recorder

import "marketfeed/internal/market"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordTick(_ market.Tick) error { return nil }
func (n *NoopRecorder) Close() error                   { return nil }

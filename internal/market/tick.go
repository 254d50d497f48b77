package market

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Tick is one inbound streaming price update.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Bid    float64   `json:"bid,omitempty"`
	Ask    float64   `json:"ask,omitempty"`
	Volume float64   `json:"volume,omitempty"`
	Time   time.Time `json:"time"`
}

// Quote converts a tick into the quote shape pushed to the store.
func (t Tick) Quote() Quote {
	return Quote{
		Symbol:    t.Symbol,
		Last:      t.Price,
		Bid:       t.Bid,
		Ask:       t.Ask,
		Volume:    t.Volume,
		Timestamp: t.Time,
		Tier:      TierStream,
	}
}

// tickMessage is the wire shape of streamed updates. Payloads carry a type
// tag; anything that is not a tick (acks, heartbeats) is rejected here so
// nothing downstream branches on payload shape.
type tickMessage struct {
	Type   string      `json:"type"`
	Symbol string      `json:"symbol"`
	Price  json.Number `json:"price"`
	Bid    json.Number `json:"bid"`
	Ask    json.Number `json:"ask"`
	Volume json.Number `json:"volume"`
	TS     int64       `json:"ts"`
}

// ParseTick decodes one streaming message into a canonical Tick.
func ParseTick(raw []byte) (Tick, error) {
	var msg tickMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return Tick{}, fmt.Errorf("decode tick: %w", err)
	}
	if msg.Type != "" && msg.Type != "tick" {
		return Tick{}, fmt.Errorf("not a tick message: type=%q", msg.Type)
	}
	if msg.Symbol == "" {
		return Tick{}, fmt.Errorf("tick missing symbol")
	}
	price, _ := msg.Price.Float64()
	if price <= 0 {
		return Tick{}, fmt.Errorf("tick for %s has no price", msg.Symbol)
	}
	bid, _ := msg.Bid.Float64()
	ask, _ := msg.Ask.Float64()
	vol, _ := msg.Volume.Float64()
	ts := time.Now().UTC()
	if msg.TS > 0 {
		ts = EpochMaybeMillis(msg.TS)
	}
	return Tick{Symbol: msg.Symbol, Price: price, Bid: bid, Ask: ask, Volume: vol, Time: ts}, nil
}

// EpochMaybeMillis accepts second or millisecond epochs; upstream feeds are
// not consistent about which they send.
func EpochMaybeMillis(v int64) time.Time {
	if v > 1_000_000_000_000 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

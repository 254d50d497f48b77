// Package publish mirrors store updates onto NATS subjects so consumers
// outside the process can follow the same quote and bar stream the UI sees.
package publish

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"marketfeed/internal/feed"
	"marketfeed/internal/market"
)

// Publisher implements feed.Store over a NATS connection. Publishing is
// fire-and-forget; a failed publish is logged and never blocks the feed.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

var _ feed.Store = (*Publisher)(nil)

func New(url, subjectPrefix string) (*Publisher, error) {
	if subjectPrefix == "" {
		subjectPrefix = "marketfeed"
	}
	nc, err := nats.Connect(url, nats.Name("marketfeed-publisher"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{nc: nc, prefix: subjectPrefix}, nil
}

func (p *Publisher) SetBars(symbol string, bars []market.Bar) {
	p.publish(fmt.Sprintf("%s.bars.%s", p.prefix, symbol), bars)
}

// SetLoadingBars is UI-local state; nothing to fan out.
func (p *Publisher) SetLoadingBars(string, bool) {}

func (p *Publisher) UpdateQuotes(quotes []market.Quote) {
	for _, q := range quotes {
		p.publish(fmt.Sprintf("%s.quotes.%s", p.prefix, q.Symbol), q)
	}
}

func (p *Publisher) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("publish: marshal for %s: %v", subject, err)
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		log.Printf("publish: %s: %v", subject, err)
	}
}

func (p *Publisher) Close() {
	p.nc.Drain()
}

// Package aggregator is the client for the backend quote aggregator: one
// batched round trip resolves N symbols.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketfeed/internal/httpx"
	"marketfeed/internal/market"
)

type Config struct {
	Name    string
	BaseURL string
	Headers map[string]string
}

type Client struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Client {
	if cfg.Name == "" {
		cfg.Name = "aggregator"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, client: hc}
}

func (c *Client) Name() string { return c.cfg.Name }

// Quotes issues a single batched request for all symbols. Every symbol
// present in the response counts as resolved; missing symbols are simply
// absent from the returned map.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	u := c.cfg.BaseURL + "/api/quotes?symbols=" + url.QueryEscape(strings.Join(symbols, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("GET %s -> %d: %s", u, resp.StatusCode, string(b))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var api apiResponse
	if err := dec.Decode(&api); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	now := time.Now().UTC()
	out := make(map[string]market.Quote, len(api.Quotes))
	for sym, p := range api.Quotes {
		out[strings.ToUpper(sym)] = p.quote(strings.ToUpper(sym), market.TierAggregator, now)
	}
	return out, nil
}

type apiResponse struct {
	Quotes map[string]quotePayload `json:"quotes"`
}

// quotePayload tolerates any subset of fields being absent; missing numbers
// decode to zero.
type quotePayload struct {
	Last          json.Number `json:"last"`
	Open          json.Number `json:"open"`
	High          json.Number `json:"high"`
	Low           json.Number `json:"low"`
	Close         json.Number `json:"close"`
	Volume        json.Number `json:"volume"`
	Bid           json.Number `json:"bid"`
	Ask           json.Number `json:"ask"`
	Change        json.Number `json:"change"`
	ChangePercent json.Number `json:"change_percent"`
	Timestamp     int64       `json:"timestamp"`
}

func (p quotePayload) quote(symbol string, tier market.Tier, fallback time.Time) market.Quote {
	ts := fallback
	if p.Timestamp > 0 {
		ts = market.EpochMaybeMillis(p.Timestamp)
	}
	return market.Quote{
		Symbol:        symbol,
		Last:          num(p.Last),
		Open:          num(p.Open),
		High:          num(p.High),
		Low:           num(p.Low),
		Close:         num(p.Close),
		Volume:        num(p.Volume),
		Bid:           num(p.Bid),
		Ask:           num(p.Ask),
		Change:        num(p.Change),
		ChangePercent: num(p.ChangePercent),
		Timestamp:     ts,
		Tier:          tier,
	}
}

func num(n json.Number) float64 {
	f, _ := n.Float64()
	return f
}

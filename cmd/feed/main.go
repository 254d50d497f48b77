// Command feed connects to the streaming endpoint, subscribes the given
// symbols and prints ticks until interrupted. Handy for eyeballing a feed.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketfeed/internal/config"
	"marketfeed/internal/market"
	"marketfeed/internal/stream"
)

func main() {
	_ = godotenv.Load()

	var symbolsCSV string
	var configPath string
	var streamURL string

	flag.StringVar(&symbolsCSV, "symbols", getenv("WATCH_SYMBOLS", "AAPL,MSFT"), "comma-separated symbols to subscribe")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.yaml (optional)")
	flag.StringVar(&streamURL, "url", "", "streaming endpoint URL (overrides config)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if streamURL != "" {
		cfg.Stream.URL = streamURL
	}
	if cfg.Stream.URL == "" {
		log.Fatal("no stream URL: set -url, STREAM_URL or stream.url in config")
	}

	symbols, err := market.ValidateSymbols(splitCSV(symbolsCSV))
	if err != nil {
		log.Fatalf("symbols: %v", err)
	}

	var coord *stream.Coordinator
	conn := stream.New(stream.Config{
		URL:              cfg.Stream.URL,
		BaseDelay:        time.Duration(cfg.Stream.BaseDelayMS) * time.Millisecond,
		MaxDelay:         time.Duration(cfg.Stream.MaxDelayMS) * time.Millisecond,
		MaxAttempts:      cfg.Stream.MaxAttempts,
		HandshakeTimeout: time.Duration(cfg.Stream.HandshakeTimeoutSec) * time.Second,
	}, func(t market.Tick) {
		log.Printf("%s  %s  last=%.4f bid=%.4f ask=%.4f vol=%.0f",
			t.Time.Format(time.RFC3339), t.Symbol, t.Price, t.Bid, t.Ask, t.Volume)
	}, func(s stream.State) {
		log.Printf("stream: %s", s)
		coord.OnStateChange(s)
	})

	coord = stream.NewCoordinator(conn)
	coord.Reconcile(symbols)

	if err := conn.Connect(); err != nil {
		log.Printf("connect: %v (reconnecting)", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	conn.Disconnect()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

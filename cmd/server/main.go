package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketfeed/internal/bars"
	"marketfeed/internal/cache"
	"marketfeed/internal/config"
	"marketfeed/internal/feed"
	"marketfeed/internal/httpx"
	"marketfeed/internal/market"
	"marketfeed/internal/publish"
	"marketfeed/internal/quote"
	"marketfeed/internal/recorder"
	"marketfeed/internal/source"
	"marketfeed/internal/source/aggregator"
	"marketfeed/internal/source/ratelimit"
	"marketfeed/internal/source/vendor"
	"marketfeed/internal/stream"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Aggregator.BaseURL == "" {
		log.Println("warning: aggregator.base_url not set; cascade starts at the vendor tier")
	}
	if cfg.Vendor.BaseURL == "" && cfg.Vendor.APIKey == "" {
		log.Println("warning: vendor not configured; no vendor or bar-derived fallback")
	}

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	var sources []source.Source
	if cfg.Aggregator.BaseURL != "" {
		headers := map[string]string{}
		if cfg.Aggregator.APIKey != "" {
			headers["Authorization"] = "Bearer " + cfg.Aggregator.APIKey
		}
		sources = append(sources, aggregator.New(aggregator.Config{
			BaseURL: cfg.Aggregator.BaseURL,
			Headers: headers,
		}, httpClient))
	}

	var barSource source.BarSource
	if cfg.Vendor.BaseURL != "" || cfg.Vendor.APIKey != "" {
		opts := []vendor.ClientOption{vendor.WithHTTPClient(httpClient.HTTP)}
		if cfg.Vendor.BaseURL != "" {
			opts = append(opts, vendor.WithBaseURL(cfg.Vendor.BaseURL))
		}
		vclient, err := vendor.NewClient(cfg.Vendor.APIKey, opts...)
		if err != nil {
			log.Fatalf("vendor client: %v", err)
		}
		var vsrc source.Source = vclient
		if cfg.Vendor.MaxRequestsPerMinute > 0 {
			rate := float64(cfg.Vendor.MaxRequestsPerMinute) / 60.0
			burst := cfg.Vendor.Burst
			if burst <= 0 {
				burst = 1
			}
			vsrc = &ratelimit.TokenBucketSource{S: vsrc, TB: ratelimit.NewTokenBucket(rate, burst)}
		} else if cfg.Vendor.MinRequestIntervalSec > 0 {
			vsrc = &ratelimit.MinInterval{S: vsrc, Interval: time.Duration(cfg.Vendor.MinRequestIntervalSec) * time.Second}
		}
		sources = append(sources, vsrc)
		barSource = vclient
	}

	quoteCache := cache.New[market.Quote]()
	cascade := quote.New(quote.Config{
		TTL:     time.Duration(cfg.Quotes.CacheTTLSec) * time.Second,
		Timeout: time.Duration(cfg.Quotes.FetchTimeoutSec) * time.Second,
	}, quoteCache, sources, barSource)
	barFetcher := bars.New(barSource, time.Duration(cfg.Bars.TimeoutSec)*time.Second)

	var rec recorder.Recorder = recorder.NewNoopRecorder()
	if cfg.Recorder.SQLitePath != "" {
		sq, err := recorder.NewSQLiteRecorder(cfg.Recorder.SQLitePath)
		if err != nil {
			log.Fatalf("recorder: %v", err)
		}
		rec = sq
	}

	stores := feed.MultiStore{}
	if cfg.NATS.Enabled {
		pub, err := publish.New(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
		defer pub.Close()
		stores = append(stores, pub)
	}

	fd := feed.New(feed.Config{
		Watch:            cfg.Watch,
		DefaultTimeframe: cfg.Bars.DefaultTimeframe,
		DefaultLimit:     cfg.Bars.DefaultLimit,
		PollInterval:     time.Duration(cfg.Poll.IntervalSec) * time.Second,
	}, stream.Config{
		URL:              cfg.Stream.URL,
		BaseDelay:        time.Duration(cfg.Stream.BaseDelayMS) * time.Millisecond,
		MaxDelay:         time.Duration(cfg.Stream.MaxDelayMS) * time.Millisecond,
		MaxAttempts:      cfg.Stream.MaxAttempts,
		HandshakeTimeout: time.Duration(cfg.Stream.HandshakeTimeoutSec) * time.Second,
	}, cascade, barFetcher, stores, rec)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Stream.URL != "" {
		if err := fd.Start(rootCtx); err != nil {
			log.Fatalf("feed: %v", err)
		}
		defer fd.Stop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/quotes", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handleGetQuotes(w, r, fd)
		case http.MethodPost:
			handlePostQuotes(w, r, fd)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/bars", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handleGetBars(w, r, fd)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(limitBody(mux)))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-rootCtx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

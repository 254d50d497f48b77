package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Port              string `yaml:"port"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

type Stream struct {
	URL                 string `yaml:"url"`
	BaseDelayMS         int    `yaml:"base_delay_ms"`
	MaxDelayMS          int    `yaml:"max_delay_ms"`
	MaxAttempts         int    `yaml:"max_attempts"`
	HandshakeTimeoutSec int    `yaml:"handshake_timeout_sec"`
}

type Aggregator struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type Vendor struct {
	BaseURL               string `yaml:"base_url"`
	APIKey                string `yaml:"api_key"`
	MaxRequestsPerMinute  int    `yaml:"max_requests_per_minute"`
	Burst                 int    `yaml:"burst"`
	MinRequestIntervalSec int    `yaml:"min_request_interval_sec"`
}

type Quotes struct {
	CacheTTLSec     int `yaml:"cache_ttl_sec"`
	FetchTimeoutSec int `yaml:"fetch_timeout_sec"`
}

type Bars struct {
	DefaultTimeframe string `yaml:"default_timeframe"`
	DefaultLimit     int    `yaml:"default_limit"`
	TimeoutSec       int    `yaml:"timeout_sec"`
}

type Poll struct {
	IntervalSec int `yaml:"interval_sec"`
}

type Recorder struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type NATS struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type Config struct {
	Server     Server     `yaml:"server"`
	Stream     Stream     `yaml:"stream"`
	Aggregator Aggregator `yaml:"aggregator"`
	Vendor     Vendor     `yaml:"vendor"`
	Quotes     Quotes     `yaml:"quotes"`
	Bars       Bars       `yaml:"bars"`
	Poll       Poll       `yaml:"poll"`
	Recorder   Recorder   `yaml:"recorder"`
	NATS       NATS       `yaml:"nats"`
	Watch      []string   `yaml:"watch"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10},
		Stream: Stream{
			BaseDelayMS:         1000,
			MaxDelayMS:          30000,
			MaxAttempts:         10,
			HandshakeTimeoutSec: 10,
		},
		Vendor: Vendor{
			MaxRequestsPerMinute: 30,
			Burst:                5,
		},
		Quotes: Quotes{CacheTTLSec: 5, FetchTimeoutSec: 10},
		Bars:   Bars{DefaultTimeframe: "1D", DefaultLimit: 180, TimeoutSec: 10},
		Poll:   Poll{IntervalSec: 15},
		NATS:   NATS{SubjectPrefix: "marketfeed"},
	}
}

// Load reads YAML config from path. If path is empty or the file does not
// exist, it returns defaults. Environment variables override select fields
// for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("STREAM_URL"); v != "" {
		cfg.Stream.URL = v
	}
	if v := os.Getenv("STREAM_BASE_DELAY_MS"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Stream.BaseDelayMS = x
		}
	}
	if v := os.Getenv("STREAM_MAX_DELAY_MS"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Stream.MaxDelayMS = x
		}
	}
	if v := os.Getenv("STREAM_MAX_ATTEMPTS"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Stream.MaxAttempts = x
		}
	}
	if v := os.Getenv("AGGREGATOR_BASE_URL"); v != "" {
		cfg.Aggregator.BaseURL = v
	}
	if v := os.Getenv("AGGREGATOR_API_KEY"); v != "" {
		cfg.Aggregator.APIKey = v
	}
	if v := os.Getenv("VENDOR_BASE_URL"); v != "" {
		cfg.Vendor.BaseURL = v
	}
	if v := os.Getenv("VENDOR_API_KEY"); v != "" {
		cfg.Vendor.APIKey = v
	}
	if v := os.Getenv("VENDOR_MAX_RPM"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.Vendor.MaxRequestsPerMinute = x
		}
	}
	if v := os.Getenv("VENDOR_BURST"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Vendor.Burst = x
		}
	}
	if v := os.Getenv("QUOTE_CACHE_TTL_SEC"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.Quotes.CacheTTLSec = x
		}
	}
	if v := os.Getenv("QUOTE_FETCH_TIMEOUT_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Quotes.FetchTimeoutSec = x
		}
	}
	if v := os.Getenv("BARS_DEFAULT_TIMEFRAME"); v != "" {
		cfg.Bars.DefaultTimeframe = v
	}
	if v := os.Getenv("BARS_DEFAULT_LIMIT"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Bars.DefaultLimit = x
		}
	}
	if v := os.Getenv("POLL_INTERVAL_SEC"); v != "" {
		if x := atoi(v); x >= 0 {
			cfg.Poll.IntervalSec = x
		}
	}
	if v := os.Getenv("RECORDER_SQLITE_PATH"); v != "" {
		cfg.Recorder.SQLitePath = v
	}
	if v := os.Getenv("NATS_ENABLED"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			cfg.NATS.Enabled = true
		case "0", "false", "no", "n":
			cfg.NATS.Enabled = false
		}
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("NATS_SUBJECT_PREFIX"); v != "" {
		cfg.NATS.SubjectPrefix = v
	}
	if v := os.Getenv("WATCH_SYMBOLS"); v != "" {
		cfg.Watch = splitCSV(v)
	}
}

func atoi(s string) int {
	var x int
	_, _ = fmt.Sscanf(s, "%d", &x)
	return x
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

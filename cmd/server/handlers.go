package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"marketfeed/internal/market"
	"marketfeed/internal/quote"
)

// feedService is what the handlers need from the feed; narrowed for tests.
type feedService interface {
	FetchQuotes(ctx context.Context, symbols []string) (quote.Result, error)
	FetchBars(ctx context.Context, symbol, timeframe string, limit int) ([]market.Bar, error)
}

func handleGetQuotes(w http.ResponseWriter, r *http.Request, svc feedService) {
	q := r.URL.Query().Get("symbols")
	if strings.TrimSpace(q) == "" {
		http.Error(w, "missing symbols query param", http.StatusBadRequest)
		return
	}
	symbols := splitCSV(q)
	if len(symbols) > 100 {
		http.Error(w, "too many symbols (max 100)", http.StatusBadRequest)
		return
	}
	writeQuotes(w, r.Context(), svc, symbols)
}

type postBody struct {
	Symbols []string `json:"symbols"`
}

func handlePostQuotes(w http.ResponseWriter, r *http.Request, svc feedService) {
	var b postBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(b.Symbols) == 0 {
		http.Error(w, "symbols cannot be empty", http.StatusBadRequest)
		return
	}
	if len(b.Symbols) > 100 {
		http.Error(w, "too many symbols (max 100)", http.StatusBadRequest)
		return
	}
	writeQuotes(w, r.Context(), svc, b.Symbols)
}

// writeQuotes maps cascade outcomes onto status codes: partial success is
// 200 with failed_symbols and a warning, total failure is 503 so the caller
// can tell "service unavailable" apart from "zero price", and bad input is
// 400 before any source is contacted.
func writeQuotes(w http.ResponseWriter, ctx context.Context, svc feedService, symbols []string) {
	res, err := svc.FetchQuotes(ctx, symbols)
	if err != nil {
		var verr *market.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, market.ErrDataUnavailable) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(res)
}

type barsResponse struct {
	Symbol string       `json:"symbol"`
	Bars   []market.Bar `json:"bars"`
}

func handleGetBars(w http.ResponseWriter, r *http.Request, svc feedService) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		http.Error(w, "missing symbol query param", http.StatusBadRequest)
		return
	}
	timeframe := r.URL.Query().Get("timeframe")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	bars, err := svc.FetchBars(r.Context(), symbol, timeframe, limit)
	if err != nil {
		var verr *market.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(barsResponse{Symbol: strings.ToUpper(symbol), Bars: bars})
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		// Basic CORS for browser usage; adjust as needed.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses the response when the client supports gzip.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
		next.ServeHTTP(gw, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
	const maxBody = 1 << 20 // 1MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketfeed/internal/market"
	"marketfeed/internal/quote"
)

type fakeFeed struct {
	quotes map[string]market.Quote
	bars   []market.Bar
	err    error
}

func (f fakeFeed) FetchQuotes(_ context.Context, symbols []string) (quote.Result, error) {
	if f.err != nil {
		return quote.Result{}, f.err
	}
	res := quote.Result{Quotes: map[string]market.Quote{}}
	for _, s := range symbols {
		if q, ok := f.quotes[s]; ok {
			res.Quotes[s] = q
		} else {
			res.Failed = append(res.Failed, s)
		}
	}
	if len(res.Failed) > 0 {
		res.Warning = fmt.Sprintf("no data for: %s", strings.Join(res.Failed, ", "))
	}
	return res, nil
}

func (f fakeFeed) FetchBars(_ context.Context, symbol, _ string, _ int) ([]market.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}

func TestGetQuotes_PartialSuccessIs200WithFailedSymbols(t *testing.T) {
	svc := fakeFeed{quotes: map[string]market.Quote{
		"AAPL": {Symbol: "AAPL", Last: 187.32, Tier: market.TierAggregator},
	}}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/quotes?symbols=AAPL,ZZZQ", nil)
	handleGetQuotes(rr, req, svc)

	if rr.Code != 200 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var res quote.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Quotes) != 1 || res.Quotes["AAPL"].Last != 187.32 {
		t.Fatalf("unexpected quotes: %+v", res.Quotes)
	}
	if len(res.Failed) != 1 || res.Failed[0] != "ZZZQ" {
		t.Fatalf("unexpected failed list: %+v", res.Failed)
	}
	if !strings.Contains(res.Warning, "ZZZQ") {
		t.Fatalf("warning should name the failed symbol: %q", res.Warning)
	}
	if res.Mock {
		t.Fatal("mock flag must be false")
	}
}

func TestGetQuotes_TotalFailureIs503(t *testing.T) {
	svc := fakeFeed{err: fmt.Errorf("%w (requested: AAPL)", market.ErrDataUnavailable)}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/quotes?symbols=AAPL", nil)
	handleGetQuotes(rr, req, svc)

	if rr.Code != 503 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGetQuotes_ValidationFailureIs400(t *testing.T) {
	svc := fakeFeed{err: &market.ValidationError{Symbol: "A B", Reason: "invalid characters"}}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/quotes?symbols=A%20B", nil)
	handleGetQuotes(rr, req, svc)

	if rr.Code != 400 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGetQuotes_MissingSymbolsParamIs400(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/quotes", nil)
	handleGetQuotes(rr, req, fakeFeed{})

	if rr.Code != 400 {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestGetQuotes_TooManySymbolsIs400(t *testing.T) {
	syms := make([]string, 101)
	for i := range syms {
		syms[i] = fmt.Sprintf("S%d", i)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/quotes?symbols="+strings.Join(syms, ","), nil)
	handleGetQuotes(rr, req, fakeFeed{})

	if rr.Code != 400 {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestPostQuotes_AcceptsJSONBody(t *testing.T) {
	svc := fakeFeed{quotes: map[string]market.Quote{
		"MSFT": {Symbol: "MSFT", Last: 420.5, Tier: market.TierVendor},
	}}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/quotes", strings.NewReader(`{"symbols":["MSFT"]}`))
	handlePostQuotes(rr, req, svc)

	if rr.Code != 200 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var res quote.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Quotes["MSFT"].Tier != market.TierVendor {
		t.Fatalf("tier not preserved: %+v", res.Quotes["MSFT"])
	}
}

func TestPostQuotes_RejectsUnknownFieldsAndEmptyList(t *testing.T) {
	for _, body := range []string{
		`{"symbols":["AAPL"],"mock":true}`,
		`{"symbols":[]}`,
		`not json`,
	} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/quotes", strings.NewReader(body))
		handlePostQuotes(rr, req, fakeFeed{})
		if rr.Code != 400 {
			t.Fatalf("body %q: status=%d", body, rr.Code)
		}
	}
}

func TestGetBars_ReturnsSeries(t *testing.T) {
	t0 := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	svc := fakeFeed{bars: []market.Bar{
		{Time: t0, Open: 100, Close: 105},
		{Time: t0.Add(24 * time.Hour), Open: 105, Close: 107},
	}}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/bars?symbol=aapl&timeframe=1D&limit=2", nil)
	handleGetBars(rr, req, svc)

	if rr.Code != 200 {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var res barsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Symbol != "AAPL" {
		t.Fatalf("symbol not normalized: %q", res.Symbol)
	}
	if len(res.Bars) != 2 || res.Bars[1].Close != 107 {
		t.Fatalf("unexpected bars: %+v", res.Bars)
	}
}

func TestGetBars_MissingSymbolIs400(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/bars", nil)
	handleGetBars(rr, req, fakeFeed{})

	if rr.Code != 400 {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" AAPL, MSFT ,,TSLA ")
	want := []string{"AAPL", "MSFT", "TSLA"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

package bars

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketfeed/internal/market"
)

// blockingSource counts calls and can hold them open until released.
type blockingSource struct {
	calls   atomic.Int64
	release chan struct{}
	series  []market.Bar
	err     error
}

func (b *blockingSource) Bars(ctx context.Context, _, _ string, _ int) ([]market.Bar, error) {
	b.calls.Add(1)
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	return append([]market.Bar(nil), b.series...), nil
}

func series(n int) []market.Bar {
	t0 := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	out := make([]market.Bar, 0, n)
	// deliberately newest-first; the fetcher must sort ascending
	for i := n - 1; i >= 0; i-- {
		out = append(out, market.Bar{Time: t0.Add(time.Duration(i) * 24 * time.Hour), Close: float64(i)})
	}
	return out
}

func TestFetch_SortsAscendingRegardlessOfSourceOrder(t *testing.T) {
	src := &blockingSource{series: series(5)}
	f := New(src, time.Second)

	got, err := f.Fetch(context.Background(), "AAPL", "1D", 5, false)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		require.False(t, got[i].Time.Before(got[i-1].Time), "series must be non-decreasing in timestamp")
	}
	require.Equal(t, Loaded, f.State("AAPL", "1D"))
}

func TestFetch_ConcurrentCallsShareOneRequest(t *testing.T) {
	src := &blockingSource{series: series(3), release: make(chan struct{})}
	f := New(src, time.Second)

	var wg sync.WaitGroup
	results := make([][]market.Bar, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.Fetch(context.Background(), "AAPL", "1D", 3, false)
		}()
	}
	// let both callers reach the single-flight gate, then release
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.Equal(t, int64(1), src.calls.Load(), "duplicate concurrent fetch must not hit the network twice")
	require.Equal(t, results[0], results[1])
}

func TestFetch_LoadedIsReusedUnlessForced(t *testing.T) {
	src := &blockingSource{series: series(3)}
	f := New(src, time.Second)

	_, err := f.Fetch(context.Background(), "AAPL", "1D", 3, false)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "AAPL", "1D", 3, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), src.calls.Load())

	_, err = f.Fetch(context.Background(), "AAPL", "1D", 3, true)
	require.NoError(t, err)
	require.Equal(t, int64(2), src.calls.Load(), "force must refresh")
}

func TestFetch_DistinctTimeframesAreIndependent(t *testing.T) {
	src := &blockingSource{series: series(3)}
	f := New(src, time.Second)

	_, err := f.Fetch(context.Background(), "AAPL", "1D", 3, false)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "AAPL", "1W", 3, false)
	require.NoError(t, err)
	require.Equal(t, int64(2), src.calls.Load())
}

func TestFetch_FailurePreservesErrorForDiagnostics(t *testing.T) {
	boom := errors.New("vendor 502")
	src := &blockingSource{err: boom}
	f := New(src, time.Second)

	_, err := f.Fetch(context.Background(), "AAPL", "1D", 3, false)
	require.ErrorIs(t, err, boom)
	require.Equal(t, Failed, f.State("AAPL", "1D"))
	require.ErrorIs(t, f.Err("AAPL", "1D"), boom)

	// a failed key is retried, not stuck
	src.err = nil
	src.series = series(2)
	_, err = f.Fetch(context.Background(), "AAPL", "1D", 3, false)
	require.NoError(t, err)
	require.Equal(t, Loaded, f.State("AAPL", "1D"))
	require.NoError(t, f.Err("AAPL", "1D"))
}

func TestFetch_NilSourceIsAnErrorNotAPanic(t *testing.T) {
	// the server runs without a vendor configured; bar requests must resolve
	// to an error in that setup
	f := New(nil, time.Second)

	_, err := f.Fetch(context.Background(), "AAPL", "1D", 3, false)
	require.ErrorIs(t, err, ErrNoSource)
	require.Equal(t, Idle, f.State("AAPL", "1D"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.Fetch(context.Background(), "AAPL", "1D", 3, false)
		}()
	}
	wg.Wait()
	require.ErrorIs(t, errs[0], ErrNoSource)
	require.ErrorIs(t, errs[1], ErrNoSource)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", Idle.String())
	require.Equal(t, "in-flight", InFlight.String())
	require.Equal(t, "loaded", Loaded.String())
	require.Equal(t, "failed", Failed.String())
}

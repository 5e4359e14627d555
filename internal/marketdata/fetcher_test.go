package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"market-analyst-bot/internal/cache"
)

// MockProvider is a scripted candle provider.
type MockProvider struct {
	name    string
	candles []Candle
	err     error
	calls   int
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) Candles(ctx context.Context, req Request) ([]Candle, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.candles, nil
}

// MockStore mirrors the in-memory store used by the cache package tests.
type MockStore struct {
	data map[string]string
}

func NewMockStore() *MockStore { return &MockStore{data: make(map[string]string)} }

func (m *MockStore) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return v, nil
}

func (m *MockStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.data[key] = value.(string)
	return nil
}

func makeCandles(n int) []Candle {
	candles := make([]Candle, n)
	for i := range candles {
		candles[i] = Candle{
			Timestamp: int64(1700000000000 + i*3600000),
			Open:      100 + float64(i),
			High:      105 + float64(i),
			Low:       95 + float64(i),
			Close:     102 + float64(i),
			Volume:    1000,
		}
	}
	return candles
}

func newTestFetcher(store cache.Store, providers ...Provider) *Fetcher {
	rc := cache.NewResponseCache(store, cache.PrefixMarketData, 30*time.Second)
	return NewFetcher(providers, rc, DefaultFetcherConfig(), nil)
}

func TestFetchFallsThroughToSecondProvider(t *testing.T) {
	bad := &MockProvider{name: "bad", err: errors.New("503 from upstream")}
	good := &MockProvider{name: "good", candles: makeCandles(50)}
	f := newTestFetcher(NewMockStore(), bad, good)

	candles, err := f.Fetch(context.Background(), "crypto", "BTCUSDT", "H4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 50 {
		t.Errorf("got %d candles, want 50", len(candles))
	}
	if bad.calls != 1 || good.calls != 1 {
		t.Errorf("calls = bad:%d good:%d, want 1 each", bad.calls, good.calls)
	}
}

func TestFetchEmptySeriesIsFailureNotSuccess(t *testing.T) {
	empty := &MockProvider{name: "empty", candles: nil}
	full := &MockProvider{name: "full", candles: makeCandles(30)}
	f := newTestFetcher(NewMockStore(), empty, full)

	candles, err := f.Fetch(context.Background(), "crypto", "ETHUSDT", "H1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 30 {
		t.Errorf("got %d candles, want 30 from the second provider", len(candles))
	}
}

func TestFetchTooFewCandlesFallsThrough(t *testing.T) {
	thin := &MockProvider{name: "thin", candles: makeCandles(5)}
	full := &MockProvider{name: "full", candles: makeCandles(40)}
	f := newTestFetcher(NewMockStore(), thin, full)

	candles, err := f.Fetch(context.Background(), "crypto", "SOLUSDT", "H4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 40 {
		t.Errorf("got %d candles, want the full provider's 40", len(candles))
	}
}

func TestFetchChainExhausted(t *testing.T) {
	a := &MockProvider{name: "a", err: errors.New("down")}
	b := &MockProvider{name: "b", err: errors.New("also down")}
	f := newTestFetcher(NewMockStore(), a, b)

	_, err := f.Fetch(context.Background(), "crypto", "BTCUSDT", "H4")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestFetchSecondCallServedFromCache(t *testing.T) {
	p := &MockProvider{name: "only", candles: makeCandles(25)}
	f := newTestFetcher(NewMockStore(), p)

	first, err := f.Fetch(context.Background(), "crypto", "BTCUSDT", "H4")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := f.Fetch(context.Background(), "crypto", "BTC/USDT", "H4")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, want 1 (second call must hit cache)", p.calls)
	}
	if len(first) != len(second) {
		t.Fatalf("cache returned a different series: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("candle %d differs between cached and fresh result", i)
		}
	}
}

func TestNormalizeSeriesOrderingAndDedup(t *testing.T) {
	candles := []Candle{
		{Timestamp: 3000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1},
		{Timestamp: 1000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1},
		{Timestamp: 1000, Open: 9, High: 9, Low: 9, Close: 9, Volume: 9},
		{Timestamp: 2000, Open: -1, High: 2, Low: 0.5, Close: 1.5, Volume: 1}, // invalid
	}
	out := NormalizeSeries(candles)
	if len(out) != 2 {
		t.Fatalf("got %d candles, want 2 (dedup + invalid dropped)", len(out))
	}
	if out[0].Timestamp != 1000 || out[1].Timestamp != 3000 {
		t.Errorf("series not ascending: %v", out)
	}
	if out[0].Open != 1 {
		t.Error("dedup should keep the first candle for a duplicate timestamp")
	}
}

func TestMapInterval(t *testing.T) {
	if v, err := mapInterval("H4"); err != nil || v != "4h" {
		t.Errorf("H4 -> (%q, %v), want 4h", v, err)
	}
	if v, err := mapInterval("4h"); err != nil || v != "4h" {
		t.Errorf("4h passthrough -> (%q, %v)", v, err)
	}
	if _, err := mapInterval("fortnight"); err == nil {
		t.Error("unknown timeframe must error")
	}
}

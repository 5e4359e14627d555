package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockStore is an in-memory Store with failure injection.
type MockStore struct {
	mu      sync.Mutex
	data    map[string]string
	getErr  error
	setErr  error
	getHits int
	setHits int
}

func NewMockStore() *MockStore {
	return &MockStore{data: make(map[string]string)}
}

func (m *MockStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getHits++
	if m.getErr != nil {
		return "", m.getErr
	}
	val, ok := m.data[key]
	if !ok {
		return "", ErrMiss
	}
	return val, nil
}

func (m *MockStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setHits++
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value.(string)
	return nil
}

func TestFingerprintDeterministic(t *testing.T) {
	a := AnalysisFingerprint("crypto", "BTC/USDT", "H4", "swing", "moderate", true)
	b := AnalysisFingerprint("CRYPTO", "btcusdt", "h4", "SWING", "Moderate", true)
	if a != b {
		t.Errorf("normalized inputs must fingerprint identically: %s vs %s", a, b)
	}

	c := AnalysisFingerprint("crypto", "BTCUSDT", "H4", "swing", "moderate", false)
	if a == c {
		t.Error("news flag must change the fingerprint")
	}
}

func TestGenerationFingerprintDependsOnSummary(t *testing.T) {
	base := AnalysisFingerprint("crypto", "ETHUSDT", "H1", "scalp", "low", false)
	g1 := GenerationFingerprint(base, "close=3000 high=3100")
	g2 := GenerationFingerprint(base, "close=2990 high=3100")
	if g1 == g2 {
		t.Error("different candle summaries must produce different generation fingerprints")
	}
}

func TestResponseCacheRoundTrip(t *testing.T) {
	store := NewMockStore()
	rc := NewResponseCache(store, PrefixMarketData, 30*time.Second)
	fp := AnalysisFingerprint("crypto", "BTCUSDT", "H4", "swing", "moderate", false)

	if _, ok := rc.Get(context.Background(), fp); ok {
		t.Fatal("expected miss on empty cache")
	}

	if err := rc.Put(context.Background(), fp, `{"candles":[]}`); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	val, ok := rc.Get(context.Background(), fp)
	if !ok || val != `{"candles":[]}` {
		t.Errorf("expected cached payload, got (%q, %v)", val, ok)
	}
}

func TestResponseCacheErrorsDegradeToMiss(t *testing.T) {
	store := NewMockStore()
	store.getErr = errors.New("redis down")
	rc := NewResponseCache(store, PrefixGeneration, time.Minute)
	fp := Fingerprint("abc")

	if _, ok := rc.Get(context.Background(), fp); ok {
		t.Error("store error must read as a miss, never as a failure")
	}
}

func TestResponseCacheNamespacesAreIndependent(t *testing.T) {
	store := NewMockStore()
	md := NewResponseCache(store, PrefixMarketData, 30*time.Second)
	gen := NewResponseCache(store, PrefixGeneration, 10*time.Minute)
	fp := Fingerprint("samefp")

	if err := md.Put(context.Background(), fp, "candles"); err != nil {
		t.Fatal(err)
	}
	if _, ok := gen.Get(context.Background(), fp); ok {
		t.Error("generation namespace must not see market-data entries")
	}
}

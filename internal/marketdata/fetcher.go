package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"market-analyst-bot/internal/cache"
	"market-analyst-bot/internal/fallback"
	"market-analyst-bot/internal/logging"
)

// ErrUnavailable is returned when every provider in the chain has failed.
var ErrUnavailable = errors.New("market data unavailable")

// FetcherConfig controls the fetcher's chain and cache behavior.
type FetcherConfig struct {
	AttemptTimeout time.Duration
	MinCandles     int
	DefaultLimit   int
}

// DefaultFetcherConfig returns the fetcher defaults.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		AttemptTimeout: 8 * time.Second,
		MinCandles:     20,
		DefaultLimit:   120,
	}
}

// Fetcher returns normalized candle series, trying providers in order behind
// a fingerprint-keyed response cache.
type Fetcher struct {
	providers map[string]Provider
	order     []string
	respCache *cache.ResponseCache
	cfg       FetcherConfig
	logger    *logging.Logger
}

// NewFetcher creates a Fetcher over an ordered provider chain. Providers are
// attempted in the order given.
func NewFetcher(providers []Provider, respCache *cache.ResponseCache, cfg FetcherConfig, logger *logging.Logger) *Fetcher {
	byName := make(map[string]Provider, len(providers))
	order := make([]string, 0, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
		order = append(order, p.Name())
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Fetcher{
		providers: byName,
		order:     order,
		respCache: respCache,
		cfg:       cfg,
		logger:    logger.WithComponent("marketdata"),
	}
}

// Fingerprint derives the cache key for a candle request. Only the fields
// that determine the data participate; analysis style and risk profile do
// not change what the providers return.
func (f *Fetcher) Fingerprint(market, symbol, timeframe string) cache.Fingerprint {
	return cache.AnalysisFingerprint(market, symbol, timeframe, "", "", false)
}

// Fetch returns the candle series for a symbol/timeframe. On a cache hit the
// cached series is returned and no provider is invoked. On a miss the
// provider chain runs in order; the first provider producing at least
// MinCandles valid rows wins and its series is cached best-effort.
func (f *Fetcher) Fetch(ctx context.Context, market, symbol, timeframe string) ([]Candle, error) {
	fp := f.Fingerprint(market, symbol, timeframe)

	if payload, ok := f.respCache.Get(ctx, fp); ok {
		var candles []Candle
		if err := json.Unmarshal([]byte(payload), &candles); err == nil && len(candles) > 0 {
			f.logger.Debug("market data cache hit", "symbol", symbol, "timeframe", timeframe)
			return candles, nil
		}
		// A corrupt cache entry reads as a miss.
	}

	req := Request{
		Market:    market,
		Symbol:    symbol,
		Timeframe: timeframe,
		Limit:     f.cfg.DefaultLimit,
	}

	attempt := func(ctx context.Context, name string) ([]Candle, error) {
		provider, ok := f.providers[name]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", name)
		}
		candles, err := provider.Candles(ctx, req)
		if err != nil {
			if errors.Is(err, ErrNoRows) {
				return nil, fmt.Errorf("%s: %w", name, fallback.ErrEmptyResult)
			}
			return nil, err
		}
		if len(candles) == 0 {
			return nil, fallback.ErrEmptyResult
		}
		if len(candles) < f.cfg.MinCandles {
			return nil, fmt.Errorf("only %d candles, need at least %d: %w",
				len(candles), f.cfg.MinCandles, fallback.ErrEmptyResult)
		}
		return candles, nil
	}

	candles, winner, err := fallback.Run(ctx, fallback.Config{AttemptTimeout: f.cfg.AttemptTimeout}, f.order, attempt)
	if err != nil {
		var chainErr *fallback.ChainError
		if errors.As(err, &chainErr) {
			f.logger.Warn("all market data providers failed", "symbol", symbol, "detail", chainErr.Error())
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, chainErr.Error())
		}
		return nil, err
	}

	f.logger.Info("market data fetched", "symbol", symbol, "timeframe", timeframe,
		"provider", winner, "candles", len(candles))

	if payload, err := json.Marshal(candles); err == nil {
		if err := f.respCache.Put(ctx, fp, string(payload)); err != nil {
			f.logger.Debug("market data cache write failed", "error", err)
		}
	}

	return candles, nil
}

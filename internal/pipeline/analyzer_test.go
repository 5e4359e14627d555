package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"market-analyst-bot/internal/ai/llm"
	"market-analyst-bot/internal/cache"
	"market-analyst-bot/internal/chart"
	"market-analyst-bot/internal/marketdata"
	"market-analyst-bot/internal/quota"
)

type fakeFetcher struct {
	candles []marketdata.Candle
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(ctx context.Context, market, symbol, timeframe string) ([]marketdata.Candle, error) {
	f.calls++
	return f.candles, f.err
}

type fakeGenerator struct {
	result *llm.GenerationResult
	err    error
}

func (g *fakeGenerator) Generate(ctx context.Context, fp cache.Fingerprint, req llm.Request) (*llm.GenerationResult, error) {
	return g.result, g.err
}

type fakeAdmission struct {
	denied    bool
	consumed  int
	remaining int
}

func (a *fakeAdmission) Check(ctx context.Context, userID string) (quota.Decision, error) {
	if a.denied {
		return quota.Decision{}, quota.ErrExceeded
	}
	return quota.Decision{Allowed: true, Remaining: a.remaining}, nil
}

func (a *fakeAdmission) Consume(ctx context.Context, userID string, n int) error {
	a.consumed += n
	return nil
}

func (a *fakeAdmission) Remaining(ctx context.Context, userID string) (int, error) {
	return a.remaining - a.consumed, nil
}

type fakeRenderer struct {
	url string
	err error
}

func (r *fakeRenderer) Render(ctx context.Context, spec chart.Spec) (string, error) {
	return r.url, r.err
}

func conf(v float64) *float64 { return &v }

func candles(n int) []marketdata.Candle {
	out := make([]marketdata.Candle, n)
	for i := range out {
		out[i] = marketdata.Candle{
			Timestamp: int64(1700000000000 + i*14400000),
			Open:      62000, High: 62500, Low: 61500, Close: 62200, Volume: 10,
		}
	}
	return out
}

func threeZoneResult() *llm.GenerationResult {
	return &llm.GenerationResult{
		RawText: "BTC analysis prose here.",
		Zones: []llm.Zone{
			{Kind: llm.ZoneDemand, PriceLow: 61000, PriceHigh: 61500, Label: "demand", Confidence: conf(0.8)},
			{Kind: llm.ZoneSupply, PriceLow: 64000, PriceHigh: 64800, Label: "supply", Confidence: conf(0.7)},
			{Kind: llm.ZoneDemand, PriceLow: 58000, PriceHigh: 58900, Label: "deep", Confidence: conf(0.5)},
		},
		Levels:    []llm.Level{{Label: "entry", Price: 61600}},
		Validated: true,
	}
}

func TestAnalyzeEndToEnd(t *testing.T) {
	adm := &fakeAdmission{remaining: 5}
	a := NewAnalyzer(
		&fakeFetcher{candles: candles(120)},
		&fakeGenerator{result: threeZoneResult()},
		adm,
		&fakeRenderer{url: "https://charts.example/abc.png"},
		nil, nil,
	)

	res, perr := a.Analyze(context.Background(), Request{
		UserID: "u1", Market: "crypto", Symbol: "BTCUSDT", Timeframe: "H4",
		Style: "swing", Risk: "moderate",
	})
	if perr != nil {
		t.Fatalf("unexpected error: %v", perr)
	}
	if !res.Validated || len(res.Zones) != 3 {
		t.Errorf("result = validated:%v zones:%d, want true/3", res.Validated, len(res.Zones))
	}
	if res.ChartRef != "https://charts.example/abc.png" {
		t.Errorf("chart ref = %q", res.ChartRef)
	}
	if adm.consumed != 1 {
		t.Errorf("consumed = %d, want exactly 1 on success", adm.consumed)
	}
	if res.Text == "" || res.JobID == "" {
		t.Error("text and job id must be populated")
	}
}

func TestAnalyzeQuotaDenialRunsNothing(t *testing.T) {
	fetcher := &fakeFetcher{candles: candles(120)}
	adm := &fakeAdmission{denied: true}
	a := NewAnalyzer(fetcher, &fakeGenerator{result: threeZoneResult()}, adm, nil, nil, nil)

	_, perr := a.Analyze(context.Background(), Request{UserID: "u1", Market: "crypto", Symbol: "BTCUSDT", Timeframe: "H4"})
	if perr == nil || perr.Code != CodeQuotaExceeded {
		t.Fatalf("expected quota_exceeded, got %v", perr)
	}
	if fetcher.calls != 0 {
		t.Error("denied request must not fetch market data")
	}
	if adm.consumed != 0 {
		t.Error("denied request must not consume quota")
	}
}

func TestAnalyzeFailedPhaseDoesNotConsume(t *testing.T) {
	admMD := &fakeAdmission{remaining: 5}
	mdFail := NewAnalyzer(
		&fakeFetcher{err: fmt.Errorf("chain: %w", marketdata.ErrUnavailable)},
		&fakeGenerator{result: threeZoneResult()}, admMD, nil, nil, nil)

	_, perr := mdFail.Analyze(context.Background(), Request{UserID: "u", Market: "crypto", Symbol: "X", Timeframe: "H4"})
	if perr == nil || perr.Code != CodeMarketDataUnavailable {
		t.Fatalf("expected market_data_unavailable, got %v", perr)
	}
	if admMD.consumed != 0 {
		t.Error("failed fetch must not consume quota")
	}

	admGen := &fakeAdmission{remaining: 5}
	genFail := NewAnalyzer(
		&fakeFetcher{candles: candles(120)},
		&fakeGenerator{err: fmt.Errorf("chain: %w", llm.ErrUnavailable)}, admGen, nil, nil, nil)

	_, perr = genFail.Analyze(context.Background(), Request{UserID: "u", Market: "crypto", Symbol: "X", Timeframe: "H4"})
	if perr == nil || perr.Code != CodeGenerationUnavailable {
		t.Fatalf("expected generation_unavailable, got %v", perr)
	}
	if admGen.consumed != 0 {
		t.Error("failed generation must not consume quota")
	}
}

func TestAnalyzeChartFailureIsNonFatal(t *testing.T) {
	adm := &fakeAdmission{remaining: 5}
	a := NewAnalyzer(
		&fakeFetcher{candles: candles(120)},
		&fakeGenerator{result: threeZoneResult()},
		adm,
		&fakeRenderer{err: errors.New("render service down")},
		nil, nil,
	)

	res, perr := a.Analyze(context.Background(), Request{UserID: "u", Market: "crypto", Symbol: "BTCUSDT", Timeframe: "H4"})
	if perr != nil {
		t.Fatalf("chart failure must not fail the analysis: %v", perr)
	}
	if res.ChartRef != "" {
		t.Error("failed render should omit the chart reference")
	}
	if adm.consumed != 1 {
		t.Error("analysis still succeeded and must consume quota")
	}
}

func TestAnalyzeDegradedGenerationStillSucceeds(t *testing.T) {
	adm := &fakeAdmission{remaining: 5}
	a := NewAnalyzer(
		&fakeFetcher{candles: candles(120)},
		&fakeGenerator{result: &llm.GenerationResult{RawText: "prose only", Validated: false}},
		adm, nil, nil, nil,
	)

	res, perr := a.Analyze(context.Background(), Request{UserID: "u", Market: "crypto", Symbol: "BTCUSDT", Timeframe: "H4"})
	if perr != nil {
		t.Fatalf("zero-zone result is still a valid answer: %v", perr)
	}
	if res.Validated || len(res.Zones) != 0 {
		t.Errorf("expected degraded result, got %+v", res)
	}
	if adm.consumed != 1 {
		t.Error("degraded-but-successful analysis consumes quota")
	}
}

func TestAnalyzePrivilegedBypassesQuota(t *testing.T) {
	adm := &fakeAdmission{denied: true}
	a := NewAnalyzer(
		&fakeFetcher{candles: candles(120)},
		&fakeGenerator{result: threeZoneResult()},
		adm, nil, nil, nil,
	)

	result, perr := a.Analyze(context.Background(), Request{
		UserID: "admin-1", Market: "crypto", Symbol: "BTCUSDT", Timeframe: "H4",
		Style: "swing", Risk: "moderate", Privileged: true,
	})
	if perr != nil {
		t.Fatalf("privileged request should bypass denial, got %v", perr)
	}
	if result.QuotaRemaining != -1 {
		t.Errorf("expected unlimited marker -1, got %d", result.QuotaRemaining)
	}
	if adm.consumed != 0 {
		t.Errorf("privileged request must not consume quota, consumed %d", adm.consumed)
	}
}

func TestWrapErrorCodes(t *testing.T) {
	if wrapError(quota.ErrExceeded).Code != CodeQuotaExceeded {
		t.Error("quota mapping wrong")
	}
	if wrapError(marketdata.ErrUnavailable).Code != CodeMarketDataUnavailable {
		t.Error("market data mapping wrong")
	}
	if wrapError(llm.ErrUnavailable).Code != CodeGenerationUnavailable {
		t.Error("generation mapping wrong")
	}
	if wrapError(errors.New("boom")).Code != CodeInternal {
		t.Error("default mapping wrong")
	}
}

package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"market-analyst-bot/internal/cache"
)

// scriptedProvider returns canned responses: the first Complete call gets
// responses[0], the second responses[1], and so on.
type scriptedProvider struct {
	name      string
	responses []string
	errs      []error
	calls     int
	lastReq   Request
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(ctx context.Context, req Request) (string, error) {
	idx := p.calls
	p.calls++
	p.lastReq = req
	if idx < len(p.errs) && p.errs[idx] != nil {
		return "", p.errs[idx]
	}
	if idx < len(p.responses) {
		return p.responses[idx], nil
	}
	return "", errors.New("script exhausted")
}

type memStore struct{ data map[string]string }

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

func (m *memStore) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return v, nil
}

func (m *memStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.data[key] = value.(string)
	return nil
}

func newTestEngine(providers ...Provider) (*Engine, *memStore) {
	store := newMemStore()
	rc := cache.NewResponseCache(store, cache.PrefixGeneration, 10*time.Minute)
	cfg := DefaultEngineConfig()
	cfg.AttemptTimeout = time.Second
	cfg.TotalBudget = 0
	return NewEngine(providers, rc, cfg, nil), store
}

const validBlock = `{"schema":"zones.v1","zones":[` +
	`{"kind":"demand","price_low":61000,"price_high":61500,"label":"daily demand","confidence":0.8},` +
	`{"kind":"supply","price_low":64000,"price_high":64800,"label":"supply","confidence":0.7},` +
	`{"kind":"demand","price_low":58000,"price_high":58900,"label":"deep demand","confidence":0.5}],` +
	`"levels":[{"label":"entry","price":61600}]}`

func TestGenerateValidBlockNoRepair(t *testing.T) {
	p := &scriptedProvider{name: "claude", responses: []string{
		"Solid setup.\n```json\n" + validBlock + "\n```\n",
	}}
	engine, _ := newTestEngine(p)

	res, err := engine.Generate(context.Background(), "fp1", Request{UserPrompt: "analyze"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Validated || res.Repaired {
		t.Errorf("flags = validated:%v repaired:%v, want true/false", res.Validated, res.Repaired)
	}
	if len(res.Zones) != 3 {
		t.Errorf("got %d zones, want 3", len(res.Zones))
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, repair must not run for a valid block", p.calls)
	}
}

func TestGenerateRepairInvokedOnceForBrokenBlock(t *testing.T) {
	broken := "analysis\n```json\n{\"schema\":\"zones.v1\",\"zones\":[{\"kind\":\"demand\",\"price_low\":100,\"price_high\":100}]}\n```\n"
	p := &scriptedProvider{name: "claude", responses: []string{
		broken,
		`{"schema":"zones.v1","zones":[{"kind":"demand","price_low":100,"price_high":105,"label":"fixed"}],"levels":[]}`,
	}}
	engine, _ := newTestEngine(p)

	res, err := engine.Generate(context.Background(), "fp2", Request{UserPrompt: "analyze"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Validated || !res.Repaired {
		t.Errorf("flags = validated:%v repaired:%v, want true/true", res.Validated, res.Repaired)
	}
	if len(res.Zones) != 1 || res.Zones[0].PriceHigh != 105 {
		t.Errorf("zones = %+v, want the repaired zone", res.Zones)
	}
	if p.calls != 2 {
		t.Errorf("provider called %d times, want 2 (generate + one repair)", p.calls)
	}
	if p.lastReq.Temperature == nil || *p.lastReq.Temperature != 0 {
		t.Errorf("repair pass temperature = %v, want explicit 0", p.lastReq.Temperature)
	}
	if p.lastReq.SystemPrompt != SystemPromptRepair {
		t.Error("repair pass must use the repair system prompt")
	}
}

func TestGenerateRepairFailureDegradesToZeroZones(t *testing.T) {
	broken := "```json\n{\"schema\":\"zones.v1\",\"zones\":[{\"kind\":\"other\",\"price_low\":1,\"price_high\":2}]}\n```"
	p := &scriptedProvider{name: "claude", responses: []string{
		broken,
		"still not json",
	}}
	engine, _ := newTestEngine(p)

	res, err := engine.Generate(context.Background(), "fp3", Request{UserPrompt: "analyze"})
	if err != nil {
		t.Fatalf("degraded result must not be an error: %v", err)
	}
	if res.Validated || res.Repaired {
		t.Errorf("flags = validated:%v repaired:%v, want false/false", res.Validated, res.Repaired)
	}
	if len(res.Zones) != 0 {
		t.Errorf("expected zero zones, got %d", len(res.Zones))
	}
	if res.RawText == "" {
		t.Error("raw text must survive degradation")
	}
	if p.calls != 2 {
		t.Errorf("provider called %d times, repair must run exactly once", p.calls)
	}
}

func TestGenerateHeuristicPathNeverRepairs(t *testing.T) {
	p := &scriptedProvider{name: "claude", responses: []string{
		"Support zone between 100 and 105 looks strong. Entry at 106, stop at 99.",
	}}
	engine, _ := newTestEngine(p)

	res, err := engine.Generate(context.Background(), "fp4", Request{UserPrompt: "analyze"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Validated || res.Repaired {
		t.Error("heuristic output must not be marked validated or repaired")
	}
	if len(res.Zones) != 1 || res.Zones[0].Kind != ZoneDemand {
		t.Errorf("zones = %+v, want one demand zone from the heuristic", res.Zones)
	}
	if len(res.Levels) != 2 {
		t.Errorf("levels = %+v, want entry and stop", res.Levels)
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, heuristic path must not call the model", p.calls)
	}
}

func TestGenerateFallsThroughProviders(t *testing.T) {
	down := &scriptedProvider{name: "openai", errs: []error{errors.New("missing credentials")}}
	up := &scriptedProvider{name: "deepseek", responses: []string{
		"```json\n" + validBlock + "\n```",
	}}
	engine, _ := newTestEngine(down, up)

	res, err := engine.Generate(context.Background(), "fp5", Request{UserPrompt: "analyze"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Validated {
		t.Error("expected validated result from the second provider")
	}
	if down.calls != 1 || up.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", down.calls, up.calls)
	}
}

func TestGenerateAllProvidersFailed(t *testing.T) {
	a := &scriptedProvider{name: "a", errs: []error{errors.New("down")}}
	b := &scriptedProvider{name: "b", errs: []error{errors.New("down too")}}
	engine, _ := newTestEngine(a, b)

	_, err := engine.Generate(context.Background(), "fp6", Request{UserPrompt: "analyze"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestGenerateSecondCallServedFromCache(t *testing.T) {
	p := &scriptedProvider{name: "claude", responses: []string{
		"```json\n" + validBlock + "\n```",
	}}
	engine, _ := newTestEngine(p)

	first, err := engine.Generate(context.Background(), "fpcache", Request{UserPrompt: "analyze"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.Generate(context.Background(), "fpcache", Request{UserPrompt: "analyze"})
	if err != nil {
		t.Fatal(err)
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, second call must come from cache", p.calls)
	}
	if first.RawText != second.RawText || len(first.Zones) != len(second.Zones) {
		t.Error("cached result differs from the original")
	}
}

func TestGenerateBudgetStopsChain(t *testing.T) {
	slow := &scriptedProvider{name: "slow"}
	never := &scriptedProvider{name: "never"}

	store := newMemStore()
	rc := cache.NewResponseCache(store, cache.PrefixGeneration, time.Minute)
	cfg := EngineConfig{
		AttemptTimeout: 60 * time.Millisecond,
		TotalBudget:    100 * time.Millisecond,
		MinRemaining:   50 * time.Millisecond,
	}
	slowProvider := providerFunc(func(ctx context.Context, req Request) (string, error) {
		slow.calls++
		select {
		case <-time.After(90 * time.Millisecond):
		case <-ctx.Done():
		}
		return "", errors.New("timed out upstream")
	})
	engine := NewEngine([]Provider{named{"slow", slowProvider}, named{"never", func(ctx context.Context, req Request) (string, error) {
		never.calls++
		return "text", nil
	}}}, rc, cfg, nil)

	_, err := engine.Generate(context.Background(), "fpbudget", Request{UserPrompt: "x"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if never.calls != 0 {
		t.Error("second provider must not be attempted once the budget is spent")
	}
	if !strings.Contains(err.Error(), "budget") {
		t.Errorf("error should mention the budget: %v", err)
	}
}

type providerFunc func(ctx context.Context, req Request) (string, error)

type named struct {
	name string
	fn   providerFunc
}

func (n named) Name() string { return n.name }

func (n named) Complete(ctx context.Context, req Request) (string, error) { return n.fn(ctx, req) }

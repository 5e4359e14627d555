package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"market-analyst-bot/internal/cache"
	"market-analyst-bot/internal/fallback"
	"market-analyst-bot/internal/logging"
)

// ErrUnavailable is returned when every generation provider failed or the
// total budget ran out before any produced text.
var ErrUnavailable = errors.New("generation unavailable")

// EngineConfig controls the generation chain.
type EngineConfig struct {
	AttemptTimeout    time.Duration
	TotalBudget       time.Duration
	MinRemaining      time.Duration
	Temperature       float64
	RepairTemperature float64
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AttemptTimeout: 30 * time.Second,
		TotalBudget:    90 * time.Second,
		MinRemaining:   1500 * time.Millisecond,
		Temperature:    0.3,
	}
}

// Engine runs the generation chain and the structured-output validator. The
// design is strictly two-phase with at most one repair call: generate, then
// validate, then (only for a found-but-broken block) one stricter repair pass.
type Engine struct {
	providers map[string]Provider
	order     []string
	respCache *cache.ResponseCache
	cfg       EngineConfig
	logger    *logging.Logger
}

// NewEngine creates an Engine over an ordered provider chain.
func NewEngine(providers []Provider, respCache *cache.ResponseCache, cfg EngineConfig, logger *logging.Logger) *Engine {
	byName := make(map[string]Provider, len(providers))
	order := make([]string, 0, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
		order = append(order, p.Name())
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		providers: byName,
		order:     order,
		respCache: respCache,
		cfg:       cfg,
		logger:    logger.WithComponent("llm"),
	}
}

// Generate produces an analysis for the prompt in req, keyed by fp for
// caching. Identical fingerprints within the cache TTL return the cached
// result without touching any provider.
func (e *Engine) Generate(ctx context.Context, fp cache.Fingerprint, req Request) (*GenerationResult, error) {
	if payload, ok := e.respCache.Get(ctx, fp); ok {
		var cached GenerationResult
		if err := json.Unmarshal([]byte(payload), &cached); err == nil && cached.RawText != "" {
			e.logger.Debug("generation cache hit", "fingerprint", string(fp))
			return &cached, nil
		}
	}

	if req.Temperature == nil {
		req.Temperature = Temp(e.cfg.Temperature)
	}

	attempt := func(ctx context.Context, name string) (string, error) {
		provider, ok := e.providers[name]
		if !ok {
			return "", fmt.Errorf("unknown provider %q", name)
		}
		text, err := provider.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		if text == "" {
			return "", fallback.ErrEmptyResult
		}
		return text, nil
	}

	chainCfg := fallback.Config{
		AttemptTimeout: e.cfg.AttemptTimeout,
		TotalBudget:    e.cfg.TotalBudget,
		MinRemaining:   e.cfg.MinRemaining,
	}
	rawText, winner, err := fallback.Run(ctx, chainCfg, e.order, attempt)
	if err != nil {
		var chainErr *fallback.ChainError
		if errors.As(err, &chainErr) {
			e.logger.Warn("all generation providers failed", "detail", chainErr.Error())
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, chainErr.Error())
		}
		return nil, err
	}

	result := e.extract(ctx, winner, rawText)

	if payload, err := json.Marshal(result); err == nil {
		if err := e.respCache.Put(ctx, fp, string(payload)); err != nil {
			e.logger.Debug("generation cache write failed", "error", err)
		}
	}

	return result, nil
}

// extract runs the structured-output validator over raw model text.
func (e *Engine) extract(ctx context.Context, winner, rawText string) *GenerationResult {
	result := &GenerationResult{RawText: rawText}

	block, found := FindStructuredBlock(rawText)
	if !found {
		// No structured block at all: heuristic extraction, never a repair.
		zones, levels := HeuristicExtract(rawText)
		result.Zones = zones
		result.Levels = levels
		e.logger.Info("no structured block, heuristic extraction",
			"zones", len(zones), "levels", len(levels))
		return result
	}

	payload, err := parsePayload(block)
	if err == nil {
		result.Zones = normalizeZones(payload.Zones)
		result.Levels = normalizeLevels(payload.Levels)
		result.Validated = true
		return result
	}

	e.logger.Warn("structured block failed validation, attempting repair", "error", err)
	payload, repairErr := e.repair(ctx, winner, block)
	if repairErr != nil {
		e.logger.Warn("repair pass failed, degrading to zero zones", "error", repairErr)
		result.Zones = nil
		result.Levels = nil
		return result
	}

	result.Zones = normalizeZones(payload.Zones)
	result.Levels = normalizeLevels(payload.Levels)
	result.Validated = true
	result.Repaired = true
	return result
}

// repair makes exactly one stricter, low-temperature call whose sole
// instruction is fixing the broken block.
func (e *Engine) repair(ctx context.Context, winner, block string) (*zonesPayload, error) {
	provider, ok := e.providers[winner]
	if !ok {
		return nil, fmt.Errorf("provider %q gone", winner)
	}

	repairCtx := ctx
	if e.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		repairCtx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()
	}

	text, err := provider.Complete(repairCtx, Request{
		SystemPrompt: SystemPromptRepair,
		UserPrompt:   BuildRepairPrompt(block),
		Temperature:  Temp(e.cfg.RepairTemperature),
	})
	if err != nil {
		return nil, fmt.Errorf("repair call failed: %w", err)
	}

	repaired := text
	if fenced, ok := FindStructuredBlock(text); ok {
		repaired = fenced
	} else if m := fenceRe.FindAllStringSubmatch(text, -1); len(m) > 0 {
		// Some models re-wrap the repaired JSON in a fence without the tag.
		repaired = strings.TrimSpace(m[len(m)-1][1])
	}
	return parsePayload(repaired)
}

// Package pipeline composes admission control, market data, generation and
// chart building into the analyze operation exposed to callers.
package pipeline

import (
	"context"
	"os"
	"time"

	"market-analyst-bot/internal/ai/llm"
	"market-analyst-bot/internal/cache"
	"market-analyst-bot/internal/chart"
	"market-analyst-bot/internal/marketdata"
	"market-analyst-bot/internal/quota"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Request is one analysis request from the front-end.
type Request struct {
	UserID      string `json:"user_id"`
	Market      string `json:"market"`
	Symbol      string `json:"symbol"`
	Timeframe   string `json:"timeframe"`
	Style       string `json:"style"`
	Risk        string `json:"risk"`
	NewsEnabled bool   `json:"news_enabled"`
	Privileged  bool   `json:"-"`
}

// Result is the caller-facing analysis payload.
type Result struct {
	JobID          string      `json:"job_id"`
	Text           string      `json:"text"`
	Zones          []llm.Zone  `json:"zones"`
	Levels         []llm.Level `json:"levels"`
	Validated      bool        `json:"validated"`
	Repaired       bool        `json:"repaired"`
	ChartRef       string      `json:"chart_ref,omitempty"`
	QuotaRemaining int         `json:"quota_remaining"` // -1 means unlimited
}

// Notifier receives job status pushes. The websocket hub implements it; a nil
// notifier disables pushes.
type Notifier interface {
	NotifyJob(job Job)
}

// Fetcher and Generator are the narrow views the analyzer needs; the concrete
// marketdata.Fetcher and llm.Engine satisfy them, tests swap in fakes.
type Fetcher interface {
	Fetch(ctx context.Context, market, symbol, timeframe string) ([]marketdata.Candle, error)
}

type Generator interface {
	Generate(ctx context.Context, fp cache.Fingerprint, req llm.Request) (*llm.GenerationResult, error)
}

type Admission interface {
	Check(ctx context.Context, userID string) (quota.Decision, error)
	Consume(ctx context.Context, userID string, n int) error
	Remaining(ctx context.Context, userID string) (int, error)
}

type Renderer interface {
	Render(ctx context.Context, spec chart.Spec) (string, error)
}

// Analyzer runs the full pipeline for one request at a time; concurrent
// requests share nothing but the Redis-backed cache and quota state.
type Analyzer struct {
	fetcher  Fetcher
	engine   Generator
	quota    Admission
	renderer Renderer
	jobs     *JobStore
	notifier Notifier
	log      zerolog.Logger

	summaryCandles int
	renderTimeout  time.Duration
}

// NewAnalyzer wires the pipeline. renderer, jobs and notifier may be nil.
func NewAnalyzer(fetcher Fetcher, engine Generator, admission Admission, renderer Renderer, jobs *JobStore, notifier Notifier) *Analyzer {
	return &Analyzer{
		fetcher:        fetcher,
		engine:         engine,
		quota:          admission,
		renderer:       renderer,
		jobs:           jobs,
		notifier:       notifier,
		log:            zerolog.New(os.Stdout).With().Timestamp().Str("component", "pipeline").Logger(),
		summaryCandles: 60,
		renderTimeout:  15 * time.Second,
	}
}

// Analyze executes admission check, data fetch, generation, chart build and
// finally quota consumption. Quota is consumed only after everything needed
// for a successful answer is in hand; a failed analysis never burns quota.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, *Error) {
	jobID := uuid.New().String()
	log := a.log.With().Str("job", jobID).Str("user", req.UserID).
		Str("symbol", req.Symbol).Str("timeframe", req.Timeframe).Logger()

	// Privileged callers carry the bypass in their token; everyone else goes
	// through the admission controller.
	if !req.Privileged {
		if _, err := a.quota.Check(ctx, req.UserID); err != nil {
			log.Info().Err(err).Msg("admission denied")
			return nil, wrapError(err)
		}
	}

	a.trackJob(ctx, Job{
		ID: jobID, UserID: req.UserID, Symbol: req.Symbol,
		Timeframe: req.Timeframe, Status: JobRunning, CreatedAt: time.Now().UTC(),
	})

	result, perr := a.run(ctx, jobID, req, log)
	if perr != nil {
		a.finishJob(ctx, jobID, req, JobFailed, string(perr.Code))
		return nil, perr
	}

	// Consumption commits only on success.
	if req.Privileged {
		result.QuotaRemaining = -1
	} else {
		if err := a.quota.Consume(ctx, req.UserID, 1); err != nil {
			log.Warn().Err(err).Msg("quota consume failed after successful analysis")
		}
		if remaining, err := a.quota.Remaining(ctx, req.UserID); err == nil {
			result.QuotaRemaining = remaining
		}
	}

	a.finishJob(ctx, jobID, req, JobDone, "")
	log.Info().Int("zones", len(result.Zones)).Bool("validated", result.Validated).
		Msg("analysis complete")
	return result, nil
}

func (a *Analyzer) run(ctx context.Context, jobID string, req Request, log zerolog.Logger) (*Result, *Error) {
	candles, err := a.fetcher.Fetch(ctx, req.Market, req.Symbol, req.Timeframe)
	if err != nil {
		log.Warn().Err(err).Msg("market data phase failed")
		return nil, wrapError(err)
	}

	summary := marketdata.Summarize(candles, a.summaryCandles)
	baseFP := cache.AnalysisFingerprint(req.Market, req.Symbol, req.Timeframe, req.Style, req.Risk, req.NewsEnabled)
	genFP := cache.GenerationFingerprint(baseFP, summary)

	genReq := llm.Request{
		SystemPrompt: llm.SystemPromptAnalysis,
		UserPrompt:   llm.BuildAnalysisPrompt(req.Symbol, req.Timeframe, req.Style, req.Risk, summary, req.NewsEnabled),
	}
	gen, err := a.engine.Generate(ctx, genFP, genReq)
	if err != nil {
		log.Warn().Err(err).Msg("generation phase failed")
		return nil, wrapError(err)
	}

	spec := chart.BuildSpec(cache.NormalizeSymbol(req.Symbol), req.Timeframe, candles, gen.Zones, gen.Levels)

	result := &Result{
		JobID:     jobID,
		Text:      gen.RawText,
		Zones:     gen.Zones,
		Levels:    gen.Levels,
		Validated: gen.Validated,
		Repaired:  gen.Repaired,
	}

	// Chart rendering is fire-and-forget relative to correctness, but the
	// image reference is worth a short synchronous wait when the service is
	// configured; a failure only omits the image.
	if a.renderer != nil {
		renderCtx, cancel := context.WithTimeout(ctx, a.renderTimeout)
		ref, rerr := a.renderer.Render(renderCtx, spec)
		cancel()
		if rerr != nil {
			log.Warn().Err(rerr).Msg("chart render failed, returning analysis without image")
		} else {
			result.ChartRef = ref
		}
	}

	return result, nil
}

// trackJob and finishJob are detached bookkeeping; their errors are swallowed.
func (a *Analyzer) trackJob(ctx context.Context, job Job) {
	if a.jobs != nil {
		if err := a.jobs.Put(ctx, job); err != nil {
			a.log.Debug().Err(err).Msg("job bookkeeping write failed")
		}
	}
	if a.notifier != nil {
		a.notifier.NotifyJob(job)
	}
}

func (a *Analyzer) finishJob(ctx context.Context, jobID string, req Request, status, errCode string) {
	job := Job{
		ID: jobID, UserID: req.UserID, Symbol: req.Symbol,
		Timeframe: req.Timeframe, Status: status, Error: errCode,
	}
	a.trackJob(ctx, job)
}

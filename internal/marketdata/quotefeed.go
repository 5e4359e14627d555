package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"market-analyst-bot/internal/cache"
)

// QuoteFeedProvider is the last-resort generic candle feed. It speaks a plain
// JSON contract (array of objects with t/o/h/l/c/v fields) against whatever
// base URL is configured, typically an in-house proxy in front of a paid feed.
type QuoteFeedProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewQuoteFeedProvider creates a quote feed provider for the given base URL.
func NewQuoteFeedProvider(baseURL string) *QuoteFeedProvider {
	return &QuoteFeedProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *QuoteFeedProvider) Name() string { return "quotefeed" }

type feedCandle struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

func (p *QuoteFeedProvider) Candles(ctx context.Context, req Request) ([]Candle, error) {
	if p.baseURL == "" {
		return nil, fmt.Errorf("quote feed base URL not configured")
	}

	interval, err := mapInterval(req.Timeframe)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", cache.NormalizeSymbol(req.Symbol))
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(req.Limit))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/candles?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error fetching candles: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote feed error (%d): %s", resp.StatusCode, string(body))
	}

	var rows []feedCandle
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("error parsing candles: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	candles := make([]Candle, 0, len(rows))
	for _, r := range rows {
		candles = append(candles, Candle{
			Timestamp: r.T, Open: r.O, High: r.H, Low: r.L, Close: r.C, Volume: r.V,
		})
	}
	return NormalizeSeries(candles), nil
}

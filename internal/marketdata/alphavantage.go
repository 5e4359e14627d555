package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"market-analyst-bot/internal/cache"
)

// AlphaVantageProvider fetches intraday series from the Alpha Vantage API.
// It covers the stocks and forex markets the crypto-centric providers cannot.
type AlphaVantageProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewAlphaVantageProvider creates an Alpha Vantage provider.
func NewAlphaVantageProvider(apiKey string) *AlphaVantageProvider {
	return &AlphaVantageProvider{
		baseURL:    "https://www.alphavantage.co/query",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *AlphaVantageProvider) Name() string { return "alphavantage" }

type avBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// Candles fetches an intraday time series. Alpha Vantage keys bars by
// timestamp string inside a function-specific envelope.
func (p *AlphaVantageProvider) Candles(ctx context.Context, req Request) ([]Candle, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("alphavantage API key not configured")
	}

	interval, err := avInterval(req.Timeframe)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("function", "TIME_SERIES_INTRADAY")
	params.Set("symbol", cache.NormalizeSymbol(req.Symbol))
	params.Set("interval", interval)
	params.Set("outputsize", "full")
	params.Set("apikey", p.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error fetching series: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alphavantage API error (%d): %s", resp.StatusCode, string(body))
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("error parsing response: %w", err)
	}
	if msg, ok := envelope["Error Message"]; ok {
		return nil, fmt.Errorf("alphavantage rejected request: %s", string(msg))
	}
	if msg, ok := envelope["Note"]; ok {
		return nil, fmt.Errorf("alphavantage rate limited: %s", string(msg))
	}

	seriesKey := fmt.Sprintf("Time Series (%s)", interval)
	raw, ok := envelope[seriesKey]
	if !ok {
		return nil, fmt.Errorf("missing %q in response", seriesKey)
	}

	var bars map[string]avBar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("error parsing time series: %w", err)
	}
	if len(bars) == 0 {
		return nil, ErrNoRows
	}

	stamps := make([]string, 0, len(bars))
	for ts := range bars {
		stamps = append(stamps, ts)
	}
	sort.Strings(stamps)

	candles := make([]Candle, 0, len(stamps))
	for _, ts := range stamps {
		t, err := time.Parse("2006-01-02 15:04:05", ts)
		if err != nil {
			return nil, fmt.Errorf("malformed bar timestamp %q: %w", ts, err)
		}
		bar := bars[ts]
		candles = append(candles, Candle{
			Timestamp: t.UnixMilli(),
			Open:      mustFloat(bar.Open),
			High:      mustFloat(bar.High),
			Low:       mustFloat(bar.Low),
			Close:     mustFloat(bar.Close),
			Volume:    mustFloat(bar.Volume),
		})
	}

	series := NormalizeSeries(candles)
	if req.Limit > 0 && len(series) > req.Limit {
		series = series[len(series)-req.Limit:]
	}
	return series, nil
}

func avInterval(timeframe string) (string, error) {
	switch timeframe {
	case "M1", "1m":
		return "1min", nil
	case "M5", "5m":
		return "5min", nil
	case "M15", "15m":
		return "15min", nil
	case "M30", "30m":
		return "30min", nil
	case "H1", "1h", "H4", "4h", "D1", "1d":
		// 60min is the coarsest intraday resolution the API offers.
		return "60min", nil
	default:
		return "", fmt.Errorf("unsupported timeframe %q", timeframe)
	}
}

func mustFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

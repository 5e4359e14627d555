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

// BinanceProvider fetches klines from the Binance spot REST API.
type BinanceProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewBinanceProvider creates a Binance provider. An empty baseURL uses the
// public endpoint.
func NewBinanceProvider(baseURL string) *BinanceProvider {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &BinanceProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *BinanceProvider) Name() string { return "binance" }

// Candles fetches candlestick data. Binance returns klines as positional
// arrays of mixed strings and numbers.
func (p *BinanceProvider) Candles(ctx context.Context, req Request) ([]Candle, error) {
	interval, err := mapInterval(req.Timeframe)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", cache.NormalizeSymbol(req.Symbol))
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(req.Limit))

	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", p.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance API error (%d): %s", resp.StatusCode, string(body))
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}
	if len(rawKlines) == 0 {
		return nil, ErrNoRows
	}

	candles := make([]Candle, 0, len(rawKlines))
	for _, raw := range rawKlines {
		if len(raw) < 6 {
			return nil, fmt.Errorf("malformed kline row with %d fields", len(raw))
		}
		ts, ok := raw[0].(float64)
		if !ok {
			return nil, fmt.Errorf("malformed kline open time %v", raw[0])
		}
		candles = append(candles, Candle{
			Timestamp: int64(ts),
			Open:      parseFloat(raw[1]),
			High:      parseFloat(raw[2]),
			Low:       parseFloat(raw[3]),
			Close:     parseFloat(raw[4]),
			Volume:    parseFloat(raw[5]),
		})
	}

	return NormalizeSeries(candles), nil
}

func parseFloat(v interface{}) float64 {
	switch val := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	case float64:
		return val
	default:
		return 0
	}
}

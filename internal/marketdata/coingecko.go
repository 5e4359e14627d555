package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"market-analyst-bot/internal/cache"
)

// CoinGeckoProvider fetches OHLC data from the CoinGecko API. It serves as an
// aggregator fallback when exchange-direct data is unavailable. CoinGecko has
// no per-interval endpoint; granularity is chosen by the requested day span.
type CoinGeckoProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	symbolMap  map[string]string // normalized pair -> coin id
}

// NewCoinGeckoProvider creates a CoinGecko provider. The API key is optional
// for the free tier.
func NewCoinGeckoProvider(apiKey string) *CoinGeckoProvider {
	return &CoinGeckoProvider{
		baseURL:    "https://api.coingecko.com/api/v3",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		symbolMap:  defaultCoinIDs(),
	}
}

func (p *CoinGeckoProvider) Name() string { return "coingecko" }

// Candles fetches OHLC rows. CoinGecko returns [[ts, o, h, l, c], ...] with
// no volume.
func (p *CoinGeckoProvider) Candles(ctx context.Context, req Request) ([]Candle, error) {
	coinID, err := p.coinID(req.Symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("days", daysForTimeframe(req.Timeframe))
	if p.apiKey != "" {
		params.Set("x_cg_demo_api_key", p.apiKey)
	}

	endpoint := fmt.Sprintf("%s/coins/%s/ohlc?%s", p.baseURL, coinID, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error fetching ohlc: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko API error (%d): %s", resp.StatusCode, string(body))
	}

	var rows [][]float64
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("error parsing ohlc: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("malformed ohlc row with %d fields", len(row))
		}
		candles = append(candles, Candle{
			Timestamp: int64(row[0]),
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
		})
	}

	series := NormalizeSeries(candles)
	if req.Limit > 0 && len(series) > req.Limit {
		series = series[len(series)-req.Limit:]
	}
	return series, nil
}

func (p *CoinGeckoProvider) coinID(symbol string) (string, error) {
	norm := cache.NormalizeSymbol(symbol)
	// Strip the quote currency; CoinGecko addresses coins, not pairs.
	for _, quote := range []string{"USDT", "USDC", "USD", "BTC", "EUR"} {
		if strings.HasSuffix(norm, quote) && len(norm) > len(quote) {
			norm = strings.TrimSuffix(norm, quote)
			break
		}
	}
	if id, ok := p.symbolMap[norm]; ok {
		return id, nil
	}
	return "", fmt.Errorf("no coingecko id mapping for symbol %q", symbol)
}

func daysForTimeframe(timeframe string) string {
	switch timeframe {
	case "M1", "M5", "M15", "M30", "1m", "5m", "15m", "30m":
		return "1"
	case "H1", "H2", "1h", "2h":
		return "7"
	case "H4", "H12", "4h", "12h":
		return "30"
	default:
		return "90"
	}
}

func defaultCoinIDs() map[string]string {
	return map[string]string{
		"BTC":   "bitcoin",
		"ETH":   "ethereum",
		"BNB":   "binancecoin",
		"SOL":   "solana",
		"XRP":   "ripple",
		"ADA":   "cardano",
		"DOGE":  "dogecoin",
		"DOT":   "polkadot",
		"AVAX":  "avalanche-2",
		"LINK":  "chainlink",
		"MATIC": "matic-network",
		"LTC":   "litecoin",
		"ATOM":  "cosmos",
		"UNI":   "uniswap",
		"NEAR":  "near",
	}
}

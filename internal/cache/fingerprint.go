package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint is a deterministic key derived from request parameters. Identical
// fingerprints within the cache TTL must yield identical output without
// re-invoking any provider, so it doubles as an idempotency key.
type Fingerprint string

// AnalysisFingerprint derives the fingerprint for a market-data request.
// The symbol is normalized so "btc/usdt" and "BTCUSDT" collapse to one key.
func AnalysisFingerprint(market, symbol, timeframe, style, risk string, newsEnabled bool) Fingerprint {
	news := "0"
	if newsEnabled {
		news = "1"
	}
	parts := []string{
		strings.ToLower(market),
		NormalizeSymbol(symbol),
		strings.ToLower(timeframe),
		strings.ToLower(style),
		strings.ToLower(risk),
		news,
	}
	return Fingerprint(hashString(strings.Join(parts, "|")))
}

// GenerationFingerprint extends an analysis fingerprint with a hash of the
// candle-derived summary, so generation results are only reused while the
// underlying data is unchanged.
func GenerationFingerprint(base Fingerprint, candleSummary string) Fingerprint {
	return Fingerprint(hashString(string(base) + "|" + hashString(candleSummary)))
}

// NormalizeSymbol upper-cases a symbol and strips separators.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("/", "", "-", "", "_", "", " ", "").Replace(s)
	return s
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

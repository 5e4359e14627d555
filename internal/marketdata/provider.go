package marketdata

import (
	"context"
	"errors"
	"fmt"
)

// Request identifies a candle series to fetch. Symbol may arrive in any user
// spelling; each provider owns its own normalization and interval mapping.
type Request struct {
	Market    string // "crypto", "forex", "stocks"
	Symbol    string
	Timeframe string // "M15", "H1", "H4", "D1" or native like "4h"
	Limit     int
}

// Provider is one upstream candle source. Implementations must return a typed
// failure on non-2xx status, malformed payloads or zero rows; they never
// return a parse-able but empty series as success.
type Provider interface {
	Name() string
	Candles(ctx context.Context, req Request) ([]Candle, error)
}

// ErrNoRows indicates a provider answered but had no candles for the request.
var ErrNoRows = errors.New("provider returned zero rows")

// canonical interval tokens -> exchange-style intervals
var intervalAliases = map[string]string{
	"M1": "1m", "M5": "5m", "M15": "15m", "M30": "30m",
	"H1": "1h", "H2": "2h", "H4": "4h", "H12": "12h",
	"D1": "1d", "W1": "1w",
}

// mapInterval converts a spec timeframe token (H4) or a native interval (4h)
// into the exchange-style form. Unknown tokens error so a typo cannot
// silently fetch the wrong resolution.
func mapInterval(timeframe string) (string, error) {
	if v, ok := intervalAliases[timeframe]; ok {
		return v, nil
	}
	for _, native := range intervalAliases {
		if native == timeframe {
			return timeframe, nil
		}
	}
	return "", fmt.Errorf("unsupported timeframe %q", timeframe)
}

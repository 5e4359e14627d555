// Package marketdata fetches and normalizes candle series from an ordered
// chain of upstream providers, with fingerprint-based response caching.
package marketdata

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Candle is the common candlestick shape every provider normalizes into.
// Timestamp is milliseconds since epoch. Series are ordered ascending with no
// duplicate timestamps.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume,omitempty"`
}

// Valid reports whether the candle's OHLC values are finite and positive.
func (c Candle) Valid() bool {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return !math.IsNaN(c.Volume) && !math.IsInf(c.Volume, 0)
}

// NormalizeSeries sorts a series ascending, drops duplicate timestamps (first
// wins) and rejects candles with non-finite values.
func NormalizeSeries(candles []Candle) []Candle {
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if c.Valid() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })

	dedup := out[:0]
	var last int64 = -1
	for _, c := range out {
		if c.Timestamp == last {
			continue
		}
		dedup = append(dedup, c)
		last = c.Timestamp
	}
	return dedup
}

// Summarize renders a compact text summary of the last candles, suitable for
// prompt building and for deriving the generation fingerprint.
func Summarize(candles []Candle, max int) string {
	if len(candles) == 0 {
		return "no data"
	}
	start := 0
	if len(candles) > max {
		start = len(candles) - max
	}
	var b strings.Builder
	for _, c := range candles[start:] {
		fmt.Fprintf(&b, "%d O:%.8g H:%.8g L:%.8g C:%.8g V:%.6g\n",
			c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	last := candles[len(candles)-1]
	lo, hi := candles[start].Low, candles[start].High
	for _, c := range candles[start:] {
		if c.Low < lo {
			lo = c.Low
		}
		if c.High > hi {
			hi = c.High
		}
	}
	fmt.Fprintf(&b, "last_close:%.8g range_low:%.8g range_high:%.8g count:%d\n",
		last.Close, lo, hi, len(candles)-start)
	return b.String()
}

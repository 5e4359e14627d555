// Package chart turns candles plus validated zones/levels into a declarative
// chart specification for the external rendering service. Building the spec
// is pure and deterministic; only submission touches the network.
package chart

import (
	"math"
	"strings"

	"market-analyst-bot/internal/ai/llm"
	"market-analyst-bot/internal/marketdata"
)

// Annotation types.
const (
	AnnotationZoneBox   = "zone-box"
	AnnotationLevelLine = "level-line"
)

// Colors keyed by zone kind and level role.
const (
	colorDemand = "#2e7d32"
	colorSupply = "#c62828"
	colorEntry  = "#1565c0"
	colorStop   = "#e65100"
	colorTarget = "#2e7d32"
	colorOther  = "#616161"
)

// Annotation is one drawable element. Zone boxes use the full time/price
// rectangle; level lines use only PriceLow as the line's y.
type Annotation struct {
	Type      string  `json:"type"`
	Label     string  `json:"label"`
	Color     string  `json:"color"`
	TimeStart int64   `json:"time_start"`
	TimeEnd   int64   `json:"time_end"`
	PriceLow  float64 `json:"price_low"`
	PriceHigh float64 `json:"price_high,omitempty"`
}

// Spec is the declarative chart specification. It is stateless and recomputed
// every request.
type Spec struct {
	Symbol      string              `json:"symbol"`
	Timeframe   string              `json:"timeframe"`
	Series      []marketdata.Candle `json:"series"`
	Annotations []Annotation        `json:"annotations"`
}

// maxSeries bounds how many candles go onto a chart.
const maxSeries = 120

// BuildSpec builds the chart spec from the last candles and the extracted
// zones/levels. Zone boxes are clipped to the candle time range; prices are
// rounded to a precision proportional to magnitude.
func BuildSpec(symbol, timeframe string, candles []marketdata.Candle, zones []llm.Zone, levels []llm.Level) Spec {
	if len(candles) > maxSeries {
		candles = candles[len(candles)-maxSeries:]
	}

	spec := Spec{
		Symbol:    symbol,
		Timeframe: timeframe,
		Series:    candles,
	}
	if len(candles) == 0 {
		return spec
	}

	tStart := candles[0].Timestamp
	tEnd := candles[len(candles)-1].Timestamp
	ref := candles[len(candles)-1].Close

	for _, z := range zones {
		color := colorSupply
		if z.Kind == llm.ZoneDemand {
			color = colorDemand
		}
		spec.Annotations = append(spec.Annotations, Annotation{
			Type:      AnnotationZoneBox,
			Label:     z.Label,
			Color:     color,
			TimeStart: tStart,
			TimeEnd:   tEnd,
			PriceLow:  RoundPrice(z.PriceLow, ref),
			PriceHigh: RoundPrice(z.PriceHigh, ref),
		})
	}

	for _, l := range levels {
		spec.Annotations = append(spec.Annotations, Annotation{
			Type:      AnnotationLevelLine,
			Label:     l.Label,
			Color:     levelColor(l.Label),
			TimeStart: tStart,
			TimeEnd:   tEnd,
			PriceLow:  RoundPrice(l.Price, ref),
		})
	}

	return spec
}

// levelColor infers a semantic role from the level label.
func levelColor(label string) string {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "stop") || strings.Contains(l, "sl"):
		return colorStop
	case strings.Contains(l, "entry"):
		return colorEntry
	case strings.Contains(l, "target") || strings.Contains(l, "tp") || strings.Contains(l, "profit"):
		return colorTarget
	default:
		return colorOther
	}
}

// RoundPrice rounds a price to a precision proportional to the reference
// magnitude: sub-$10 assets keep more decimals than large-cap prices.
func RoundPrice(price, reference float64) float64 {
	decimals := decimalsFor(reference)
	scale := math.Pow10(decimals)
	return math.Round(price*scale) / scale
}

func decimalsFor(reference float64) int {
	switch {
	case reference >= 1000:
		return 1
	case reference >= 100:
		return 2
	case reference >= 10:
		return 3
	case reference >= 1:
		return 4
	case reference >= 0.01:
		return 6
	default:
		return 8
	}
}

package chart

import (
	"testing"

	"market-analyst-bot/internal/ai/llm"
	"market-analyst-bot/internal/marketdata"
)

func conf(v float64) *float64 { return &v }

func makeCandles(n int, base float64) []marketdata.Candle {
	candles := make([]marketdata.Candle, n)
	for i := range candles {
		candles[i] = marketdata.Candle{
			Timestamp: int64(1700000000000 + i*14400000),
			Open:      base,
			High:      base * 1.02,
			Low:       base * 0.98,
			Close:     base * 1.01,
			Volume:    100,
		}
	}
	return candles
}

func TestBuildSpecBoxesAndLines(t *testing.T) {
	candles := makeCandles(120, 62000)
	zones := []llm.Zone{
		{Kind: llm.ZoneDemand, PriceLow: 61000, PriceHigh: 61500, Label: "demand", Confidence: conf(0.8)},
		{Kind: llm.ZoneSupply, PriceLow: 64000, PriceHigh: 64800, Label: "supply", Confidence: conf(0.7)},
		{Kind: llm.ZoneDemand, PriceLow: 58000, PriceHigh: 58900, Label: "deep demand", Confidence: conf(0.5)},
	}
	levels := []llm.Level{
		{Label: "entry", Price: 61600},
		{Label: "stop", Price: 60900},
		{Label: "target", Price: 64900},
	}

	spec := BuildSpec("BTCUSDT", "H4", candles, zones, levels)

	if len(spec.Series) != 120 {
		t.Errorf("series = %d candles, want 120", len(spec.Series))
	}
	var boxes, lines int
	for _, a := range spec.Annotations {
		switch a.Type {
		case AnnotationZoneBox:
			boxes++
		case AnnotationLevelLine:
			lines++
		}
	}
	if boxes != 3 || lines != 3 {
		t.Errorf("annotations = %d boxes / %d lines, want 3/3", boxes, lines)
	}

	tStart := candles[0].Timestamp
	tEnd := candles[len(candles)-1].Timestamp
	for _, a := range spec.Annotations {
		if a.TimeStart != tStart || a.TimeEnd != tEnd {
			t.Errorf("annotation %q not clipped to candle range: [%d, %d]", a.Label, a.TimeStart, a.TimeEnd)
		}
	}
}

func TestBuildSpecColorsByKindAndRole(t *testing.T) {
	candles := makeCandles(30, 100)
	spec := BuildSpec("ETHUSDT", "H1", candles,
		[]llm.Zone{
			{Kind: llm.ZoneDemand, PriceLow: 95, PriceHigh: 97, Label: "d"},
			{Kind: llm.ZoneSupply, PriceLow: 105, PriceHigh: 107, Label: "s"},
		},
		[]llm.Level{
			{Label: "stop loss", Price: 94},
			{Label: "entry", Price: 98},
			{Label: "take profit", Price: 108},
			{Label: "pivot", Price: 101},
		})

	colorByLabel := map[string]string{}
	for _, a := range spec.Annotations {
		colorByLabel[a.Label] = a.Color
	}
	if colorByLabel["d"] != colorDemand || colorByLabel["s"] != colorSupply {
		t.Errorf("zone colors wrong: %v", colorByLabel)
	}
	if colorByLabel["stop loss"] != colorStop {
		t.Errorf("stop level color = %s", colorByLabel["stop loss"])
	}
	if colorByLabel["entry"] != colorEntry {
		t.Errorf("entry level color = %s", colorByLabel["entry"])
	}
	if colorByLabel["take profit"] != colorTarget {
		t.Errorf("target level color = %s", colorByLabel["take profit"])
	}
	if colorByLabel["pivot"] != colorOther {
		t.Errorf("unrecognized label should get the neutral color, got %s", colorByLabel["pivot"])
	}
}

func TestBuildSpecTruncatesLongSeries(t *testing.T) {
	spec := BuildSpec("BTCUSDT", "H4", makeCandles(500, 62000), nil, nil)
	if len(spec.Series) != maxSeries {
		t.Errorf("series = %d, want truncation to %d", len(spec.Series), maxSeries)
	}
	// The kept window must be the most recent candles.
	if spec.Series[0].Timestamp <= 1700000000000 {
		t.Error("truncation should drop the oldest candles")
	}
}

func TestBuildSpecDeterministic(t *testing.T) {
	candles := makeCandles(50, 3.5)
	zones := []llm.Zone{{Kind: llm.ZoneDemand, PriceLow: 3.1234567, PriceHigh: 3.2, Label: "z"}}

	a := BuildSpec("ADAUSDT", "H1", candles, zones, nil)
	b := BuildSpec("ADAUSDT", "H1", candles, zones, nil)
	if len(a.Annotations) != len(b.Annotations) || a.Annotations[0] != b.Annotations[0] {
		t.Error("BuildSpec must be deterministic for identical inputs")
	}
}

func TestRoundPriceMagnitude(t *testing.T) {
	cases := []struct {
		price, ref, want float64
	}{
		{62123.456, 62000, 62123.5},
		{123.4567, 150, 123.46},
		{12.34567, 15, 12.346},
		{1.234567, 2, 1.2346},
		{0.1234567, 0.15, 0.123457},
		{0.00123456789, 0.001, 0.00123457},
	}
	for _, tc := range cases {
		if got := RoundPrice(tc.price, tc.ref); got != tc.want {
			t.Errorf("RoundPrice(%v, ref=%v) = %v, want %v", tc.price, tc.ref, got, tc.want)
		}
	}
}

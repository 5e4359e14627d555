package llm

import (
	"fmt"
	"strings"
	"testing"
)

func conf(v float64) *float64 { return &v }

func TestValidateZoneRejections(t *testing.T) {
	cases := []struct {
		name string
		zone Zone
	}{
		{"low equals high", Zone{Kind: ZoneDemand, PriceLow: 100, PriceHigh: 100}},
		{"low above high", Zone{Kind: ZoneDemand, PriceLow: 110, PriceHigh: 100}},
		{"bad kind", Zone{Kind: "other", PriceLow: 1, PriceHigh: 2}},
		{"negative low", Zone{Kind: ZoneSupply, PriceLow: -5, PriceHigh: 10}},
		{"zero low", Zone{Kind: ZoneSupply, PriceLow: 0, PriceHigh: 10}},
		{"confidence above one", Zone{Kind: ZoneDemand, PriceLow: 1, PriceHigh: 2, Confidence: conf(1.5)}},
		{"confidence below zero", Zone{Kind: ZoneDemand, PriceLow: 1, PriceHigh: 2, Confidence: conf(-0.1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateZone(tc.zone); err == nil {
				t.Errorf("expected rejection for %+v", tc.zone)
			}
		})
	}

	good := Zone{Kind: ZoneDemand, PriceLow: 100, PriceHigh: 110, Label: "hourly demand", Confidence: conf(0.7)}
	if err := validateZone(good); err != nil {
		t.Errorf("valid zone rejected: %v", err)
	}
}

func TestNormalizeZonesTruncatesToMax(t *testing.T) {
	var zones []Zone
	for i := 0; i < 9; i++ {
		zones = append(zones, Zone{
			Kind:       ZoneDemand,
			PriceLow:   float64(100 + i*50),
			PriceHigh:  float64(120 + i*50),
			Confidence: conf(float64(i) / 10),
		})
	}
	out := normalizeZones(zones)
	if len(out) != MaxZones {
		t.Fatalf("got %d zones, want truncation to %d", len(out), MaxZones)
	}
	// Highest confidence zones should survive the cut.
	if *out[0].Confidence != 0.8 {
		t.Errorf("expected highest-confidence zone first, got %v", *out[0].Confidence)
	}
}

func TestNormalizeZonesMergesNearIdenticalRanges(t *testing.T) {
	zones := []Zone{
		{Kind: ZoneDemand, PriceLow: 100, PriceHigh: 110, Confidence: conf(0.5), Label: "a"},
		{Kind: ZoneDemand, PriceLow: 101, PriceHigh: 111, Confidence: conf(0.9), Label: "b"},
		{Kind: ZoneSupply, PriceLow: 100, PriceHigh: 110, Confidence: conf(0.4), Label: "c"},
	}
	out := normalizeZones(zones)
	if len(out) != 2 {
		t.Fatalf("got %d zones, want 2 (same-kind overlap merged, other kind kept)", len(out))
	}
	merged := out[0]
	if merged.PriceLow != 100 || merged.PriceHigh != 111 {
		t.Errorf("merged bounds = [%v, %v], want [100, 111]", merged.PriceLow, merged.PriceHigh)
	}
	if merged.Label != "b" {
		t.Errorf("merge should keep the higher-confidence label, got %q", merged.Label)
	}
}

func TestNormalizeLevelsDedup(t *testing.T) {
	levels := []Level{
		{Label: "entry", Price: 100},
		{Label: "Entry", Price: 100},
		{Label: "entry", Price: 101},
		{Label: "stop", Price: -4},
	}
	out := normalizeLevels(levels)
	if len(out) != 2 {
		t.Fatalf("got %d levels, want 2 (case-insensitive dedupe, invalid dropped)", len(out))
	}
}

func TestParsePayload(t *testing.T) {
	block := fmt.Sprintf(`{"schema":%q,"zones":[{"kind":"demand","price_low":95,"price_high":98,"label":"d","confidence":0.8}],"levels":[{"label":"entry","price":99}]}`, SchemaVersion)
	payload, err := parsePayload(block)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(payload.Zones) != 1 || len(payload.Levels) != 1 {
		t.Errorf("payload = %+v", payload)
	}

	if _, err := parsePayload(strings.Replace(block, SchemaVersion, "zones.v0", 1)); err == nil {
		t.Error("wrong schema tag must fail validation")
	}
	if _, err := parsePayload(`{"schema":"zones.v1","zones":[],"levels":[]}`); err == nil {
		t.Error("payload with nothing drawable must fail validation")
	}
	if _, err := parsePayload(`{"schema":"zones.v1","zones":[{`); err == nil {
		t.Error("broken JSON must fail")
	}
}

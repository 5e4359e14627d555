package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// SchemaVersion tags the JSON block the model is asked to emit. Only blocks
// carrying this tag are treated as structured output.
const SchemaVersion = "zones.v1"

// MaxZones caps how many zones a single analysis may carry. Arrays beyond the
// cap are truncated, not rejected.
const MaxZones = 8

// ZoneKind classifies a price zone.
type ZoneKind string

const (
	ZoneDemand ZoneKind = "demand"
	ZoneSupply ZoneKind = "supply"
)

// Zone is a price-range annotation extracted from an analysis.
type Zone struct {
	Kind       ZoneKind `json:"kind"`
	PriceLow   float64  `json:"price_low"`
	PriceHigh  float64  `json:"price_high"`
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Level is a single-price annotation (entry, stop, target, ...).
type Level struct {
	Label string  `json:"label"`
	Price float64 `json:"price"`
}

// GenerationResult is what the engine hands downstream. Validated is true only
// when a schema-tagged JSON block passed validation (directly or after the
// repair pass); Repaired is true when that block came from the repair pass.
// Consumers must tolerate validated=false with zero zones — an analysis with
// nothing drawable is still a valid answer.
type GenerationResult struct {
	RawText   string  `json:"raw_text"`
	Zones     []Zone  `json:"zones"`
	Levels    []Level `json:"levels"`
	Validated bool    `json:"validated"`
	Repaired  bool    `json:"repaired"`
}

// zonesPayload is the wire shape of the schema-tagged block.
type zonesPayload struct {
	Schema string  `json:"schema"`
	Zones  []Zone  `json:"zones"`
	Levels []Level `json:"levels"`
}

// parsePayload unmarshals and validates a candidate block.
func parsePayload(block string) (*zonesPayload, error) {
	var payload zonesPayload
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := payload.validate(); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (p *zonesPayload) validate() error {
	if p.Schema != SchemaVersion {
		return fmt.Errorf("schema tag %q, want %q", p.Schema, SchemaVersion)
	}
	if len(p.Zones) == 0 && len(p.Levels) == 0 {
		return fmt.Errorf("payload carries no zones and no levels")
	}
	for i, z := range p.Zones {
		if err := validateZone(z); err != nil {
			return fmt.Errorf("zone %d: %w", i, err)
		}
	}
	for i, l := range p.Levels {
		if err := validateLevel(l); err != nil {
			return fmt.Errorf("level %d: %w", i, err)
		}
	}
	return nil
}

func validateZone(z Zone) error {
	if z.Kind != ZoneDemand && z.Kind != ZoneSupply {
		return fmt.Errorf("kind %q not in {demand, supply}", z.Kind)
	}
	if !finitePositive(z.PriceLow) || !finitePositive(z.PriceHigh) {
		return fmt.Errorf("prices must be finite and positive, got [%v, %v]", z.PriceLow, z.PriceHigh)
	}
	if z.PriceLow >= z.PriceHigh {
		return fmt.Errorf("price_low %v must be below price_high %v", z.PriceLow, z.PriceHigh)
	}
	if z.Confidence != nil && (*z.Confidence < 0 || *z.Confidence > 1) {
		return fmt.Errorf("confidence %v outside [0,1]", *z.Confidence)
	}
	return nil
}

func validateLevel(l Level) error {
	if !finitePositive(l.Price) {
		return fmt.Errorf("price must be finite and positive, got %v", l.Price)
	}
	return nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// normalizeZones merges near-identical ranges of the same kind, sorts by
// confidence (highest first, unscored last) and truncates to MaxZones.
func normalizeZones(zones []Zone) []Zone {
	merged := make([]Zone, 0, len(zones))
	for _, z := range zones {
		if validateZone(z) != nil {
			continue
		}
		absorbed := false
		for i := range merged {
			if merged[i].Kind == z.Kind && overlapRatio(merged[i], z) >= 0.8 {
				merged[i] = mergeZones(merged[i], z)
				absorbed = true
				break
			}
		}
		if !absorbed {
			merged = append(merged, z)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return confidenceOf(merged[i]) > confidenceOf(merged[j])
	})
	if len(merged) > MaxZones {
		merged = merged[:MaxZones]
	}
	return merged
}

// overlapRatio returns the shared span divided by the narrower zone's span.
func overlapRatio(a, b Zone) float64 {
	lo := math.Max(a.PriceLow, b.PriceLow)
	hi := math.Min(a.PriceHigh, b.PriceHigh)
	if hi <= lo {
		return 0
	}
	narrower := math.Min(a.PriceHigh-a.PriceLow, b.PriceHigh-b.PriceLow)
	if narrower <= 0 {
		return 0
	}
	return (hi - lo) / narrower
}

func mergeZones(a, b Zone) Zone {
	out := a
	out.PriceLow = math.Min(a.PriceLow, b.PriceLow)
	out.PriceHigh = math.Max(a.PriceHigh, b.PriceHigh)
	if confidenceOf(b) > confidenceOf(a) {
		out.Confidence = b.Confidence
		out.Label = b.Label
	}
	return out
}

func confidenceOf(z Zone) float64 {
	if z.Confidence == nil {
		return -1
	}
	return *z.Confidence
}

// normalizeLevels drops invalid levels and deduplicates by (label, price).
func normalizeLevels(levels []Level) []Level {
	seen := make(map[string]struct{}, len(levels))
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		if validateLevel(l) != nil {
			continue
		}
		key := fmt.Sprintf("%s|%.10g", strings.ToLower(strings.TrimSpace(l.Label)), l.Price)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}

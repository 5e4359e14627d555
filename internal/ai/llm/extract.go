package llm

import (
	"regexp"
	"strconv"
	"strings"
)

// fenceRe matches markdown code fences; models routinely wrap JSON in
// ```json blocks.
var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// FindStructuredBlock locates the last embedded JSON block that claims to be
// structured output. It returns the raw block even when the block turns out
// to be unparseable — "found but broken" is what triggers the repair pass,
// whereas "not found" routes to the heuristic extractor instead.
func FindStructuredBlock(text string) (string, bool) {
	fences := fenceRe.FindAllStringSubmatch(text, -1)
	for i := len(fences) - 1; i >= 0; i-- {
		block := strings.TrimSpace(fences[i][1])
		if strings.Contains(block, SchemaVersion) {
			return block, true
		}
	}

	idx := strings.LastIndex(text, SchemaVersion)
	if idx < 0 {
		return "", false
	}

	// Walk back to the opening brace of the object carrying the tag and try
	// to balance it forward.
	for start := idx; start >= 0; start-- {
		if text[start] != '{' {
			continue
		}
		if obj, ok := balancedObject(text, start); ok && start+len(obj) > idx {
			return obj, true
		}
	}
	// Tag present but braces never balance: hand the tail to the repair pass.
	if start := strings.LastIndex(text[:idx], "{"); start >= 0 {
		return text[start:], true
	}
	return "", false
}

func balancedObject(text string, start int) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// Heuristic extraction: when the model produced prose with no structured
// block at all, pattern-match role keywords and numeric ranges directly from
// the text. This is a named fallback strategy, never interleaved with the
// structured path, and never triggers a model call.

var (
	zoneKeywordRe = regexp.MustCompile(`(?i)\b(support|demand|buy|accumulation|resistance|supply|sell|distribution)`)
	priceRangeRe  = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:-|–|—|to|and)\s*(\d+(?:[.,]\d+)?)`)
	levelRe       = regexp.MustCompile(`(?i)\b(entry|stop[ -]?loss|stop|target|take[ -]?profit|tp|sl)\b[^\d\n]{0,40}?(\d+(?:[.,]\d+)?)`)
)

var demandKeywords = map[string]bool{
	"support": true, "demand": true, "buy": true, "accumulation": true,
}

// HeuristicExtract synthesizes zones and levels from free prose. Output goes
// through the same normalization as structured output, so invalid matches are
// dropped silently.
func HeuristicExtract(text string) ([]Zone, []Level) {
	keywords := zoneKeywordRe.FindAllStringSubmatchIndex(text, -1)

	var zones []Zone
	for _, rm := range priceRangeRe.FindAllStringSubmatchIndex(text, -1) {
		keyword, ok := nearestZoneKeyword(text, keywords, rm[0])
		if !ok {
			continue
		}
		lo := parseNum(text[rm[2]:rm[3]])
		hi := parseNum(text[rm[4]:rm[5]])
		if lo > hi {
			lo, hi = hi, lo
		}
		kind := ZoneSupply
		if demandKeywords[keyword] {
			kind = ZoneDemand
		}
		zones = append(zones, Zone{
			Kind:      kind,
			PriceLow:  lo,
			PriceHigh: hi,
			Label:     keyword,
		})
	}

	var levels []Level
	for _, m := range levelRe.FindAllStringSubmatch(text, -1) {
		levels = append(levels, Level{
			Label: canonicalLevelLabel(m[1]),
			Price: parseNum(m[2]),
		})
	}

	return normalizeZones(zones), normalizeLevels(levels)
}

// nearestZoneKeyword binds a price range to the closest role keyword that
// ends before the range starts. Only the nearest keyword counts: an earlier
// one must not reach across it, and the gap between the keyword and the
// range must stay short, on the same line, and free of other numbers.
func nearestZoneKeyword(text string, keywords [][]int, rangeStart int) (string, bool) {
	for i := len(keywords) - 1; i >= 0; i-- {
		end := keywords[i][1]
		if end > rangeStart {
			continue
		}
		if rangeStart-end > 60 {
			return "", false
		}
		if strings.ContainsAny(text[end:rangeStart], "\n0123456789") {
			return "", false
		}
		return strings.ToLower(text[keywords[i][0]:end]), true
	}
	return "", false
}

func canonicalLevelLabel(raw string) string {
	switch strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(raw, "-", ""), " ", "")) {
	case "stoploss", "stop", "sl":
		return "stop"
	case "takeprofit", "target", "tp":
		return "target"
	case "entry":
		return "entry"
	default:
		return strings.ToLower(raw)
	}
}

func parseNum(s string) float64 {
	// Tolerate a thousands comma only when a dot is also present.
	if strings.Contains(s, ",") && strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", "")
	} else {
		s = strings.ReplaceAll(s, ",", ".")
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

package llm

import (
	"fmt"
	"strings"
)

// SystemPromptAnalysis instructs the model to produce a readable analysis
// followed by a machine-checkable JSON block.
const SystemPromptAnalysis = `You are an expert technical analyst. You analyze candlestick data and
identify demand/supply zones and key price levels.

Respond with a concise written analysis first. Then append exactly one JSON
code block with this shape:

` + "```json" + `
{
  "schema": "zones.v1",
  "zones": [
    {"kind": "demand", "price_low": 0.0, "price_high": 0.0, "label": "", "confidence": 0.0}
  ],
  "levels": [
    {"label": "entry", "price": 0.0}
  ]
}
` + "```" + `

Rules:
- "kind" is "demand" or "supply", nothing else.
- price_low must be strictly below price_high, both positive.
- confidence is between 0 and 1.
- At most 8 zones.
- Level labels should be one of: entry, stop, target, or a short descriptive name.`

// SystemPromptRepair drives the one-shot repair pass. It asks for nothing but
// corrected JSON.
const SystemPromptRepair = `You repair malformed JSON. You will receive a broken JSON document that was
meant to match this schema:

{"schema": "zones.v1", "zones": [{"kind": "demand|supply", "price_low": number, "price_high": number, "label": string, "confidence": number 0..1}], "levels": [{"label": string, "price": number}]}

Output ONLY the corrected JSON object. No explanation, no code fences. Fix
structural problems, drop entries that cannot satisfy the schema (price_low
must be strictly below price_high, both positive), and keep everything else
unchanged.`

// BuildAnalysisPrompt assembles the user prompt from request parameters and
// the candle summary.
func BuildAnalysisPrompt(symbol, timeframe, style, risk, candleSummary string, newsEnabled bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze %s on the %s timeframe.\n", symbol, timeframe)
	if style != "" {
		fmt.Fprintf(&b, "Analysis style: %s.\n", style)
	}
	if risk != "" {
		fmt.Fprintf(&b, "Risk profile: %s.\n", risk)
	}
	if newsEnabled {
		b.WriteString("Factor in likely news/event risk for this asset.\n")
	}
	b.WriteString("\nRecent candles (timestamp OHLCV):\n")
	b.WriteString(candleSummary)
	b.WriteString("\nIdentify the most relevant demand and supply zones and key levels (entry, stop, target).")
	return b.String()
}

// BuildRepairPrompt wraps a broken block for the repair pass.
func BuildRepairPrompt(brokenBlock string) string {
	return "Repair this JSON to the schema:\n\n" + brokenBlock
}

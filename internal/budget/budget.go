package budget

import (
	"math"
	"regexp"
	"strings"
)

// EstimateTokensFromChars converts a character count into an estimated token
// count using a conservative heuristic (~4 chars per token), the same rule
// of thumb the Triage and Case Build prompt assemblers use to stay inside
// §4.D's prompt ceilings without a real tokenizer dependency.
func EstimateTokensFromChars(charCount int) int {
	if charCount <= 0 {
		return 0
	}
	return int(math.Ceil(float64(charCount) / 4.0))
}

// EstimateTokens returns the estimated token count of a string.
func EstimateTokens(s string) int {
	return EstimateTokensFromChars(len(s))
}

// EstimatePromptTokens estimates the total tokens for a prompt composed of
// a system message, a user message, and zero or more excerpts.
func EstimatePromptTokens(system string, user string, excerpts []string) int {
	total := EstimateTokens(system) + EstimateTokens(user)
	for _, ex := range excerpts {
		total += EstimateTokens(ex)
	}
	return total
}

// ModelContextTokens returns an estimated maximum context window for the
// LLMModel configured for Triage/Case Build. Unknown models fall back to a
// conservative default rather than risk silently oversized prompts.
func ModelContextTokens(modelName string) int {
	name := strings.ToLower(strings.TrimSpace(modelName))
	if name == "" {
		return 8192
	}
	if v, ok := knownModelMax[name]; ok {
		return v
	}
	switch {
	case hasNumberSuffix(name, "1m"):
		return 1_000_000
	case hasNumberSuffix(name, "512k"):
		return 512_000
	case hasNumberSuffix(name, "200k"):
		return 200_000
	case hasNumberSuffix(name, "128k"):
		return 128_000
	case strings.Contains(name, "-mini"):
		// Many "mini" models expose large contexts nowadays; assume 128k.
		return 128_000
	}
	return 8192
}

// RemainingContext computes the remaining input token budget given a model,
// a reservation for the model's output, and the estimated prompt tokens
// already spent. Never negative.
func RemainingContext(modelName string, reservedForOutput int, promptTokens int) int {
	maxCtx := ModelContextTokens(modelName)
	if reservedForOutput < 0 {
		reservedForOutput = 0
	}
	remaining := maxCtx - reservedForOutput - promptTokens
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FitsInContext reports whether a prompt of promptTokens fits into the
// model's context window alongside a reservedForOutput allowance — the
// check Triage and Case Build run before sending a Document's text to the
// LLM gateway (§4.D).
func FitsInContext(modelName string, reservedForOutput int, promptTokens int) bool {
	return RemainingContext(modelName, reservedForOutput, promptTokens) > 0
}

// HeadroomTokens returns a conservative safety headroom to subtract from the
// model context so that prompt sizing absorbs tokenizer and message-framing
// overhead the char-based estimate can't see: the larger of 5% of the
// model's context or a 512-token floor.
func HeadroomTokens(modelName string) int {
	max := ModelContextTokens(modelName)
	dyn := int(math.Ceil(float64(max) * 0.05))
	if dyn < 512 {
		return 512
	}
	return dyn
}

// RemainingContextWithHeadroom computes remaining tokens after accounting
// for output reservation, already-spent prompt tokens, and HeadroomTokens.
func RemainingContextWithHeadroom(modelName string, reservedForOutput int, promptTokens int) int {
	headroom := HeadroomTokens(modelName)
	return RemainingContext(modelName, reservedForOutput+headroom, promptTokens)
}

// knownModelMax lists context sizes for the OpenAI-compatible model names a
// watchdog deployment is likely to point LLM_MODEL at. Best-effort, not
// exhaustive — ModelContextTokens falls back to heuristics for the rest.
var knownModelMax = map[string]int{
	"gpt-4o":             128_000,
	"gpt-4o-mini":        128_000,
	"gpt-4-turbo":        128_000,
	"gpt-4-0125-preview": 128_000,
	"gpt-3.5-turbo":      16_384,

	"claude-3-5-sonnet": 200_000,
	"claude-3-opus":     200_000,
	"claude-3-sonnet":   200_000,
	"claude-3-haiku":    200_000,

	"llama-3":   8_192,
	"llama-3.1": 128_000,

	// Common self-hosted OpenAI-compatible backends; conservative unless
	// known otherwise.
	"openai/gpt-oss-20b": 4_096,
	"gpt-oss-20b":        4_096,
}

var suffixRe = regexp.MustCompile(`(?i)(\d+)(k|m)$`)

func hasNumberSuffix(s string, suffix string) bool {
	return strings.HasSuffix(s, strings.ToLower(suffix))
}

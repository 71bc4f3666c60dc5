package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/watchdog/internal/budget"
	"github.com/hyperifyio/watchdog/internal/cache"
	"github.com/hyperifyio/watchdog/internal/connector"
)

// maxTriagePromptTokens bounds the Triage pass's input per §4.D.
const maxTriagePromptTokens = 4000

// triageResponseReservedTokens reserves room for the Triage stage's JSON
// verdict when checking prompt fit against a model's context window.
const triageResponseReservedTokens = 256

// TriageInput is the bounded slice of a Document's text the Triage stage is
// allowed to see.
type TriageInput struct {
	Municipality string
	Body         string
	Title        string
	MeetingDate  string
	Headings     []string
	TextExcerpt  string // first 2000 chars, already truncated by the caller
}

// TriageResult is the Triage stage's strict-schema response (§4.D/§6).
type TriageResult struct {
	Categories      []string `json:"categories"`
	RelevanceScore  float64  `json:"relevance_score"`
	CandidateReason string   `json:"candidate_reason"`
}

// RelevanceThreshold is the score at or above which a Document proceeds to
// Case Build (§4.D).
const RelevanceThreshold = 0.5

// Triager runs the Triage (LLM pass 1) stage of §4.D.
type Triager struct {
	Client Client
	Cache  *cache.LLMCache
	Model  string
}

// ShouldSkip applies the deterministic keyword pre-filter before spending a
// model call: zero keyword matches and a body not on the monitored
// committee allow-list short-circuits straight to "processed" with no
// candidate (§4.D).
func ShouldSkip(in TriageInput, monitoredBodies map[string]bool) bool {
	haystack := in.Title + " " + in.Body + " " + in.TextExcerpt
	if connector.MatchesTriageKeywords(haystack) {
		return false
	}
	return !monitoredBodies[in.Body]
}

// Triage assembles a bounded prompt and requests a structured relevance
// verdict, consulting the LLM cache before spending a call (§4.D).
func (t *Triager) Triage(ctx context.Context, in TriageInput) (TriageResult, int, error) {
	sys := triageSystemPrompt()
	user := triageUserMessage(in)

	// Bound the prompt by the tighter of the fixed §4.D ceiling and the
	// model's actual context window (minus a reservation for the JSON
	// verdict and a safety headroom), so a smaller-context model than
	// assumed never gets an oversized prompt.
	sysTokens := budget.EstimateTokens(sys)
	budgetTokens := maxTriagePromptTokens
	if avail := budget.RemainingContextWithHeadroom(t.Model, triageResponseReservedTokens, 0); avail > 0 && avail < budgetTokens {
		budgetTokens = avail
	}
	if sysTokens+budget.EstimateTokens(user) > budgetTokens {
		user = truncateToTokenBudget(user, budgetTokens-sysTokens)
	}

	key := cache.KeyFrom(t.Model, sys+"\n\n"+user)
	if t.Cache != nil {
		if raw, ok, _ := t.Cache.Get(ctx, key); ok {
			var res TriageResult
			if err := json.Unmarshal(raw, &res); err == nil {
				return res, 0, nil
			}
		}
	}

	const maxAttempts = 2
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := t.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: t.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: sys},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			Temperature: 0,
			N:           1,
		})
		if err != nil {
			lastErr = fmt.Errorf("triage: chat completion: %w", err)
			continue
		}
		totalTokens := resp.Usage.TotalTokens
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("triage: empty response")
			continue
		}
		raw := strings.TrimSpace(resp.Choices[0].Message.Content)
		var res TriageResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			lastErr = fmt.Errorf("triage: parse response: %w", err)
			continue
		}
		if t.Cache != nil {
			if b, err := json.Marshal(res); err == nil {
				_ = t.Cache.Save(ctx, key, b)
			}
		}
		return res, totalTokens, nil
	}
	return TriageResult{}, 0, lastErr
}

func triageSystemPrompt() string {
	return "You are an environmental-decision triage assistant for Finnish municipal documents. " +
		"Respond with strict JSON only: " +
		`{"categories":["zoning"|"permits_extraction"|"water_wetlands"|"industry_infrastructure", ...],"relevance_score":number between 0 and 1,"candidate_reason":string}. ` +
		"categories may be empty if nothing applies."
}

func triageUserMessage(in TriageInput) string {
	var sb strings.Builder
	sb.WriteString("Municipality: " + in.Municipality + "\n")
	sb.WriteString("Body: " + in.Body + "\n")
	sb.WriteString("Title: " + in.Title + "\n")
	if in.MeetingDate != "" {
		sb.WriteString("Meeting date: " + in.MeetingDate + "\n")
	}
	if len(in.Headings) > 0 {
		sb.WriteString("Headings: " + strings.Join(in.Headings, "; ") + "\n")
	}
	sb.WriteString("---\n")
	sb.WriteString(in.TextExcerpt)
	return sb.String()
}

// truncateToTokenBudget cuts s to fit within maxTokens (estimated), marking
// the cut with "[...]" the same way Case Build's truncation bookkeeping
// does.
func truncateToTokenBudget(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return "[...]"
	}
	maxChars := maxTokens * 4
	if len(s) <= maxChars {
		return s
	}
	return s[:maxChars] + "\n[...]"
}

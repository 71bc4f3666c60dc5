package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/watchdog/internal/budget"
	"github.com/hyperifyio/watchdog/internal/cache"
)

// maxCaseBuildPromptTokens bounds the Case Build pass's input per §4.D.
const maxCaseBuildPromptTokens = 8000

// caseBuildResponseReservedTokens reserves room for the Case Build stage's
// structured response (headline, summary, timeline, evidence) when checking
// prompt fit against a model's context window.
const caseBuildResponseReservedTokens = 1024

// CaseBuildInput is everything the Case Build stage may draw on for one
// candidate Document.
type CaseBuildInput struct {
	Municipality string
	Body         string
	Title        string
	MeetingDate  string
	Categories   []string
	Text         string
	SourceURL    string
}

// CaseBuildTimelineEvent is one entry of the strict schema's timeline[].
type CaseBuildTimelineEvent struct {
	EventType string `json:"event_type"`
	EventTime string `json:"event_time"`
}

// CaseBuildEvidence is one entry of the strict schema's evidence[].
type CaseBuildEvidence struct {
	Page      int    `json:"page"`
	Snippet   string `json:"snippet"`
	SourceURL string `json:"source_url"`
}

// CaseBuildResult is the Case Build stage's strict-schema response (§4.D).
type CaseBuildResult struct {
	Headline         string                   `json:"headline"`
	Summary          string                   `json:"summary"`
	Status           string                   `json:"status"`
	Timeline         []CaseBuildTimelineEvent  `json:"timeline"`
	Evidence         []CaseBuildEvidence       `json:"evidence"`
	Entities         []string                 `json:"entities"`
	Locations        []string                 `json:"locations"`
	Confidence       string                   `json:"confidence"`
	ConfidenceReason string                   `json:"confidence_reason"`
	Truncated        bool                     `json:"-"`
}

// CaseBuilder runs the Case Build (LLM pass 2) stage of §4.D.
type CaseBuilder struct {
	Client Client
	Cache  *cache.LLMCache
	Model  string
}

// Build assembles a bounded prompt, requests the strict-schema response,
// and returns it along with the total tokens billed for budget accounting.
func (b *CaseBuilder) Build(ctx context.Context, in CaseBuildInput) (CaseBuildResult, int, error) {
	sys := caseBuildSystemPrompt()

	// As with Triage, bound input text by the tighter of the fixed §4.D
	// ceiling and what the model's real context window can actually hold
	// once the response reservation and a safety headroom come out of it.
	sysTokens := budget.EstimateTokens(sys)
	textBudget := maxCaseBuildPromptTokens - sysTokens
	if avail := budget.RemainingContextWithHeadroom(b.Model, caseBuildResponseReservedTokens, sysTokens); avail > 0 && avail < textBudget {
		textBudget = avail
	}
	user, truncated := caseBuildUserMessage(in, textBudget)

	key := cache.KeyFrom(b.Model, sys+"\n\n"+user)
	if b.Cache != nil {
		if raw, ok, _ := b.Cache.Get(ctx, key); ok {
			var res CaseBuildResult
			if err := json.Unmarshal(raw, &res); err == nil {
				res.Truncated = truncated
				return res, 0, nil
			}
		}
	}

	const maxAttempts = 2
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := b.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: b.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: sys},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			Temperature: 0,
			N:           1,
		})
		if err != nil {
			lastErr = fmt.Errorf("casebuild: chat completion: %w", err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("casebuild: empty response")
			continue
		}
		totalTokens := resp.Usage.TotalTokens
		raw := strings.TrimSpace(resp.Choices[0].Message.Content)
		var res CaseBuildResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			lastErr = fmt.Errorf("casebuild: parse response: %w", err)
			continue
		}
		res.Truncated = truncated
		if b.Cache != nil {
			if out, err := json.Marshal(res); err == nil {
				_ = b.Cache.Save(ctx, key, out)
			}
		}
		return res, totalTokens, nil
	}
	return CaseBuildResult{}, 0, lastErr
}

func caseBuildSystemPrompt() string {
	return "You are a case-building assistant summarizing a Finnish municipal environmental decision. " +
		"Respond with strict JSON only matching: " +
		`{"headline":string,"summary":string,"status":"proposed"|"approved"|"unknown",` +
		`"timeline":[{"event_type":string,"event_time":string}],` +
		`"evidence":[{"page":number,"snippet":string,"source_url":string}],` +
		`"entities":[string],"locations":[string],"confidence":"high"|"medium"|"low","confidence_reason":string}.`
}

// caseBuildUserMessage renders in's text within the prompt token budget,
// truncating the excerpt with a "[...]" marker and reporting whether it
// truncated, mirroring the teacher's truncation bookkeeping.
func caseBuildUserMessage(in CaseBuildInput, maxTextTokens int) (string, bool) {
	var sb strings.Builder
	sb.WriteString("Municipality: " + in.Municipality + "\n")
	sb.WriteString("Body: " + in.Body + "\n")
	sb.WriteString("Title: " + in.Title + "\n")
	if in.MeetingDate != "" {
		sb.WriteString("Meeting date: " + in.MeetingDate + "\n")
	}
	if len(in.Categories) > 0 {
		sb.WriteString("Candidate categories: " + strings.Join(in.Categories, ", ") + "\n")
	}
	sb.WriteString("Source URL: " + in.SourceURL + "\n")
	sb.WriteString("---\n")

	text := in.Text
	truncated := false
	if maxTextTokens > 0 {
		maxChars := maxTextTokens * 4
		if len(text) > maxChars {
			text = text[:maxChars] + "\n[...]"
			truncated = true
		}
	}
	sb.WriteString(text)
	return sb.String(), truncated
}

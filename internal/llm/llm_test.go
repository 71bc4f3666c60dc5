package llm

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/watchdog/internal/cache"
)

// stubClient is a canned Client for exercising Triage/CaseBuild without
// a network call, the same stub-over-interface idiom the teacher's verifier
// tests use.
type stubClient struct {
	response string
	err      error
	calls    int
}

func (s *stubClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: s.response}}},
		Usage:   openai.Usage{TotalTokens: 42},
	}, nil
}

func TestTriage_ParsesStructuredResponse(t *testing.T) {
	client := &stubClient{response: `{"categories":["zoning"],"relevance_score":0.8,"candidate_reason":"asemakaava mainittu"}`}
	tr := &Triager{Client: client, Model: "gpt-4o-mini"}

	res, _, err := tr.Triage(context.Background(), TriageInput{Municipality: "Utsjoki", Body: "Ympäristölautakunta", Title: "Paatos", TextExcerpt: "asemakaavan muutos"})
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if res.RelevanceScore != 0.8 || len(res.Categories) != 1 || res.Categories[0] != "zoning" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTriage_CachesByPrompt(t *testing.T) {
	client := &stubClient{response: `{"categories":[],"relevance_score":0.1,"candidate_reason":"n/a"}`}
	tr := &Triager{Client: client, Model: "gpt-4o-mini", Cache: &cache.LLMCache{Dir: t.TempDir()}}

	in := TriageInput{Municipality: "Inari", Title: "Kuulutus", TextExcerpt: "meluilmoitus"}
	if _, _, err := tr.Triage(context.Background(), in); err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if _, _, err := tr.Triage(context.Background(), in); err != nil {
		t.Fatalf("Triage (cached): %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected the second call to be served from cache, got %d client calls", client.calls)
	}
}

func TestTriage_RetriesOnParseFailureThenErrors(t *testing.T) {
	client := &stubClient{response: "not json"}
	tr := &Triager{Client: client, Model: "gpt-4o-mini"}

	_, _, err := tr.Triage(context.Background(), TriageInput{Title: "x"})
	if err == nil {
		t.Fatalf("expected an error after exhausting retries")
	}
	if client.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", client.calls)
	}
}

func TestShouldSkip_NoKeywordsAndUnmonitoredBody(t *testing.T) {
	in := TriageInput{Body: "Tuntematon", Title: "jokin muu asia", TextExcerpt: "ei avainsanoja"}
	if !ShouldSkip(in, map[string]bool{"Kunnanhallitus": true}) {
		t.Fatalf("expected skip when no keywords match and body is unmonitored")
	}
}

func TestShouldSkip_KeywordMatchOverridesBody(t *testing.T) {
	in := TriageInput{Body: "Tuntematon", Title: "asemakaavan muutos"}
	if ShouldSkip(in, nil) {
		t.Fatalf("expected no skip when a triage keyword matches")
	}
}

func TestCaseBuild_ParsesStructuredResponse(t *testing.T) {
	resp := `{"headline":"Asemakaavan muutos","summary":"...","status":"proposed",
"timeline":[{"event_type":"approved","event_time":"2024-12-13T00:00:00Z"}],
"evidence":[{"page":1,"snippet":"...","source_url":"https://example.fi/a.pdf"}],
"entities":["Utsjoen kunta"],"locations":["Keskusta"],"confidence":"high","confidence_reason":"selkeä päätös"}`
	client := &stubClient{response: resp}
	cb := &CaseBuilder{Client: client, Model: "gpt-4o-mini"}

	res, tokens, err := cb.Build(context.Background(), CaseBuildInput{Municipality: "Utsjoki", Title: "Paatos", Text: "pitkä teksti"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Headline != "Asemakaavan muutos" || res.Confidence != "high" || tokens != 42 {
		t.Fatalf("unexpected result: %+v (tokens=%d)", res, tokens)
	}
}

func TestCaseBuild_TruncatesOverLongText(t *testing.T) {
	resp := `{"headline":"h","summary":"s","status":"unknown","entities":[],"locations":[],"confidence":"low","confidence_reason":"r"}`
	client := &stubClient{response: resp}
	cb := &CaseBuilder{Client: client, Model: "gpt-4o-mini"}

	longText := make([]byte, 200000)
	for i := range longText {
		longText[i] = 'a'
	}
	res, _, err := cb.Build(context.Background(), CaseBuildInput{Title: "t", Text: string(longText)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !res.Truncated {
		t.Fatalf("expected an over-long document to be marked truncated")
	}
}

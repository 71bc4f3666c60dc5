package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Client is the interface Triager and CaseBuilder call to run the Triage and
// Case Build LLM passes (§4.D). It mirrors openai.Client's
// CreateChatCompletion so any OpenAI-compatible backend — a local llama.cpp
// server behind LLM_BASE_URL included — can stand in for it in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ModelLister is an optional capability a Client may implement to list the
// models its backend actually serves, so watchdog can confirm LLM_MODEL is
// real before spending budget on a Document.
type ModelLister interface {
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// OpenAIProvider adapts *openai.Client to the Client/ModelLister interfaces.
type OpenAIProvider struct {
	Inner *openai.Client
}

func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return p.Inner.CreateChatCompletion(ctx, request)
}

func (p *OpenAIProvider) ListModels(ctx context.Context) (openai.ModelsList, error) {
	return p.Inner.ListModels(ctx)
}

// CheckModelAvailable reports whether modelName appears in client's served
// model list. Clients that don't implement ModelLister (a stub in tests, or
// a minimal OpenAI-compatible backend without a /models endpoint) are
// reported as unknown rather than failing — LLM_MODEL availability is a
// health signal, not a hard precondition for Triage/Case Build to run.
func CheckModelAvailable(ctx context.Context, client Client, modelName string) (available bool, known bool, err error) {
	lister, ok := client.(ModelLister)
	if !ok {
		return false, false, nil
	}
	models, err := lister.ListModels(ctx)
	if err != nil {
		return false, true, fmt.Errorf("list models: %w", err)
	}
	for _, m := range models.Models {
		if m.ID == modelName {
			return true, true, nil
		}
	}
	return false, true, nil
}

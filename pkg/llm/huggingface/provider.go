package huggingface

import (
	"context"
	"fmt"

	"knowledge-agent-be/pkg/llm"
	"knowledge-agent-be/pkg/llm/openai"
)

// DefaultRouterURL is the OpenAI-compatible inference router.
const DefaultRouterURL = "https://router.huggingface.co/v1"

// HuggingFaceProvider serves chat models through the inference router. The
// router speaks the OpenAI wire format, so requests go through the OpenAI
// client with a different base URL and provider-tagged errors.
type HuggingFaceProvider struct {
	inner *openai.OpenAIProvider
	model string
}

var _ llm.LLMProvider = &HuggingFaceProvider{}

func NewHuggingFaceProvider(apiKey, baseURL, model string) *HuggingFaceProvider {
	if baseURL == "" {
		baseURL = DefaultRouterURL
	}
	return &HuggingFaceProvider{
		inner: openai.NewOpenAIProvider(apiKey, baseURL, model),
		model: model,
	}
}

func (p *HuggingFaceProvider) Complete(ctx context.Context, history []llm.Message, options ...llm.Option) (*llm.Completion, error) {
	res, err := p.inner.Complete(ctx, history, options...)
	if err != nil {
		return nil, fmt.Errorf("huggingface %s: %w", p.model, err)
	}
	return res, nil
}

func (p *HuggingFaceProvider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	res, err := p.Complete(ctx, history, options...)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

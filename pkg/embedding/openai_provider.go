package embedding

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider generates embeddings through an OpenAI-compatible endpoint, truncated to Dimensions.
type OpenAIProvider struct {
	client *goopenai.Client
	Model  string
}

func NewOpenAIProvider(apiKey, baseURL, model string) EmbeddingProvider {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(goopenai.SmallEmbedding3)
	}
	return &OpenAIProvider{client: goopenai.NewClientWithConfig(cfg), Model: model}
}

func (p *OpenAIProvider) Generate(ctx context.Context, text string, taskType string) (*EmbeddingResponse, error) {
	resp, err := p.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input:      []string{text},
		Model:      goopenai.EmbeddingModel(p.Model),
		Dimensions: Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai returned no embedding")
	}
	return &EmbeddingResponse{
		Embedding: EmbeddingResponseEmbedding{Values: normalizeVector(resp.Data[0].Embedding)},
	}, nil
}

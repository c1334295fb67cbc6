package factory

import (
	"fmt"

	"knowledge-agent-be/pkg/llm"
	"knowledge-agent-be/pkg/llm/huggingface"
	"knowledge-agent-be/pkg/llm/ollama"
	"knowledge-agent-be/pkg/llm/openai"
)

type ProviderConfig struct {
	Provider string // "openai", "ollama" or "huggingface"
	Model    string
	BaseURL  string
	APIKey   string
}

func NewLLMProvider(cfg ProviderConfig) (llm.LLMProvider, error) {
	switch cfg.Provider {
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.NewOllamaProvider(baseURL, cfg.Model), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY")
		}
		return openai.NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case "huggingface":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("huggingface provider requires an API token")
		}
		return huggingface.NewHuggingFaceProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

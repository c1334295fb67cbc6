package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Keys     APIKeys
	Ai       AIConfig
	Agent    AgentConfig
}

type AppConfig struct {
	Port               string
	BaseURL            string
	Environment        string
	LogFilePath        string
	WsLogFilePath      string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	JwtSecret          string
}

type DatabaseConfig struct {
	Connection string
}

type APIKeys struct {
	OpenAI        string
	OpenAIBaseURL string
	HuggingFace   string
}

type AIConfig struct {
	EmbeddingProvider string // "openai" or "ollama"
	EmbeddingModel    string
	OllamaBaseURL     string
	OllamaModel       string // embedding model served by ollama
	LLMProvider       string // "openai", "ollama" or "huggingface"
	LLMModel          string
}

// AgentConfig holds the token budgets and feature switches of the turn orchestrator.
type AgentConfig struct {
	AutoCompactEnabled      bool
	CompactTriggerTokens    int
	CompactForceTokens      int
	CompactTargetTokens     int
	DocContextBudgetTokens  int
	ViewportExcerptMaxChars int
	TaskStateMachineEnabled bool
	TaskRegistryBackend     string // "memory" or "redis"
	HistoryLimit            int
	Temperature             float64
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			WsLogFilePath:      getEnv("WS_LOG_FILE_PATH", "logs/websocket.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			JwtSecret:          getEnv("JWT_SECRET", ""),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Keys: APIKeys{
			OpenAI:        getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			HuggingFace:   getEnv("HF_TOKEN", ""),
		},
		Ai: AIConfig{
			EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "ollama"),
			EmbeddingModel:    getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OllamaModel:       getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			LLMProvider:       getEnv("LLM_PROVIDER", "openai"),
			LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),
		},
		Agent: AgentConfig{
			AutoCompactEnabled:      getEnvAsBool("AUTO_COMPACT_ENABLED", true),
			CompactTriggerTokens:    getEnvAsInt("COMPACT_TRIGGER_TOKENS", 6000),
			CompactForceTokens:      getEnvAsInt("COMPACT_FORCE_TOKENS", 12000),
			CompactTargetTokens:     getEnvAsInt("COMPACT_TARGET_TOKENS", 4000),
			DocContextBudgetTokens:  getEnvAsInt("DOC_CONTEXT_BUDGET_TOKENS", 3000),
			ViewportExcerptMaxChars: getEnvAsInt("VIEWPORT_EXCERPT_MAX_CHARS", 2000),
			TaskStateMachineEnabled: getEnvAsBool("TASK_STATE_MACHINE_ENABLED", true),
			TaskRegistryBackend:     getEnv("TASK_REGISTRY_BACKEND", "memory"),
			HistoryLimit:            getEnvAsInt("AGENT_HISTORY_LIMIT", 20),
			Temperature:             getEnvAsFloat("AGENT_TEMPERATURE", 0.2),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

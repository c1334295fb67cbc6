package bootstrap

import (
	"context"
	"log"
	"time"

	"knowledge-agent-be/internal/config"
	"knowledge-agent-be/internal/controller"
	"knowledge-agent-be/internal/handler"
	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/internal/repository/memory"
	"knowledge-agent-be/internal/repository/unitofwork"
	"knowledge-agent-be/internal/service"
	"knowledge-agent-be/internal/websocket"
	"knowledge-agent-be/pkg/agent/compaction"
	"knowledge-agent-be/pkg/agent/permission"
	"knowledge-agent-be/pkg/agent/progress"
	"knowledge-agent-be/pkg/agent/retrieval"
	"knowledge-agent-be/pkg/agent/taskregistry"
	"knowledge-agent-be/pkg/agent/taskstate"
	"knowledge-agent-be/pkg/agent/tools"
	"knowledge-agent-be/pkg/agent/tools/handlers"
	"knowledge-agent-be/pkg/embedding"
	"knowledge-agent-be/pkg/llm/factory"

	pktNats "knowledge-agent-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// AuditSubject matches every agent event mirrored to NATS.
const AuditSubject = pktNats.SubjectPrefix + "agent.>"

type Container struct {
	// Controllers
	ChatController     controller.IChatController
	ViewportController controller.IViewportController

	// Background services (run by main.go)
	ConsumerService service.IConsumerService
	NatsSubscriber  *pktNats.Subscriber

	// WebSockets
	RealtimeHandler *handler.RealtimeHandler
	WebSocketHub    *websocket.Hub

	Logger logger.ILogger

	cleanup []func()
}

// Close releases broker connections opened by NewContainer.
func (c *Container) Close() {
	for i := len(c.cleanup) - 1; i >= 0; i-- {
		c.cleanup[i]()
	}
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	wsLogger := logger.NewIsolatedLogger(cfg.App.WsLogFilePath)

	c := &Container{Logger: sysLogger}

	// 2. Event bus. Publish blocks until the consumer acks, so one session
	// sees its progress events in publish order.
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		watermill.NewStdLogger(false, false),
	)
	c.cleanup = append(c.cleanup, func() { _ = pubSub.Close() })

	// 3. Redis (websocket fan-out and optional task registry)
	var rdb *redis.Client
	if opts, err := redis.ParseURL(cfg.App.RedisURL); err != nil {
		sysLogger.Warn("BOOTSTRAP", "Invalid REDIS_URL, running single-instance", map[string]interface{}{"error": err.Error()})
	} else {
		rdb = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			sysLogger.Warn("BOOTSTRAP", "Redis unreachable, running single-instance", map[string]interface{}{"error": err.Error()})
			_ = rdb.Close()
			rdb = nil
		}
		cancel()
	}
	if rdb != nil {
		c.cleanup = append(c.cleanup, func() { _ = rdb.Close() })
	}

	// 4. NATS audit mirror (optional)
	var mirror service.EventPublisher
	if cfg.App.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(context.Background(), cfg.App.NatsURL, sysLogger)
		if err != nil {
			sysLogger.Warn("BOOTSTRAP", "NATS publisher unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			mirror = natsPub
			c.cleanup = append(c.cleanup, natsPub.Close)
		}

		natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL, sysLogger)
		if err != nil {
			sysLogger.Warn("BOOTSTRAP", "NATS subscriber unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			c.NatsSubscriber = natsSub
			c.cleanup = append(c.cleanup, natsSub.Close)
		}
	}

	// 5. Realtime
	viewports := memory.NewViewportRepository()
	hub := websocket.NewHub(rdb, viewports, wsLogger)
	c.WebSocketHub = hub
	c.RealtimeHandler = handler.NewRealtimeHandler(hub, wsLogger)

	progressSink := service.NewProgressService(pubSub, service.ProgressTopic, mirror, sysLogger)
	c.ConsumerService = service.NewConsumerService(pubSub, service.ProgressTopic, hub, wsLogger)

	// 6. Agent core
	tasks := newTaskRegistry(cfg, rdb, progressSink, sysLogger)
	gate := permission.NewGate()
	embedder := newEmbedder(cfg, sysLogger)

	llmProvider, err := factory.NewLLMProvider(factory.ProviderConfig{
		Provider: cfg.Ai.LLMProvider,
		Model:    cfg.Ai.LLMModel,
		BaseURL:  llmBaseURL(cfg),
		APIKey:   llmAPIKey(cfg),
	})
	if err != nil {
		log.Fatalf("Failed to initialize LLM provider: %v", err)
	}

	registry := tools.NewRegistry(sysLogger)
	registry.Register(handlers.All(handlers.Deps{
		Embedder:    embedder,
		Viewports:   viewports,
		Broadcaster: hub,
		Logger:      sysLogger,
	})...)
	executor := tools.NewExecutor(registry, gate, tasks, progressSink, sysLogger)
	sysLogger.Info("BOOTSTRAP", "Agent tools registered", map[string]interface{}{"tools": registry.Names()})

	// 7. Services
	sessionService := service.NewSessionService(uowFactory, gate, tasks, viewports, sysLogger)
	viewportService := service.NewViewportService(uowFactory, viewports, sysLogger)
	turnService := service.NewAgentTurnService(service.AgentTurnDeps{
		UowFactory:     uowFactory,
		Sessions:       sessionService,
		Viewports:      viewportService,
		Gate:           gate,
		Tasks:          tasks,
		Ranker:         retrieval.NewRanker(embedder, cfg.Agent.DocContextBudgetTokens, sysLogger),
		ViewportLoader: retrieval.NewViewportLoader(viewports, cfg.Agent.ViewportExcerptMaxChars),
		Compactor: compaction.NewEngine(compaction.Config{
			Enabled:       cfg.Agent.AutoCompactEnabled,
			TriggerTokens: cfg.Agent.CompactTriggerTokens,
			ForceTokens:   cfg.Agent.CompactForceTokens,
			TargetTokens:  cfg.Agent.CompactTargetTokens,
		}),
		Machine:  taskstate.NewMachine(cfg.Agent.TaskStateMachineEnabled),
		Executor: executor,
		LLM:      llmProvider,
		Progress: progressSink,
		Logger:   sysLogger,
	}, service.AgentTurnConfig{
		HistoryLimit: cfg.Agent.HistoryLimit,
		Temperature:  cfg.Agent.Temperature,
		DefaultModel: cfg.Ai.LLMModel,
	})

	// 8. Controllers
	c.ChatController = controller.NewChatController(turnService, sessionService)
	c.ViewportController = controller.NewViewportController(viewportService)

	return c
}

func newTaskRegistry(cfg *config.Config, rdb *redis.Client, sink progress.Sink, log logger.ILogger) taskregistry.Registry {
	if cfg.Agent.TaskRegistryBackend == "redis" {
		if rdb != nil {
			return taskregistry.NewRedisRegistry(rdb, sink, taskregistry.DefaultTaskTTL, log)
		}
		log.Warn("BOOTSTRAP", "Redis task registry requested but Redis is unavailable, using memory", nil)
	}
	return taskregistry.NewMemoryRegistry(sink)
}

// newEmbedder returns nil when no provider can be built; retrieval then falls
// back to lexical scoring.
func newEmbedder(cfg *config.Config, log logger.ILogger) embedding.EmbeddingProvider {
	switch cfg.Ai.EmbeddingProvider {
	case "ollama":
		return embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.OllamaModel)
	case "openai":
		if cfg.Keys.OpenAI == "" {
			log.Warn("BOOTSTRAP", "OPENAI_API_KEY missing, embeddings disabled", nil)
			return nil
		}
		return embedding.NewOpenAIProvider(cfg.Keys.OpenAI, cfg.Keys.OpenAIBaseURL, cfg.Ai.EmbeddingModel)
	default:
		log.Warn("BOOTSTRAP", "Unknown embedding provider, embeddings disabled", map[string]interface{}{"provider": cfg.Ai.EmbeddingProvider})
		return nil
	}
}

func llmBaseURL(cfg *config.Config) string {
	switch cfg.Ai.LLMProvider {
	case "ollama":
		return cfg.Ai.OllamaBaseURL
	case "huggingface":
		return ""
	}
	return cfg.Keys.OpenAIBaseURL
}

func llmAPIKey(cfg *config.Config) string {
	if cfg.Ai.LLMProvider == "huggingface" {
		return cfg.Keys.HuggingFace
	}
	return cfg.Keys.OpenAI
}

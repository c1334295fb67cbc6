package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"knowledge-agent-be/internal/bootstrap"
	"knowledge-agent-be/internal/config"
	"knowledge-agent-be/internal/server"
	"knowledge-agent-be/internal/service"
	"knowledge-agent-be/internal/tracer"
	"knowledge-agent-be/pkg/database"

	"golang.org/x/sync/errgroup"
)

const auditDurable = "agent-audit"

func main() {
	// 0. Tracer (no-op unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer()
	defer func() { _ = shutdownTracer(context.Background()) }()

	// 1. Configuration
	cfg := config.Load()

	// 2. Database
	gormDB, err := database.Open(cfg.Database.Connection, cfg.IsProduction(), database.DefaultPool)
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}

	// 3. Dependencies
	container := bootstrap.NewContainer(gormDB, cfg)
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, container)
	g, gctx := errgroup.WithContext(ctx)

	// 4. Background services
	g.Go(func() error {
		return container.WebSocketHub.Run(gctx)
	})
	g.Go(func() error {
		return container.ConsumerService.Consume(gctx)
	})
	if container.NatsSubscriber != nil {
		g.Go(func() error {
			err := container.NatsSubscriber.Subscribe(gctx, bootstrap.AuditSubject, auditDurable, service.NewAuditHandler(container.Logger))
			if err != nil {
				// Audit is optional, the API keeps serving without it
				container.Logger.Warn("MAIN", "Audit subscription failed", map[string]interface{}{"error": err.Error()})
			}
			return nil
		})
	}

	// 5. HTTP server
	g.Go(func() error {
		return srv.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("Server stopped: %v", err)
	}
}

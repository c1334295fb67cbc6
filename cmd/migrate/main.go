package main

import (
	"log"

	"knowledge-agent-be/internal/config"
	"knowledge-agent-be/internal/model"
	"knowledge-agent-be/pkg/database"
)

func main() {
	cfg := config.Load()
	if cfg.Database.Connection == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	db, err := database.Open(cfg.Database.Connection, cfg.IsProduction(), database.DefaultPool)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Println("Step 1: Setting up extensions...")
	setupSQL := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,
		`CREATE EXTENSION IF NOT EXISTS vector;`,
	}
	for _, sql := range setupSQL {
		if err := db.Exec(sql).Error; err != nil {
			log.Fatalf("Error: setup SQL failed: %v", err)
		}
	}

	models := []interface{}{
		&model.WorkspaceFile{},
		&model.DocumentChunk{},
		&model.ChatSession{},
		&model.ChatMessage{},
		&model.ConversationCompaction{},
		&model.SessionTaskState{},
		&model.EditProposal{},
	}
	log.Printf("Step 2: Running AutoMigrate for %d tables...", len(models))
	if err := db.AutoMigrate(models...); err != nil {
		log.Fatalf("Error: AutoMigrate failed: %v", err)
	}

	log.Println("Step 3: Creating indexes...")
	postMigrationSQL := []string{
		// Nearest-neighbour search orders by cosine distance within one file
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding
		 ON document_chunks USING hnsw (embedding vector_cosine_ops);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_created
		 ON chat_messages (chat_session_id, created_at DESC);`,
	}
	for _, sql := range postMigrationSQL {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("Warn: Failed to execute post-migration SQL: %v", err)
		}
	}

	log.Println("Success: database migration completed")
}

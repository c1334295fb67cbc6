// Command seed loads a directory of text documents into workspace_files and
// document_chunks for local development.
//
//	go run ./cmd/seed -dir ./testdata/workspace
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"knowledge-agent-be/internal/config"
	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/model"
	"knowledge-agent-be/pkg/database"
	"knowledge-agent-be/pkg/embedding"
	"knowledge-agent-be/pkg/utils"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

const (
	chunkSize    = 800
	chunkOverlap = 100
)

var extTypes = map[string]string{
	".md":  entity.FileTypeMD,
	".txt": entity.FileTypeTxt,
	".go":  entity.FileTypeCode,
	".py":  entity.FileTypeCode,
	".ts":  entity.FileTypeCode,
	".js":  entity.FileTypeCode,
}

func main() {
	dir := flag.String("dir", "", "directory of documents to import")
	flag.Parse()
	if *dir == "" {
		log.Fatal("Error: -dir is required")
	}

	cfg := config.Load()
	db, err := database.Open(cfg.Database.Connection, cfg.IsProduction(), database.DefaultPool)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	var embedder embedding.EmbeddingProvider
	switch cfg.Ai.EmbeddingProvider {
	case "ollama":
		embedder = embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.OllamaModel)
	case "openai":
		embedder = embedding.NewOpenAIProvider(cfg.Keys.OpenAI, cfg.Keys.OpenAIBaseURL, cfg.Ai.EmbeddingModel)
	default:
		log.Fatalf("Error: embedding provider %q unknown, chunk vectors cannot be built", cfg.Ai.EmbeddingProvider)
	}

	ctx := context.Background()
	err = filepath.WalkDir(*dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		fileType, ok := extTypes[strings.ToLower(filepath.Ext(path))]
		if !ok {
			log.Printf("Skipping %s (unsupported type)", path)
			return nil
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return seedFile(ctx, db, embedder, d.Name(), fileType, string(body))
	})
	if err != nil {
		log.Fatalf("Error: seeding failed: %v", err)
	}

	log.Println("Workspace seeding completed!")
}

func seedFile(ctx context.Context, db *gorm.DB, embedder embedding.EmbeddingProvider, name, fileType, content string) error {
	var existing model.WorkspaceFile
	if err := db.WithContext(ctx).Where("name = ?", name).First(&existing).Error; err == nil {
		log.Printf("File '%s' already exists, skipping...", name)
		return nil
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		file := model.WorkspaceFile{
			Name:      name,
			FileType:  fileType,
			Content:   content,
			PageCount: 1,
			Size:      int64(len(content)),
		}
		if err := tx.Create(&file).Error; err != nil {
			return err
		}

		chunks := utils.SplitText(content, chunkSize, chunkOverlap)
		for i, text := range chunks {
			res, err := embedder.Generate(ctx, text, embedding.TaskRetrievalDocument)
			if err != nil {
				return err
			}
			chunk := model.DocumentChunk{
				FileId:     file.Id,
				Page:       1,
				ChunkIndex: i,
				Content:    text,
				Embedding:  pgvector.NewVector(res.Embedding.Values),
			}
			if err := tx.Create(&chunk).Error; err != nil {
				return err
			}
		}

		log.Printf("Created file: %s (%s, %d chunks)", name, fileType, len(chunks))
		return nil
	})
}

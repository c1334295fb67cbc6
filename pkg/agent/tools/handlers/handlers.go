// Package handlers holds the concrete agent tools.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/internal/repository/specification"
	"knowledge-agent-be/pkg/agent/retrieval"
	"knowledge-agent-be/pkg/agent/tools"
	"knowledge-agent-be/pkg/embedding"

	"github.com/google/uuid"
)

const (
	CodeFileNotFound    = "FILE_NOT_FOUND"
	CodeFileNotWritable = "FILE_NOT_WRITABLE"
	CodeBlockOutOfRange = "BLOCK_OUT_OF_RANGE"
	CodePageOutOfRange  = "PAGE_OUT_OF_RANGE"
	CodeNoFiles         = "NO_ACCESSIBLE_FILES"
	CodeSearchError     = "SEARCH_ERROR"
	CodeNoViewport      = "NO_VIEWPORT_CONTEXT"
	CodeInvalidViewport = "INVALID_VIEWPORT"
)

var errNoEmbedder = errors.New("no embedding provider configured")

type Deps struct {
	Embedder    embedding.EmbeddingProvider
	Viewports   retrieval.ViewportSource
	Broadcaster tools.SessionBroadcaster
	Logger      logger.ILogger
}

// All returns every tool in the catalogue, in the order offered to the model.
func All(deps Deps) []tools.Tool {
	proposer := NewProposer(deps.Broadcaster, deps.Logger)
	return []tools.Tool{
		&ReadDocumentTool{},
		NewUpdateDocumentTool(proposer),
		NewAppendDocumentTool(proposer),
		NewSearchDocumentsTool(deps.Embedder),
		NewUpdateBlockTool(proposer),
		NewInsertBlockTool(proposer),
		NewDeleteBlockTool(proposer),
		&GetPdfMetadataTool{},
		&ReadPdfPagesTool{},
		NewSearchPdfPassagesTool(deps.Embedder, deps.Logger),
		NewReadVisiblePdfContextTool(deps.Viewports),
	}
}

// loadFile returns nil without error for unknown or malformed ids.
func loadFile(ctx context.Context, ec *tools.ExecContext, fileID string) (*entity.WorkspaceFile, error) {
	id, err := uuid.Parse(fileID)
	if err != nil {
		return nil, nil
	}
	file, err := ec.UnitOfWork.WorkspaceFileRepository().FindOne(ctx, specification.ByID{ID: id})
	if err != nil {
		return nil, fmt.Errorf("load file %s: %w", fileID, err)
	}
	return file, nil
}

func loadPDF(ctx context.Context, ec *tools.ExecContext, fileID string) (*entity.WorkspaceFile, error) {
	file, err := loadFile(ctx, ec, fileID)
	if err != nil || file == nil {
		return nil, err
	}
	if file.FileType != entity.FileTypePDF {
		return nil, nil
	}
	return file, nil
}

// pageText joins a file's chunks in reading order, optionally limited to a page range.
func pageText(ctx context.Context, ec *tools.ExecContext, fileID uuid.UUID, specs ...specification.Specification) (string, int, error) {
	specs = append([]specification.Specification{specification.ByFileID{FileID: fileID}}, specs...)
	specs = append(specs, specification.ChunkOrder{})
	chunks, err := ec.UnitOfWork.DocumentChunkRepository().FindAll(ctx, specs...)
	if err != nil {
		return "", 0, fmt.Errorf("load chunks: %w", err)
	}
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Content)
	}
	return strings.Join(parts, "\n"), len(chunks), nil
}

func schema(properties map[string]interface{}, required ...string) map[string]interface{} {
	out := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

func joinLines(parts []string) string {
	return strings.Join(parts, "\n")
}

package handlers

import (
	"context"
	"sort"

	"knowledge-agent-be/pkg/agent/permission"
	"knowledge-agent-be/pkg/agent/tools"
	"knowledge-agent-be/pkg/embedding"

	"github.com/google/uuid"
)

const defaultSearchResults = 5

type SearchDocumentsTool struct {
	embedder embedding.EmbeddingProvider
}

func NewSearchDocumentsTool(embedder embedding.EmbeddingProvider) *SearchDocumentsTool {
	return &SearchDocumentsTool{embedder: embedder}
}

func (t *SearchDocumentsTool) Name() string { return tools.SearchDocuments }

func (t *SearchDocumentsTool) Description() string {
	return "Search for relevant content across documents using semantic search. Returns the most relevant passages with their locations (file name, page number)."
}

func (t *SearchDocumentsTool) RequiredPermission() permission.Level { return permission.LevelRead }

func (t *SearchDocumentsTool) WritableOnly() bool { return false }

func (t *SearchDocumentsTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"query": prop("string", "The search query - what you're looking for in the documents"),
		"file_ids": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Optional list of file IDs to search in. If not provided, searches all accessible files.",
		},
		"n_results": map[string]interface{}{
			"type":        "integer",
			"description": "Maximum number of results to return",
			"default":     defaultSearchResults,
			"minimum":     1,
			"maximum":     20,
		},
	}, "query")
}

func (t *SearchDocumentsTool) NewArgs() interface{} { return &tools.SearchDocumentsArgs{} }

type searchHit struct {
	FileID     string  `json:"file_id"`
	FileName   string  `json:"file_name"`
	Page       int     `json:"page"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

func (t *SearchDocumentsTool) Execute(ctx context.Context, raw interface{}, ec *tools.ExecContext) (*tools.Result, error) {
	args := raw.(*tools.SearchDocumentsArgs)
	limit := tools.IntOr(args.NResults, defaultSearchResults)

	var searchable []string
	if len(args.FileIDs) > 0 {
		searchable = ec.Permissions.FilterReadable(args.FileIDs)
		if len(searchable) == 0 {
			return tools.Fail(CodeNoFiles, "No readable files found in the specified file list"), nil
		}
	} else {
		for fileID, level := range ec.Permissions.Strings() {
			if level == string(permission.LevelRead) || level == string(permission.LevelWrite) {
				searchable = append(searchable, fileID)
			}
		}
		sort.Strings(searchable)
	}

	hits := []searchHit{}
	if len(searchable) > 0 {
		if t.embedder == nil {
			return tools.Fail(CodeSearchError, "Search failed: no embedding provider configured"), nil
		}
		resp, err := t.embedder.Generate(ctx, args.Query, embedding.TaskRetrievalQuery)
		if err != nil {
			return tools.Fail(CodeSearchError, "Search failed: %s", err.Error()), nil
		}

		for _, fileID := range searchable {
			id, err := uuid.Parse(fileID)
			if err != nil {
				continue
			}
			matches, err := ec.UnitOfWork.DocumentChunkRepository().SearchNearest(ctx, id, resp.Embedding.Values, limit)
			if err != nil {
				return tools.Fail(CodeSearchError, "Search failed: %s", err.Error()), nil
			}
			if len(matches) == 0 {
				continue
			}
			fileName := "Unknown"
			if file, err := loadFile(ctx, ec, fileID); err == nil && file != nil {
				fileName = file.Name
			}
			for _, m := range matches {
				hits = append(hits, searchHit{
					FileID:     fileID,
					FileName:   fileName,
					Page:       m.Chunk.Page,
					ChunkIndex: m.Chunk.ChunkIndex,
					Content:    m.Chunk.Content,
					Score:      m.Distance,
				})
			}
		}
	}

	// score is a distance: lower is closer
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score < hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]interface{}, len(hits))
	for i, h := range hits {
		results[i] = h
	}
	return tools.OK(map[string]interface{}{
		"query":          args.Query,
		"results":        results,
		"count":          len(hits),
		"searched_files": searchable,
	}), nil
}

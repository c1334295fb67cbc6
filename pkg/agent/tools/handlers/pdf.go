package handlers

import (
	"context"
	"sort"

	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/internal/repository/specification"
	"knowledge-agent-be/pkg/agent/budget"
	"knowledge-agent-be/pkg/agent/permission"
	"knowledge-agent-be/pkg/agent/retrieval"
	"knowledge-agent-be/pkg/agent/tools"
	"knowledge-agent-be/pkg/embedding"

	"github.com/google/uuid"
)

const (
	defaultMaxCharsPerPage = 4000
	defaultPassageTopK     = 5
)

type readTool struct{}

func (readTool) RequiredPermission() permission.Level { return permission.LevelRead }

func (readTool) WritableOnly() bool { return false }

func pdfNotFound() *tools.Result {
	return tools.Fail(CodeFileNotFound, "PDF file not found")
}

type GetPdfMetadataTool struct{ readTool }

func (t *GetPdfMetadataTool) Name() string { return tools.GetPdfMetadata }

func (t *GetPdfMetadataTool) Description() string {
	return "Get PDF metadata including page count and basic file info."
}

func (t *GetPdfMetadataTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"file_id": prop("string", "PDF file ID"),
	}, "file_id")
}

func (t *GetPdfMetadataTool) NewArgs() interface{} { return &tools.GetPdfMetadataArgs{} }

func (t *GetPdfMetadataTool) Execute(ctx context.Context, raw interface{}, ec *tools.ExecContext) (*tools.Result, error) {
	args := raw.(*tools.GetPdfMetadataArgs)
	file, err := loadPDF(ctx, ec, args.FileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return pdfNotFound(), nil
	}
	meta := file.Meta
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return tools.OK(map[string]interface{}{
		"file_id":    file.Id.String(),
		"file_name":  file.Name,
		"page_count": file.PageCount,
		"size":       file.Size,
		"metadata":   meta,
	}), nil
}

type ReadPdfPagesTool struct{ readTool }

func (t *ReadPdfPagesTool) Name() string { return tools.ReadPdfPages }

func (t *ReadPdfPagesTool) Description() string {
	return "Read page content from a PDF by page range."
}

func (t *ReadPdfPagesTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"file_id":    prop("string", "PDF file ID"),
		"page_start": prop("integer", "Start page (1-based)"),
		"page_end":   prop("integer", "End page (1-based)"),
		"max_chars_per_page": map[string]interface{}{
			"type":        "integer",
			"description": "Optional char cap per page",
			"default":     defaultMaxCharsPerPage,
		},
	}, "file_id", "page_start", "page_end")
}

func (t *ReadPdfPagesTool) NewArgs() interface{} { return &tools.ReadPdfPagesArgs{} }

func (t *ReadPdfPagesTool) Execute(ctx context.Context, raw interface{}, ec *tools.ExecContext) (*tools.Result, error) {
	args := raw.(*tools.ReadPdfPagesArgs)
	maxChars := tools.IntOr(args.MaxCharsPerPage, defaultMaxCharsPerPage)

	file, err := loadPDF(ctx, ec, args.FileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return pdfNotFound(), nil
	}
	if file.PageCount > 0 && (args.PageStart > file.PageCount || args.PageEnd > file.PageCount) {
		return tools.Fail(CodePageOutOfRange, "Page out of range. page_count=%d", file.PageCount), nil
	}

	chunks, err := ec.UnitOfWork.DocumentChunkRepository().FindAll(ctx,
		specification.ByFileID{FileID: file.Id},
		specification.PageRange{Start: args.PageStart, End: args.PageEnd},
		specification.ChunkOrder{},
	)
	if err != nil {
		return nil, err
	}
	byPage := map[int][]string{}
	for _, c := range chunks {
		byPage[c.Page] = append(byPage[c.Page], c.Content)
	}

	pages := make([]interface{}, 0, args.PageEnd-args.PageStart+1)
	for p := args.PageStart; p <= args.PageEnd; p++ {
		text := budget.Truncate(joinLines(byPage[p]), maxChars)
		pages = append(pages, map[string]interface{}{"page": p, "content": text})
	}

	return tools.OK(map[string]interface{}{
		"file_id":    file.Id.String(),
		"file_name":  file.Name,
		"page_start": args.PageStart,
		"page_end":   args.PageEnd,
		"pages":      pages,
	}), nil
}

type SearchPdfPassagesTool struct {
	readTool
	embedder embedding.EmbeddingProvider
	logger   logger.ILogger
}

func NewSearchPdfPassagesTool(embedder embedding.EmbeddingProvider, log logger.ILogger) *SearchPdfPassagesTool {
	return &SearchPdfPassagesTool{embedder: embedder, logger: log}
}

func (t *SearchPdfPassagesTool) Name() string { return tools.SearchPdfPassages }

func (t *SearchPdfPassagesTool) Description() string {
	return "Search passages in a PDF. Uses embeddings first; when unavailable, falls back to lexical search."
}

func (t *SearchPdfPassagesTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"file_id": prop("string", "PDF file ID"),
		"query":   prop("string", "Search query"),
		"top_k": map[string]interface{}{
			"type":        "integer",
			"description": "Max results",
			"default":     defaultPassageTopK,
		},
		"page_start": prop("integer", "Optional start page"),
		"page_end":   prop("integer", "Optional end page"),
	}, "file_id", "query")
}

func (t *SearchPdfPassagesTool) NewArgs() interface{} { return &tools.SearchPdfPassagesArgs{} }

type passage struct {
	FileID     string  `json:"file_id"`
	FileName   string  `json:"file_name"`
	Page       int     `json:"page"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
	SourceMode string  `json:"source_mode"`
}

func (t *SearchPdfPassagesTool) Execute(ctx context.Context, raw interface{}, ec *tools.ExecContext) (*tools.Result, error) {
	args := raw.(*tools.SearchPdfPassagesArgs)
	topK := tools.IntOr(args.TopK, defaultPassageTopK)
	pageStart := tools.IntOr(args.PageStart, 0)
	pageEnd := tools.IntOr(args.PageEnd, 0)

	file, err := loadPDF(ctx, ec, args.FileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return pdfNotFound(), nil
	}

	inRange := func(page int) bool {
		if pageStart > 0 && page < pageStart {
			return false
		}
		if pageEnd > 0 && page > pageEnd {
			return false
		}
		return true
	}

	results, err := t.semantic(ctx, ec, file.Id, args.Query, topK)
	fallbackUsed := false
	if err != nil {
		t.logger.Warn("TOOLS", "PDF semantic search failed, using lexical fallback", map[string]interface{}{
			"file_id": args.FileID,
			"error":   err.Error(),
		})
		fallbackUsed = true
	}
	filtered := results[:0]
	for _, r := range results {
		if inRange(r.Page) {
			filtered = append(filtered, r)
		}
	}
	results = filtered

	if len(results) == 0 {
		fallbackUsed = true
		chunks, err := ec.UnitOfWork.DocumentChunkRepository().FindAll(ctx,
			specification.ByFileID{FileID: file.Id},
			specification.PageRange{Start: pageStart, End: pageEnd},
			specification.ChunkOrder{},
		)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			score := retrieval.TermFrequency(args.Query, c.Content)
			if score <= 0 {
				continue
			}
			results = append(results, passage{
				Page:       c.Page,
				ChunkIndex: c.ChunkIndex,
				Content:    c.Content,
				Score:      score,
				SourceMode: retrieval.SourceLexical,
			})
		}
		sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	}

	if len(results) > topK {
		results = results[:topK]
	}
	out := make([]interface{}, len(results))
	for i := range results {
		results[i].FileID = file.Id.String()
		results[i].FileName = file.Name
		out[i] = results[i]
	}

	return tools.OK(map[string]interface{}{
		"file_id":       file.Id.String(),
		"file_name":     file.Name,
		"query":         args.Query,
		"results":       out,
		"count":         len(out),
		"fallback_used": fallbackUsed,
	}), nil
}

func (t *SearchPdfPassagesTool) semantic(ctx context.Context, ec *tools.ExecContext, fileID uuid.UUID, query string, topK int) ([]passage, error) {
	if t.embedder == nil {
		return nil, errNoEmbedder
	}
	resp, err := t.embedder.Generate(ctx, query, embedding.TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	matches, err := ec.UnitOfWork.DocumentChunkRepository().SearchNearest(ctx, fileID, resp.Embedding.Values, topK)
	if err != nil {
		return nil, err
	}
	out := make([]passage, 0, len(matches))
	for _, m := range matches {
		out = append(out, passage{
			Page:       m.Chunk.Page,
			ChunkIndex: m.Chunk.ChunkIndex,
			Content:    m.Chunk.Content,
			Score:      m.Distance,
			SourceMode: retrieval.SourceEmbedding,
		})
	}
	return out, nil
}

type ReadVisiblePdfContextTool struct {
	viewports retrieval.ViewportSource
}

func NewReadVisiblePdfContextTool(viewports retrieval.ViewportSource) *ReadVisiblePdfContextTool {
	return &ReadVisiblePdfContextTool{viewports: viewports}
}

func (t *ReadVisiblePdfContextTool) Name() string { return tools.ReadVisiblePdfContext }

func (t *ReadVisiblePdfContextTool) Description() string {
	return "Read content from the PDF page currently visible in the user's viewport."
}

// RequiredPermission is empty: the target comes from the viewport, not the arguments.
func (t *ReadVisiblePdfContextTool) RequiredPermission() permission.Level { return "" }

func (t *ReadVisiblePdfContextTool) WritableOnly() bool { return false }

func (t *ReadVisiblePdfContextTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{})
}

func (t *ReadVisiblePdfContextTool) NewArgs() interface{} { return &tools.ReadVisiblePdfContextArgs{} }

func (t *ReadVisiblePdfContextTool) Execute(ctx context.Context, raw interface{}, ec *tools.ExecContext) (*tools.Result, error) {
	if t.viewports == nil {
		return tools.Fail(CodeNoViewport, "No viewport context available"), nil
	}
	vp, ok := t.viewports.Get(ec.SessionID.String(), "")
	if !ok || vp == nil {
		return tools.Fail(CodeNoViewport, "No viewport context available"), nil
	}
	if vp.FileId == "" {
		return tools.Fail(CodeInvalidViewport, "Viewport missing file_id"), nil
	}
	page := vp.Page
	if page < 1 {
		page = 1
	}

	if ec.Permissions.Level(vp.FileId, permission.LevelRead) == permission.LevelNone {
		return tools.Fail(tools.CodePermissionDenied, "No permission to read current visible PDF"), nil
	}

	file, err := loadPDF(ctx, ec, vp.FileId)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return tools.Fail(CodeFileNotFound, "Visible file is not a PDF"), nil
	}

	text, _, err := pageText(ctx, ec, file.Id, specification.ByPage{Page: page})
	if err != nil {
		return nil, err
	}
	return tools.OK(map[string]interface{}{
		"file_id":   file.Id.String(),
		"file_name": file.Name,
		"page":      page,
		"content":   text,
	}), nil
}

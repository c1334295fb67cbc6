package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/internal/repository/contract"
	"knowledge-agent-be/internal/repository/specification"
	"knowledge-agent-be/internal/repository/unitofwork"
	"knowledge-agent-be/pkg/agent/budget"
	"knowledge-agent-be/pkg/embedding"

	"github.com/google/uuid"
)

const (
	SourceEmbedding = "embedding"
	SourceLexical   = "lexical"

	semanticTopK       = 12
	lexicalScanLimit   = 300
	maxRefs            = 20
	citationPreviewLen = 200
)

type Request struct {
	Query         string
	ReadableFiles []string
	// FileNames maps file id to display name for refs.
	FileNames    map[string]string
	ActiveFileID string
	ActivePage   *int
}

type Candidate struct {
	FileID     string
	Page       int
	ChunkIndex int
	Content    string
	Score      float64
	SourceMode string
}

type Ref struct {
	FileID   string  `json:"file_id"`
	FileName string  `json:"file_name"`
	Page     int     `json:"page"`
	Score    float64 `json:"score"`
}

type Result struct {
	ContextBlocks []string
	Citations     []entity.MessageCitation
	Refs          []Ref
	UsedSemantic  bool
	UsedTokens    int
}

// Ranker selects document chunks for a query under a token budget.
type Ranker struct {
	embedder     embedding.EmbeddingProvider
	budgetTokens int
	logger       logger.ILogger
}

func NewRanker(embedder embedding.EmbeddingProvider, budgetTokens int, log logger.ILogger) *Ranker {
	return &Ranker{embedder: embedder, budgetTokens: budgetTokens, logger: log}
}

// Retrieve ranks chunks semantically, falling back to lexical overlap when the
// semantic pass fails or finds nothing. It never returns an error for search
// failures; only a failing lexical scan is reported. Each vector search runs
// in its own savepoint so a failed one leaves uow usable for the fallback.
func (r *Ranker) Retrieve(ctx context.Context, uow unitofwork.UnitOfWork, req Request) (*Result, error) {
	result := &Result{
		ContextBlocks: []string{},
		Citations:     []entity.MessageCitation{},
		Refs:          []Ref{},
	}
	if len(req.ReadableFiles) == 0 {
		return result, nil
	}

	candidates, err := r.semantic(ctx, uow, req)
	semanticOK := err == nil
	if err != nil {
		r.logger.Warn("RETRIEVAL", "Semantic search failed, using lexical fallback", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if len(candidates) == 0 {
		semanticOK = false
		candidates, err = r.lexical(ctx, uow.DocumentChunkRepository(), req)
		if err != nil {
			return nil, fmt.Errorf("lexical retrieval: %w", err)
		}
	}
	result.UsedSemantic = semanticOK

	for _, c := range rank(candidates) {
		blockTokens := budget.EstimateTokens(c.Content)
		if result.UsedTokens+blockTokens > r.budgetTokens {
			continue
		}
		result.UsedTokens += blockTokens

		result.ContextBlocks = append(result.ContextBlocks, fmt.Sprintf("[Document: %s, Page %d]:\n%s", c.FileID, c.Page, c.Content))
		result.Citations = append(result.Citations, entity.MessageCitation{
			FileId:     c.FileID,
			Page:       c.Page,
			ChunkIndex: c.ChunkIndex,
			Content:    budget.ShortText(c.Content, citationPreviewLen),
		})
		if len(result.Refs) < maxRefs {
			name, ok := req.FileNames[c.FileID]
			if !ok || name == "" {
				name = "Unknown"
			}
			result.Refs = append(result.Refs, Ref{
				FileID:   c.FileID,
				FileName: name,
				Page:     c.Page,
				Score:    math.Round(c.Score*10000) / 10000,
			})
		}
	}
	return result, nil
}

// semantic returns the candidates gathered before any error.
func (r *Ranker) semantic(ctx context.Context, uow unitofwork.UnitOfWork, req Request) ([]Candidate, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	emb, err := r.embedder.Generate(ctx, req.Query, embedding.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var out []Candidate
	for _, fileID := range req.ReadableFiles {
		id, err := uuid.Parse(fileID)
		if err != nil {
			continue
		}
		var matches []entity.ChunkMatch
		err = uow.Savepoint(ctx, func(sp unitofwork.UnitOfWork) error {
			var err error
			matches, err = sp.DocumentChunkRepository().SearchNearest(ctx, id, emb.Embedding.Values, semanticTopK)
			return err
		})
		if err != nil {
			return out, fmt.Errorf("vector search on %s: %w", fileID, err)
		}
		for _, m := range matches {
			score := 1.0 / (1.0 + m.Distance)
			if req.ActiveFileID != "" && fileID == req.ActiveFileID {
				score += 0.2
				if req.ActivePage != nil && m.Chunk.Page == *req.ActivePage {
					score += 0.4
				}
			}
			out = append(out, Candidate{
				FileID:     fileID,
				Page:       m.Chunk.Page,
				ChunkIndex: m.Chunk.ChunkIndex,
				Content:    m.Chunk.Content,
				Score:      score,
				SourceMode: SourceEmbedding,
			})
		}
	}
	return out, nil
}

func (r *Ranker) lexical(ctx context.Context, chunks contract.DocumentChunkRepository, req Request) ([]Candidate, error) {
	queryTokens := tokenize(req.Query)

	var out []Candidate
	for _, fileID := range req.ReadableFiles {
		id, err := uuid.Parse(fileID)
		if err != nil {
			continue
		}
		rows, err := chunks.FindAll(ctx,
			specification.ByFileID{FileID: id},
			specification.ChunkOrder{},
			specification.Pagination{Limit: lexicalScanLimit},
		)
		if err != nil {
			return nil, err
		}
		for _, chunk := range rows {
			score := lexicalScore(queryTokens, chunk.Content)
			if score <= 0 {
				continue
			}
			if req.ActiveFileID != "" && fileID == req.ActiveFileID {
				score += 1.0
				if req.ActivePage != nil && chunk.Page == *req.ActivePage {
					score += 2.0
				}
			}
			out = append(out, Candidate{
				FileID:     fileID,
				Page:       chunk.Page,
				ChunkIndex: chunk.ChunkIndex,
				Content:    chunk.Content,
				Score:      score,
				SourceMode: SourceLexical,
			})
		}
	}
	return out, nil
}

// rank deduplicates by (file, page, chunk) keeping the highest score, then
// sorts descending. Ties keep first-seen order.
func rank(candidates []Candidate) []Candidate {
	type key struct {
		file      string
		page, idx int
	}
	index := map[key]int{}
	uniq := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		k := key{c.FileID, c.Page, c.ChunkIndex}
		if i, ok := index[k]; ok {
			if c.Score > uniq[i].Score {
				uniq[i] = c
			}
			continue
		}
		index[k] = len(uniq)
		uniq = append(uniq, c)
	}
	sort.SliceStable(uniq, func(i, j int) bool { return uniq[i].Score > uniq[j].Score })
	return uniq
}

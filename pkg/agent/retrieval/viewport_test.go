package retrieval

import (
	"context"
	"strings"
	"testing"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/repository/memory"
	"knowledge-agent-be/internal/repository/repotest"
	"knowledge-agent-be/pkg/agent/permission"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewportLoader(t *testing.T) {
	store := repotest.NewStore()
	pdf := store.AddFile(&entity.WorkspaceFile{Name: "paper.pdf", FileType: entity.FileTypePDF})
	md := store.AddFile(&entity.WorkspaceFile{Name: "notes.md", FileType: entity.FileTypeMD})
	for i := 0; i < 2; i++ {
		store.AddChunk(&entity.DocumentChunk{FileId: pdf.Id, Page: 2, ChunkIndex: i, Content: "page two " + string(rune('a'+i))})
	}
	store.AddChunk(&entity.DocumentChunk{FileId: pdf.Id, Page: 1, ChunkIndex: 0, Content: "page one"})
	for i := 0; i < 5; i++ {
		store.AddChunk(&entity.DocumentChunk{FileId: md.Id, Page: 1, ChunkIndex: i, Content: strings.Repeat("m", 10)})
	}

	viewports := memory.NewViewportRepository()
	viewports.Save("s1", entity.Viewport{FileId: pdf.Id.String(), Page: 2, VisibleRange: [2]int{3, 9}})

	uow := store.UnitOfWork()
	loader := NewViewportLoader(viewports, 2000)
	ctx := context.Background()

	t.Run("stored pdf viewport", func(t *testing.T) {
		res, err := loader.Load(ctx, uow.WorkspaceFileRepository(), uow.DocumentChunkRepository(), ViewportRequest{
			SessionID:   "s1",
			Permissions: permission.NewContext("s1", nil),
		})
		require.NoError(t, err)
		require.NotNil(t, res.Viewport)
		assert.Equal(t, "paper.pdf", res.Viewport.FileName)
		assert.Equal(t, []int{3, 9}, res.Viewport.VisibleRange)
		require.NotNil(t, res.Excerpt)
		assert.Equal(t, "page two a\npage two b", *res.Excerpt)
	})

	t.Run("explicit file and page override", func(t *testing.T) {
		page := 1
		res, err := loader.Load(ctx, uow.WorkspaceFileRepository(), uow.DocumentChunkRepository(), ViewportRequest{
			SessionID:    "s1",
			Permissions:  permission.NewContext("s1", nil),
			ActiveFileID: md.Id.String(),
			ActivePage:   &page,
		})
		require.NoError(t, err)
		require.NotNil(t, res.Excerpt)
		assert.Equal(t, "notes.md", res.Viewport.FileName)
		// first three chunks only
		assert.Equal(t, 3, strings.Count(*res.Excerpt, "\n")+1)
	})

	t.Run("hidden file has no excerpt", func(t *testing.T) {
		res, err := loader.Load(ctx, uow.WorkspaceFileRepository(), uow.DocumentChunkRepository(), ViewportRequest{
			SessionID:   "s1",
			Permissions: permission.NewContext("s1", map[string]permission.Level{pdf.Id.String(): permission.LevelNone}),
		})
		require.NoError(t, err)
		require.NotNil(t, res.Viewport)
		assert.Nil(t, res.Excerpt)
	})

	t.Run("no viewport", func(t *testing.T) {
		res, err := loader.Load(ctx, uow.WorkspaceFileRepository(), uow.DocumentChunkRepository(), ViewportRequest{
			SessionID:   "other",
			Permissions: permission.NewContext("other", nil),
		})
		require.NoError(t, err)
		assert.Nil(t, res.Viewport)
		assert.Nil(t, res.Excerpt)
	})

	t.Run("excerpt truncated", func(t *testing.T) {
		short := NewViewportLoader(viewports, 5)
		res, err := short.Load(ctx, uow.WorkspaceFileRepository(), uow.DocumentChunkRepository(), ViewportRequest{
			SessionID:   "s1",
			Permissions: permission.NewContext("s1", nil),
		})
		require.NoError(t, err)
		require.NotNil(t, res.Excerpt)
		assert.Equal(t, "page ", *res.Excerpt)
	})
}

package memory

import (
	"testing"
	"time"

	"knowledge-agent-be/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewportRepository_GetLatestWhenFileEmpty(t *testing.T) {
	repo := NewViewportRepository()
	now := time.Now()

	repo.Save("s1", entity.Viewport{FileId: "a", Page: 1, Timestamp: now.Add(-time.Minute)})
	repo.Save("s1", entity.Viewport{FileId: "b", Page: 4, Timestamp: now})

	vp, ok := repo.Get("s1", "")
	require.True(t, ok)
	assert.Equal(t, "b", vp.FileId)

	vp, ok = repo.Get("s1", "a")
	require.True(t, ok)
	assert.Equal(t, 1, vp.Page)

	_, ok = repo.Get("s1", "missing")
	assert.False(t, ok)
	_, ok = repo.Get("other", "")
	assert.False(t, ok)
}

func TestViewportRepository_SaveOverwritesPerFile(t *testing.T) {
	repo := NewViewportRepository()
	repo.Save("s1", entity.Viewport{FileId: "a", Page: 1})
	repo.Save("s1", entity.Viewport{FileId: "a", Page: 7})

	list := repo.List("s1")
	require.Len(t, list, 1)
	assert.Equal(t, 7, list[0].Page)
	assert.False(t, list[0].Timestamp.IsZero())
}

func TestViewportRepository_Clear(t *testing.T) {
	repo := NewViewportRepository()
	repo.Save("s1", entity.Viewport{FileId: "a"})
	repo.Save("s1", entity.Viewport{FileId: "b"})

	repo.Clear("s1", "a")
	assert.Len(t, repo.List("s1"), 1)

	repo.Clear("s1", "")
	assert.Empty(t, repo.List("s1"))
}

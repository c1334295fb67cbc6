package memory

import (
	"sync"
	"time"

	"knowledge-agent-be/internal/entity"

	"github.com/patrickmn/go-cache"
)

// ViewportRepository keeps the latest viewport per session and file.
// Entries expire an hour after the last write to the session.
type ViewportRepository struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewViewportRepository() *ViewportRepository {
	return &ViewportRepository{
		cache: cache.New(1*time.Hour, 10*time.Minute),
	}
}

func (r *ViewportRepository) Save(sessionID string, viewport entity.Viewport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byFile := r.snapshot(sessionID)
	if viewport.Timestamp.IsZero() {
		viewport.Timestamp = time.Now().UTC()
	}
	byFile[viewport.FileId] = viewport
	r.cache.Set(sessionID, byFile, cache.DefaultExpiration)
}

// Get returns the viewport for fileID, or the most recently updated one when fileID is empty.
func (r *ViewportRepository) Get(sessionID, fileID string) (*entity.Viewport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byFile := r.snapshot(sessionID)
	if fileID != "" {
		vp, ok := byFile[fileID]
		if !ok {
			return nil, false
		}
		return &vp, true
	}

	var latest *entity.Viewport
	for _, vp := range byFile {
		if latest == nil || vp.Timestamp.After(latest.Timestamp) {
			v := vp
			latest = &v
		}
	}
	return latest, latest != nil
}

func (r *ViewportRepository) List(sessionID string) []entity.Viewport {
	r.mu.Lock()
	defer r.mu.Unlock()

	byFile := r.snapshot(sessionID)
	out := make([]entity.Viewport, 0, len(byFile))
	for _, vp := range byFile {
		out = append(out, vp)
	}
	return out
}

// Clear drops one file's viewport, or every viewport of the session when fileID is empty.
func (r *ViewportRepository) Clear(sessionID, fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fileID == "" {
		r.cache.Delete(sessionID)
		return
	}
	byFile := r.snapshot(sessionID)
	delete(byFile, fileID)
	r.cache.Set(sessionID, byFile, cache.DefaultExpiration)
}

// snapshot copies the stored map so callers never mutate a cached value in place.
func (r *ViewportRepository) snapshot(sessionID string) map[string]entity.Viewport {
	out := map[string]entity.Viewport{}
	if x, found := r.cache.Get(sessionID); found {
		for k, v := range x.(map[string]entity.Viewport) {
			out[k] = v
		}
	}
	return out
}

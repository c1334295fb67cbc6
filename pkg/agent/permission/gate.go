package permission

import (
	"context"
	"fmt"
	"time"

	"knowledge-agent-be/internal/repository/contract"
	"knowledge-agent-be/internal/repository/specification"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Tool is the part of a tool definition the gate needs.
type Tool interface {
	Name() string
	// RequiredPermission returns "" for tools that do not touch a file.
	RequiredPermission() Level
	WritableOnly() bool
}

// FileTypeLookup resolves a file's type. found is false for unknown files.
type FileTypeLookup func(ctx context.Context, fileID string) (fileType string, found bool, err error)

// Gate loads session permissions and authorizes tool calls against them.
type Gate struct {
	cache *cache.Cache
}

func NewGate() *Gate {
	return &Gate{
		cache: cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

// Resolve returns the session's permission snapshot, cached until Invalidate.
// A missing session yields an empty, uncached snapshot.
func (g *Gate) Resolve(ctx context.Context, repo contract.ChatSessionRepository, sessionID uuid.UUID) (*Context, error) {
	key := sessionID.String()
	if x, found := g.cache.Get(key); found {
		return NewContext(key, copyLevels(x.(map[string]Level))), nil
	}

	session, err := repo.FindOne(ctx, specification.ByID{ID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("load session permissions: %w", err)
	}
	if session == nil {
		return NewContext(key, nil), nil
	}

	levels := make(map[string]Level, len(session.Permissions))
	for fileID, raw := range session.Permissions {
		lvl, ok := ParseLevel(raw)
		if !ok {
			continue
		}
		levels[fileID] = lvl
	}

	g.cache.Set(key, levels, cache.NoExpiration)
	return NewContext(key, copyLevels(levels)), nil
}

func (g *Gate) Invalidate(sessionID string) {
	g.cache.Delete(sessionID)
}

// Authorize checks one tool call. Calls without a target file pass.
func (g *Gate) Authorize(ctx context.Context, tool Tool, args map[string]interface{}, pc *Context, lookup FileTypeLookup) error {
	fileID := TargetFileID(args)
	if fileID == "" {
		return nil
	}

	required := tool.RequiredPermission()
	level := pc.Level(fileID, LevelRead)

	if level == LevelNone {
		want := required
		if want == "" {
			want = LevelRead
		}
		return &DeniedError{Tool: tool.Name(), FileID: fileID, Required: want}
	}

	switch required {
	case LevelRead:
		if level != LevelRead && level != LevelWrite {
			return &DeniedError{Tool: tool.Name(), FileID: fileID, Required: LevelRead}
		}
	case LevelWrite:
		if level != LevelWrite {
			return &DeniedError{Tool: tool.Name(), FileID: fileID, Required: LevelWrite}
		}
		if tool.WritableOnly() && lookup != nil {
			fileType, found, err := lookup(ctx, fileID)
			if err != nil {
				return fmt.Errorf("lookup file type: %w", err)
			}
			if found && !WritableTypes[fileType] {
				return &DeniedError{Tool: tool.Name(), FileID: fileID, Required: LevelWrite}
			}
		}
	}
	return nil
}

// TargetFileID extracts file_id, or the only element of file_ids.
func TargetFileID(args map[string]interface{}) string {
	if id, ok := args["file_id"].(string); ok && id != "" {
		return id
	}
	switch ids := args["file_ids"].(type) {
	case []interface{}:
		if len(ids) == 1 {
			if id, ok := ids[0].(string); ok {
				return id
			}
		}
	case []string:
		if len(ids) == 1 {
			return ids[0]
		}
	}
	return ""
}

func copyLevels(in map[string]Level) map[string]Level {
	out := make(map[string]Level, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

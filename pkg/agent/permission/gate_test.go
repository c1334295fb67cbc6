package permission

import (
	"context"
	"errors"
	"testing"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/repository/repotest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name         string
	required     Level
	writableOnly bool
}

func (s stubTool) Name() string              { return s.name }
func (s stubTool) RequiredPermission() Level { return s.required }
func (s stubTool) WritableOnly() bool        { return s.writableOnly }

func lookupTypes(types map[string]string) FileTypeLookup {
	return func(ctx context.Context, fileID string) (string, bool, error) {
		t, ok := types[fileID]
		return t, ok, nil
	}
}

func TestGate_Authorize(t *testing.T) {
	gate := NewGate()
	pc := NewContext("s", map[string]Level{
		"r":   LevelRead,
		"w":   LevelWrite,
		"n":   LevelNone,
		"pdf": LevelWrite,
	})
	lookup := lookupTypes(map[string]string{"w": "md", "pdf": "pdf"})

	reader := stubTool{name: "read_document", required: LevelRead}
	writer := stubTool{name: "update_document", required: LevelWrite, writableOnly: true}
	anyTool := stubTool{name: "list_things"}

	tests := []struct {
		name     string
		tool     stubTool
		args     map[string]interface{}
		wantErr  bool
		required Level
	}{
		{"no file id passes", writer, map[string]interface{}{}, false, ""},
		{"read on read", reader, map[string]interface{}{"file_id": "r"}, false, ""},
		{"read on write", reader, map[string]interface{}{"file_id": "w"}, false, ""},
		{"missing entry defaults to read", reader, map[string]interface{}{"file_id": "unknown"}, false, ""},
		{"none blocks reader", reader, map[string]interface{}{"file_id": "n"}, true, LevelRead},
		{"none blocks tool without requirement as read", anyTool, map[string]interface{}{"file_id": "n"}, true, LevelRead},
		{"write on read denied", writer, map[string]interface{}{"file_id": "r"}, true, LevelWrite},
		{"write on md allowed", writer, map[string]interface{}{"file_id": "w"}, false, ""},
		{"write on pdf denied by type", writer, map[string]interface{}{"file_id": "pdf"}, true, LevelWrite},
		{"single file_ids element is checked", reader, map[string]interface{}{"file_ids": []interface{}{"n"}}, true, LevelRead},
		{"multiple file_ids skip check", reader, map[string]interface{}{"file_ids": []interface{}{"n", "r"}}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gate.Authorize(context.Background(), tt.tool, tt.args, pc, lookup)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrPermissionDenied))
			var denied *DeniedError
			require.True(t, errors.As(err, &denied))
			assert.Equal(t, tt.required, denied.Required)
		})
	}
}

func TestGate_AuthorizeUnknownFileSkipsTypeCheck(t *testing.T) {
	gate := NewGate()
	pc := NewContext("s", map[string]Level{"ghost": LevelWrite})
	writer := stubTool{name: "append_document", required: LevelWrite, writableOnly: true}

	err := gate.Authorize(context.Background(), writer, map[string]interface{}{"file_id": "ghost"}, pc, lookupTypes(nil))
	assert.NoError(t, err)
}

func TestDeniedError_Message(t *testing.T) {
	err := &DeniedError{Tool: "update_document", FileID: "f1", Required: LevelWrite}
	assert.Equal(t, "Tool 'update_document' requires write permission on file f1", err.Error())
}

func TestGate_ResolveCachesUntilInvalidate(t *testing.T) {
	store := repotest.NewStore()
	sess := store.AddSession(&entity.ChatSession{Permissions: map[string]string{
		"a": "write",
		"b": "bogus",
	}})
	repo := store.UnitOfWork().ChatSessionRepository()
	gate := NewGate()

	pc, err := gate.Resolve(context.Background(), repo, sess.Id)
	require.NoError(t, err)
	assert.Equal(t, map[string]Level{"a": LevelWrite}, pc.Levels)

	// Mutations are invisible until the cache is invalidated.
	store.Sessions[sess.Id].Permissions = map[string]string{"a": "none"}
	pc, err = gate.Resolve(context.Background(), repo, sess.Id)
	require.NoError(t, err)
	assert.Equal(t, LevelWrite, pc.Levels["a"])

	gate.Invalidate(sess.Id.String())
	pc, err = gate.Resolve(context.Background(), repo, sess.Id)
	require.NoError(t, err)
	assert.Equal(t, LevelNone, pc.Levels["a"])
}

func TestGate_ResolveMissingSessionNotCached(t *testing.T) {
	store := repotest.NewStore()
	repo := store.UnitOfWork().ChatSessionRepository()
	gate := NewGate()
	id := uuid.New()

	pc, err := gate.Resolve(context.Background(), repo, id)
	require.NoError(t, err)
	assert.Empty(t, pc.Levels)

	store.AddSession(&entity.ChatSession{Id: id, Permissions: map[string]string{"x": "read"}})
	pc, err = gate.Resolve(context.Background(), repo, id)
	require.NoError(t, err)
	assert.Equal(t, LevelRead, pc.Levels["x"])
}

func TestContext_Filters(t *testing.T) {
	pc := NewContext("s", map[string]Level{"r": LevelRead, "w": LevelWrite, "n": LevelNone})
	ids := []string{"n", "w", "missing", "r"}

	assert.Equal(t, []string{"w", "missing", "r"}, pc.FilterVisible(ids))
	assert.Equal(t, []string{"w", "missing", "r"}, pc.FilterReadable(ids))
	assert.Equal(t, []string{"w"}, pc.FilterWritable(ids))
	assert.True(t, pc.HasWritable())
	assert.False(t, NewContext("s", nil).HasWritable())
}

func TestTargetFileID(t *testing.T) {
	assert.Equal(t, "a", TargetFileID(map[string]interface{}{"file_id": "a", "file_ids": []interface{}{"b"}}))
	assert.Equal(t, "b", TargetFileID(map[string]interface{}{"file_ids": []string{"b"}}))
	assert.Equal(t, "", TargetFileID(map[string]interface{}{"file_ids": []interface{}{}}))
	assert.Equal(t, "", TargetFileID(nil))
}

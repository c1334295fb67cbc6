package mapper

import (
	"testing"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestChatSessionToEntity_NilPermissionsBecomeEmptyMap(t *testing.T) {
	m := NewChatMapper()
	out := m.ChatSessionToEntity(&model.ChatSession{Id: uuid.New(), Name: "s"})
	require.NotNil(t, out.Permissions)
	assert.Empty(t, out.Permissions)
}

func TestChatMessageToEntity_MalformedJSONDegrades(t *testing.T) {
	m := NewChatMapper()
	out := m.ChatMessageToEntity(&model.ChatMessage{
		Id:        uuid.New(),
		Role:      "assistant",
		ToolCalls: datatypes.JSON(`{not json`),
		Citations: datatypes.JSON(`[{"file_id":"f","page":2,"chunk_index":1,"content":"x"}]`),
	})
	assert.Empty(t, out.ToolCalls)
	require.Len(t, out.Citations, 1)
	assert.Equal(t, 2, out.Citations[0].Page)
}

func TestChatMessageToModel_NilSlicesStoredAsEmptyArrays(t *testing.T) {
	m := NewChatMapper()
	out := m.ChatMessageToModel(&entity.ChatMessage{Id: uuid.New(), Role: "user"})
	assert.Equal(t, "[]", string(out.ToolCalls))
	assert.Equal(t, "[]", string(out.Citations))
}

func TestCompactionOpenLoops_SurviveJSONMapShape(t *testing.T) {
	m := NewAgentMapper()
	stored := m.CompactionToModel(&entity.ConversationCompaction{OpenLoops: []string{"a", "b"}})
	back := m.CompactionToEntity(stored)
	assert.Equal(t, []string{"a", "b"}, back.OpenLoops)
}

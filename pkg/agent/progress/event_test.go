package progress

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScale(t *testing.T) {
	assert.Equal(t, 70, Scale(ToolRangeStart, ToolRangeEnd, 0, 3))
	assert.Equal(t, 80, Scale(ToolRangeStart, ToolRangeEnd, 1, 3))
	assert.Equal(t, 90, Scale(ToolRangeStart, ToolRangeEnd, 2, 3))
	assert.Equal(t, 90, Scale(ToolRangeStart, ToolRangeEnd, 0, 0))
}

func TestEvent_JSON(t *testing.T) {
	e := NewEvent("s", "t", ToolStarted, "tools", "Running read_document", Percent(70), StatusRunning).
		WithPayload(map[string]interface{}{"tool": "read_document"})

	b, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "tool_started", decoded["event_type"])
	assert.Equal(t, float64(70), decoded["progress"])
	assert.NotEmpty(t, decoded["event_id"])
	assert.Equal(t, "read_document", decoded["payload"].(map[string]interface{})["tool"])

	cancel := NewEvent("s", "t", TaskCancelled, "cancelled", "", nil, StatusCancelled)
	b, err = json.Marshal(cancel)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"progress":null`)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Publish(context.Background(), NewEvent("s", "t", TaskStarted, "", "", nil, StatusRunning)))
	require.NoError(t, r.Publish(context.Background(), NewEvent("s", "t", TaskCompleted, "", "", nil, StatusCompleted)))
	assert.Equal(t, []EventType{TaskStarted, TaskCompleted}, r.Types())
}

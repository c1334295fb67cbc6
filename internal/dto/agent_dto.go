package dto

import (
	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/pkg/agent/compaction"
	"knowledge-agent-be/pkg/agent/taskstate"
	"knowledge-agent-be/pkg/llm"

	"github.com/google/uuid"
)

const (
	TurnStatusCompleted = "completed"
	TurnStatusCancelled = "cancelled"
	TurnStatusFailed    = "failed"
)

type ChatCompletionRequest struct {
	SessionId       uuid.UUID           `json:"session_id" validate:"required"`
	Message         string              `json:"message" validate:"required,max=32000"`
	ContextFiles    []string            `json:"context_files" validate:"omitempty,dive,uuid"`
	ViewportContext *ViewportContextDTO `json:"viewport_context,omitempty"`
	ActiveFileId    string              `json:"active_file_id,omitempty" validate:"omitempty,uuid"`
	ActivePage      *int                `json:"active_page,omitempty" validate:"omitempty,min=1"`
	CompactMode     string              `json:"compact_mode,omitempty" validate:"omitempty,oneof=auto off force"`
	TaskId          string              `json:"task_id,omitempty" validate:"omitempty,max=128"`
	Model           string              `json:"model,omitempty" validate:"omitempty,max=128"`
	UseTools        *bool               `json:"use_tools,omitempty"`
	Permissions     map[string]string   `json:"permissions,omitempty" validate:"omitempty,dive,keys,uuid,endkeys,permission"`
}

// ToolsEnabled defaults to true when the client did not say.
func (r *ChatCompletionRequest) ToolsEnabled() bool {
	return r.UseTools == nil || *r.UseTools
}

// ViewportContextDTO is what the client reports it is looking at.
type ViewportContextDTO struct {
	FileId       string  `json:"file_id" validate:"required,uuid"`
	FileName     string  `json:"file_name,omitempty"`
	FileType     string  `json:"file_type,omitempty"`
	Page         int     `json:"page" validate:"min=0"`
	ScrollY      float64 `json:"scroll_y"`
	VisibleRange []int   `json:"visible_range,omitempty" validate:"omitempty,len=2"`
}

type ChatCompletionResponse struct {
	MessageId   uuid.UUID                  `json:"message_id"`
	Content     string                     `json:"content"`
	ToolCalls   []entity.MessageToolCall   `json:"tool_calls"`
	ToolResults []entity.MessageToolResult `json:"tool_results"`
	Citations   []entity.MessageCitation   `json:"citations"`
	Usage       llm.Usage                  `json:"usage"`
	Model       string                     `json:"model"`
	TaskId      string                     `json:"task_id"`
	TaskState   *taskstate.Snapshot        `json:"task_state"`
	CompactMeta compaction.Meta            `json:"compact_meta"`
	Status      string                     `json:"status"`
}

type CancelTaskRequest struct {
	SessionId string `json:"session_id,omitempty" validate:"omitempty,uuid"`
}

type CancelTaskResponse struct {
	TaskId    string `json:"task_id"`
	SessionId string `json:"session_id"`
	Status    string `json:"status"`
}

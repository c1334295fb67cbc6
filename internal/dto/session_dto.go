package dto

import (
	"time"

	"knowledge-agent-be/internal/entity"

	"github.com/google/uuid"
)

type SessionResponse struct {
	Id           uuid.UUID         `json:"id"`
	Name         string            `json:"name"`
	Permissions  map[string]string `json:"permissions"`
	ActiveTaskId *string           `json:"active_task_id"`
	MessageCount int64             `json:"message_count"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    *time.Time        `json:"updated_at"`
}

type MessageResponse struct {
	Id          uuid.UUID                  `json:"id"`
	Role        string                     `json:"role"`
	Content     string                     `json:"content"`
	TaskId      string                     `json:"task_id,omitempty"`
	Status      string                     `json:"status,omitempty"`
	Model       string                     `json:"model,omitempty"`
	ToolCalls   []entity.MessageToolCall   `json:"tool_calls,omitempty"`
	ToolResults []entity.MessageToolResult `json:"tool_results,omitempty"`
	Citations   []entity.MessageCitation   `json:"citations,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
}

type GetMessagesRequest struct {
	Limit  int `query:"limit" validate:"omitempty,min=1,max=200"`
	Offset int `query:"offset" validate:"omitempty,min=0"`
}

type MessagesPageResponse struct {
	Messages []*MessageResponse `json:"messages"`
	Total    int64              `json:"total"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

type UpdatePermissionRequest struct {
	FileId     string `json:"file_id" validate:"required,uuid"`
	Permission string `json:"permission" validate:"required,permission"`
}

type BulkUpdatePermissionsRequest struct {
	Permissions map[string]string `json:"permissions" validate:"required,dive,keys,uuid,endkeys,permission"`
}

type PermissionsResponse struct {
	SessionId   uuid.UUID         `json:"session_id"`
	Permissions map[string]string `json:"permissions"`
}

type TaskStateResponse struct {
	SessionId     uuid.UUID              `json:"session_id"`
	TaskId        string                 `json:"task_id"`
	State         string                 `json:"state"`
	Goal          string                 `json:"goal"`
	CurrentStep   int                    `json:"current_step"`
	TotalSteps    int                    `json:"total_steps"`
	Plan          map[string]interface{} `json:"plan"`
	Artifacts     map[string]interface{} `json:"artifacts"`
	BlockedReason *string                `json:"blocked_reason"`
	NextAction    *string                `json:"next_action"`
	LastMessageId *uuid.UUID             `json:"last_message_id"`
	UpdatedAt     *time.Time             `json:"updated_at"`
	Active        bool                   `json:"active"`
}

package entity

import (
	"time"

	"github.com/google/uuid"
)

const (
	MessageStatusCompleted = "completed"
	MessageStatusCancelled = "cancelled"
	MessageStatusFailed    = "failed"
)

type MessageToolCall struct {
	Id        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type MessageToolResult struct {
	Tool   string                 `json:"tool"`
	Result map[string]interface{} `json:"result"`
}

type MessageCitation struct {
	FileId     string `json:"file_id"`
	Page       int    `json:"page"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
}

type ChatMessage struct {
	Id            uuid.UUID
	ChatSessionId uuid.UUID
	Role          string
	Content       string
	TaskId        string
	Status        string
	Model         string
	ToolCalls     []MessageToolCall
	ToolResults   []MessageToolResult
	Citations     []MessageCitation
	CreatedAt     time.Time
	UpdatedAt     *time.Time
}

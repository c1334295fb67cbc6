package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChatMessage struct {
	Id            uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ChatSessionId uuid.UUID      `gorm:"type:uuid;not null;index"`
	Role          string         `gorm:"type:varchar(16);not null"`
	Content       string         `gorm:"type:text"`
	TaskId        string         `gorm:"type:varchar(64);index"`
	Status        string         `gorm:"type:varchar(16)"`
	Model         string         `gorm:"type:varchar(128)"`
	ToolCalls     datatypes.JSON `gorm:"type:jsonb"`
	ToolResults   datatypes.JSON `gorm:"type:jsonb"`
	Citations     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time      `gorm:"autoCreateTime;index"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime"`
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

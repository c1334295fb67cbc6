package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SessionTaskState holds only the latest snapshot; each transition overwrites the row.
type SessionTaskState struct {
	ChatSessionId uuid.UUID         `gorm:"type:uuid;primaryKey"`
	TaskId        string            `gorm:"type:varchar(64);not null;index"`
	State         string            `gorm:"type:varchar(16);not null"`
	Goal          string            `gorm:"type:text"`
	CurrentStep   int               `gorm:"not null;default:0"`
	TotalSteps    int               `gorm:"not null;default:0"`
	Plan          datatypes.JSONMap `gorm:"type:jsonb"`
	Artifacts     datatypes.JSONMap `gorm:"type:jsonb"`
	BlockedReason *string           `gorm:"type:text"`
	NextAction    *string           `gorm:"type:text"`
	LastMessageId *uuid.UUID        `gorm:"type:uuid"`
	CreatedAt     time.Time         `gorm:"autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime"`
}

func (SessionTaskState) TableName() string {
	return "session_task_states"
}

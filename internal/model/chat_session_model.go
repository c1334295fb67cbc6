package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChatSession struct {
	Id          uuid.UUID                             `gorm:"type:uuid;primaryKey"`
	UserId      *uuid.UUID                            `gorm:"type:uuid;index"`
	Name        string                                `gorm:"type:text;not null"`
	Permissions datatypes.JSONType[map[string]string] `gorm:"type:jsonb"` // file id -> read|write|none
	CreatedAt   time.Time                             `gorm:"autoCreateTime"`
	UpdatedAt   time.Time                             `gorm:"autoUpdateTime"`
	DeletedAt   gorm.DeletedAt                        `gorm:"index"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

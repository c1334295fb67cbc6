package model

import (
	"time"

	"github.com/google/uuid"
)

type EditProposal struct {
	Id              uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	FileId          uuid.UUID `gorm:"type:uuid;not null;index"`
	ChatSessionId   uuid.UUID `gorm:"type:uuid;not null;index"`
	TaskId          string    `gorm:"type:varchar(64)"`
	ToolName        string    `gorm:"type:varchar(64);not null"`
	Summary         string    `gorm:"type:text"`
	BaseContent     string    `gorm:"type:text"`
	ProposedContent string    `gorm:"type:text"`
	Patch           string    `gorm:"type:text"`
	Status          string    `gorm:"type:varchar(16);not null;default:'pending'"`
	Author          string    `gorm:"type:varchar(16);not null;default:'agent'"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (EditProposal) TableName() string {
	return "edit_proposals"
}

package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type WorkspaceFile struct {
	Id        uuid.UUID         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ParentId  *uuid.UUID        `gorm:"type:uuid;index"`
	Name      string            `gorm:"type:text;not null"`
	FileType  string            `gorm:"type:varchar(16);not null;index"`
	Content   string            `gorm:"type:text"` // text body of md/txt/code files, extracted text for docx
	PageCount int               `gorm:"default:0"`
	Size      int64             `gorm:"default:0"`
	Meta      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"autoCreateTime"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt    `gorm:"index"`
}

func (WorkspaceFile) TableName() string {
	return "workspace_files"
}

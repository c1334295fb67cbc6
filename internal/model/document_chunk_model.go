package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

type DocumentChunk struct {
	Id         uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	FileId     uuid.UUID       `gorm:"type:uuid;not null;index:idx_chunk_position,priority:1"`
	Page       int             `gorm:"not null;default:1;index:idx_chunk_position,priority:2"`
	ChunkIndex int             `gorm:"not null;default:0;index:idx_chunk_position,priority:3"`
	Content    string          `gorm:"type:text;not null"`
	Embedding  pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt  time.Time       `gorm:"autoCreateTime"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

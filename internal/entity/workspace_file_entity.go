package entity

import (
	"time"

	"github.com/google/uuid"
)

const (
	FileTypeFolder = "folder"
	FileTypeMD     = "md"
	FileTypePDF    = "pdf"
	FileTypeCode   = "code"
	FileTypeDocx   = "docx"
	FileTypeTxt    = "txt"
	FileTypeImage  = "image"
)

type WorkspaceFile struct {
	Id        uuid.UUID
	ParentId  *uuid.UUID
	Name      string
	FileType  string
	Content   string
	PageCount int
	Size      int64
	Meta      map[string]interface{}
	CreatedAt time.Time
	UpdatedAt *time.Time
}

type DocumentChunk struct {
	Id         uuid.UUID
	FileId     uuid.UUID
	Page       int
	ChunkIndex int
	Content    string
	CreatedAt  time.Time
}

// ChunkMatch is a chunk returned by a nearest-neighbour query with its cosine distance.
type ChunkMatch struct {
	Chunk    DocumentChunk
	Distance float64
}

package specification

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ByFileID struct {
	FileID uuid.UUID
}

func (s ByFileID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("file_id = ?", s.FileID)
}

// ByPage matches chunks on one page.
type ByPage struct {
	Page int
}

func (s ByPage) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("page = ?", s.Page)
}

// PageRange matches chunks with Start <= page <= End. A zero bound is open.
type PageRange struct {
	Start int
	End   int
}

func (s PageRange) Apply(db *gorm.DB) *gorm.DB {
	if s.Start > 0 {
		db = db.Where("page >= ?", s.Start)
	}
	if s.End > 0 {
		db = db.Where("page <= ?", s.End)
	}
	return db
}

// ChunkOrder orders chunks in reading order.
type ChunkOrder struct{}

func (s ChunkOrder) Apply(db *gorm.DB) *gorm.DB {
	return db.Order("page ASC").Order("chunk_index ASC")
}

type ExcludeFileType struct {
	FileType string
}

func (s ExcludeFileType) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("file_type <> ?", s.FileType)
}

package specification

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ByChatSessionID struct {
	ChatSessionID uuid.UUID
}

func (s ByChatSessionID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("chat_session_id = ?", s.ChatSessionID)
}

// ByRoles keeps messages whose role is in the set (e.g. user/assistant only).
type ByRoles struct {
	Roles []string
}

func (s ByRoles) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("role IN ?", s.Roles)
}

type ByTaskID struct {
	TaskID string
}

func (s ByTaskID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("task_id = ?", s.TaskID)
}

package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ConversationCompaction is append-only; (chat_session_id, sequence) is unique.
type ConversationCompaction struct {
	Id            uuid.UUID         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ChatSessionId uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_compaction_session_seq,priority:1"`
	Sequence      int               `gorm:"not null;uniqueIndex:idx_compaction_session_seq,priority:2"`
	TriggerReason string            `gorm:"type:varchar(32);not null"`
	BeforeTokens  int               `gorm:"not null"`
	AfterTokens   int               `gorm:"not null"`
	SummaryText   string            `gorm:"type:text"`
	KeyFacts      datatypes.JSONMap `gorm:"type:jsonb"`
	OpenLoops     datatypes.JSONMap `gorm:"type:jsonb"`
	SourceFrom    *time.Time
	SourceTo      *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (ConversationCompaction) TableName() string {
	return "conversation_compactions"
}

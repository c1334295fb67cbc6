package entity

import (
	"time"

	"github.com/google/uuid"
)

type ConversationCompaction struct {
	Id            uuid.UUID
	ChatSessionId uuid.UUID
	Sequence      int
	TriggerReason string
	BeforeTokens  int
	AfterTokens   int
	SummaryText   string
	KeyFacts      map[string]interface{}
	OpenLoops     []string
	SourceFrom    *time.Time
	SourceTo      *time.Time
	CreatedAt     time.Time
}

type SessionTaskState struct {
	ChatSessionId uuid.UUID
	TaskId        string
	State         string
	Goal          string
	CurrentStep   int
	TotalSteps    int
	Plan          map[string]interface{}
	Artifacts     map[string]interface{}
	BlockedReason *string
	NextAction    *string
	LastMessageId *uuid.UUID
	UpdatedAt     *time.Time
}

const EditProposalPending = "pending"

type EditProposal struct {
	Id              uuid.UUID
	FileId          uuid.UUID
	ChatSessionId   uuid.UUID
	TaskId          string
	ToolName        string
	Summary         string
	BaseContent     string
	ProposedContent string
	Patch           string
	Status          string
	Author          string
	CreatedAt       time.Time
}

package contract

import (
	"context"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/repository/specification"

	"github.com/google/uuid"
)

type ConversationCompactionRepository interface {
	// Create returns ErrDuplicate when the (session, sequence) pair already exists.
	Create(ctx context.Context, compaction *entity.ConversationCompaction) error
	FindLatest(ctx context.Context, sessionID uuid.UUID) (*entity.ConversationCompaction, error)
	MaxSequence(ctx context.Context, sessionID uuid.UUID) (int, error)
	DeleteByChatSessionID(ctx context.Context, sessionID uuid.UUID) error
}

type SessionTaskStateRepository interface {
	Upsert(ctx context.Context, state *entity.SessionTaskState) error
	FindByChatSessionID(ctx context.Context, sessionID uuid.UUID) (*entity.SessionTaskState, error)
	DeleteByChatSessionID(ctx context.Context, sessionID uuid.UUID) error
}

type EditProposalRepository interface {
	Create(ctx context.Context, proposal *entity.EditProposal) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.EditProposal, error)
}

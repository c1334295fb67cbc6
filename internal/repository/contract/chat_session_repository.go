package contract

import (
	"context"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/repository/specification"

	"github.com/google/uuid"
)

// ChatSessionRepository stores sessions together with their file permission map.
type ChatSessionRepository interface {
	// Create returns ErrDuplicate when the id is taken.
	Create(ctx context.Context, session *entity.ChatSession) error
	// FindOne returns nil, nil when nothing matches.
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ChatSession, error)
	// ReplacePermissions overwrites the whole permission map of one session.
	ReplacePermissions(ctx context.Context, id uuid.UUID, permissions map[string]string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

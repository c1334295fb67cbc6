package contract

import (
	"context"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/repository/specification"

	"github.com/google/uuid"
)

type ChatMessageRepository interface {
	Create(ctx context.Context, message *entity.ChatMessage) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatMessage, error)
	// FindRecent returns the newest limit messages with one of roles, oldest first.
	FindRecent(ctx context.Context, sessionID uuid.UUID, roles []string, limit int) ([]*entity.ChatMessage, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	DeleteByChatSessionID(ctx context.Context, sessionID uuid.UUID) error
}

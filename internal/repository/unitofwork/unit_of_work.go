package unitofwork

import (
	"context"

	"knowledge-agent-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error
	// Savepoint runs fn in a nested scope of the open transaction. An error
	// from fn rolls back only that scope, leaving the outer transaction usable.
	// Without an open transaction fn runs on this unit directly.
	Savepoint(ctx context.Context, fn func(uow UnitOfWork) error) error

	WorkspaceFileRepository() contract.WorkspaceFileRepository
	DocumentChunkRepository() contract.DocumentChunkRepository

	ChatSessionRepository() contract.ChatSessionRepository
	ChatMessageRepository() contract.ChatMessageRepository

	ConversationCompactionRepository() contract.ConversationCompactionRepository
	SessionTaskStateRepository() contract.SessionTaskStateRepository
	EditProposalRepository() contract.EditProposalRepository
}

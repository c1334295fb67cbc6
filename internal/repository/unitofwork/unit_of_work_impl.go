package unitofwork

import (
	"context"
	"errors"
	"fmt"

	"knowledge-agent-be/internal/repository/contract"
	"knowledge-agent-be/internal/repository/implementation"

	"gorm.io/gorm"
)

var (
	ErrTxActive   = errors.New("unitofwork: transaction already started")
	ErrNoActiveTx = errors.New("unitofwork: no active transaction")
	ErrNestedUnit = errors.New("unitofwork: savepoint scope cannot begin or commit")
)

// gormUnitOfWork hands out repositories bound to the open transaction, or to the
// pool when none is open.
type gormUnitOfWork struct {
	db     *gorm.DB
	tx     *gorm.DB
	nested bool
}

func NewUnitOfWork(db *gorm.DB) UnitOfWork {
	return &gormUnitOfWork{db: db}
}

func (u *gormUnitOfWork) conn() *gorm.DB {
	if u.tx != nil {
		return u.tx
	}
	return u.db
}

func (u *gormUnitOfWork) Begin(ctx context.Context) error {
	if u.nested {
		return ErrNestedUnit
	}
	if u.tx != nil {
		return ErrTxActive
	}
	tx := u.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("unitofwork: begin: %w", err)
	}
	u.tx = tx
	return nil
}

func (u *gormUnitOfWork) Commit() error {
	if u.nested {
		return ErrNestedUnit
	}
	if u.tx == nil {
		return ErrNoActiveTx
	}
	tx := u.tx
	u.tx = nil
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("unitofwork: commit: %w", err)
	}
	return nil
}

// Rollback after Commit does nothing.
func (u *gormUnitOfWork) Rollback() error {
	if u.nested || u.tx == nil {
		return nil
	}
	tx := u.tx
	u.tx = nil
	return tx.Rollback().Error
}

// Savepoint relies on gorm opening a SAVEPOINT when Transaction is called on
// a transaction handle.
func (u *gormUnitOfWork) Savepoint(ctx context.Context, fn func(uow UnitOfWork) error) error {
	if u.tx == nil {
		return fn(u)
	}
	return u.tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		return fn(&gormUnitOfWork{db: u.db, tx: sp, nested: true})
	})
}

func (u *gormUnitOfWork) WorkspaceFileRepository() contract.WorkspaceFileRepository {
	return implementation.NewWorkspaceFileRepository(u.conn())
}

func (u *gormUnitOfWork) DocumentChunkRepository() contract.DocumentChunkRepository {
	return implementation.NewDocumentChunkRepository(u.conn())
}

func (u *gormUnitOfWork) ChatSessionRepository() contract.ChatSessionRepository {
	return implementation.NewChatSessionRepository(u.conn())
}

func (u *gormUnitOfWork) ChatMessageRepository() contract.ChatMessageRepository {
	return implementation.NewChatMessageRepository(u.conn())
}

func (u *gormUnitOfWork) ConversationCompactionRepository() contract.ConversationCompactionRepository {
	return implementation.NewConversationCompactionRepository(u.conn())
}

func (u *gormUnitOfWork) SessionTaskStateRepository() contract.SessionTaskStateRepository {
	return implementation.NewSessionTaskStateRepository(u.conn())
}

func (u *gormUnitOfWork) EditProposalRepository() contract.EditProposalRepository {
	return implementation.NewEditProposalRepository(u.conn())
}

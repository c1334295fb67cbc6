package implementation

import (
	"context"
	"errors"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/mapper"
	"knowledge-agent-be/internal/model"
	"knowledge-agent-be/internal/repository/contract"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConversationCompactionRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.AgentMapper
}

func NewConversationCompactionRepository(db *gorm.DB) contract.ConversationCompactionRepository {
	return &ConversationCompactionRepositoryImpl{
		db:     db,
		mapper: mapper.NewAgentMapper(),
	}
}

// Create runs in a nested transaction so a unique violation rolls back to a
// savepoint instead of poisoning the caller's transaction.
func (r *ConversationCompactionRepositoryImpl) Create(ctx context.Context, compaction *entity.ConversationCompaction) error {
	m := r.mapper.CompactionToModel(compaction)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(m).Error
	})
	if err != nil {
		return translateError(err)
	}
	*compaction = *r.mapper.CompactionToEntity(m)
	return nil
}

func (r *ConversationCompactionRepositoryImpl) FindLatest(ctx context.Context, sessionID uuid.UUID) (*entity.ConversationCompaction, error) {
	var m model.ConversationCompaction
	err := r.db.WithContext(ctx).
		Where("chat_session_id = ?", sessionID).
		Order("sequence DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.CompactionToEntity(&m), nil
}

func (r *ConversationCompactionRepositoryImpl) MaxSequence(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var seq int
	err := r.db.WithContext(ctx).
		Model(&model.ConversationCompaction{}).
		Where("chat_session_id = ?", sessionID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&seq).Error
	return seq, err
}

func (r *ConversationCompactionRepositoryImpl) DeleteByChatSessionID(ctx context.Context, sessionID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("chat_session_id = ?", sessionID).Delete(&model.ConversationCompaction{}).Error
}

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
	"gorm.io/gorm/clause"
)

type SessionTaskStateRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.AgentMapper
}

func NewSessionTaskStateRepository(db *gorm.DB) contract.SessionTaskStateRepository {
	return &SessionTaskStateRepositoryImpl{
		db:     db,
		mapper: mapper.NewAgentMapper(),
	}
}

func (r *SessionTaskStateRepositoryImpl) Upsert(ctx context.Context, state *entity.SessionTaskState) error {
	m := r.mapper.TaskStateToModel(state)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "chat_session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"task_id", "state", "goal", "current_step", "total_steps",
				"plan", "artifacts", "blocked_reason", "next_action",
				"last_message_id", "updated_at",
			}),
		}).
		Create(m).Error
	if err != nil {
		return err
	}
	*state = *r.mapper.TaskStateToEntity(m)
	return nil
}

func (r *SessionTaskStateRepositoryImpl) FindByChatSessionID(ctx context.Context, sessionID uuid.UUID) (*entity.SessionTaskState, error) {
	var m model.SessionTaskState
	if err := r.db.WithContext(ctx).Where("chat_session_id = ?", sessionID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.TaskStateToEntity(&m), nil
}

func (r *SessionTaskStateRepositoryImpl) DeleteByChatSessionID(ctx context.Context, sessionID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("chat_session_id = ?", sessionID).Delete(&model.SessionTaskState{}).Error
}

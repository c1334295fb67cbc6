package implementation

import (
	"context"
	"errors"
	"time"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/mapper"
	"knowledge-agent-be/internal/model"
	"knowledge-agent-be/internal/repository/contract"
	"knowledge-agent-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChatSessionRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ChatMapper
}

func NewChatSessionRepository(db *gorm.DB) contract.ChatSessionRepository {
	return &ChatSessionRepositoryImpl{
		db:     db,
		mapper: mapper.NewChatMapper(),
	}
}

func (r *ChatSessionRepositoryImpl) Create(ctx context.Context, session *entity.ChatSession) error {
	m := r.mapper.ChatSessionToModel(session)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return translateError(err)
	}
	*session = *r.mapper.ChatSessionToEntity(m)
	return nil
}

func (r *ChatSessionRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.ChatSession, error) {
	var m model.ChatSession
	if err := applySpecifications(r.db.WithContext(ctx), specs...).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ChatSessionToEntity(&m), nil
}

// ReplacePermissions writes only the permissions column so a concurrent rename
// or soft delete is not overwritten by a stale row.
func (r *ChatSessionRepositoryImpl) ReplacePermissions(ctx context.Context, id uuid.UUID, permissions map[string]string) error {
	if permissions == nil {
		permissions = map[string]string{}
	}
	res := r.db.WithContext(ctx).Model(&model.ChatSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"permissions": datatypes.NewJSONType(permissions),
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return contract.ErrNotFound
	}
	return nil
}

func (r *ChatSessionRepositoryImpl) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&model.ChatSession{}, id).Error
}

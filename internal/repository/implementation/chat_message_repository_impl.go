package implementation

import (
	"context"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/mapper"
	"knowledge-agent-be/internal/model"
	"knowledge-agent-be/internal/repository/contract"
	"knowledge-agent-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChatMessageRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ChatMapper
}

func NewChatMessageRepository(db *gorm.DB) contract.ChatMessageRepository {
	return &ChatMessageRepositoryImpl{
		db:     db,
		mapper: mapper.NewChatMapper(),
	}
}

func (r *ChatMessageRepositoryImpl) Create(ctx context.Context, message *entity.ChatMessage) error {
	m := r.mapper.ChatMessageToModel(message)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return translateError(err)
	}
	*message = *r.mapper.ChatMessageToEntity(m)
	return nil
}

func (r *ChatMessageRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatMessage, error) {
	var models []*model.ChatMessage
	if err := applySpecifications(r.db.WithContext(ctx), specs...).Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ChatMessagesToEntities(models), nil
}

// FindRecent selects the tail of the conversation newest-first with the
// (chat_session_id, created_at) index, then flips it to chronological order.
func (r *ChatMessageRepositoryImpl) FindRecent(ctx context.Context, sessionID uuid.UUID, roles []string, limit int) ([]*entity.ChatMessage, error) {
	var models []*model.ChatMessage
	err := applySpecifications(r.db.WithContext(ctx),
		specification.ByChatSessionID{ChatSessionID: sessionID},
		specification.ByRoles{Roles: roles},
		specification.OrderBy{Field: "created_at", Desc: true},
		specification.Pagination{Limit: limit},
	).Find(&models).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(models)-1; i < j; i, j = i+1, j-1 {
		models[i], models[j] = models[j], models[i]
	}
	return r.mapper.ChatMessagesToEntities(models), nil
}

func (r *ChatMessageRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	err := applySpecifications(r.db.WithContext(ctx).Model(&model.ChatMessage{}), specs...).Count(&count).Error
	return count, err
}

func (r *ChatMessageRepositoryImpl) DeleteByChatSessionID(ctx context.Context, sessionID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("chat_session_id = ?", sessionID).Delete(&model.ChatMessage{}).Error
}

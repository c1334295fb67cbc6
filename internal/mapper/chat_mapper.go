package mapper

import (
	"encoding/json"
	"time"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

// Session Mappers

func (m *ChatMapper) ChatSessionToEntity(s *model.ChatSession) *entity.ChatSession {
	if s == nil {
		return nil
	}

	var deletedAt *time.Time
	if s.DeletedAt.Valid {
		t := s.DeletedAt.Time
		deletedAt = &t
	}

	var updatedAt *time.Time
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		updatedAt = &t
	}

	permissions := s.Permissions.Data()
	if permissions == nil {
		permissions = map[string]string{}
	}

	return &entity.ChatSession{
		Id:          s.Id,
		UserId:      s.UserId,
		Name:        s.Name,
		Permissions: permissions,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   updatedAt,
		DeletedAt:   deletedAt,
		IsDeleted:   s.DeletedAt.Valid,
	}
}

func (m *ChatMapper) ChatSessionToModel(s *entity.ChatSession) *model.ChatSession {
	if s == nil {
		return nil
	}

	var deletedAt gorm.DeletedAt
	if s.DeletedAt != nil {
		deletedAt = gorm.DeletedAt{Time: *s.DeletedAt, Valid: true}
	} else if s.IsDeleted {
		deletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	}

	var updatedAt time.Time
	if s.UpdatedAt != nil {
		updatedAt = *s.UpdatedAt
	}

	permissions := s.Permissions
	if permissions == nil {
		permissions = map[string]string{}
	}

	return &model.ChatSession{
		Id:          s.Id,
		UserId:      s.UserId,
		Name:        s.Name,
		Permissions: datatypes.NewJSONType(permissions),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   updatedAt,
		DeletedAt:   deletedAt,
	}
}

// Message Mappers

func (m *ChatMapper) ChatMessageToEntity(msg *model.ChatMessage) *entity.ChatMessage {
	if msg == nil {
		return nil
	}

	var updatedAt *time.Time
	if !msg.UpdatedAt.IsZero() {
		t := msg.UpdatedAt
		updatedAt = &t
	}

	out := &entity.ChatMessage{
		Id:            msg.Id,
		ChatSessionId: msg.ChatSessionId,
		Role:          msg.Role,
		Content:       msg.Content,
		TaskId:        msg.TaskId,
		Status:        msg.Status,
		Model:         msg.Model,
		CreatedAt:     msg.CreatedAt,
		UpdatedAt:     updatedAt,
	}
	// Malformed JSON columns degrade to empty slices.
	_ = unmarshalJSON(msg.ToolCalls, &out.ToolCalls)
	_ = unmarshalJSON(msg.ToolResults, &out.ToolResults)
	_ = unmarshalJSON(msg.Citations, &out.Citations)
	return out
}

func (m *ChatMapper) ChatMessageToModel(msg *entity.ChatMessage) *model.ChatMessage {
	if msg == nil {
		return nil
	}

	var updatedAt time.Time
	if msg.UpdatedAt != nil {
		updatedAt = *msg.UpdatedAt
	}

	return &model.ChatMessage{
		Id:            msg.Id,
		ChatSessionId: msg.ChatSessionId,
		Role:          msg.Role,
		Content:       msg.Content,
		TaskId:        msg.TaskId,
		Status:        msg.Status,
		Model:         msg.Model,
		ToolCalls:     marshalJSON(msg.ToolCalls),
		ToolResults:   marshalJSON(msg.ToolResults),
		Citations:     marshalJSON(msg.Citations),
		CreatedAt:     msg.CreatedAt,
		UpdatedAt:     updatedAt,
	}
}

func (m *ChatMapper) ChatMessagesToEntities(msgs []*model.ChatMessage) []*entity.ChatMessage {
	out := make([]*entity.ChatMessage, len(msgs))
	for i, msg := range msgs {
		out[i] = m.ChatMessageToEntity(msg)
	}
	return out
}

func marshalJSON(v interface{}) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(b)
}

func unmarshalJSON(raw datatypes.JSON, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

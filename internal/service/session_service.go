package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"knowledge-agent-be/internal/dto"
	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/internal/repository/contract"
	"knowledge-agent-be/internal/repository/specification"
	"knowledge-agent-be/internal/repository/unitofwork"
	"knowledge-agent-be/pkg/agent/permission"
	"knowledge-agent-be/pkg/agent/taskregistry"

	"github.com/google/uuid"
)

const defaultMessagesLimit = 50

type ISessionService interface {
	// EnsureSession loads the session inside uow, creating it on first use.
	// Non-empty permissions replace the stored map.
	EnsureSession(ctx context.Context, uow unitofwork.UnitOfWork, sessionID uuid.UUID, permissions map[string]string) (*entity.ChatSession, error)
	Get(ctx context.Context, sessionID uuid.UUID) (*dto.SessionResponse, error)
	GetMessages(ctx context.Context, sessionID uuid.UUID, req *dto.GetMessagesRequest) (*dto.MessagesPageResponse, error)
	UpdatePermission(ctx context.Context, sessionID uuid.UUID, req *dto.UpdatePermissionRequest) (*dto.PermissionsResponse, error)
	BulkUpdatePermissions(ctx context.Context, sessionID uuid.UUID, req *dto.BulkUpdatePermissionsRequest) (*dto.PermissionsResponse, error)
	Delete(ctx context.Context, sessionID uuid.UUID) error
	GetTaskState(ctx context.Context, sessionID uuid.UUID) (*dto.TaskStateResponse, error)
}

// ViewportClearer drops stored viewports of a deleted session.
type ViewportClearer interface {
	Clear(sessionID, fileID string)
}

type sessionService struct {
	uowFactory unitofwork.RepositoryFactory
	gate       *permission.Gate
	tasks      taskregistry.Registry
	viewports  ViewportClearer
	logger     logger.ILogger
}

func NewSessionService(
	uowFactory unitofwork.RepositoryFactory,
	gate *permission.Gate,
	tasks taskregistry.Registry,
	viewports ViewportClearer,
	log logger.ILogger,
) ISessionService {
	return &sessionService{
		uowFactory: uowFactory,
		gate:       gate,
		tasks:      tasks,
		viewports:  viewports,
		logger:     log,
	}
}

func (s *sessionService) EnsureSession(ctx context.Context, uow unitofwork.UnitOfWork, sessionID uuid.UUID, permissions map[string]string) (*entity.ChatSession, error) {
	repo := uow.ChatSessionRepository()

	session, err := repo.FindOne(ctx, specification.ByID{ID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if session == nil {
		session = &entity.ChatSession{
			Id:          sessionID,
			Name:        "Session " + sessionID.String()[:8],
			Permissions: copyPermissions(permissions),
		}
		err = repo.Create(ctx, session)
		if errors.Is(err, contract.ErrDuplicate) {
			// Created concurrently by another request, fall through to the update path
			session, err = repo.FindOne(ctx, specification.ByID{ID: sessionID})
			if err != nil {
				return nil, fmt.Errorf("reload session: %w", err)
			}
			if session == nil {
				return nil, fmt.Errorf("session %s vanished after duplicate insert", sessionID)
			}
		} else if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		} else {
			s.gate.Invalidate(sessionID.String())
			s.logger.Info("SESSION", "Session created", map[string]interface{}{"session_id": sessionID.String(), "permissions": len(permissions)})
			return session, nil
		}
	}

	if len(permissions) > 0 {
		session.Permissions = copyPermissions(permissions)
		if err := repo.ReplacePermissions(ctx, sessionID, session.Permissions); err != nil {
			return nil, fmt.Errorf("sync session permissions: %w", err)
		}
		s.gate.Invalidate(sessionID.String())
	}
	return session, nil
}

func (s *sessionService) Get(ctx context.Context, sessionID uuid.UUID) (*dto.SessionResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	session, err := s.findSession(ctx, uow, sessionID)
	if err != nil {
		return nil, err
	}

	count, err := uow.ChatMessageRepository().Count(ctx, specification.ByChatSessionID{ChatSessionID: sessionID})
	if err != nil {
		return nil, err
	}

	res := &dto.SessionResponse{
		Id:           session.Id,
		Name:         session.Name,
		Permissions:  copyPermissions(session.Permissions),
		MessageCount: count,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
	}
	if taskID, ok := s.tasks.ActiveTask(ctx, sessionID.String()); ok {
		res.ActiveTaskId = &taskID
	}
	return res, nil
}

// GetMessages returns the newest page of messages in chronological order.
func (s *sessionService) GetMessages(ctx context.Context, sessionID uuid.UUID, req *dto.GetMessagesRequest) (*dto.MessagesPageResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultMessagesLimit
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if _, err := s.findSession(ctx, uow, sessionID); err != nil {
		return nil, err
	}

	repo := uow.ChatMessageRepository()
	total, err := repo.Count(ctx, specification.ByChatSessionID{ChatSessionID: sessionID})
	if err != nil {
		return nil, err
	}
	messages, err := repo.FindAll(ctx,
		specification.ByChatSessionID{ChatSessionID: sessionID},
		specification.OrderBy{Field: "created_at", Desc: true},
		specification.Pagination{Limit: limit, Offset: req.Offset},
	)
	if err != nil {
		return nil, err
	}

	out := make([]*dto.MessageResponse, len(messages))
	for i, m := range messages {
		out[len(messages)-1-i] = &dto.MessageResponse{
			Id:          m.Id,
			Role:        m.Role,
			Content:     m.Content,
			TaskId:      m.TaskId,
			Status:      m.Status,
			Model:       m.Model,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Citations:   m.Citations,
			CreatedAt:   m.CreatedAt,
		}
	}

	return &dto.MessagesPageResponse{
		Messages: out,
		Total:    total,
		Limit:    limit,
		Offset:   req.Offset,
	}, nil
}

func (s *sessionService) UpdatePermission(ctx context.Context, sessionID uuid.UUID, req *dto.UpdatePermissionRequest) (*dto.PermissionsResponse, error) {
	return s.writePermissions(ctx, sessionID, func(current map[string]string) map[string]string {
		current[req.FileId] = req.Permission
		return current
	})
}

// BulkUpdatePermissions replaces the whole map, so the client and server views match exactly.
func (s *sessionService) BulkUpdatePermissions(ctx context.Context, sessionID uuid.UUID, req *dto.BulkUpdatePermissionsRequest) (*dto.PermissionsResponse, error) {
	return s.writePermissions(ctx, sessionID, func(map[string]string) map[string]string {
		return copyPermissions(req.Permissions)
	})
}

func (s *sessionService) writePermissions(ctx context.Context, sessionID uuid.UUID, mutate func(map[string]string) map[string]string) (*dto.PermissionsResponse, error) {
	var permissions map[string]string
	err := s.uowFactory.Transaction(ctx, func(uow unitofwork.UnitOfWork) error {
		session, err := s.findSession(ctx, uow, sessionID)
		if err != nil {
			return err
		}
		permissions = mutate(copyPermissions(session.Permissions))
		return uow.ChatSessionRepository().ReplacePermissions(ctx, sessionID, permissions)
	})
	if err != nil {
		return nil, err
	}

	s.gate.Invalidate(sessionID.String())
	s.logger.Info("SESSION", "Permissions updated", map[string]interface{}{"session_id": sessionID.String(), "count": len(permissions)})

	return &dto.PermissionsResponse{
		SessionId:   sessionID,
		Permissions: permissions,
	}, nil
}

// Delete removes the session with its messages, task state and compactions.
// A session with a running turn cannot be deleted.
func (s *sessionService) Delete(ctx context.Context, sessionID uuid.UUID) error {
	if taskID, ok := s.tasks.ActiveTask(ctx, sessionID.String()); ok {
		return &ServiceError{
			Code:    http.StatusConflict,
			Message: "Session has an active task",
			Data:    map[string]string{"task_id": taskID},
		}
	}

	err := s.uowFactory.Transaction(ctx, func(uow unitofwork.UnitOfWork) error {
		if _, err := s.findSession(ctx, uow, sessionID); err != nil {
			return err
		}
		if err := uow.ChatMessageRepository().DeleteByChatSessionID(ctx, sessionID); err != nil {
			return err
		}
		if err := uow.SessionTaskStateRepository().DeleteByChatSessionID(ctx, sessionID); err != nil {
			return err
		}
		if err := uow.ConversationCompactionRepository().DeleteByChatSessionID(ctx, sessionID); err != nil {
			return err
		}
		return uow.ChatSessionRepository().Delete(ctx, sessionID)
	})
	if err != nil {
		return err
	}

	s.gate.Invalidate(sessionID.String())
	if s.viewports != nil {
		s.viewports.Clear(sessionID.String(), "")
	}
	s.logger.Info("SESSION", "Session deleted", map[string]interface{}{"session_id": sessionID.String()})
	return nil
}

func (s *sessionService) GetTaskState(ctx context.Context, sessionID uuid.UUID) (*dto.TaskStateResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	row, err := uow.SessionTaskStateRepository().FindByChatSessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, NewNotFoundError("Task state not found")
	}

	activeID, ok := s.tasks.ActiveTask(ctx, sessionID.String())
	return &dto.TaskStateResponse{
		SessionId:     row.ChatSessionId,
		TaskId:        row.TaskId,
		State:         row.State,
		Goal:          row.Goal,
		CurrentStep:   row.CurrentStep,
		TotalSteps:    row.TotalSteps,
		Plan:          row.Plan,
		Artifacts:     row.Artifacts,
		BlockedReason: row.BlockedReason,
		NextAction:    row.NextAction,
		LastMessageId: row.LastMessageId,
		UpdatedAt:     row.UpdatedAt,
		Active:        ok && activeID == row.TaskId,
	}, nil
}

func (s *sessionService) findSession(ctx context.Context, uow unitofwork.UnitOfWork, sessionID uuid.UUID) (*entity.ChatSession, error) {
	session, err := uow.ChatSessionRepository().FindOne(ctx, specification.ByID{ID: sessionID})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, NewNotFoundError("Session not found")
	}
	return session, nil
}

func copyPermissions(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

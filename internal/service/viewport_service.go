package service

import (
	"context"

	"knowledge-agent-be/internal/dto"
	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/internal/repository/specification"
	"knowledge-agent-be/internal/repository/unitofwork"

	"github.com/google/uuid"
)

// ViewportStore keeps the latest reading position per session and file.
type ViewportStore interface {
	Save(sessionID string, viewport entity.Viewport)
	Get(sessionID, fileID string) (*entity.Viewport, bool)
	List(sessionID string) []entity.Viewport
	Clear(sessionID, fileID string)
}

type IViewportService interface {
	Update(ctx context.Context, req *dto.UpdateViewportRequest) (*entity.Viewport, error)
	// Remember stores a client-reported viewport without touching the database.
	Remember(sessionID string, vp *dto.ViewportContextDTO)
	Get(ctx context.Context, sessionID uuid.UUID, fileID string) (*dto.ViewportResponse, error)
	Clear(ctx context.Context, sessionID uuid.UUID, fileID string) error
}

type viewportService struct {
	uowFactory unitofwork.RepositoryFactory
	store      ViewportStore
	logger     logger.ILogger
}

func NewViewportService(uowFactory unitofwork.RepositoryFactory, store ViewportStore, log logger.ILogger) IViewportService {
	return &viewportService{
		uowFactory: uowFactory,
		store:      store,
		logger:     log,
	}
}

func (s *viewportService) Update(ctx context.Context, req *dto.UpdateViewportRequest) (*entity.Viewport, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	session, err := uow.ChatSessionRepository().FindOne(ctx, specification.ByID{ID: req.SessionId})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, NewNotFoundError("Session not found")
	}

	fileID, err := uuid.Parse(req.FileId)
	if err != nil {
		return nil, NewBadRequestError("Invalid file id")
	}
	file, err := uow.WorkspaceFileRepository().FindOne(ctx, specification.ByID{ID: fileID})
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, NewNotFoundError("File not found")
	}

	vp := viewportFromDTO(&req.ViewportContextDTO)
	vp.FileName = file.Name
	vp.FileType = file.FileType

	sessionID := req.SessionId.String()
	s.store.Save(sessionID, vp)

	stored, _ := s.store.Get(sessionID, vp.FileId)
	return stored, nil
}

func (s *viewportService) Remember(sessionID string, vp *dto.ViewportContextDTO) {
	if vp == nil || vp.FileId == "" {
		return
	}
	s.store.Save(sessionID, viewportFromDTO(vp))
}

func (s *viewportService) Get(ctx context.Context, sessionID uuid.UUID, fileID string) (*dto.ViewportResponse, error) {
	id := sessionID.String()
	res := &dto.ViewportResponse{SessionId: id}

	if fileID != "" {
		vp, ok := s.store.Get(id, fileID)
		if !ok {
			return nil, NewNotFoundError("No viewport data for this file")
		}
		res.Latest = vp
		res.Viewports = []entity.Viewport{*vp}
		return res, nil
	}

	if vp, ok := s.store.Get(id, ""); ok {
		res.Latest = vp
	}
	res.Viewports = s.store.List(id)
	return res, nil
}

func (s *viewportService) Clear(ctx context.Context, sessionID uuid.UUID, fileID string) error {
	s.store.Clear(sessionID.String(), fileID)
	return nil
}

func viewportFromDTO(d *dto.ViewportContextDTO) entity.Viewport {
	vp := entity.Viewport{
		FileId:   d.FileId,
		FileName: d.FileName,
		FileType: d.FileType,
		Page:     d.Page,
		ScrollY:  d.ScrollY,
	}
	if len(d.VisibleRange) == 2 {
		vp.VisibleRange = [2]int{d.VisibleRange[0], d.VisibleRange[1]}
	}
	return vp
}

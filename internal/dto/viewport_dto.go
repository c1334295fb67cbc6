package dto

import (
	"knowledge-agent-be/internal/entity"

	"github.com/google/uuid"
)

type UpdateViewportRequest struct {
	SessionId uuid.UUID `json:"session_id" validate:"required"`
	ViewportContextDTO
}

type ViewportResponse struct {
	SessionId string            `json:"session_id"`
	Latest    *entity.Viewport  `json:"latest"`
	Viewports []entity.Viewport `json:"viewports"`
}

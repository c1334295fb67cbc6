package controller

import (
	"knowledge-agent-be/internal/dto"
	"knowledge-agent-be/internal/pkg/serverutils"
	"knowledge-agent-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type IViewportController interface {
	RegisterRoutes(r fiber.Router)
	Update(ctx *fiber.Ctx) error
	Get(ctx *fiber.Ctx) error
	Clear(ctx *fiber.Ctx) error
}

type viewportController struct {
	service service.IViewportService
}

func NewViewportController(service service.IViewportService) IViewportController {
	return &viewportController{service: service}
}

func (c *viewportController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/viewport")
	h.Use(serverutils.JwtMiddleware)
	h.Post("", c.Update)
	h.Get("/:session_id", c.Get)
	h.Delete("/:session_id", c.Clear)
}

func (c *viewportController) Update(ctx *fiber.Ctx) error {
	var req dto.UpdateViewportRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Update(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Viewport updated", res))
}

// Get returns the viewport of ?file_id=, or every stored viewport with the latest one.
func (c *viewportController) Get(ctx *fiber.Ctx) error {
	sessionID, err := uuid.Parse(ctx.Params("session_id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid session id")
	}

	res, err := c.service.Get(ctx.UserContext(), sessionID, ctx.Query("file_id"))
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get viewport", res))
}

func (c *viewportController) Clear(ctx *fiber.Ctx) error {
	sessionID, err := uuid.Parse(ctx.Params("session_id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid session id")
	}

	if err := c.service.Clear(ctx.UserContext(), sessionID, ctx.Query("file_id")); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Viewport cleared", nil))
}

package controller

import (
	"knowledge-agent-be/internal/dto"
	"knowledge-agent-be/internal/pkg/serverutils"
	"knowledge-agent-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type IChatController interface {
	RegisterRoutes(r fiber.Router)
	Completions(ctx *fiber.Ctx) error
	CancelTask(ctx *fiber.Ctx) error
	GetSession(ctx *fiber.Ctx) error
	GetMessages(ctx *fiber.Ctx) error
	UpdatePermission(ctx *fiber.Ctx) error
	BulkUpdatePermissions(ctx *fiber.Ctx) error
	DeleteSession(ctx *fiber.Ctx) error
	GetTaskState(ctx *fiber.Ctx) error
}

type chatController struct {
	turns    service.IAgentTurnService
	sessions service.ISessionService
}

func NewChatController(turns service.IAgentTurnService, sessions service.ISessionService) IChatController {
	return &chatController{turns: turns, sessions: sessions}
}

func (c *chatController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/chat")
	h.Use(serverutils.JwtMiddleware)
	h.Post("/completions", c.Completions)
	h.Post("/tasks/:task_id/cancel", c.CancelTask)

	h.Get("/sessions/:id", c.GetSession)
	h.Delete("/sessions/:id", c.DeleteSession)
	h.Get("/sessions/:id/messages", c.GetMessages)
	h.Post("/sessions/:id/permissions", c.UpdatePermission)
	h.Put("/sessions/:id/permissions", c.BulkUpdatePermissions)
	h.Get("/sessions/:id/task-state", c.GetTaskState)
}

func (c *chatController) Completions(ctx *fiber.Ctx) error {
	var req dto.ChatCompletionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.turns.Complete(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success complete chat", res))
}

func (c *chatController) CancelTask(ctx *fiber.Ctx) error {
	taskID := ctx.Params("task_id")

	var req dto.CancelTaskRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.turns.Cancel(ctx.UserContext(), taskID, &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Cancellation requested", res))
}

func (c *chatController) GetSession(ctx *fiber.Ctx) error {
	id, err := sessionParam(ctx)
	if err != nil {
		return err
	}

	res, err := c.sessions.Get(ctx.UserContext(), id)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get session", res))
}

func (c *chatController) GetMessages(ctx *fiber.Ctx) error {
	id, err := sessionParam(ctx)
	if err != nil {
		return err
	}

	var req dto.GetMessagesRequest
	if err := ctx.QueryParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid query")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.sessions.GetMessages(ctx.UserContext(), id, &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get messages", res))
}

func (c *chatController) UpdatePermission(ctx *fiber.Ctx) error {
	id, err := sessionParam(ctx)
	if err != nil {
		return err
	}

	var req dto.UpdatePermissionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.sessions.UpdatePermission(ctx.UserContext(), id, &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success update permission", res))
}

func (c *chatController) BulkUpdatePermissions(ctx *fiber.Ctx) error {
	id, err := sessionParam(ctx)
	if err != nil {
		return err
	}

	var req dto.BulkUpdatePermissionsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.sessions.BulkUpdatePermissions(ctx.UserContext(), id, &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success update permissions", res))
}

func (c *chatController) DeleteSession(ctx *fiber.Ctx) error {
	id, err := sessionParam(ctx)
	if err != nil {
		return err
	}

	if err := c.sessions.Delete(ctx.UserContext(), id); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete session", nil))
}

func (c *chatController) GetTaskState(ctx *fiber.Ctx) error {
	id, err := sessionParam(ctx)
	if err != nil {
		return err
	}

	res, err := c.sessions.GetTaskState(ctx.UserContext(), id)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get task state", res))
}

func sessionParam(ctx *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid session id")
	}
	return id, nil
}

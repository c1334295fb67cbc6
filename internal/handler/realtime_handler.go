package handler

import (
	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/internal/pkg/serverutils"
	internalWS "knowledge-agent-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// RealtimeHandler upgrades session progress subscriptions to websockets.
type RealtimeHandler struct {
	hub    *internalWS.Hub
	logger logger.ILogger
}

func NewRealtimeHandler(hub *internalWS.Hub, log logger.ILogger) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, logger: log}
}

func (h *RealtimeHandler) RegisterRoutes(r fiber.Router) {
	r.Get("/ws/sessions/:session_id", h.ServeWs)
}

// ServeWs authenticates the handshake and subscribes the socket to one chat session.
func (h *RealtimeHandler) ServeWs(c *fiber.Ctx) error {
	// Browsers cannot set headers on a websocket handshake, so the query param comes first
	tokenStr := c.Query("token")
	if tokenStr == "" {
		authHeader := c.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			tokenStr = authHeader[7:]
		}
	}
	if tokenStr == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, "Missing token"))
	}

	claims, err := serverutils.ParseToken(tokenStr)
	if err != nil {
		h.logger.Warn("RealtimeHandler", "Invalid token in WS handshake", map[string]interface{}{"error": err.Error()})
		return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, "Invalid token"))
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, "Token missing user_id"))
	}

	sessionID, err := uuid.Parse(c.Params("session_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(fiber.StatusBadRequest, "Invalid session id"))
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(func(conn *websocket.Conn) {
		fields := map[string]interface{}{"user_id": userID, "session_id": sessionID.String()}
		h.logger.Info("RealtimeHandler", "WebSocket session started", fields)
		internalWS.ServeWs(h.hub, conn, sessionID.String(), userID)
		h.logger.Info("RealtimeHandler", "WebSocket session ended", fields)
	})(c)
}

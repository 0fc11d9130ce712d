package handler

import (
	"bioai-workspace-be/internal/pkg/logger"
	"bioai-workspace-be/internal/pkg/serverutils"
	"bioai-workspace-be/internal/service"
	internalWS "bioai-workspace-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const statusModule = "StatusHandler"

// StatusHandler streams save status, restore progress and activity events
// to every open tab of a user.
type StatusHandler struct {
	hub         *internalWS.Hub
	syncService service.ISyncService
	logger      logger.ILogger
}

func NewStatusHandler(hub *internalWS.Hub, syncService service.ISyncService, log logger.ILogger) *StatusHandler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &StatusHandler{
		hub:         hub,
		syncService: syncService,
		logger:      log,
	}
}

// ServeWs authenticates the handshake and upgrades the connection.
func (h *StatusHandler) ServeWs(c *fiber.Ctx) error {
	// Browsers cannot set headers on a websocket handshake, so the query
	// parameter comes first.
	tokenStr := c.Query("token")
	if tokenStr == "" {
		authHeader := c.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			tokenStr = authHeader[7:]
		}
	}
	if tokenStr == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, "Missing token (Query 'token' or Header 'Authorization')"))
	}

	userID, err := serverutils.ParseToken(tokenStr)
	if err != nil {
		h.logger.Warn(statusModule, "Invalid token in WS handshake", map[string]interface{}{"error": err.Error()})
		return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, "Invalid token"))
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	// Read before the upgrade hijacks the request context.
	status, err := h.syncService.Status(c.UserContext(), userID)
	if err != nil {
		h.logger.Warn(statusModule, "Initial sync status unavailable", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info(statusModule, "Starting WebSocket session", map[string]interface{}{"user_id": userID})
		var greeting []internalWS.Envelope
		if status != nil {
			greeting = append(greeting, internalWS.Envelope{Type: internalWS.EventSyncStatistics, Data: status})
		}
		internalWS.ServeWs(h.hub, conn, userID, greeting...)
		h.logger.Info(statusModule, "WebSocket session ended", map[string]interface{}{"user_id": userID})
	})(c)
}

func (h *StatusHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/ws/status", h.ServeWs)
}

package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/realchat/roomsync/internal/middleware"
	"github.com/realchat/roomsync/internal/service"
)

// StreamHandler wires the websocket upgrade for the room event stream.
type StreamHandler struct {
	service service.StreamService
	logger  zerolog.Logger
}

// NewStreamHandler creates a stream handler instance.
func NewStreamHandler(service service.StreamService, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		service: service,
		logger:  logger.With().Str("component", "stream_handler").Logger(),
	}
}

// Register binds the stream route under the provided router group.
func (h *StreamHandler) Register(router fiber.Router) {
	router.Use("/rooms/:id", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/rooms/:id", websocket.New(h.handleConnection))
}

func (h *StreamHandler) handleConnection(conn *websocket.Conn) {
	roomID := strings.TrimSpace(conn.Params("id"))
	userID := strings.TrimSpace(conn.Query("user_id"))
	if roomID == "" || userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "room id and user_id required"))
		_ = conn.Close()
		return
	}

	// Each tab gets its own presence key so multi-device typing works.
	clientID := strings.TrimSpace(conn.Query("client_id"))
	if clientID == "" {
		clientID = uuid.NewString()
	}

	correlation, _ := conn.Locals("correlation_id").(string)
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.StreamConnectionOptions{
		RoomID:        roomID,
		UserID:        userID,
		ClientID:      clientID,
		CorrelationID: correlation,
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", userID).Str("room_id", roomID).Msg("stream websocket connected")
	h.service.ServeConnection(conn, opts)
	h.logger.Info().Str("user_id", userID).Str("room_id", roomID).Msg("stream websocket disconnected")
}

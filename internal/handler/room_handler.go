package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/realchat/roomsync/internal/dto"
	"github.com/realchat/roomsync/internal/middleware"
	"github.com/realchat/roomsync/internal/service"
	"github.com/realchat/roomsync/internal/utils"
)

// RoomHandler wires room lifecycle endpoints.
type RoomHandler struct {
	service service.RoomService
	logger  zerolog.Logger
}

// NewRoomHandler creates a room handler instance.
func NewRoomHandler(service service.RoomService, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		service: service,
		logger:  logger.With().Str("component", "room_handler").Logger(),
	}
}

// Register binds room routes under the provided router group.
func (h *RoomHandler) Register(router fiber.Router) {
	router.Post("/", h.create)
	router.Post("/join", h.join)
	router.Get("/:code", h.resolve)
	router.Post("/:code/leave", h.leave)
	router.Get("/:id/participants", h.participants)
}

func (h *RoomHandler) create(c *fiber.Ctx) error {
	var req dto.RoomCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	room, err := h.service.CreateRoom(requestContext(c), req)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to create room")
		return utils.SendServiceError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "room created", room)
}

func (h *RoomHandler) join(c *fiber.Ctx) error {
	var req dto.RoomJoinRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	room, participant, err := h.service.JoinRoom(requestContext(c), req)
	if err != nil {
		return utils.SendServiceError(c, err)
	}

	return utils.SendSuccess(c, "room joined", fiber.Map{
		"room":        room,
		"participant": participant,
	})
}

func (h *RoomHandler) resolve(c *fiber.Ctx) error {
	room, err := h.service.ResolveRoom(requestContext(c), c.Params("code"))
	if err != nil {
		return utils.SendServiceError(c, err)
	}

	return utils.SendSuccess(c, "room resolved", room)
}

func (h *RoomHandler) leave(c *fiber.Ctx) error {
	var req dto.RoomLeaveRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.LeaveRoom(requestContext(c), c.Params("code"), req); err != nil {
		return utils.SendServiceError(c, err)
	}

	return utils.SendSuccess(c, "room left", nil)
}

func (h *RoomHandler) participants(c *fiber.Ctx) error {
	participants, err := h.service.Participants(requestContext(c), c.Params("id"))
	if err != nil {
		return utils.SendServiceError(c, err)
	}

	return utils.SendSuccess(c, "room participants", participants)
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/realchat/roomsync/internal/dto"
	"github.com/realchat/roomsync/internal/service"
	"github.com/realchat/roomsync/internal/utils"
)

// MessageHandler wires message and reaction endpoints.
type MessageHandler struct {
	service service.MessageService
	logger  zerolog.Logger
}

// NewMessageHandler creates a message handler instance.
func NewMessageHandler(service service.MessageService, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		service: service,
		logger:  logger.With().Str("component", "message_handler").Logger(),
	}
}

// RegisterRoomScoped binds the room-scoped message routes.
func (h *MessageHandler) RegisterRoomScoped(router fiber.Router) {
	router.Get("/:id/messages", h.history)
	router.Post("/:id/messages", h.send)
}

// Register binds the message-scoped routes.
func (h *MessageHandler) Register(router fiber.Router) {
	router.Patch("/:id", h.edit)
	router.Delete("/:id", h.remove)
	router.Post("/:id/reactions", h.toggleReaction)
}

func (h *MessageHandler) history(c *fiber.Ctx) error {
	messages, err := h.service.History(requestContext(c), c.Params("id"))
	if err != nil {
		return utils.SendServiceError(c, err)
	}

	return utils.SendSuccess(c, "room messages", messages)
}

func (h *MessageHandler) send(c *fiber.Ctx) error {
	var req dto.MessageSendRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.RoomID = c.Params("id")

	message, err := h.service.Send(requestContext(c), req)
	if err != nil {
		h.logger.Warn().Err(err).Str("room_id", req.RoomID).Msg("failed to send message")
		return utils.SendServiceError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *MessageHandler) edit(c *fiber.Ctx) error {
	var req dto.MessageEditRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.service.Edit(requestContext(c), c.Params("id"), req)
	if err != nil {
		return utils.SendServiceError(c, err)
	}

	return utils.SendSuccess(c, "message edited", message)
}

func (h *MessageHandler) remove(c *fiber.Ctx) error {
	var req dto.MessageDeleteRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.Delete(requestContext(c), c.Params("id"), req); err != nil {
		return utils.SendServiceError(c, err)
	}

	return utils.SendSuccess(c, "message deleted", nil)
}

func (h *MessageHandler) toggleReaction(c *fiber.Ctx) error {
	var req dto.ReactionToggleRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	added, err := h.service.ToggleReaction(requestContext(c), c.Params("id"), req)
	if err != nil {
		return utils.SendServiceError(c, err)
	}

	return utils.SendSuccess(c, "reaction toggled", fiber.Map{"added": added})
}

package utils

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/realchat/roomsync/internal/service"
)

// APIResponse describes the common structure for API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
}

// SendSuccess sends a successful JSON response with a message.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	if message == "" {
		message = "success"
	}

	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus sends a success payload using the provided HTTP status code.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	if message == "" {
		message = "success"
	}
	if status == 0 {
		status = fiber.StatusOK
	}

	return c.Status(status).JSON(APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// SendError sends an error JSON response with the given status code.
func SendError(c *fiber.Ctx, status int, message string) error {
	if message == "" {
		message = "error"
	}

	return c.Status(status).JSON(APIResponse{
		Success: false,
		Message: message,
	})
}

// SendServiceError maps service-layer errors onto HTTP status codes.
func SendServiceError(c *fiber.Ctx, err error) error {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, service.ErrNotFound):
		return SendError(c, fiber.StatusNotFound, "room not found")
	case errors.Is(err, service.ErrRoomFull):
		return SendError(c, fiber.StatusConflict, "room is full")
	case errors.Is(err, service.ErrForbidden):
		return SendError(c, fiber.StatusForbidden, "not allowed")
	case errors.Is(err, service.ErrUnknownReaction):
		return SendError(c, fiber.StatusBadRequest, "unknown reaction kind")
	case errors.As(err, &validationErrs):
		return SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		return SendError(c, fiber.StatusServiceUnavailable, "service unavailable")
	}
}

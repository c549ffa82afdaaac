package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/realchat/roomsync/internal/config"
	"github.com/realchat/roomsync/internal/handler"
	"github.com/realchat/roomsync/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	RoomHandler    *handler.RoomHandler
	MessageHandler *handler.MessageHandler
	StreamHandler  *handler.StreamHandler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	if deps.RoomHandler != nil {
		rooms := api.Group("/rooms")
		deps.RoomHandler.Register(rooms)
		if deps.MessageHandler != nil {
			deps.MessageHandler.RegisterRoomScoped(rooms)
		}
	}

	if deps.MessageHandler != nil {
		messages := api.Group("/messages")
		deps.MessageHandler.Register(messages)
	}

	if deps.StreamHandler != nil {
		stream := app.Group("/ws")
		deps.StreamHandler.Register(stream)
	}
}

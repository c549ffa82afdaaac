package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type correlationIDKey struct{}

var correlationKey = correlationIDKey{}

const correlationHeader = "X-Correlation-ID"

// CorrelationID tags every request with a correlation identifier so a room
// mutation can be tied to the feed events it produced. An inbound id is
// reused; otherwise one is minted.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := inboundCorrelationID(c)
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals("correlation_id", id)
		c.Set(correlationHeader, id)
		c.SetUserContext(context.WithValue(c.Context(), correlationKey, id))

		return c.Next()
	}
}

func inboundCorrelationID(c *fiber.Ctx) string {
	if id := strings.TrimSpace(c.Get(correlationHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(c.Get("X-Request-ID"))
}

// CorrelationIDFromContext extracts the correlation identifier, if present.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey).(string); ok {
		return id
	}
	return ""
}

// GetCorrelationID returns the identifier bound to the active request.
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals("correlation_id").(string); ok {
		return id
	}
	return CorrelationIDFromContext(c.Context())
}

// ContextWithCorrelation attaches the identifier to the provided context so
// service calls keep it across the fiber boundary.
func ContextWithCorrelation(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, correlationID)
}

package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxDocumentSize     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware enforces content types and payload shape before handlers run.
// Handlers still parse and validate their own bodies; this layer rejects the
// obviously malformed cheaply.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 5 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get("Content-Type")
			if contentType != "" && !contentTypeAllowed(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()

		if strings.HasSuffix(path, "/rank") && c.Method() == fiber.MethodPost {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			clientID, ok := req["client_id"].(string)
			if !ok || clientID == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "client_id is required and must be a string",
				})
			}

			if bias, ok := req["bias"].(float64); ok && (bias < 0 || bias > 1) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "bias must be in [0,1]",
				})
			}
		}

		if strings.Contains(path, "/documents") && c.Method() == fiber.MethodPost {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			content, _ := req["content"].(string)
			articleURL, _ := req["url"].(string)
			if content == "" && articleURL == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "content or url is required",
				})
			}

			if len(content) > cfg.MaxDocumentSize {
				cfg.Logger.Warn("Oversized document rejected",
					zap.String("ip", c.IP()),
					zap.Int("size", len(content)),
				)
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Document content exceeds maximum size",
				})
			}
		}

		return c.Next()
	}
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

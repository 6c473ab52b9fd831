package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/graph/builder"
	"github.com/newsrank/backend/internal/storage/models"
	"github.com/newsrank/backend/internal/storage/sqlite"
	"github.com/newsrank/backend/pkg/logger"
)

type ClientHandler struct {
	db      *sqlite.Client
	builder *builder.Builder
}

func NewClientHandler(db *sqlite.Client, graphBuilder *builder.Builder) *ClientHandler {
	return &ClientHandler{
		db:      db,
		builder: graphBuilder,
	}
}

// UpsertProfile stores a client profile and mirrors it into the graph so the
// next rank request can traverse from its holdings and watchlist.
func (h *ClientHandler) UpsertProfile(c *fiber.Ctx) error {
	clientID := c.Params("id")

	var req struct {
		MandateType        string             `json:"mandate_type"`
		MandateDescription string             `json:"mandate_description"`
		MandateThemes      []string           `json:"mandate_themes"`
		MandateEmbedding   []float32          `json:"mandate_embedding"`
		Benchmark          string             `json:"benchmark"`
		Horizon            string             `json:"horizon"`
		Exclusions         models.Exclusions  `json:"exclusions"`
		ImpactThreshold    int                `json:"impact_threshold"`
		DefaultBias        float64            `json:"default_bias"`
		Holdings           []models.Holding   `json:"holdings"`
		Watchlist          []models.WatchItem `json:"watchlist"`
		Partitions         []string           `json:"partitions"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.DefaultBias < 0 || req.DefaultBias > 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "default_bias must be in [0,1]",
		})
	}

	profile := &models.ClientProfile{
		ID:                 clientID,
		MandateType:        req.MandateType,
		MandateDescription: req.MandateDescription,
		MandateThemes:      req.MandateThemes,
		MandateEmbedding:   req.MandateEmbedding,
		Benchmark:          req.Benchmark,
		Horizon:            req.Horizon,
		Exclusions:         req.Exclusions,
		ImpactThreshold:    req.ImpactThreshold,
		DefaultBias:        req.DefaultBias,
		Holdings:           req.Holdings,
		Watchlist:          req.Watchlist,
		Partitions:         req.Partitions,
		CreatedAt:          time.Now().UTC(),
	}

	if err := h.db.UpsertClientProfile(c.Context(), profile); err != nil {
		logger.Error("Failed to store client profile", zap.String("client_id", clientID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store client profile",
		})
	}

	if err := h.builder.SyncProfile(c.Context(), profile); err != nil {
		logger.Error("Failed to sync profile into graph", zap.String("client_id", clientID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Profile stored but graph sync failed",
		})
	}

	return c.JSON(fiber.Map{
		"client_id": clientID,
		"holdings":  len(profile.Holdings),
		"watchlist": len(profile.Watchlist),
	})
}

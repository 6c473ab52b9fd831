package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/ranking"
	"github.com/newsrank/backend/internal/storage/models"
	"github.com/newsrank/backend/pkg/logger"
)

type RankHandler struct {
	engine *ranking.Engine
}

func NewRankHandler(engine *ranking.Engine) *RankHandler {
	return &RankHandler{
		engine: engine,
	}
}

func (h *RankHandler) HandleRank(c *fiber.Ctx) error {
	var req struct {
		ClientID          string   `json:"client_id"`
		Bias              *float64 `json:"bias"`
		Limit             int      `json:"limit"`
		WindowHours       int      `json:"window_hours"`
		TierFilter        []string `json:"tier_filter"`
		IncludeDuplicates bool     `json:"include_duplicates"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.ClientID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "client_id is required",
		})
	}

	rankReq := ranking.Request{
		ClientID:          req.ClientID,
		Bias:              req.Bias,
		Limit:             req.Limit,
		WindowHours:       req.WindowHours,
		IncludeDuplicates: req.IncludeDuplicates,
	}
	for _, tier := range req.TierFilter {
		rankReq.TierFilter = append(rankReq.TierFilter, models.ParseImpactTier(tier))
	}

	ranked, err := h.engine.Rank(c.Context(), rankReq)
	if err != nil {
		if errors.Is(err, ranking.ErrInvalidBias) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		if errors.Is(err, models.ErrProfileNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		logger.Error("Failed to rank", zap.String("client_id", req.ClientID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to rank documents",
		})
	}

	items := make([]fiber.Map, 0, len(ranked))
	for _, doc := range ranked {
		items = append(items, fiber.Map{
			"document_id": doc.DocumentID,
			"score":       doc.Score,
			"reasons":     doc.Reasons,
			"created_at":  doc.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"client_id": req.ClientID,
		"count":     len(items),
		"items":     items,
	})
}

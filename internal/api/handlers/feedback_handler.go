package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/evaluation"
	"github.com/newsrank/backend/internal/storage/models"
	"github.com/newsrank/backend/internal/storage/sqlite"
	"github.com/newsrank/backend/pkg/logger"
)

type FeedbackHandler struct {
	db        *sqlite.Client
	evaluator *evaluation.Evaluator
}

func NewFeedbackHandler(db *sqlite.Client, evaluator *evaluation.Evaluator) *FeedbackHandler {
	return &FeedbackHandler{
		db:        db,
		evaluator: evaluator,
	}
}

func (h *FeedbackHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req struct {
		RankID   string `json:"rank_id"`
		ClientID string `json:"client_id"`
		Helpful  *bool  `json:"helpful"`
		Comment  string `json:"comment"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.RankID == "" || req.ClientID == "" || req.Helpful == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "rank_id, client_id and helpful are required",
		})
	}

	err := h.db.StoreFeedback(c.Context(), &models.Feedback{
		RankID:   req.RankID,
		ClientID: req.ClientID,
		Helpful:  *req.Helpful,
		Comment:  req.Comment,
	})
	if err != nil {
		logger.Error("Failed to store feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store feedback",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Feedback recorded",
	})
}

func (h *FeedbackHandler) GetEvaluationReport(c *fiber.Ctx) error {
	windowHours := c.QueryInt("window_hours", 168)

	report, err := h.evaluator.BuildReport(c.Context(), windowHours)
	if err != nil {
		logger.Error("Failed to build evaluation report", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build evaluation report",
		})
	}

	return c.JSON(report)
}

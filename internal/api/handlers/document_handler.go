package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/fetch"
	"github.com/newsrank/backend/internal/ingestion"
	"github.com/newsrank/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
	fetcher   *fetch.Client
}

func NewDocumentHandler(processor *ingestion.Processor, fetcher *fetch.Client) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		fetcher:   fetcher,
	}
}

type documentRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	URL       string `json:"url"`
	Partition string `json:"partition"`
	Timestamp string `json:"timestamp"`
}

func (r documentRequest) toDraft() (ingestion.Draft, error) {
	draft := ingestion.Draft{
		Title:     r.Title,
		Content:   r.Content,
		Partition: r.Partition,
	}
	if r.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, r.Timestamp)
		if err != nil {
			return draft, err
		}
		draft.Timestamp = ts.UTC()
	}
	return draft, nil
}

func (h *DocumentHandler) IngestDocument(c *fiber.Ctx) error {
	var req documentRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Content == "" && req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "content or url is required",
		})
	}

	if req.Content == "" {
		article, err := h.fetcher.Fetch(c.Context(), req.URL)
		if err != nil {
			logger.Error("Failed to fetch article", zap.String("url", req.URL), zap.Error(err))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "Failed to fetch article",
			})
		}
		req.Content = article.HTML
		if req.Title == "" {
			req.Title = article.Title
		}
	}

	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title is required",
		})
	}

	draft, err := req.toDraft()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "timestamp must be RFC3339",
		})
	}

	doc, err := h.processor.ProcessDocument(c.Context(), draft)
	if err != nil {
		logger.Error("Failed to process document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process document",
		})
	}

	resp := fiber.Map{
		"document_id": doc.ID,
		"event_type":  doc.EventType,
		"impact_tier": doc.ImpactTier.String(),
		"duplicate":   doc.IsDuplicate(),
	}
	if doc.IsDuplicate() {
		resp["duplicate_of"] = doc.DuplicateOf
		resp["duplicate_score"] = doc.DuplicateScore
		resp["duplicate_method"] = doc.DuplicateMethod
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *DocumentHandler) CheckDuplicate(c *fiber.Ctx) error {
	var req documentRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "content is required",
		})
	}

	draft, err := req.toDraft()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "timestamp must be RFC3339",
		})
	}

	result, err := h.processor.CheckDuplicate(c.Context(), draft)
	if err != nil {
		logger.Error("Failed to check duplicate", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to check duplicate",
		})
	}

	resp := fiber.Map{
		"duplicate": result.IsDuplicate,
	}
	if result.IsDuplicate {
		resp["duplicate_of"] = result.DuplicateOf
		resp["score"] = result.Score
		resp["method"] = result.Method
	}

	return c.JSON(resp)
}

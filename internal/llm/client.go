package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/storage/models"
	"github.com/newsrank/backend/pkg/circuitbreaker"
	"github.com/newsrank/backend/pkg/logger"
	"github.com/newsrank/backend/pkg/retry"
)

// Client is the extraction-model collaborator. The engine only needs two
// calls from it: embeddings, and event facts for an incoming draft.
type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: []string{text},
				Model: openai.EmbeddingModel(c.embeddingModel),
			})
			if err != nil {
				return fmt.Errorf("failed to create embedding: %w", err)
			}
			if len(resp.Data) == 0 {
				return fmt.Errorf("embedding response was empty")
			}

			embedding = resp.Data[0].Embedding
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return embedding, nil
}

const extractionSystemPrompt = `You are a financial news analyst. Given a news item, respond with a single JSON object:
{"event_type": "...", "impact_score": 0-100, "impact_tier": "platinum|gold|silver|bronze|standard",
 "instruments": [{"ticker": "...", "direction": "up|down|neutral", "magnitude": 0.0-1.0}],
 "themes": ["..."], "sectors": ["..."]}
Respond with JSON only, no prose.`

// ExtractEventFacts asks the model for the structured facts the ranking and
// dedup subsystems need: event type, impact score and tier, affected
// instruments, themes, sectors.
func (c *Client) ExtractEventFacts(ctx context.Context, title, content string) (*models.EventFacts, error) {
	if len(content) > 6000 {
		content = content[:6000]
	}

	var facts models.EventFacts

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       c.model,
				Temperature: c.temperature,
				MaxTokens:   c.maxTokens,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: "Title: " + title + "\n\n" + content},
				},
			})
			if err != nil {
				return fmt.Errorf("failed to extract event facts: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("extraction response was empty")
			}

			raw := cleanJSONResponse(resp.Choices[0].Message.Content)
			if err := json.Unmarshal([]byte(raw), &facts); err != nil {
				return fmt.Errorf("failed to parse extraction response: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if facts.ImpactScore < 0 {
		facts.ImpactScore = 0
	}
	if facts.ImpactScore > 100 {
		facts.ImpactScore = 100
	}

	logger.Debug("Event facts extracted",
		zap.String("event_type", facts.EventType),
		zap.Int("impact_score", facts.ImpactScore),
		zap.Int("instruments", len(facts.Instruments)),
	)

	return &facts, nil
}

// cleanJSONResponse strips markdown code fences models like to wrap JSON in.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

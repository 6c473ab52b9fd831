package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/newsrank/backend/internal/api/handlers"
	"github.com/newsrank/backend/internal/dedup"
	"github.com/newsrank/backend/internal/evaluation"
	"github.com/newsrank/backend/internal/feed"
	"github.com/newsrank/backend/internal/fetch"
	"github.com/newsrank/backend/internal/graph/builder"
	"github.com/newsrank/backend/internal/graph/neo4j"
	"github.com/newsrank/backend/internal/ingestion"
	"github.com/newsrank/backend/internal/llm"
	"github.com/newsrank/backend/internal/metrics"
	"github.com/newsrank/backend/internal/middleware/ratelimit"
	"github.com/newsrank/backend/internal/middleware/security"
	"github.com/newsrank/backend/internal/middleware/validation"
	"github.com/newsrank/backend/internal/ranking"
	"github.com/newsrank/backend/internal/storage/sqlite"
	"github.com/newsrank/backend/internal/vector/milvus"
	"github.com/newsrank/backend/pkg/config"
	appLogger "github.com/newsrank/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting news ranking API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	neo4jClient, err := neo4j.NewClient(
		cfg.Neo4j.URI,
		cfg.Neo4j.Username,
		cfg.Neo4j.Password,
		cfg.Neo4j.Database,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Neo4j client", zap.Error(err))
	}
	defer neo4jClient.Close(context.Background())

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	err = milvusClient.CreateCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to create collection", zap.Error(err))
	}

	windowIndex, err := dedup.NewRedisIndex(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Redis duplicate index", zap.Error(err))
	}
	defer windowIndex.Close()

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	detector := dedup.NewDetector(windowIndex, milvusClient, cfg.Dedup.Window(), cfg.Dedup.SimilarityThreshold)

	graphBuilder := builder.NewBuilder(neo4jClient)
	if err := graphBuilder.SeedFromFile(context.Background(), cfg.Graph.SeedFile); err != nil {
		appLogger.Warn("Failed to seed graph", zap.Error(err))
	}

	broadcaster := feed.NewBroadcaster()
	processor := ingestion.NewProcessor(sqliteClient, milvusClient, neo4jClient, llmClient, detector, broadcaster)
	engine := ranking.NewEngine(sqliteClient, sqliteClient, neo4jClient, milvusClient, sqliteClient, cfg.Ranking)
	evaluator := evaluation.NewEvaluator(sqliteClient)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	rateLimiter := ratelimit.New(ratelimit.Config{Logger: appLogger.GetLogger()})
	defer rateLimiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(rateLimiter.Middleware())
	app.Use(validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	rankHandler := handlers.NewRankHandler(engine)
	documentHandler := handlers.NewDocumentHandler(processor, fetch.NewClient())
	clientHandler := handlers.NewClientHandler(sqliteClient, graphBuilder)
	feedbackHandler := handlers.NewFeedbackHandler(sqliteClient, evaluator)
	feedHandler := handlers.NewFeedHandler(broadcaster)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Post("/rank", rankHandler.HandleRank)
	api.Post("/documents", documentHandler.IngestDocument)
	api.Post("/documents/check", documentHandler.CheckDuplicate)
	api.Put("/clients/:id", clientHandler.UpsertProfile)
	api.Post("/feedback", feedbackHandler.SubmitFeedback)
	api.Get("/evaluation/report", feedbackHandler.GetEvaluationReport)

	api.Use("/feed/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/feed/ws", websocket.New(feedHandler.HandleConnection))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

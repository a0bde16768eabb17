package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/api/handlers"
	"github.com/docuchat/backend/internal/cache/redis"
	"github.com/docuchat/backend/internal/chat"
	"github.com/docuchat/backend/internal/embedding"
	"github.com/docuchat/backend/internal/llm"
	"github.com/docuchat/backend/internal/metrics"
	"github.com/docuchat/backend/internal/middleware/ratelimit"
	"github.com/docuchat/backend/internal/middleware/security"
	"github.com/docuchat/backend/internal/queue/rabbit"
	"github.com/docuchat/backend/internal/retrieval"
	"github.com/docuchat/backend/internal/storage/sqlite"
	"github.com/docuchat/backend/internal/vector/milvus"
	"github.com/docuchat/backend/pkg/config"
	appLogger "github.com/docuchat/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting DocuChat API server")

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.CollectionName,
		cfg.Embedding.Dimension,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	if err := milvusClient.EnsureCollection(context.Background()); err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	var embeddingCache embedding.Cache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			embeddingCache = redisClient
		}
	}

	embeddingClient := embedding.NewClient(cfg.Embedding, embeddingCache)
	llmClient := llm.NewClient(cfg.LLM)

	// The LLM probe is advisory. A degraded upstream should not keep the
	// status endpoints from coming up.
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := llmClient.HealthCheck(probeCtx); err != nil {
		appLogger.Warn("LLM upstream probe failed", zap.Error(err))
	}
	probeCancel()

	var publisher handlers.JobPublisher
	connectCtx, connectCancel := context.WithTimeout(context.Background(), time.Minute)
	rabbitPublisher, err := rabbit.NewPublisher(connectCtx, cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, cfg.RabbitMQ.ConnectRetries)
	connectCancel()
	if err != nil {
		appLogger.Warn("RabbitMQ unavailable, reprocessing disabled", zap.Error(err))
	} else {
		defer rabbitPublisher.Close()
		publisher = rabbitPublisher
	}

	retriever := retrieval.NewRetriever(embeddingClient, milvusClient, cfg.Retrieval.TopK, cfg.Retrieval.MinSimilarity)
	assembler := retrieval.NewAssembler(cfg.Retrieval.MaxContextLength)
	streamer := chat.NewStreamer(retriever, assembler, llmClient)

	chatHandler := handlers.NewChatHandler(streamer, cfg.Server.MaxConcurrentChats)
	fileHandler := handlers.NewFileHandler(sqliteClient, publisher)

	limiter := ratelimit.New(ratelimit.Config{})
	defer limiter.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(security.Headers(security.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Environment == "development",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(limiter.Middleware())

	api := app.Group("/api/v1")

	api.Get("/files/:id", fileHandler.GetFile)
	api.Post("/files/:id/reprocess", fileHandler.Reprocess)
	api.Get("/projects/:id/files", fileHandler.ListProjectFiles)

	api.Use("/chat", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/chat", websocket.New(chatHandler.HandleConnection))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.Handler())

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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/blob/minio"
	"github.com/docuchat/backend/internal/cache/redis"
	"github.com/docuchat/backend/internal/embedding"
	"github.com/docuchat/backend/internal/ingestion"
	"github.com/docuchat/backend/internal/queue/rabbit"
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

	appLogger.Info("Starting DocuChat ingestion worker")

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

	blobClient, err := minio.NewClient(
		cfg.Minio.Endpoint,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.Bucket,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		appLogger.Fatal("Failed to create blob client", zap.Error(err))
	}

	if err := blobClient.EnsureBucket(context.Background()); err != nil {
		appLogger.Fatal("Failed to ensure bucket", zap.Error(err))
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

	splitter, err := ingestion.NewSplitter(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)
	if err != nil {
		appLogger.Fatal("Invalid chunking configuration", zap.Error(err))
	}

	processor := ingestion.NewProcessor(blobClient, splitter, embeddingClient, milvusClient, sqliteClient)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, connectCancel := context.WithTimeout(ctx, time.Minute)
	consumer, err := rabbit.NewConsumer(connectCtx, cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, cfg.RabbitMQ.ConnectRetries)
	connectCancel()
	if err != nil {
		appLogger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer consumer.Close()

	appLogger.Info("Worker started", zap.String("queue", cfg.RabbitMQ.Queue))

	if err := consumer.Consume(ctx, processor.Process); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Fatal("Consumer stopped unexpectedly", zap.Error(err))
	}

	appLogger.Info("Worker stopped")
}

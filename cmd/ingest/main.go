package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/studyrag/backend/internal/cache/redis"
	"github.com/studyrag/backend/internal/ingestion"
	"github.com/studyrag/backend/internal/llm"
	"github.com/studyrag/backend/internal/metrics"
	"github.com/studyrag/backend/internal/storage/sqlite"
	"github.com/studyrag/backend/internal/vector/milvus"
	"github.com/studyrag/backend/pkg/config"
	appLogger "github.com/studyrag/backend/pkg/logger"
)

// Batch ingestion job: processes every pending document and exits. Intended
// to run from cron or by hand after registering new course material.
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

	appLogger.Info("Starting batch ingestion")

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = milvusClient.EnsureCollection(ctx)
	if err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	var ingestCache ingestion.CacheInvalidator
	cacheClient, err := redis.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		time.Duration(cfg.Redis.TTLSec)*time.Second,
	)
	if err != nil {
		appLogger.Warn("Redis unavailable, cache invalidation skipped", zap.Error(err))
	} else {
		ingestCache = cacheClient
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	processor, err := ingestion.NewProcessor(llmClient, ingestion.ProcessorConfig{
		ChunkSize:         cfg.Pipeline.ChunkSize,
		ChunkOverlap:      cfg.Pipeline.ChunkOverlap,
		MinChunkChars:     cfg.Pipeline.MinChunkChars,
		DedupeAcrossPages: cfg.Pipeline.DedupeAcrossPages,
	})
	if err != nil {
		appLogger.Fatal("Failed to create processor", zap.Error(err))
	}

	metrics.Register()

	service := ingestion.NewService(sqliteClient, milvusClient, processor, ingestCache, cfg.Pipeline.Workers)

	summary, err := service.RunBatch(ctx)
	if err != nil {
		appLogger.Fatal("Batch ingestion failed", zap.Error(err))
	}

	for _, e := range summary.Errors {
		appLogger.Error("Document failed", zap.Error(e))
	}

	appLogger.Info("Batch ingestion complete",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)

	if summary.Failed > 0 {
		os.Exit(1)
	}
}

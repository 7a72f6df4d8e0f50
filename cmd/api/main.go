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

	"github.com/studyrag/backend/internal/api/handlers"
	"github.com/studyrag/backend/internal/cache/redis"
	"github.com/studyrag/backend/internal/chat"
	"github.com/studyrag/backend/internal/generation"
	"github.com/studyrag/backend/internal/ingestion"
	"github.com/studyrag/backend/internal/llm"
	"github.com/studyrag/backend/internal/metrics"
	"github.com/studyrag/backend/internal/middleware/ratelimit"
	"github.com/studyrag/backend/internal/retrieval"
	"github.com/studyrag/backend/internal/storage/sqlite"
	"github.com/studyrag/backend/internal/vector/milvus"
	"github.com/studyrag/backend/pkg/config"
	appLogger "github.com/studyrag/backend/pkg/logger"
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

	appLogger.Info("Starting StudyRAG API Server")

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

	var cacheClient *redis.Client
	cacheClient, err = redis.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		time.Duration(cfg.Redis.TTLSec)*time.Second,
	)
	if err != nil {
		appLogger.Warn("Redis unavailable, caching disabled", zap.Error(err))
		cacheClient = nil
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	var queryEmbedder retrieval.QueryEmbedder = llmClient
	if cacheClient != nil {
		queryEmbedder = retrieval.NewCachedQueryEmbedder(llmClient, cacheClient)
	}

	retriever, err := retrieval.NewRetriever(milvusClient, queryEmbedder, retrieval.Config{
		TopK:           cfg.Retrieval.TopK,
		VectorWeight:   cfg.Retrieval.VectorWeight,
		FulltextWeight: cfg.Retrieval.FulltextWeight,
	}, milvusClient.EnsureCollection)
	if err != nil {
		appLogger.Fatal("Failed to create retriever", zap.Error(err))
	}

	err = retriever.Init(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to initialize retriever", zap.Error(err))
	}

	synthesizer := generation.NewSynthesizer(llmClient, cfg.Retrieval.MaxChunks)

	processor, err := ingestion.NewProcessor(llmClient, ingestion.ProcessorConfig{
		ChunkSize:         cfg.Pipeline.ChunkSize,
		ChunkOverlap:      cfg.Pipeline.ChunkOverlap,
		MinChunkChars:     cfg.Pipeline.MinChunkChars,
		DedupeAcrossPages: cfg.Pipeline.DedupeAcrossPages,
	})
	if err != nil {
		appLogger.Fatal("Failed to create processor", zap.Error(err))
	}

	var chatCache chat.ResponseCache
	var ingestCache ingestion.CacheInvalidator
	if cacheClient != nil {
		chatCache = cacheClient
		ingestCache = cacheClient
	}

	chatService := chat.NewService(
		sqliteClient,
		retriever,
		synthesizer,
		chatCache,
		cfg.Retrieval.TopK,
		cfg.Retrieval.MaxChunks,
	)
	ingestService := ingestion.NewService(
		sqliteClient,
		milvusClient,
		processor,
		ingestCache,
		cfg.Pipeline.Workers,
	)

	metrics.Register()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		Logger:               appLogger.GetLogger(),
	}).Middleware())

	chatHandler := handlers.NewChatHandler(chatService)
	wsHandler := handlers.NewWebSocketHandler(chatService)
	catalogHandler := handlers.NewCatalogHandler(sqliteClient)
	documentHandler := handlers.NewDocumentHandler(sqliteClient, ingestService)

	api := app.Group("/api/v1")

	api.Post("/chat/message", chatHandler.HandleMessage)
	api.Get("/chat/ws", websocket.New(wsHandler.HandleConnection))

	api.Post("/subjects", catalogHandler.CreateSubject)
	api.Get("/subjects", catalogHandler.ListSubjects)
	api.Post("/subjects/:code/units", catalogHandler.CreateUnit)
	api.Get("/subjects/:code/units", catalogHandler.ListUnits)

	api.Post("/documents", documentHandler.RegisterDocument)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Get("/documents/:id", documentHandler.GetDocument)
	api.Post("/documents/:id/ingest", documentHandler.IngestDocument)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
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

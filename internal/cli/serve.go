package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/docqa/internal/bus"
	"github.com/cloo-solutions/docqa/internal/cache"
	"github.com/cloo-solutions/docqa/internal/config"
	"github.com/cloo-solutions/docqa/internal/database"
	"github.com/cloo-solutions/docqa/internal/extract"
	"github.com/cloo-solutions/docqa/internal/jobs"
	"github.com/cloo-solutions/docqa/internal/openai"
	"github.com/cloo-solutions/docqa/internal/repository"
	"github.com/cloo-solutions/docqa/internal/scan"
	"github.com/cloo-solutions/docqa/internal/server"
	"github.com/cloo-solutions/docqa/internal/service"
	"github.com/cloo-solutions/docqa/internal/storage"
	"github.com/cloo-solutions/docqa/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the worker runtime",
		Long:  "Start the ingest, embed and qa workers plus the health endpoint",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port for the health endpoint")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DatabaseMaxConns,
		MinConns: cfg.DatabaseMinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	natsBus, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsBus.Close()
	log.Println("connected to NATS")

	documentRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	var redisCache *cache.Redis
	if cfg.HasRedis() {
		redisCache, err = cache.New(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisCache.Close()
		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("failed to ping Redis: %w", err)
		}
		log.Println("connected to Redis")
	}

	if !cfg.HasS3() {
		return fmt.Errorf("S3 storage is required: set DOCQA_S3_ENDPOINT and credentials")
	}
	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)

	if !cfg.HasOpenAI() {
		return fmt.Errorf("model provider is required: set DOCQA_OPENAI_API_KEY")
	}
	modelClient := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		EmbeddingModel:      openai.EmbeddingModel(cfg.OpenAIEmbeddingModel),
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		ChatModel:           cfg.OpenAIModel,
	})

	var scanner scan.Scanner
	if cfg.HasClamAV() {
		scanner = scan.NewClamAVScanner(cfg.ClamAVAddress)
		log.Printf("virus scanning enabled (%s)", cfg.ClamAVAddress)
	}

	var ocr service.OCRRecognizer
	if cfg.HasOCR() {
		ocr = extract.NewOCRClient(cfg.OCREndpoint)
		log.Printf("OCR fallback enabled (%s)", cfg.OCREndpoint)
	}

	var embedCache service.EmbeddingCache
	var resultStore jobs.ResultStore
	if redisCache != nil {
		embedCache = redisCache
		resultStore = redisCache
	}

	ingestionSvc := service.NewIngestionService(
		documentRepo, txRunner, s3Client, scanner, extract.NewPDFExtractor(), ocr, natsBus,
		service.SplitConfig{MaxChars: cfg.MaxChunkLength},
	)
	embeddingSvc := service.NewEmbeddingService(
		modelClient, documentRepo, txRunner, embedCache,
		cfg.OpenAIEmbeddingModel, cfg.EmbeddingDimensions,
	)

	var reranker service.Reranker
	if cfg.EnableRerank {
		reranker = service.NewGenerativeReranker(modelClient)
		log.Println("generative reranking enabled")
	}
	retrievalSvc := service.NewRetrievalService(chunkRepo, modelClient, reranker)
	answerSvc := service.NewAnswerService(retrievalSvc, modelClient, cfg.OpenAIModel)

	runners := map[string]*jobs.Runner{
		"ingest": jobs.NewRunner(natsBus, jobs.NewIngestWorker(ingestionSvc)),
		"embed":  jobs.NewRunner(natsBus, jobs.NewEmbedWorker(embeddingSvc)),
		"qa":     jobs.NewRunner(natsBus, jobs.NewQAWorker(answerSvc, resultStore)),
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	for _, runner := range runners {
		go runner.Start(workerCtx)
	}

	statsProviders := make(map[string]server.StatsProvider, len(runners))
	for name, runner := range runners {
		statsProviders[name] = runner
	}
	router := server.NewRouter(server.RouterConfig{Workers: statsProviders})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting health endpoint on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	for _, runner := range runners {
		runner.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

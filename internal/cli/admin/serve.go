package admin

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/voceria/kbpipeline/internal/api/handlers"
	"github.com/voceria/kbpipeline/internal/config"
	"github.com/voceria/kbpipeline/internal/database"
	"github.com/voceria/kbpipeline/internal/jobs"
	"github.com/voceria/kbpipeline/internal/openai"
	"github.com/voceria/kbpipeline/internal/repository"
	"github.com/voceria/kbpipeline/internal/retry"
	"github.com/voceria/kbpipeline/internal/scrape"
	"github.com/voceria/kbpipeline/internal/server"
	"github.com/voceria/kbpipeline/internal/service"
	"github.com/voceria/kbpipeline/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion pipeline",
		Long:  "Start the API server and the background ingestion and keyword workers",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-workers", false, "Serve the API without starting background workers")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SentryDSN != "" {
		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if cfg.Environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: sampleRate,
			Debug:            cfg.Debug,
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

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := database.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	itemRepo := repository.NewItemRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	jobRepo := repository.NewJobRepository(pool)

	enqueueSvc := service.NewEnqueueService(itemRepo, jobRepo)
	itemHandler := handlers.NewItemHandler(enqueueSvc)

	router := server.NewRouter(server.RouterConfig{
		ItemHandler: itemHandler,
	})

	var workers []*jobs.Worker
	noWorkers, _ := cmd.Flags().GetBool("no-workers")
	if !noWorkers && cfg.HasOpenAI() {
		openaiClient := openai.NewClientWithConfig(openai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			EmbeddingModel: goopenai.EmbeddingModel(cfg.EmbeddingModel),
		})

		var scraper service.PageScraper
		if cfg.HasScraper() {
			scraper = scrape.NewClient(scrape.ClientConfig{
				Endpoint: cfg.ScraperURL,
				APIKey:   cfg.ScraperAPIKey,
				Timeout:  cfg.ScrapeTimeout,
			})
		}
		fetcher := scrape.NewFetcher(cfg.ScrapeTimeout)
		extractor := service.NewExtractor(scraper, fetcher)

		var feed service.FeedFetcher
		if cfg.HasFeedScraper() {
			feed = scrape.NewFeedClient(scrape.FeedClientConfig{
				Endpoint: cfg.FeedScraperURL,
				APIKey:   cfg.FeedAPIKey,
				PageSize: cfg.FeedPageSize,
				Timeout:  cfg.ScrapeTimeout,
			})
		} else {
			log.Println("feed scraper not configured; agent-feed items will fail")
		}

		var tokens service.TokenCounter
		if counter, err := service.NewTiktokenCounter(); err != nil {
			log.Printf("token counter unavailable, falling back to rune counts: %v", err)
		} else {
			tokens = counter
		}
		chunker := service.NewChunker(tokens)

		policy := retry.DefaultPolicy()
		processor := service.NewProcessor(itemRepo, chunkRepo, extractor, chunker, openaiClient, policy, service.ProcessorConfig{
			BatchSize:    cfg.ChunkBatchSize,
			EmbedWorkers: cfg.EmbedWorkers,
		})
		fanout := service.NewFanoutProcessor(itemRepo, chunkRepo, feed, processor, policy)
		keywords := service.NewKeywordExtractor(itemRepo, chunkRepo, openaiClient)

		ingestWorker := jobs.NewWorker("ingest",
			jobs.NewIngestWorker(jobRepo, itemRepo, processor, fanout, cfg.IngestConcurrency),
			cfg.PollInterval)
		keywordWorker := jobs.NewWorker("keywords",
			jobs.NewKeywordWorker(jobRepo, keywords, cfg.KeywordConcurrency),
			cfg.PollInterval)

		workers = append(workers, ingestWorker, keywordWorker)
		for _, w := range workers {
			go w.Start(ctx)
		}
		log.Println("pipeline workers started")
	} else if !noWorkers {
		log.Println("OPENAI_API_KEY not set; serving API without pipeline workers")
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	for _, w := range workers {
		w.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

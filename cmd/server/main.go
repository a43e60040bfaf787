package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"enricher-backend/internal/config"
	"enricher-backend/internal/database"
	"enricher-backend/internal/handlers"
	"enricher-backend/internal/middleware"
	"enricher-backend/internal/repository"
	"enricher-backend/internal/router"
	"enricher-backend/internal/services"
	"enricher-backend/internal/websocket"
	"enricher-backend/internal/worker"
)

func main() {
	log.Println("Starting video enricher...")
	ctx := context.Background()

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("✗ Invalid configuration: %v", err)
	}
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Optional PostgreSQL run ledger ────
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("✗ PostgreSQL connection failed: %v", err)
		}
		defer pool.Close()
		log.Println("✓ PostgreSQL connected")

		if err := database.RunMigrations(ctx, pool, os.DirFS("migrations")); err != nil {
			log.Fatalf("✗ Database migration failed: %v", err)
		}
		log.Println("✓ Database migrations applied")
	} else {
		log.Println("- DATABASE_URL not set, run ledger disabled")
	}

	// ──── Step 3: Optional Redis (queue, locks, progress) ────
	var redisClients *database.RedisClients
	if cfg.RedisURL != "" {
		var err error
		redisClients, err = database.NewRedisClients(ctx, cfg.RedisURL, database.RedisConfig{
			WorkerCount:    cfg.WorkerCount,
			CommandTimeout: 5 * time.Second,
		})
		if err != nil {
			log.Fatalf("✗ Redis connection failed: %v", err)
		}
		defer redisClients.Close()
		log.Println("✓ Redis connected")
	} else {
		log.Println("- REDIS_URL not set, async ingest and progress events disabled")
	}

	// ──── Step 4: Object store ────
	var (
		store         services.ObjectStore
		localFilesDir string
	)
	switch cfg.StorageType {
	case "local":
		local, err := services.NewLocalStore(cfg.StoragePath)
		if err != nil {
			log.Fatalf("✗ Local storage init failed: %v", err)
		}
		store = local
		localFilesDir = local.BaseDir
	default:
		gcs, err := services.NewGCSStore(ctx, cfg.GCSBucket, cfg.ServiceAccount)
		if err != nil {
			log.Fatalf("✗ GCS client init failed: %v", err)
		}
		store = gcs
	}
	log.Printf("✓ Object store ready (%s, bucket %s)", cfg.StorageType, store.Bucket())

	uploader := services.NewUploader(store, services.UploaderConfig{
		KeyPrefix:   cfg.StorageKeyPrefix,
		URLTemplate: cfg.PublicURLTemplate,
		Timeout:     cfg.UploadTimeout,
		MaxRetries:  cfg.UploadMaxRetries,
		BackoffBase: cfg.UploadBackoffBase,
		BackoffMax:  cfg.UploadBackoffMax,
	})

	// ──── Step 5: Fetchers ────
	httpClient := services.NewHTTPClient()
	ytdlp := services.NewYtDlpService(cfg.YtDlpPath, httpClient)
	generic := services.NewGenericExtractor(
		services.NewYouTubeService(httpClient),
		ytdlp,
		services.NewPageScraper(httpClient),
	)

	var searcher services.VideoSearcher
	if cfg.YouTubeAPIKey != "" {
		search, err := services.NewYouTubeSearch(ctx, cfg.YouTubeAPIKey)
		if err != nil {
			log.Fatalf("✗ YouTube search client init failed: %v", err)
		}
		searcher = search
	} else {
		log.Println("- YOUTUBE_API_KEY not set, podcast episodes cannot be resolved")
	}

	fetchers := services.FetcherSet{
		services.OriginGeneric:   generic,
		services.OriginShortForm: services.NewShortFormFetcher(services.NewProxyFetcher(cfg.RapidAPIKey, cfg.RapidAPIHost, httpClient), ytdlp),
		services.OriginPodcast:   services.NewPodcastFetcher(httpClient, searcher, generic),
	}

	// ──── Step 6: Pipeline ────
	var (
		progress services.ProgressPublisher
		locker   services.URLLocker
	)
	if redisClients != nil {
		progress = services.NewRedisProgress(redisClients.Queue)
		locker = services.NewRedisLocker(redisClients.Queue, cfg.PipelineTimeout+time.Minute)
	} else {
		fileLocker, err := services.NewFileLocker(filepath.Join(cfg.TempDir, "enricher-locks"))
		if err != nil {
			log.Fatalf("✗ Lock directory init failed: %v", err)
		}
		locker = fileLocker
	}

	pipeline := services.NewPipeline(
		fetchers,
		services.NewAudioExtractor(cfg.FFmpegPath, cfg.FFprobePath),
		uploader,
		progress,
		services.PipelineConfig{
			Timeout:        cfg.PipelineTimeout,
			TempDir:        cfg.TempDir,
			MaxTitleLength: cfg.MaxTitleLength,
		},
	)
	log.Printf("✓ Pipeline ready (budget %s)", cfg.PipelineTimeout)

	// ──── Step 7: Ledger and worker pool ────
	var (
		ledger     handlers.RunLedger
		queue      handlers.JobQueue
		workerPool *worker.Pool
	)
	if pool != nil {
		ingestRepo := repository.NewIngestRepo(pool)
		ledger = ingestRepo

		if redisClients != nil {
			workerPool = worker.NewPool(redisClients.Queue, pipeline, ingestRepo, locker, cfg.WorkerCount)
			workerPool.Start()
			queue = workerPool
			log.Printf("✓ Worker pool started (%d goroutines)", cfg.WorkerCount)
		}
	}

	// ──── Step 8: WebSocket hub ────
	var pubsub *redis.Client
	if redisClients != nil {
		pubsub = redisClients.PubSub
	}
	wsHub := websocket.NewHub(pubsub, cfg.AuthSecret)

	// ──── Step 9: HTTP server ────
	auth := middleware.NewBearerAuth(cfg.AuthSecret)
	if !auth.Enabled() {
		log.Println("- AUTH_SECRET not set, ingest API is open")
	}

	ingestHandler := handlers.NewIngestHandler(pipeline, ledger, locker, queue)
	r := router.New(auth, ingestHandler, wsHub, router.Options{
		CORSOrigin:         cfg.CORSOrigin,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		LocalFilesDir:      localFilesDir,
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// A sync ingest holds the response for the whole pipeline budget.
		WriteTimeout: cfg.PipelineTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		if workerPool != nil {
			workerPool.Stop()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Video enricher ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1/ingest", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

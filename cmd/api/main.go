package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/churchcast/reelforge/internal/api"
	"github.com/churchcast/reelforge/internal/blob"
	"github.com/churchcast/reelforge/internal/clipsource"
	"github.com/churchcast/reelforge/internal/compose"
	"github.com/churchcast/reelforge/internal/config"
	"github.com/churchcast/reelforge/internal/moderation"
	"github.com/churchcast/reelforge/internal/normalize"
	"github.com/churchcast/reelforge/internal/orchestrator"
	"github.com/churchcast/reelforge/internal/overlay"
	"github.com/churchcast/reelforge/internal/quota"
	"github.com/churchcast/reelforge/internal/queryplan"
	"github.com/churchcast/reelforge/internal/queue"
	"github.com/churchcast/reelforge/internal/store"
	"github.com/churchcast/reelforge/internal/submission"
	"github.com/churchcast/reelforge/internal/transcribe"
	"github.com/churchcast/reelforge/internal/worker"
)

func main() {
	log.Println("Starting reelforge API...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	s, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer s.Close()
	log.Println("Connected to database")

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	blobStore := blob.New(cfg.BlobStoreURL, cfg.BlobStoreServiceKey, cfg.BlobStoreBucket)
	log.Println("Initialized blob store")

	ledger := quota.New(s)
	submitter := submission.New(s, ledger, q)

	handler := api.NewHandler(submitter)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: no BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())

	pool, err := clipsource.NewLocalPool(cfg.ClipPoolDir)
	if err != nil {
		log.Fatalf("Failed to load clip pool: %v", err)
	}
	cache, err := clipsource.NewDiskCache(cfg.ClipCacheDir)
	if err != nil {
		log.Fatalf("Failed to initialize clip cache: %v", err)
	}
	searchClient := clipsource.NewHTTPSearchClient(cfg.ClipSearchBaseURL, cfg.ClipSearchAPIKey)

	moderator, err := moderation.New(workerCtx, cfg.GeminiKey)
	if err != nil {
		log.Fatalf("Failed to initialize vision moderator: %v", err)
	}

	orch := orchestrator.New(orchestrator.Deps{
		Store:       s,
		Quota:       ledger,
		Blob:        blobStore,
		Transcriber: transcribe.New(cfg.OpenAIKey),
		QueryPlan:   queryplan.New(cfg.OpenAIKey),
		ClipSearch: orchestrator.ClipSearchDeps{
			Pool:       pool,
			Cache:      cache,
			Search:     searchClient,
			Downloader: clipsource.BlobDownloader{Store: blobStore},
			Limiter:    rate.NewLimiter(rate.Limit(cfg.ClipSearchRPS), 1),
		},
		Moderator:   moderator,
		Normalizer:  normalize.New(),
		Composer:    compose.New(),
		Overlay:     overlay.New(),
		ScratchRoot: cfg.ScratchRoot,
	})

	wpool := worker.New(s, q, orch, cfg.HeartbeatInterval, cfg.ReaperStaleAfter)
	go wpool.Start(workerCtx, cfg.WorkerConcurrency)
	log.Printf("Worker pool started (concurrency=%d)", cfg.WorkerConcurrency)

	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quitCh := make(chan os.Signal, 1)
	signal.Notify(quitCh, syscall.SIGINT, syscall.SIGTERM)
	<-quitCh

	log.Println("Shutting down server...")

	workerCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/scenereel/internal/api"
	"github.com/bobarin/scenereel/internal/config"
	"github.com/bobarin/scenereel/internal/db"
	"github.com/bobarin/scenereel/internal/fonts"
	"github.com/bobarin/scenereel/internal/logger"
	"github.com/bobarin/scenereel/internal/models"
	"github.com/bobarin/scenereel/internal/queue"
	"github.com/bobarin/scenereel/internal/renders"
	"github.com/bobarin/scenereel/internal/services"
	"github.com/bobarin/scenereel/internal/storage"
	"github.com/bobarin/scenereel/internal/worker"
	log "github.com/sirupsen/logrus"
)

type store interface {
	renders.Store
	api.TemplateStore
}

type jobQueue interface {
	renders.Queue
	worker.Queue
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if _, err := logger.Setup(logger.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	}); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	log.Info("Starting scenereel API...")

	// Database, or in-memory store for local development
	var st store
	if cfg.DatabaseURL != "" {
		database, err := db.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = database.EnsureSchema(ctx)
		cancel()
		if err != nil {
			log.Fatalf("Failed to prepare database: %v", err)
		}
		st = database
		log.Info("Connected to database")
	} else {
		st = db.NewMemoryStore()
		log.Warn("No DATABASE_URL set, using in-memory store (dev mode)")
	}

	// Redis queue, or in-process queue for local development
	var q jobQueue
	if cfg.RedisURL != "" {
		rq, err := queue.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to queue: %v", err)
		}
		q = rq
		log.Info("Connected to Redis queue")
	} else {
		q = queue.NewMemory(0)
		log.Warn("No REDIS_URL set, using in-process queue (dev mode)")
	}
	defer q.Close()

	// Artifacts are always written locally; Supabase publishing is optional
	local := storage.NewLocal(cfg.OutputDir, publicBaseURL(cfg))
	var publisher renders.Publisher = local
	var signer api.Signer
	if cfg.PublishingEnabled() {
		stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
		publisher = stor
		signer = stor
		log.WithField("bucket", cfg.SupabaseStorageBucket).Info("Publishing renders to Supabase storage")
	}

	fontCache := fonts.NewCache(fonts.Options{
		Dir:           cfg.FontsDir,
		DefaultFamily: cfg.DefaultFontFamily,
		DefaultFile:   cfg.DefaultFontFile,
		BoldFile:      cfg.DefaultBoldFontFile,
		ArabicFile:    cfg.ArabicFontFile,
		CSSURL:        cfg.FontCSSURL,
		Timeout:       cfg.FontFetchTimeout,
	})

	ffmpegSvc, err := services.NewFFmpegService(services.FFmpegOptions{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		TempDir:     cfg.TempDir,
		Timeout:     cfg.RenderTimeout,
		Fonts:       fontCache,
	})
	if err != nil {
		log.Fatalf("Failed to initialize ffmpeg: %v", err)
	}

	generator := services.NewGenerator(ffmpegSvc, cfg.OutputDir, cfg.TempDir, cfg.SceneConcurrency)

	// Validated by config.Load
	defaultRes, _ := models.ParseResolution(cfg.DefaultResolution)
	renderSvc := renders.NewService(st, q, generator, publisher, defaultRes)

	handler := api.NewHandler(st, renderSvc, local, signer)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Info("API key authentication enabled")
	} else {
		log.Warn("No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var workerCancel context.CancelFunc
	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		log.WithField("max_concurrent_jobs", cfg.MaxConcurrentJobs).Info("Worker enabled, starting background processing...")

		if cfg.RecoverInterrupted {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := renderSvc.FailInterrupted(ctx)
			cancel()
			if err != nil {
				log.WithError(err).Error("Failed to recover interrupted renders")
			} else if n > 0 {
				log.WithField("count", n).Warn("Marked interrupted renders as failed")
			}
		}

		w := worker.New(q, renderSvc)
		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go func() {
			defer close(workerDone)
			w.Start(workerCtx, cfg.MaxConcurrentJobs)
		}()
	} else {
		close(workerDone)
	}

	go func() {
		log.Infof("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	// Stop dequeuing and let in-flight renders finish
	if workerCancel != nil {
		workerCancel()
	}
	select {
	case <-workerDone:
	case <-time.After(cfg.RenderTimeout):
		log.Warn("Timed out waiting for in-flight renders")
	}

	log.Info("Server exited")
}

func publicBaseURL(cfg *config.Config) string {
	if cfg.PublicBaseURL != "" {
		return cfg.PublicBaseURL
	}
	return "http://localhost:" + cfg.APIPort
}

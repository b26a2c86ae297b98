package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appamqp "ricevute/internal/amqp"
	"ricevute/internal/account"
	"ricevute/internal/cache"
	"ricevute/internal/config"
	"ricevute/internal/core"
	"ricevute/internal/family"
	apphttp "ricevute/internal/http"
	"ricevute/internal/ingest"
	"ricevute/internal/ingest/gemini"
	"ricevute/internal/kv"
	applog "ricevute/internal/log"
	"ricevute/internal/services"
	"ricevute/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	state, err := kv.Open(cfg.StateFilePath)
	if err != nil {
		logger.Error("Failed to open client state store", "error", err, "path", cfg.StateFilePath)
		os.Exit(1)
	}

	// Usage audits go through the broker when configured, straight to
	// storage otherwise.
	var usageSink ingest.UsageSink = storageSink{repo}
	var amqpClient *appamqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = appamqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		usageSink = amqpClient
		logger.Info("Usage audit via AMQP", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled, usage audit writes directly to storage")
	}

	var extractor ingest.Extractor
	if cfg.GeminiAPIKey != "" {
		extractor, err = gemini.New(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Error("Failed to initialize Gemini client", "error", err)
			os.Exit(1)
		}
		logger.Info("Gemini extractor initialized", "model", cfg.GeminiModel)
	} else {
		logger.Warn("No GEMINI_API_KEY provided, receipt ingestion is offline")
	}

	familyCache := cache.NewLRU[family.Families](cfg.CacheSize, cfg.CacheTTL)
	categoryCache := cache.NewLRU[[]core.Category](cfg.CacheSize, cfg.CacheTTL)

	janitor := cache.NewJanitor(familyCache, categoryCache)
	janitor.Start(10 * time.Minute)
	defer janitor.Stop()

	families := family.NewService(repo, familyCache, cfg.InviteTTL)
	resolver := account.NewResolver(state)
	categories := services.NewCategoryService(repo, categoryCache)
	receipts := services.NewReceiptService(repo)
	spend := services.NewAggregator(repo)
	reconciler := ingest.NewReconciler(extractor, usageSink, cfg.MaxImageBytes, cfg.ExtractTimeout)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Families:        families,
		Resolver:        resolver,
		Categories:      categories,
		Receipts:        receipts,
		Spend:           spend,
		Reconciler:      reconciler,
		Profiles:        repo,
		Usage:           repo,
		MaxImageBytes:   cfg.MaxImageBytes,
		RateLimitPerMin: cfg.RateLimitPerMin,
		IngestPerMin:    cfg.IngestPerMin,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting ricevute server", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}

// storageSink writes usage audits synchronously when no broker is
// configured.
type storageSink struct {
	repo *storage.Repository
}

func (s storageSink) Record(ctx context.Context, rec core.UsageRecord) error {
	return s.repo.InsertUsage(ctx, rec)
}

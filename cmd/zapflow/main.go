// Zapflow middleware server: receives signed WhatsApp webhooks, runs the
// reply pipeline workers, and exposes the admin and health endpoints.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zapflow/zapflow/pkg/api"
	"github.com/zapflow/zapflow/pkg/cache"
	"github.com/zapflow/zapflow/pkg/config"
	"github.com/zapflow/zapflow/pkg/contextengine"
	"github.com/zapflow/zapflow/pkg/database"
	"github.com/zapflow/zapflow/pkg/llm"
	"github.com/zapflow/zapflow/pkg/masking"
	"github.com/zapflow/zapflow/pkg/metrics"
	"github.com/zapflow/zapflow/pkg/pipeline"
	"github.com/zapflow/zapflow/pkg/queue"
	"github.com/zapflow/zapflow/pkg/ratelimit"
	"github.com/zapflow/zapflow/pkg/services"
	"github.com/zapflow/zapflow/pkg/template"
	"github.com/zapflow/zapflow/pkg/tenant"
	"github.com/zapflow/zapflow/pkg/whaticket"
)

const tenantCacheTTL = 5 * time.Minute

func main() {
	envPath := flag.String("env-file", ".env", "Path to the .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	cfg := config.Load()
	if cfg.Auth.SharedSecret == "" {
		slog.Error("SHARED_SECRET is required")
		os.Exit(1)
	}

	slog.Info("Starting zapflow",
		"http_port", cfg.HTTP.Port,
		"workers", cfg.Queue.WorkerCount)

	ctx := context.Background()

	// 1. Database (runs pending migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 2. Redis (cache, rate limits, queue)
	cacheClient, err := cache.NewClient(cfg.Redis.URL)
	if err != nil {
		slog.Error("Failed to configure Redis client", "error", err)
		os.Exit(1)
	}
	if err := cacheClient.Ping(ctx); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cacheClient.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	slog.Info("Connected to Redis")

	// 3. Shared services
	sanitizer := masking.NewSanitizer(
		cfg.Auth.SharedSecret,
		cfg.Auth.WebhookToken,
		cfg.LLM.APIKey,
		cfg.Gateway.BearerToken,
		cfg.Gateway.JWTPassword,
	)
	m := metrics.New(prometheus.DefaultRegisterer)
	store := services.NewStore(dbClient.DB())
	renderer := template.NewRenderer(m)
	engine := contextengine.NewEngine(store, cacheClient, renderer,
		cfg.Context.TTL, cfg.Gateway.TransferToHuman)

	llmClient := llm.NewClient(cfg.LLM, cfg.Context.MaxMessages, cacheClient, m)
	gatewayClient := whaticket.NewClient(cfg.Gateway, cacheClient, sanitizer, m)
	slog.Info("Services initialized")

	// 4. Queue and worker pool (before HTTP server)
	queueGateway := queue.NewGateway(cacheClient, cfg.Queue, m)
	task := pipeline.NewTask(engine, llmClient, renderer, gatewayClient,
		store, queueGateway, sanitizer, m)
	pool := queue.NewPool(queueGateway, task, cacheClient, sanitizer, cfg.Queue)
	pool.Start()
	slog.Info("Worker pool started", "workers", cfg.Queue.WorkerCount)

	// 5. HTTP server
	server := api.NewServer(cfg,
		tenant.NewResolver(dbClient.DB(), cacheClient, tenantCacheTTL),
		ratelimit.NewLimiter(cacheClient.Redis(), cfg.RateLimit.Window, cfg.RateLimit.KeyTTL),
		queueGateway, cacheClient, dbClient, engine, store, m)

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Zapflow started successfully")

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown: drain workers first, then the HTTP server.
	// Jobs not finished in time stay on their queues for the next start.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.JobTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Worker pool shutdown timeout exceeded")
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// Command ragcore runs the in-memory RAG engine: session-scoped document
// ingestion, vector retrieval, and streamed answers over SSE.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quillframe/ragcore/internal/auth"
	"github.com/quillframe/ragcore/internal/config"
	"github.com/quillframe/ragcore/internal/embeddings"
	"github.com/quillframe/ragcore/internal/health"
	"github.com/quillframe/ragcore/internal/httpapi"
	"github.com/quillframe/ragcore/internal/orchestrator"
	"github.com/quillframe/ragcore/internal/pipeline"
	"github.com/quillframe/ragcore/internal/provider"
	"github.com/quillframe/ragcore/internal/session"
	"github.com/quillframe/ragcore/internal/tracing"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed", zap.Error(err))
	}

	if !cfg.Auth.SkipAuth && cfg.Auth.JWTSecret == "" {
		logger.Fatal("auth.jwt_secret is required unless auth.skip_auth is set")
	}

	providerClient := provider.NewClient(provider.Config{
		BaseURL:         cfg.Provider.BaseURL,
		APIKey:          cfg.Provider.APIKey,
		EmbedModel:      cfg.Provider.EmbedModel,
		GenerateModel:   cfg.Provider.GenerateModel,
		EmbedTimeout:    cfg.Provider.EmbedTimeout,
		GenerateTimeout: cfg.Provider.GenerateTimeout,
	}, logger)

	embedder := embeddings.NewClient(providerClient, embeddings.Config{
		Model:         cfg.Provider.EmbedModel,
		MaxConcurrent: int64(cfg.Embedding.MaxConcurrentRequests),
		MaxRetries:    cfg.Embedding.MaxRetries,
		CacheTTL:      cfg.Embedding.CacheDuration,
		CacheMaxBytes: cfg.Embedding.CacheMaxBytes,
	}, logger)

	sessions := session.NewManager(cfg.SessionConfig(), logger)
	sessions.StartJanitor()
	defer sessions.Stop()

	ingestor := pipeline.NewIngestor(embedder, logger)
	orc := orchestrator.New(sessions, ingestor, embedder, providerClient, logger)

	authMW := auth.NewMiddleware(
		auth.NewManager(cfg.Auth.JWTSecret, "ragcore", time.Hour),
		cfg.Auth.SkipAuth,
		logger,
	)

	apiMux := http.NewServeMux()
	httpapi.NewHandler(orc, embedder, logger).RegisterRoutes(apiMux)

	healthHandler := health.NewHandler(logger)
	healthHandler.Register(health.CheckerFunc{
		CheckerName: "sessions",
		Fn: func(ctx context.Context) error {
			sessions.GlobalStats()
			return nil
		},
	})
	healthHandler.Register(health.Cached(health.CheckerFunc{
		CheckerName: "provider",
		Fn: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			_, _, err := providerClient.Embed(ctx, []string{"ping"})
			return err
		},
	}, 30*time.Second))

	rootMux := http.NewServeMux()
	rootMux.Handle("/api/rag/", authMW.Handler(apiMux))
	healthHandler.RegisterRoutes(rootMux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           httpapi.RequestLogger(logger)(rootMux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("Server listening",
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", cfg.Server.MetricsPort),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server forced shutdown", zap.Error(err))
	}
	logger.Info("Stopped")
}

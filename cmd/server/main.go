// @title           Onset Explainer API
// @version         1.0
// @description     Predicts the onset type of psoriasis vulgaris patients and explains each prediction with Tree-SHAP attributions.
// @BasePath        /
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ZanzyTHEbar/onset-explainer/internal/attribution"
	"github.com/ZanzyTHEbar/onset-explainer/internal/attribution/treeshap"
	"github.com/ZanzyTHEbar/onset-explainer/internal/cache"
	"github.com/ZanzyTHEbar/onset-explainer/internal/config"
	"github.com/ZanzyTHEbar/onset-explainer/internal/database"
	"github.com/ZanzyTHEbar/onset-explainer/internal/errors"
	"github.com/ZanzyTHEbar/onset-explainer/internal/middleware"
	"github.com/ZanzyTHEbar/onset-explainer/internal/model"
	"github.com/ZanzyTHEbar/onset-explainer/internal/monitoring"
	"github.com/ZanzyTHEbar/onset-explainer/internal/pipeline"
	"github.com/ZanzyTHEbar/onset-explainer/internal/ratelimit"
	"github.com/ZanzyTHEbar/onset-explainer/internal/redisconn"
	"github.com/ZanzyTHEbar/onset-explainer/internal/resilience"
	"github.com/ZanzyTHEbar/onset-explainer/internal/security"
)

const (
	serviceName = "onset-explainer"
	version     = "1.0.0"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := monitoring.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger.Logger)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := monitoring.InitTracer(ctx, serviceName, version, cfg.OTLPEndpoint, logger)
	if err != nil {
		// tracing is optional; keep serving without it
		logger.Warn("Failed to initialize tracing", "error", err)
	}

	manifest, err := model.Load(cfg.ModelManifest)
	if err != nil {
		return err
	}
	m, err := manifest.Build()
	if err != nil {
		return err
	}

	metrics := monitoring.NewMetrics()

	explainer, breaker, err := newExplainer(cfg, m, logger, metrics)
	if err != nil {
		return err
	}

	redisClient, err := redisconn.Connect(ctx, redisconn.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("Redis unavailable, using in-process cache and rate limiter", "error", err)
	}
	defer errors.SafeClose(redisClient, "redis")

	store := cache.New(redisClient, cfg.CacheTTL, logger)
	defer errors.SafeClose(store, "cache")

	db, err := database.NewDB(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer errors.SafeClose(db, "database")

	audit := database.NewAuditService(database.NewRepository(db), database.AuditConfig{
		RetentionDays: cfg.RetentionDays,
	}, logger)
	defer audit.Close()
	audit.StartRetention(ctx, cfg.PurgeInterval)

	predictor, err := pipeline.New(m, explainer, logger,
		pipeline.WithCache(store),
		pipeline.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, cfg.AttributionTimeout*3)
		defer cancel()
		if err := predictor.Warm(warmCtx); err != nil {
			logger.Error("Failed to load global importance; will retry on first request", "error", err)
		}
	}()

	limiter := ratelimit.NewRateLimiter(redisClient, ratelimit.Config{
		IPLimitPerMin: cfg.RateLimitPerMin,
	}, metrics, logger)
	defer limiter.Close()

	srv := &server{
		config:    cfg,
		logger:    logger,
		metrics:   metrics,
		predictor: predictor,
		audit:     audit,
		db:        db,
		redis:     redisClient,
		store:     store,
		limiter:   limiter,
		breaker:   breaker,
		security: security.NewSecurityMiddleware(security.SecurityConfig{
			AllowedOrigins: cfg.AllowedOrigins,
			RequestTimeout: cfg.RequestTimeout,
			EnableHSTS:     cfg.IsProduction(),
		}),
		compression: middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig()),
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(setupRouter(srv), serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "model", m.Manifest.Name, "version", m.Manifest.Version)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("Failed to flush traces", "error", err)
	}

	logger.Info("Server exited")
	return nil
}

// newExplainer picks the Tree-SHAP service client, or the fixture file when
// no service URL is configured. The breaker is nil for fixtures.
func newExplainer(cfg *config.Config, m *model.Model, logger *monitoring.Logger, metrics *monitoring.Metrics) (attribution.Explainer, *resilience.CircuitBreaker, error) {
	if cfg.AttributionURL == "" {
		logger.Warn("Serving precomputed attributions", "fixture", cfg.AttributionFixture)
		fixed, err := attribution.LoadFixedExplainer(cfg.AttributionFixture)
		if err != nil {
			return nil, nil, err
		}
		return fixed, nil, nil
	}

	client, err := treeshap.NewClient(treeshap.Config{
		BaseURL:      cfg.AttributionURL,
		Token:        cfg.AttributionToken,
		ModelVersion: m.Manifest.Version,
		Timeout:      cfg.AttributionTimeout,
		Retry:        resilience.DefaultRetryConfig(),
		CircuitBreaker: resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 2,
		},
	}, m.Schema, logger, metrics)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Breaker(), nil
}

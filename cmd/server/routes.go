package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/ZanzyTHEbar/onset-explainer/docs"
	"github.com/ZanzyTHEbar/onset-explainer/internal/cache"
	"github.com/ZanzyTHEbar/onset-explainer/internal/config"
	"github.com/ZanzyTHEbar/onset-explainer/internal/database"
	"github.com/ZanzyTHEbar/onset-explainer/internal/errors"
	"github.com/ZanzyTHEbar/onset-explainer/internal/middleware"
	"github.com/ZanzyTHEbar/onset-explainer/internal/monitoring"
	"github.com/ZanzyTHEbar/onset-explainer/internal/pipeline"
	"github.com/ZanzyTHEbar/onset-explainer/internal/ratelimit"
	"github.com/ZanzyTHEbar/onset-explainer/internal/redisconn"
	"github.com/ZanzyTHEbar/onset-explainer/internal/resilience"
	"github.com/ZanzyTHEbar/onset-explainer/internal/security"
	"github.com/ZanzyTHEbar/onset-explainer/internal/types"
)

// server holds everything the handlers need
type server struct {
	config      *config.Config
	logger      *monitoring.Logger
	metrics     *monitoring.Metrics
	predictor   *pipeline.Predictor
	audit       *database.AuditService
	db          *database.DB
	redis       *redisconn.Client
	store       cache.Store
	limiter     *ratelimit.RateLimiter
	breaker     *resilience.CircuitBreaker
	security    *security.SecurityMiddleware
	compression *middleware.CompressionMiddleware
}

func setupRouter(s *server) *gin.Engine {
	r := gin.New()

	r.Use(errors.RecoveryHandler())
	r.Use(monitoring.RequestIDMiddleware())
	r.Use(monitoring.MonitoringMiddleware(s.metrics, s.logger))
	r.Use(errors.ErrorHandler())
	r.Use(monitoring.SecurityMonitoringMiddleware(s.logger))
	r.Use(s.security.SecurityHeaders)
	r.Use(s.security.CORS())
	r.Use(s.security.RequestTimeout)
	r.Use(s.compression.Handler())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	r.GET("/cache/stats", s.handleCacheStats)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/v1")
	v1.Use(s.limiter.IPRateLimitMiddleware())
	v1.Use(s.security.LimitBody)
	v1.Use(s.security.ValidateContentType)
	{
		v1.POST("/predict", s.handlePredict)

		cached := v1.Group("", cache.Middleware(s.store, s.metrics, s.logger))
		cached.GET("/schema", s.handleSchema)
		cached.GET("/importance", s.handleImportance)

		v1.GET("/predictions/stats", s.handleLabelCounts)
		v1.GET("/predictions/:id", s.handleGetPrediction)
	}

	return r
}

// handlePredict godoc
// @Summary      Predict and explain the onset type of one patient record
// @Tags         explain
// @Accept       json
// @Produce      json
// @Param        request  body      types.PredictRequest  true  "Feature values"
// @Success      200      {object}  types.PredictResponse
// @Failure      400      {object}  errors.AppError
// @Failure      429      {object}  errors.AppError
// @Failure      502      {object}  errors.AppError
// @Router       /v1/predict [post]
func (s *server) handlePredict(c *gin.Context) {
	var req types.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewValidationError("Invalid request body", err, nil))
		return
	}

	start := time.Now()
	out, err := s.predictor.Predict(c.Request.Context(), req.Features, req.TopN)
	if err != nil {
		_ = c.Error(err)
		return
	}

	p := database.NewPrediction(out.Model.Name, out.Model.Version)
	p.RequestID = c.GetHeader("X-Request-ID")
	p.ClassIndex = out.Prediction.ClassIndex
	p.Label = out.Prediction.Label
	p.Score = out.Prediction.Score
	p.Scores = out.Prediction.Scores
	p.NativeAgrees = out.Prediction.NativeAgrees
	if out.Record != nil {
		p.Record = out.Record.Map()
	}
	if !s.audit.Record(p) {
		s.logger.Warn("Prediction audit dropped", "id", p.ID)
	}

	s.logger.PredictionLogger(p.ID, out.Model.Name, p.ClassIndex, p.Label, p.Score, p.NativeAgrees, time.Since(start), out.CacheHit)
	c.JSON(http.StatusOK, types.NewPredictResponse(p.ID, out, p.CreatedAt))
}

// handleSchema godoc
// @Summary      Model input schema
// @Tags         explain
// @Produce      json
// @Success      200  {object}  types.SchemaResponse
// @Router       /v1/schema [get]
func (s *server) handleSchema(c *gin.Context) {
	m := s.predictor.Model()
	c.JSON(http.StatusOK, types.SchemaResponse{
		Model:       s.predictor.Info(),
		ClassLabels: m.Labels.Labels(),
		Features:    m.Schema.Features(),
	})
}

// handleImportance godoc
// @Summary      Global feature importance
// @Tags         explain
// @Produce      json
// @Param        top_n  query     int  false  "Number of features to return"
// @Success      200    {object}  types.ImportanceResponse
// @Failure      400    {object}  errors.AppError
// @Failure      502    {object}  errors.AppError
// @Router       /v1/importance [get]
func (s *server) handleImportance(c *gin.Context) {
	topN := s.predictor.Model().Assembler.TopN()
	if raw := c.Query("top_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = c.Error(errors.NewValidationError("top_n must be a positive integer", err, map[string]string{"top_n": raw}))
			return
		}
		topN = n
	}

	ranking, err := s.predictor.Importance(c.Request.Context(), topN)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, types.ImportanceResponse{
		Model:      s.predictor.Info(),
		TopN:       topN,
		Importance: ranking,
	})
}

// handleGetPrediction godoc
// @Summary      Look up an audited prediction
// @Tags         audit
// @Produce      json
// @Param        id   path      string  true  "Prediction ID"
// @Success      200  {object}  database.Prediction
// @Failure      404  {object}  errors.AppError
// @Router       /v1/predictions/{id} [get]
func (s *server) handleGetPrediction(c *gin.Context) {
	id := c.Param("id")
	p, err := s.audit.Get(c.Request.Context(), id)
	if stderrors.Is(err, database.ErrNotFound) {
		_ = c.Error(errors.NewNotFoundError("prediction", id))
		return
	}
	if err != nil {
		_ = c.Error(errors.NewInternalError("Failed to load prediction", err))
		return
	}
	c.JSON(http.StatusOK, p)
}

// handleLabelCounts godoc
// @Summary      Prediction counts per class label
// @Tags         audit
// @Produce      json
// @Success      200  {object}  types.LabelCountsResponse
// @Router       /v1/predictions/stats [get]
func (s *server) handleLabelCounts(c *gin.Context) {
	name := s.predictor.Info().Name
	counts, err := s.audit.LabelCounts(c.Request.Context(), name)
	if err != nil {
		_ = c.Error(errors.NewInternalError("Failed to count predictions", err))
		return
	}
	c.JSON(http.StatusOK, types.LabelCountsResponse{Model: name, Counts: counts})
}

// handleHealth godoc
// @Summary      Service health
// @Tags         system
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Failure      503  {object}  types.HealthResponse
// @Router       /health [get]
func (s *server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	components := map[string]any{}

	if err := s.db.PingContext(ctx); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
		components["database"] = gin.H{"status": "down", "error": err.Error()}
	} else {
		components["database"] = gin.H{"status": "up", "pool": s.db.GetPoolStats()}
	}

	if s.breaker != nil {
		stats := s.breaker.Stats()
		components["attribution"] = stats
		if s.breaker.State() == resilience.StateOpen && code == http.StatusOK {
			status = "degraded"
		}
	} else {
		components["attribution"] = gin.H{"mode": "fixture"}
	}

	switch {
	case !s.redis.Enabled():
		components["redis"] = gin.H{"status": "disabled"}
	case s.redis.HealthCheck(ctx) != nil:
		components["redis"] = gin.H{"status": "down", "pool": s.redis.PoolStats()}
		if code == http.StatusOK {
			status = "degraded"
		}
	default:
		components["redis"] = gin.H{"status": "up", "pool": s.redis.PoolStats()}
	}

	components["rate_limiter"] = s.limiter.GetStats()
	components["compression"] = s.compression.GetStats()
	components["metrics"] = s.metrics.GetStats()

	c.JSON(code, types.HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    version,
		Components: components,
	})
}

// handleCacheStats reports the response cache backend and its counters
func (s *server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Stats(c.Request.Context()))
}

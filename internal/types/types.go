package types

import (
	"time"

	"github.com/ZanzyTHEbar/onset-explainer/internal/database"
	"github.com/ZanzyTHEbar/onset-explainer/internal/decision"
	"github.com/ZanzyTHEbar/onset-explainer/internal/explain"
	"github.com/ZanzyTHEbar/onset-explainer/internal/pipeline"
	"github.com/ZanzyTHEbar/onset-explainer/internal/schema"
)

// PredictRequest represents the request structure for the predict endpoint.
// Categorical features accept either the label or the integer code.
type PredictRequest struct {
	Features map[string]any `json:"features" binding:"required"`
	TopN     int            `json:"top_n,omitempty" binding:"gte=0,lte=64"`
}

// PredictResponse is one explained prediction
type PredictResponse struct {
	ID         string                    `json:"id"`
	Model      pipeline.ModelInfo        `json:"model"`
	Prediction decision.PredictionResult `json:"prediction"`
	Importance explain.Ranking           `json:"importance"`
	Waterfall  explain.Waterfall         `json:"waterfall"`
	CreatedAt  time.Time                 `json:"created_at"`
}

// NewPredictResponse wraps a pipeline explanation with its audit id
func NewPredictResponse(id string, e *pipeline.Explanation, createdAt time.Time) PredictResponse {
	return PredictResponse{
		ID:         id,
		Model:      e.Model,
		Prediction: e.Prediction,
		Importance: e.Importance,
		Waterfall:  e.Waterfall,
		CreatedAt:  createdAt,
	}
}

// SchemaResponse describes the input form a client has to fill
type SchemaResponse struct {
	Model       pipeline.ModelInfo `json:"model"`
	ClassLabels []string           `json:"class_labels"`
	Features    []schema.Feature   `json:"features"`
}

// ImportanceResponse is the global feature ranking in ascending order
type ImportanceResponse struct {
	Model      pipeline.ModelInfo `json:"model"`
	TopN       int                `json:"top_n"`
	Importance explain.Ranking    `json:"importance"`
}

// LabelCountsResponse reports how often each class has been predicted
type LabelCountsResponse struct {
	Model  string                `json:"model"`
	Counts []database.LabelCount `json:"counts"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string         `json:"status"`
	Timestamp  string         `json:"timestamp"`
	Version    string         `json:"version"`
	Components map[string]any `json:"components"`
}

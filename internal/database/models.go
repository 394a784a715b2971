package database

import (
	"time"

	"github.com/google/uuid"
)

// Prediction is one audited decision. The explanation itself is not
// stored; it can be recomputed from the record.
type Prediction struct {
	ID           string             `json:"id"`
	RequestID    string             `json:"request_id,omitempty"`
	ModelName    string             `json:"model_name"`
	ModelVersion string             `json:"model_version"`
	ClassIndex   int                `json:"class_index"`
	Label        string             `json:"label"`
	Score        float64            `json:"score"`
	Scores       []float64          `json:"scores"`
	Record       map[string]float64 `json:"record"`
	NativeAgrees *bool              `json:"native_agrees,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// NewPrediction stamps a prediction with a fresh ID and the current time
func NewPrediction(modelName, modelVersion string) *Prediction {
	return &Prediction{
		ID:           uuid.NewString(),
		ModelName:    modelName,
		ModelVersion: modelVersion,
		CreatedAt:    time.Now().UTC(),
	}
}

// LabelCount is the number of audited predictions per class label
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

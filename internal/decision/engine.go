package decision

import (
	"fmt"
	"math"

	"github.com/ZanzyTHEbar/onset-explainer/internal/attribution"
)

// DefaultAdditivityTolerance bounds |score - margin| in CheckAdditivity
const DefaultAdditivityTolerance = 1e-6

// LabelTable maps class indices to human-readable labels
type LabelTable struct {
	labels []string
}

// NewLabelTable builds a table from labels in class-index order
func NewLabelTable(labels []string) (*LabelTable, error) {
	if len(labels) < 2 {
		return nil, fmt.Errorf("label table needs at least 2 classes, got %d", len(labels))
	}
	seen := make(map[string]bool, len(labels))
	for i, l := range labels {
		if l == "" {
			return nil, fmt.Errorf("class %d has an empty label", i)
		}
		if seen[l] {
			return nil, fmt.Errorf("duplicate class label %q", l)
		}
		seen[l] = true
	}
	return &LabelTable{labels: append([]string(nil), labels...)}, nil
}

// Len returns the number of classes
func (t *LabelTable) Len() int {
	return len(t.labels)
}

// Label returns the label for class i
func (t *LabelTable) Label(i int) (string, bool) {
	if i < 0 || i >= len(t.labels) {
		return "", false
	}
	return t.labels[i], true
}

// Labels returns a copy of all labels
func (t *LabelTable) Labels() []string {
	return append([]string(nil), t.labels...)
}

// PredictionResult is the decided class for one record
type PredictionResult struct {
	ClassIndex int       `json:"class_index"`
	Label      string    `json:"label"`
	Score      float64   `json:"score"`
	Scores     []float64 `json:"scores"`
	// NativeAgrees is nil when the model's own probabilities were not available.
	NativeAgrees *bool `json:"native_agrees,omitempty"`
}

// Engine picks the predicted class by additive reconstruction. It is
// immutable and safe for concurrent use.
type Engine struct {
	labels       *LabelTable
	featureCount int
}

// NewEngine creates an engine for a fixed label table and feature count
func NewEngine(labels *LabelTable, featureCount int) (*Engine, error) {
	if labels == nil {
		return nil, fmt.Errorf("label table is required")
	}
	if featureCount <= 0 {
		return nil, fmt.Errorf("feature count must be positive, got %d", featureCount)
	}
	return &Engine{labels: labels, featureCount: featureCount}, nil
}

// Labels returns the engine's label table
func (e *Engine) Labels() *LabelTable {
	return e.labels
}

// Decide reconstructs every class score and returns the argmax. Ties go to
// the lowest class index.
func (e *Engine) Decide(set attribution.Set) (PredictionResult, error) {
	if err := e.checkShape(set); err != nil {
		return PredictionResult{}, err
	}

	scores := set.Scores()
	best := Argmax(scores)

	label, ok := e.labels.Label(best)
	if !ok {
		return PredictionResult{}, &ShapeMismatchError{What: "predicted index", Class: best, Expected: e.labels.Len(), Actual: best}
	}

	return PredictionResult{
		ClassIndex: best,
		Label:      label,
		Score:      scores[best],
		Scores:     scores,
	}, nil
}

func (e *Engine) checkShape(set attribution.Set) error {
	if len(set) == 0 {
		return &ShapeMismatchError{What: "class count", Class: -1, Expected: e.labels.Len(), Actual: 0}
	}
	if len(set) != e.labels.Len() {
		return &ShapeMismatchError{What: "class count", Class: -1, Expected: e.labels.Len(), Actual: len(set)}
	}

	for i, c := range set {
		if len(c.Contributions) != e.featureCount {
			return &ShapeMismatchError{What: "contribution length", Class: i, Expected: e.featureCount, Actual: len(c.Contributions)}
		}
		if !isFinite(c.Baseline) {
			return &NonFiniteAttributionError{Class: i, Feature: -1, Value: c.Baseline}
		}
		for j, v := range c.Contributions {
			if !isFinite(v) {
				return &NonFiniteAttributionError{Class: i, Feature: j, Value: v}
			}
		}
	}
	return nil
}

// CheckAdditivity verifies every reconstructed score against the model's
// raw margins. tol <= 0 selects DefaultAdditivityTolerance.
func CheckAdditivity(set attribution.Set, margins []float64, tol float64) error {
	if tol <= 0 {
		tol = DefaultAdditivityTolerance
	}
	if len(margins) != len(set) {
		return &ShapeMismatchError{What: "margin count", Class: -1, Expected: len(set), Actual: len(margins)}
	}
	if err := checkFiniteOutput("margin", margins); err != nil {
		return err
	}
	for i, c := range set {
		score := c.Score()
		if math.Abs(score-margins[i]) > tol {
			return &AdditivityError{Class: i, Score: score, Margin: margins[i]}
		}
	}
	return nil
}

// CheckProbabilities verifies the model's native probabilities carry one
// finite value per class.
func CheckProbabilities(probabilities []float64, classes int) error {
	if len(probabilities) != classes {
		return &ShapeMismatchError{What: "probability count", Class: -1, Expected: classes, Actual: len(probabilities)}
	}
	return checkFiniteOutput("probability", probabilities)
}

func checkFiniteOutput(output string, values []float64) error {
	for i, v := range values {
		if !isFinite(v) {
			return &NonFiniteOutputError{Output: output, Class: i, Value: v}
		}
	}
	return nil
}

// AgreesWithNative reports whether the additive decision matches the argmax
// of the model's own probabilities, under the same tie rule. Non-finite
// probabilities never agree.
func AgreesWithNative(result PredictionResult, probabilities []float64) bool {
	if len(probabilities) == 0 || checkFiniteOutput("probability", probabilities) != nil {
		return false
	}
	return Argmax(probabilities) == result.ClassIndex
}

// Argmax returns the index of the largest value, lowest index on ties.
// An empty slice yields -1.
func Argmax(values []float64) int {
	if len(values) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

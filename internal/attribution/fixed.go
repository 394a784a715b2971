package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ZanzyTHEbar/onset-explainer/internal/schema"
)

// Fixture is the file format served by FixedExplainer: one explain payload
// plus an optional importance payload.
type Fixture struct {
	ExplainResponse
	Importance *ImportanceResponse `json:"importance,omitempty"`
}

// FixedExplainer replays a precomputed attribution for every record. It is
// the offline mode of the CLI and the stand-in service in tests.
type FixedExplainer struct {
	result     *Result
	importance map[string]float64
}

// NewFixedExplainer builds an explainer from already-decoded values
func NewFixedExplainer(result *Result, importance map[string]float64) *FixedExplainer {
	return &FixedExplainer{result: result, importance: importance}
}

// LoadFixedExplainer reads a fixture file
func LoadFixedExplainer(path string) (*FixedExplainer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attribution fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes a fixture from JSON
func ParseFixture(data []byte) (*FixedExplainer, error) {
	var fx Fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	result, err := fx.ToResult()
	if err != nil {
		return nil, err
	}

	var importance map[string]float64
	if fx.Importance != nil {
		importance, err = fx.Importance.ToMap()
		if err != nil {
			return nil, err
		}
	}

	return NewFixedExplainer(result, importance), nil
}

// Explain returns a copy of the fixture result
func (f *FixedExplainer) Explain(ctx context.Context, record *schema.Record) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set := make(Set, len(f.result.Set))
	for i, c := range f.result.Set {
		set[i] = ClassAttribution{
			Baseline:      c.Baseline,
			Contributions: append([]float64(nil), c.Contributions...),
		}
	}
	return &Result{
		Set:           set,
		Margins:       append([]float64(nil), f.result.Margins...),
		Probabilities: append([]float64(nil), f.result.Probabilities...),
	}, nil
}

// GlobalImportance returns the fixture's importance scores. A fixture
// without an importance section cannot answer.
func (f *FixedExplainer) GlobalImportance(ctx context.Context) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.importance == nil {
		return nil, fmt.Errorf("%w: fixture carries no importance section", ErrMalformedResponse)
	}

	out := make(map[string]float64, len(f.importance))
	for k, v := range f.importance {
		out[k] = v
	}
	return out, nil
}

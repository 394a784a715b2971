package attribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/onset-explainer/internal/schema"
)

// ErrMalformedResponse marks an attribution payload whose shape cannot be
// aligned with the schema.
var ErrMalformedResponse = errors.New("malformed attribution response")

// ClassAttribution is the additive decomposition of one class score
type ClassAttribution struct {
	Baseline      float64   `json:"baseline"`
	Contributions []float64 `json:"contributions"`
}

// Score reconstructs the class score as baseline plus every contribution
func (c ClassAttribution) Score() float64 {
	sum := c.Baseline
	for _, v := range c.Contributions {
		sum += v
	}
	return sum
}

// Set holds one ClassAttribution per class, indexed by class
type Set []ClassAttribution

// Scores returns the reconstructed score of every class
func (s Set) Scores() []float64 {
	scores := make([]float64, len(s))
	for i, c := range s {
		scores[i] = c.Score()
	}
	return scores
}

// Result is what an Explainer returns for one record. Margins and
// Probabilities are nil when the service does not supply them.
type Result struct {
	Set           Set       `json:"set"`
	Margins       []float64 `json:"margins,omitempty"`
	Probabilities []float64 `json:"probabilities,omitempty"`
}

// Explainer is the boundary to the Tree-SHAP attribution service
type Explainer interface {
	// Explain returns per-class attributions for a single validated record.
	Explain(ctx context.Context, record *schema.Record) (*Result, error)
	// GlobalImportance returns one score per schema feature for the whole
	// training distribution.
	GlobalImportance(ctx context.Context) (map[string]float64, error)
}

// ExplainResponse is the wire shape of an explain call
type ExplainResponse struct {
	BaseValues    []float64   `json:"base_values"`
	Values        [][]float64 `json:"values"`
	Margins       []float64   `json:"margins,omitempty"`
	Probabilities []float64   `json:"probabilities,omitempty"`
}

// ImportanceResponse is the wire shape of a global importance call
type ImportanceResponse struct {
	Features   []string  `json:"features"`
	Importance []float64 `json:"importance"`
}

// ToResult converts the wire payload into a Result. Only the outer shape is
// checked here; per-class lengths are the decision engine's concern.
func (r *ExplainResponse) ToResult() (*Result, error) {
	if len(r.BaseValues) != len(r.Values) {
		return nil, fmt.Errorf("%w: %d base values for %d classes", ErrMalformedResponse, len(r.BaseValues), len(r.Values))
	}
	if r.Margins != nil && len(r.Margins) != len(r.Values) {
		return nil, fmt.Errorf("%w: %d margins for %d classes", ErrMalformedResponse, len(r.Margins), len(r.Values))
	}
	if r.Probabilities != nil && len(r.Probabilities) != len(r.Values) {
		return nil, fmt.Errorf("%w: %d probabilities for %d classes", ErrMalformedResponse, len(r.Probabilities), len(r.Values))
	}

	set := make(Set, len(r.Values))
	for i, contributions := range r.Values {
		set[i] = ClassAttribution{
			Baseline:      r.BaseValues[i],
			Contributions: append([]float64(nil), contributions...),
		}
	}

	return &Result{
		Set:           set,
		Margins:       r.Margins,
		Probabilities: r.Probabilities,
	}, nil
}

// ToMap converts the wire payload into a name-keyed importance map
func (r *ImportanceResponse) ToMap() (map[string]float64, error) {
	if len(r.Features) != len(r.Importance) {
		return nil, fmt.Errorf("%w: %d feature names for %d importance scores", ErrMalformedResponse, len(r.Features), len(r.Importance))
	}
	m := make(map[string]float64, len(r.Features))
	for i, name := range r.Features {
		if _, dup := m[name]; dup {
			return nil, fmt.Errorf("%w: feature %q repeated", ErrMalformedResponse, name)
		}
		m[name] = r.Importance[i]
	}
	return m, nil
}

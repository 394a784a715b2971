package pipeline

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/onset-explainer/internal/attribution"
	"github.com/ZanzyTHEbar/onset-explainer/internal/cache"
	"github.com/ZanzyTHEbar/onset-explainer/internal/decision"
	"github.com/ZanzyTHEbar/onset-explainer/internal/errors"
	"github.com/ZanzyTHEbar/onset-explainer/internal/model"
	"github.com/ZanzyTHEbar/onset-explainer/internal/monitoring"
	"github.com/ZanzyTHEbar/onset-explainer/internal/schema"
)

const toyManifest = `
name: toy
version: "0.1"
class_labels: [X, Y]
display:
  top_n: 1
  other_label: rest
features:
  - { name: A, kind: categorical, categories: [{ label: no, code: 0 }, { label: yes, code: 1 }] }
  - { name: B, kind: continuous, min: 0 }
`

func toyModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.Parse([]byte(toyManifest))
	require.NoError(t, err)
	built, err := m.Build()
	require.NoError(t, err)
	return built
}

// scenarioResult scores [0.13, 0.6]; class Y's contributions are A=0.5, B=0.3
func scenarioResult() *attribution.Result {
	return &attribution.Result{
		Set: attribution.Set{
			{Baseline: 0.1, Contributions: []float64{0.01, 0.02}},
			{Baseline: -0.2, Contributions: []float64{0.5, 0.3}},
		},
	}
}

type countingExplainer struct {
	attribution.Explainer
	explains    int32
	importances int32
}

func (c *countingExplainer) Explain(ctx context.Context, r *schema.Record) (*attribution.Result, error) {
	atomic.AddInt32(&c.explains, 1)
	return c.Explainer.Explain(ctx, r)
}

func (c *countingExplainer) GlobalImportance(ctx context.Context) (map[string]float64, error) {
	atomic.AddInt32(&c.importances, 1)
	return c.Explainer.GlobalImportance(ctx)
}

func newCounting(result *attribution.Result, importance map[string]float64) *countingExplainer {
	return &countingExplainer{Explainer: attribution.NewFixedExplainer(result, importance)}
}

func quietLogger() *monitoring.Logger {
	return monitoring.NewLoggerWithWriter(io.Discard, "error")
}

func TestPredict_Scenario(t *testing.T) {
	explainer := newCounting(scenarioResult(), map[string]float64{"A": 0.2, "B": 0.7})
	p, err := New(toyModel(t), explainer, quietLogger(), WithMetrics(monitoring.NewMetrics()))
	require.NoError(t, err)
	require.NoError(t, p.Warm(context.Background()))

	out, err := p.Predict(context.Background(), map[string]any{"A": 1, "B": 18.3}, 0)
	require.NoError(t, err)

	assert.Equal(t, ModelInfo{Name: "toy", Version: "0.1"}, out.Model)
	assert.Equal(t, 1, out.Prediction.ClassIndex)
	assert.Equal(t, "Y", out.Prediction.Label)
	assert.InDelta(t, 0.6, out.Prediction.Score, 1e-12)
	assert.Nil(t, out.Prediction.NativeAgrees)

	w := out.Waterfall
	require.Len(t, w.Entries, 1)
	assert.Equal(t, "A", w.Entries[0].Name)
	assert.Equal(t, "yes", w.Entries[0].Display)
	require.NotNil(t, w.Other)
	assert.Equal(t, "rest", w.Other.Label)
	assert.InDelta(t, 0.3, w.Other.Contribution, 1e-12)
	assert.InDelta(t, 0.6, w.Total, 1e-9)

	require.Len(t, out.Importance, 1)
	assert.Equal(t, "A", out.Importance[0].Name)

	assert.Equal(t, []float64{1, 18.3}, out.Record.Values())
	assert.False(t, out.CacheHit)
	assert.Equal(t, int32(1), explainer.importances)
}

func TestPredict_TopNOverride(t *testing.T) {
	p, err := New(toyModel(t), attribution.NewFixedExplainer(scenarioResult(), map[string]float64{"A": 0.2, "B": 0.7}), quietLogger())
	require.NoError(t, err)

	out, err := p.Predict(context.Background(), map[string]any{"A": "yes", "B": 2}, 5)
	require.NoError(t, err)

	assert.Len(t, out.Waterfall.Entries, 2)
	assert.Nil(t, out.Waterfall.Other)
	assert.Len(t, out.Importance, 2)
	assert.Equal(t, []string{"A", "B"}, []string{out.Importance[0].Name, out.Importance[1].Name})
}

func TestPredict_NativeAgreement(t *testing.T) {
	tests := []struct {
		name   string
		probs  []float64
		agrees bool
	}{
		{name: "agrees", probs: []float64{0.38, 0.62}, agrees: true},
		{name: "disagrees", probs: []float64{0.7, 0.3}, agrees: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := scenarioResult()
			result.Probabilities = tt.probs
			metrics := monitoring.NewMetrics()

			p, err := New(toyModel(t), attribution.NewFixedExplainer(result, map[string]float64{"A": 1, "B": 2}), quietLogger(), WithMetrics(metrics))
			require.NoError(t, err)

			out, err := p.Predict(context.Background(), map[string]any{"A": 1, "B": 1}, 0)
			require.NoError(t, err)

			// the additive decision stands either way
			assert.Equal(t, 1, out.Prediction.ClassIndex)
			require.NotNil(t, out.Prediction.NativeAgrees)
			assert.Equal(t, tt.agrees, *out.Prediction.NativeAgrees)

			want := int64(0)
			if !tt.agrees {
				want = 1
			}
			assert.Equal(t, want, metrics.GetStats()["native_disagreements"])
		})
	}
}

func TestPredict_Additivity(t *testing.T) {
	t.Run("margins within tolerance", func(t *testing.T) {
		result := scenarioResult()
		result.Margins = []float64{0.13, 0.6 + 1e-9}
		p, err := New(toyModel(t), attribution.NewFixedExplainer(result, map[string]float64{"A": 1, "B": 2}), quietLogger())
		require.NoError(t, err)

		_, err = p.Predict(context.Background(), map[string]any{"A": 1, "B": 1}, 0)
		assert.NoError(t, err)
	})

	t.Run("margins off", func(t *testing.T) {
		result := scenarioResult()
		result.Margins = []float64{0.13, 0.9}
		p, err := New(toyModel(t), attribution.NewFixedExplainer(result, map[string]float64{"A": 1, "B": 2}), quietLogger())
		require.NoError(t, err)

		_, err = p.Predict(context.Background(), map[string]any{"A": 1, "B": 1}, 0)
		var addErr *decision.AdditivityError
		require.ErrorAs(t, err, &addErr)
		assert.Equal(t, 1, addErr.Class)
	})
}

func TestPredict_NonFiniteProbabilities(t *testing.T) {
	result := scenarioResult()
	result.Probabilities = []float64{math.NaN(), 0.9}
	metrics := monitoring.NewMetrics()

	p, err := New(toyModel(t), attribution.NewFixedExplainer(result, map[string]float64{"A": 1, "B": 2}), quietLogger(), WithMetrics(metrics))
	require.NoError(t, err)

	_, err = p.Predict(context.Background(), map[string]any{"A": 1, "B": 1}, 0)
	var output *decision.NonFiniteOutputError
	require.ErrorAs(t, err, &output)
	assert.Equal(t, "probability", output.Output)
	assert.Equal(t, 0, output.Class)
	assert.Equal(t, int64(0), metrics.GetStats()["native_disagreements"])
}

func TestPredict_Errors(t *testing.T) {
	importance := map[string]float64{"A": 1, "B": 2}

	tests := []struct {
		name      string
		result    *attribution.Result
		raw       map[string]any
		category  errors.ErrorCategory
		explained bool
	}{
		{
			name:     "missing feature",
			result:   scenarioResult(),
			raw:      map[string]any{"A": 1},
			category: errors.CategoryValidation,
		},
		{
			name:     "invalid category",
			result:   scenarioResult(),
			raw:      map[string]any{"A": 3, "B": 1},
			category: errors.CategoryValidation,
		},
		{
			name:     "negative continuous",
			result:   scenarioResult(),
			raw:      map[string]any{"A": 0, "B": -1},
			category: errors.CategoryValidation,
		},
		{
			name: "wrong class count",
			result: &attribution.Result{Set: attribution.Set{
				{Baseline: 0, Contributions: []float64{0, 0}},
			}},
			raw:       map[string]any{"A": 0, "B": 1},
			category:  errors.CategoryContract,
			explained: true,
		},
		{
			name: "nan margin",
			result: &attribution.Result{
				Set:     scenarioResult().Set,
				Margins: []float64{math.NaN(), 0.6},
			},
			raw:       map[string]any{"A": 0, "B": 1},
			category:  errors.CategoryContract,
			explained: true,
		},
		{
			name: "nan probability",
			result: &attribution.Result{
				Set:           scenarioResult().Set,
				Probabilities: []float64{math.NaN(), 0.9},
			},
			raw:       map[string]any{"A": 0, "B": 1},
			category:  errors.CategoryContract,
			explained: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			explainer := newCounting(tt.result, importance)
			p, err := New(toyModel(t), explainer, quietLogger(), WithMetrics(monitoring.NewMetrics()))
			require.NoError(t, err)

			_, err = p.Predict(context.Background(), tt.raw, 0)
			require.Error(t, err)
			assert.Equal(t, tt.category, errors.ToAppError(err).Category)

			// invalid input never reaches the attribution service
			if tt.explained {
				assert.Equal(t, int32(1), explainer.explains)
			} else {
				assert.Equal(t, int32(0), explainer.explains)
			}
		})
	}
}

func TestWarm_RejectsMismatchedImportance(t *testing.T) {
	p, err := New(toyModel(t), attribution.NewFixedExplainer(scenarioResult(), map[string]float64{"A": 1, "C": 2}), quietLogger())
	require.NoError(t, err)

	err = p.Warm(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CategoryContract, errors.ToAppError(err).Category)

	_, err = p.Importance(context.Background(), 0)
	assert.Error(t, err)
}

func TestImportance_LazyAndCached(t *testing.T) {
	explainer := newCounting(scenarioResult(), map[string]float64{"A": 0.9, "B": 0.1})
	p, err := New(toyModel(t), explainer, quietLogger())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ranking, err := p.Importance(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, ranking, 1)
		assert.Equal(t, "A", ranking[0].Name)
	}
	assert.Equal(t, int32(1), explainer.importances)
}

func TestPredict_Cache(t *testing.T) {
	explainer := newCounting(scenarioResult(), map[string]float64{"A": 1, "B": 2})
	store := cache.NewMemoryStore(time.Minute, 0)
	defer store.Close()

	p, err := New(toyModel(t), explainer, quietLogger(), WithCache(store), WithMetrics(monitoring.NewMetrics()))
	require.NoError(t, err)

	ctx := context.Background()
	first, err := p.Predict(ctx, map[string]any{"A": 1, "B": 18.3}, 0)
	require.NoError(t, err)
	// a label and its code are the same record
	second, err := p.Predict(ctx, map[string]any{"A": "yes", "B": 18.3}, 0)
	require.NoError(t, err)

	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, int32(1), explainer.explains)
	assert.Equal(t, first.Prediction, second.Prediction)
	assert.Equal(t, first.Waterfall, second.Waterfall)
	assert.Equal(t, first.Record.Values(), second.Record.Values())

	// a different display size is a different explanation
	_, err = p.Predict(ctx, map[string]any{"A": 1, "B": 18.3}, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(2), explainer.explains)
}

func TestPredict_CancelledContext(t *testing.T) {
	p, err := New(toyModel(t), attribution.NewFixedExplainer(scenarioResult(), map[string]float64{"A": 1, "B": 2}), quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Predict(ctx, map[string]any{"A": 1, "B": 1}, 0)
	require.Error(t, err)
	assert.Equal(t, errors.CategoryTimeout, errors.ToAppError(err).Category, fmt.Sprint(err))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.Error(t, err)
}

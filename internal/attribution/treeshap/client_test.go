package treeshap

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/onset-explainer/internal/attribution"
	"github.com/ZanzyTHEbar/onset-explainer/internal/errors"
	"github.com/ZanzyTHEbar/onset-explainer/internal/monitoring"
	"github.com/ZanzyTHEbar/onset-explainer/internal/resilience"
	"github.com/ZanzyTHEbar/onset-explainer/internal/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New([]schema.Feature{
		{Name: "a", Column: "A", Kind: schema.KindCategorical, Categories: []schema.Category{{Label: "no", Code: 0}, {Label: "yes", Code: 1}}},
		{Name: "b", Column: "B", Kind: schema.KindContinuous},
	})
	require.NoError(t, err)
	return s
}

func testRecord(t *testing.T, s *schema.Schema) *schema.Record {
	t.Helper()
	rec, err := schema.Validate(map[string]any{"a": 1, "b": 18.3}, s)
	require.NoError(t, err)
	return rec
}

func newTestClient(t *testing.T, url string, s *schema.Schema) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:      url,
		Token:        "secret",
		ModelVersion: "1.0.0",
		Timeout:      2 * time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
		},
		CircuitBreaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute},
	}, s, monitoring.NewLoggerWithWriter(&bytes.Buffer{}, "error"), monitoring.NewMetrics())
	require.NoError(t, err)
	return client
}

func TestClient_Explain(t *testing.T) {
	s := testSchema(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/explain", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req explainRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"A", "B"}, req.Features)
		assert.Equal(t, []float64{1, 18.3}, req.Values)
		assert.Equal(t, "1.0.0", req.ModelVersion)

		_ = json.NewEncoder(w).Encode(attribution.ExplainResponse{
			BaseValues:    []float64{0.1, -0.2},
			Values:        [][]float64{{0.01, 0.02}, {0.5, 0.3}},
			Probabilities: []float64{0.38, 0.62},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, s)
	result, err := client.Explain(context.Background(), testRecord(t, s))
	require.NoError(t, err)

	require.Len(t, result.Set, 2)
	assert.InDeltaSlice(t, []float64{0.13, 0.6}, result.Set.Scores(), 1e-12)
	assert.Equal(t, []float64{0.38, 0.62}, result.Probabilities)
}

func TestClient_GlobalImportance(t *testing.T) {
	s := testSchema(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/importance", r.URL.Path)
		_ = json.NewEncoder(w).Encode(attribution.ImportanceResponse{
			Features:   []string{"B", "A"},
			Importance: []float64{0.7, 0.3},
		})
	}))
	defer server.Close()

	importance, err := newTestClient(t, server.URL, s).GlobalImportance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 0.3, "b": 0.7}, importance)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	s := testSchema(t)
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(attribution.ExplainResponse{
			BaseValues: []float64{0, 0},
			Values:     [][]float64{{0, 0}, {0, 1}},
		})
	}))
	defer server.Close()

	result, err := newTestClient(t, server.URL, s).Explain(context.Background(), testRecord(t, s))
	require.NoError(t, err)
	assert.Len(t, result.Set, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_Errors(t *testing.T) {
	s := testSchema(t)

	t.Run("non-2xx becomes external API error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusBadRequest)
		}))
		defer server.Close()

		_, err := newTestClient(t, server.URL, s).Explain(context.Background(), testRecord(t, s))
		appErr := errors.ToAppError(err)
		assert.Equal(t, errors.CategoryExternalAPI, appErr.Category)
	})

	t.Run("malformed body is a contract error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"base_values": [0], "values": [[1],[2]]}`))
		}))
		defer server.Close()

		_, err := newTestClient(t, server.URL, s).Explain(context.Background(), testRecord(t, s))
		assert.ErrorIs(t, err, attribution.ErrMalformedResponse)
		assert.Equal(t, errors.CategoryContract, errors.ToAppError(err).Category)
	})

	t.Run("circuit opens after repeated failures", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, s)
		rec := testRecord(t, s)
		for i := 0; i < 2; i++ {
			_, err := client.Explain(context.Background(), rec)
			require.Error(t, err)
		}
		assert.Equal(t, resilience.StateOpen, client.Breaker().State())

		_, err := client.Explain(context.Background(), rec)
		assert.Equal(t, errors.CategoryExternalAPI, errors.ToAppError(err).Category)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("missing base URL", func(t *testing.T) {
		_, err := NewClient(Config{}, s, nil, nil)
		assert.Error(t, err)
	})
}

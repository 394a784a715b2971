package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/onset-explainer/internal/attribution"
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

const toyFixture = `{
  "base_values": [0.1, -0.2],
  "values": [[0.01, 0.02], [0.5, 0.3]],
  "importance": {"features": ["A", "B"], "importance": [0.2, 0.7]}
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runApp(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := newApp(&stdout, &stderr).Run(append([]string{"explain"}, args...))
	if err != nil {
		return nil, err
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out), stdout.String())
	return out, nil
}

func TestSchemaCommand(t *testing.T) {
	t.Run("embedded model", func(t *testing.T) {
		out, err := runApp(t, "schema")
		require.NoError(t, err)
		assert.Len(t, out["class_labels"], 7)
		assert.Len(t, out["features"], 31)
	})

	t.Run("manifest file", func(t *testing.T) {
		manifest := writeFile(t, t.TempDir(), "model.yaml", toyManifest)
		out, err := runApp(t, "--manifest", manifest, "schema")
		require.NoError(t, err)
		assert.Equal(t, []any{"X", "Y"}, out["class_labels"])
	})
}

func TestPredictCommand(t *testing.T) {
	dir := t.TempDir()
	manifest := writeFile(t, dir, "model.yaml", toyManifest)
	fixture := writeFile(t, dir, "attributions.json", toyFixture)

	tests := []struct {
		name  string
		input string
	}{
		{name: "request body", input: `{"features": {"A": "yes", "B": 18.3}}`},
		{name: "flat record", input: `{"A": 1, "B": 18.3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := writeFile(t, t.TempDir(), "record.json", tt.input)
			out, err := runApp(t, "--manifest", manifest, "predict", "--input", input, "--attributions", fixture)
			require.NoError(t, err)

			prediction := out["prediction"].(map[string]any)
			assert.Equal(t, "Y", prediction["label"])
			assert.InDelta(t, 0.6, prediction["score"], 1e-9)

			waterfall := out["waterfall"].(map[string]any)
			assert.InDelta(t, 0.6, waterfall["total"], 1e-9)
			assert.Len(t, waterfall["entries"], 1)
		})
	}

	t.Run("top-n override", func(t *testing.T) {
		input := writeFile(t, t.TempDir(), "record.json", `{"A": 0, "B": 2}`)
		out, err := runApp(t, "--manifest", manifest, "predict", "--input", input, "--attributions", fixture, "--top-n", "2")
		require.NoError(t, err)
		assert.Len(t, out["importance"], 2)
	})
}

func TestPredictCommand_Service(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/explain":
			_ = json.NewEncoder(w).Encode(attribution.ExplainResponse{
				BaseValues: []float64{0.1, -0.2},
				Values:     [][]float64{{0.01, 0.02}, {0.5, 0.3}},
			})
		case "/v1/importance":
			_ = json.NewEncoder(w).Encode(attribution.ImportanceResponse{
				Features:   []string{"A", "B"},
				Importance: []float64{0.2, 0.7},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	manifest := writeFile(t, dir, "model.yaml", toyManifest)
	input := writeFile(t, dir, "record.json", `{"A": "yes", "B": 18.3}`)

	out, err := runApp(t, "--manifest", manifest, "predict", "--input", input, "--service", server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Y", out["prediction"].(map[string]any)["label"])

	out, err = runApp(t, "--manifest", manifest, "importance", "--service", server.URL, "--top-n", "2")
	require.NoError(t, err)
	assert.Equal(t, float64(2), out["top_n"])
}

func TestPredictCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	manifest := writeFile(t, dir, "model.yaml", toyManifest)
	fixture := writeFile(t, dir, "attributions.json", toyFixture)
	good := writeFile(t, dir, "good.json", `{"A": 1, "B": 1}`)

	tests := []struct {
		name string
		args []string
	}{
		{name: "no attribution source", args: []string{"predict", "--input", good}},
		{name: "both attribution sources", args: []string{"predict", "--input", good, "--attributions", fixture, "--service", "http://localhost:1"}},
		{name: "missing input flag", args: []string{"predict", "--attributions", fixture}},
		{name: "input file absent", args: []string{"predict", "--input", filepath.Join(dir, "nope.json"), "--attributions", fixture}},
		{name: "input not JSON", args: []string{"predict", "--input", writeFile(t, dir, "bad.json", "A=1"), "--attributions", fixture}},
		{name: "invalid record", args: []string{"predict", "--input", writeFile(t, dir, "short.json", `{"A": 1}`), "--attributions", fixture}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, append([]string{"--manifest", manifest}, tt.args...)...)
			assert.Error(t, err)
		})
	}
}

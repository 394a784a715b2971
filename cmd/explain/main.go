// Command explain runs the onset-type pipeline on a single record from the
// command line, against a Tree-SHAP service or a precomputed attribution file.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ZanzyTHEbar/onset-explainer/internal/attribution"
	"github.com/ZanzyTHEbar/onset-explainer/internal/attribution/treeshap"
	"github.com/ZanzyTHEbar/onset-explainer/internal/errors"
	"github.com/ZanzyTHEbar/onset-explainer/internal/model"
	"github.com/ZanzyTHEbar/onset-explainer/internal/monitoring"
	"github.com/ZanzyTHEbar/onset-explainer/internal/pipeline"
	"github.com/ZanzyTHEbar/onset-explainer/internal/resilience"
	"github.com/ZanzyTHEbar/onset-explainer/internal/types"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		appErr := errors.ToAppError(err)
		enc := json.NewEncoder(os.Stderr)
		enc.SetIndent("", "  ")
		_ = enc.Encode(appErr)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	manifestFlag := &cli.StringFlag{
		Name:    "manifest",
		Aliases: []string{"m"},
		Usage:   "model manifest YAML; the embedded psoriasis model when empty",
		EnvVars: []string{"MODEL_MANIFEST"},
	}
	sourceFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "attributions",
			Aliases: []string{"a"},
			Usage:   "precomputed attribution JSON file",
		},
		&cli.StringFlag{
			Name:    "service",
			Aliases: []string{"s"},
			Usage:   "Tree-SHAP service base URL",
			EnvVars: []string{"ATTRIBUTION_URL"},
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "bearer token for the Tree-SHAP service",
			EnvVars: []string{"ATTRIBUTION_TOKEN"},
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Value: 10 * time.Second,
			Usage: "attribution request timeout",
		},
		&cli.IntFlag{
			Name:  "top-n",
			Usage: "number of features to display; the manifest default when 0",
		},
	}

	return &cli.App{
		Name:      "explain",
		Usage:     "predict and explain psoriasis onset types",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			manifestFlag,
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "error",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "schema",
				Usage: "print the model input schema",
				Action: func(c *cli.Context) error {
					m, err := loadModel(c)
					if err != nil {
						return err
					}
					info := pipeline.ModelInfo{
						Name:    m.Manifest.Name,
						Title:   m.Manifest.Title,
						Version: m.Manifest.Version,
						Notice:  m.Manifest.Notice,
					}
					return printJSON(c.App.Writer, types.SchemaResponse{
						Model:       info,
						ClassLabels: m.Labels.Labels(),
						Features:    m.Schema.Features(),
					})
				},
			},
			{
				Name:  "predict",
				Usage: "explain one record",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "input",
						Aliases:  []string{"i"},
						Usage:    "record JSON file, either {\"features\": {...}} or a flat object",
						Required: true,
					},
				}, sourceFlags...),
				Action: func(c *cli.Context) error {
					raw, err := readRecord(c.String("input"))
					if err != nil {
						return err
					}
					p, err := newPredictor(c)
					if err != nil {
						return err
					}
					out, err := p.Predict(c.Context, raw, c.Int("top-n"))
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, out)
				},
			},
			{
				Name:  "importance",
				Usage: "print the global feature importance ranking",
				Flags: sourceFlags,
				Action: func(c *cli.Context) error {
					p, err := newPredictor(c)
					if err != nil {
						return err
					}
					topN := c.Int("top-n")
					if topN <= 0 {
						topN = p.Model().Assembler.TopN()
					}
					ranking, err := p.Importance(c.Context, topN)
					if err != nil {
						return err
					}
					return printJSON(c.App.Writer, types.ImportanceResponse{
						Model:      p.Info(),
						TopN:       topN,
						Importance: ranking,
					})
				},
			},
		},
	}
}

func loadModel(c *cli.Context) (*model.Model, error) {
	manifest, err := model.Load(c.String("manifest"))
	if err != nil {
		return nil, errors.NewConfigurationError("Failed to load model manifest", err)
	}
	m, err := manifest.Build()
	if err != nil {
		return nil, errors.NewConfigurationError("Invalid model manifest", err)
	}
	return m, nil
}

func newPredictor(c *cli.Context) (*pipeline.Predictor, error) {
	m, err := loadModel(c)
	if err != nil {
		return nil, err
	}
	logger := monitoring.NewLoggerWithWriter(c.App.ErrWriter, c.String("log-level"))

	var explainer attribution.Explainer
	switch {
	case c.String("attributions") != "" && c.String("service") != "":
		return nil, errors.NewConfigurationError("--attributions and --service are mutually exclusive", nil)
	case c.String("attributions") != "":
		fixed, err := attribution.LoadFixedExplainer(c.String("attributions"))
		if err != nil {
			return nil, err
		}
		explainer = fixed
	case c.String("service") != "":
		client, err := treeshap.NewClient(treeshap.Config{
			BaseURL:      c.String("service"),
			Token:        c.String("token"),
			ModelVersion: m.Manifest.Version,
			Timeout:      c.Duration("timeout"),
			Retry:        resilience.DefaultRetryConfig(),
		}, m.Schema, logger, nil)
		if err != nil {
			return nil, err
		}
		explainer = client
	default:
		return nil, errors.NewConfigurationError("one of --attributions or --service is required", nil)
	}

	return pipeline.New(m, explainer, logger)
}

// readRecord accepts the /v1/predict body or the bare feature object
func readRecord(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewValidationError("Failed to read input", err, map[string]string{"path": path})
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewValidationError("Input is not a JSON object", err, map[string]string{"path": path})
	}
	if features, ok := raw["features"].(map[string]any); ok {
		return features, nil
	}
	return raw, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

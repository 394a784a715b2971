package model

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/onset-explainer/internal/decision"
	"github.com/ZanzyTHEbar/onset-explainer/internal/explain"
	"github.com/ZanzyTHEbar/onset-explainer/internal/schema"
)

//go:embed default.yaml
var defaultManifest []byte

// CategorySpec is one label/code pair of a categorical feature
type CategorySpec struct {
	Label string `yaml:"label" validate:"required"`
	Code  int    `yaml:"code"`
}

// FeatureSpec declares one input slot
type FeatureSpec struct {
	Name       string         `yaml:"name" validate:"required"`
	Column     string         `yaml:"column"`
	Title      string         `yaml:"title"`
	Unit       string         `yaml:"unit"`
	Kind       string         `yaml:"kind" validate:"required,oneof=continuous categorical"`
	Min        *float64       `yaml:"min"`
	Max        *float64       `yaml:"max"`
	Categories []CategorySpec `yaml:"categories" validate:"dive"`
}

// DisplaySpec holds explanation display settings
type DisplaySpec struct {
	TopN       int    `yaml:"top_n" validate:"gte=0"`
	OtherLabel string `yaml:"other_label"`
}

// Manifest describes a deployed model: its input schema, class labels and
// how explanations are presented.
type Manifest struct {
	Name                string                    `yaml:"name" validate:"required"`
	Title               string                    `yaml:"title"`
	Version             string                    `yaml:"version" validate:"required"`
	Notice              string                    `yaml:"notice"`
	ClassLabels         []string                  `yaml:"class_labels" validate:"min=2,unique,dive,required"`
	Display             DisplaySpec               `yaml:"display"`
	AdditivityTolerance float64                   `yaml:"additivity_tolerance" validate:"gte=0"`
	Codes               map[string][]CategorySpec `yaml:"codes,omitempty"`
	Features            []FeatureSpec             `yaml:"features" validate:"min=1,unique=Name,dive"`
}

// Model is a manifest compiled into the runtime objects the pipeline uses.
// Everything in it is read-only after Build.
type Model struct {
	Manifest  *Manifest
	Schema    *schema.Schema
	Labels    *decision.LabelTable
	Engine    *decision.Engine
	Assembler *explain.Assembler
}

var validate = validator.New()

// Parse decodes and validates a manifest. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode model manifest: %w", err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid model manifest: %w", err)
	}
	return &m, nil
}

// LoadFile reads a manifest from disk
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model manifest %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the embedded psoriasis onset-type manifest
func Default() (*Manifest, error) {
	return Parse(defaultManifest)
}

// Load returns the manifest at path, or the embedded default when path is empty
func Load(path string) (*Manifest, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}

// SchemaFeatures converts the manifest's feature specs into schema slots
func (m *Manifest) SchemaFeatures() []schema.Feature {
	features := make([]schema.Feature, len(m.Features))
	for i, f := range m.Features {
		var categories []schema.Category
		for _, c := range f.Categories {
			categories = append(categories, schema.Category{Label: c.Label, Code: c.Code})
		}
		features[i] = schema.Feature{
			Name:       f.Name,
			Column:     f.Column,
			Title:      f.Title,
			Unit:       f.Unit,
			Kind:       schema.Kind(f.Kind),
			Min:        f.Min,
			Max:        f.Max,
			Categories: categories,
		}
	}
	return features
}

// Build compiles the manifest into a Model
func (m *Manifest) Build() (*Model, error) {
	s, err := schema.New(m.SchemaFeatures())
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", m.Name, err)
	}

	labels, err := decision.NewLabelTable(m.ClassLabels)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", m.Name, err)
	}

	engine, err := decision.NewEngine(labels, s.Len())
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", m.Name, err)
	}

	assembler, err := explain.NewAssembler(s, explain.Config{
		TopN:       m.Display.TopN,
		OtherLabel: m.Display.OtherLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", m.Name, err)
	}

	return &Model{
		Manifest:  m,
		Schema:    s,
		Labels:    labels,
		Engine:    engine,
		Assembler: assembler,
	}, nil
}

// Tolerance returns the configured additivity tolerance or the default
func (m *Manifest) Tolerance() float64 {
	if m.AdditivityTolerance > 0 {
		return m.AdditivityTolerance
	}
	return decision.DefaultAdditivityTolerance
}

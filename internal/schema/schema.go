package schema

import (
	"fmt"
	"math"
	"strconv"
)

// Kind is the value domain of a feature slot
type Kind string

const (
	KindContinuous  Kind = "continuous"
	KindCategorical Kind = "categorical"
)

// Category maps a human label onto the integer code the model was trained on
type Category struct {
	Label string `json:"label"`
	Code  int    `json:"code"`
}

// Feature describes one positional slot of the model input
type Feature struct {
	Name       string     `json:"name"`
	Column     string     `json:"column,omitempty"`
	Title      string     `json:"title,omitempty"`
	Unit       string     `json:"unit,omitempty"`
	Kind       Kind       `json:"kind"`
	Min        *float64   `json:"min,omitempty"`
	Max        *float64   `json:"max,omitempty"`
	Categories []Category `json:"categories,omitempty"`
}

// DisplayName returns the title when one is configured, otherwise the name
func (f Feature) DisplayName() string {
	if f.Title != "" {
		return f.Title
	}
	return f.Name
}

// ModelColumn is the column name the trained model knows this slot by
func (f Feature) ModelColumn() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// CodeFor resolves a categorical label to its code
func (f Feature) CodeFor(label string) (int, bool) {
	for _, c := range f.Categories {
		if c.Label == label {
			return c.Code, true
		}
	}
	return 0, false
}

// LabelFor resolves a categorical code back to its label
func (f Feature) LabelFor(code float64) (string, bool) {
	for _, c := range f.Categories {
		if float64(c.Code) == code {
			return c.Label, true
		}
	}
	return "", false
}

// Labels lists the categorical labels in declaration order
func (f Feature) Labels() []string {
	labels := make([]string, len(f.Categories))
	for i, c := range f.Categories {
		labels[i] = c.Label
	}
	return labels
}

func (f Feature) allowedCodes() []string {
	allowed := make([]string, len(f.Categories))
	for i, c := range f.Categories {
		allowed[i] = fmt.Sprintf("%d (%s)", c.Code, c.Label)
	}
	return allowed
}

// Schema is the ordered, immutable set of feature slots shared by every
// component that indexes features positionally.
type Schema struct {
	features []Feature
	index    map[string]int
}

// New builds a schema and checks its structural invariants
func New(features []Feature) (*Schema, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("schema must declare at least one feature")
	}

	s := &Schema{
		features: make([]Feature, len(features)),
		index:    make(map[string]int, len(features)),
	}
	columns := make(map[string]string, len(features))

	for i, f := range features {
		if f.Name == "" {
			return nil, fmt.Errorf("feature %d has an empty name", i)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("duplicate feature name %q", f.Name)
		}
		if other, dup := columns[f.ModelColumn()]; dup {
			return nil, fmt.Errorf("features %q and %q share model column %q", other, f.Name, f.ModelColumn())
		}
		columns[f.ModelColumn()] = f.Name

		switch f.Kind {
		case KindContinuous:
			if len(f.Categories) > 0 {
				return nil, fmt.Errorf("continuous feature %q must not declare categories", f.Name)
			}
			if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
				return nil, fmt.Errorf("feature %q has min %v greater than max %v", f.Name, *f.Min, *f.Max)
			}
		case KindCategorical:
			if len(f.Categories) == 0 {
				return nil, fmt.Errorf("categorical feature %q declares no categories", f.Name)
			}
			if err := checkCategories(f); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("feature %q has unknown kind %q", f.Name, f.Kind)
		}

		f.Categories = append([]Category(nil), f.Categories...)
		s.features[i] = f
		s.index[f.Name] = i
	}

	return s, nil
}

func checkCategories(f Feature) error {
	codes := make(map[int]bool, len(f.Categories))
	labels := make(map[string]bool, len(f.Categories))
	for _, c := range f.Categories {
		if c.Label == "" {
			return fmt.Errorf("feature %q has a category with an empty label", f.Name)
		}
		if codes[c.Code] {
			return fmt.Errorf("feature %q repeats code %d", f.Name, c.Code)
		}
		if labels[c.Label] {
			return fmt.Errorf("feature %q repeats label %q", f.Name, c.Label)
		}
		codes[c.Code] = true
		labels[c.Label] = true
	}
	return nil
}

// Len returns the number of feature slots
func (s *Schema) Len() int {
	return len(s.features)
}

// Feature returns the slot at position i
func (s *Schema) Feature(i int) Feature {
	return s.features[i]
}

// Features returns a copy of all slots in order
func (s *Schema) Features() []Feature {
	return append([]Feature(nil), s.features...)
}

// Names returns feature names in schema order
func (s *Schema) Names() []string {
	names := make([]string, len(s.features))
	for i, f := range s.features {
		names[i] = f.Name
	}
	return names
}

// Columns returns model column names in schema order
func (s *Schema) Columns() []string {
	cols := make([]string, len(s.features))
	for i, f := range s.features {
		cols[i] = f.ModelColumn()
	}
	return cols
}

// Index returns the position of a feature name
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Record is a validated feature vector aligned positionally with its schema.
// Only Validate constructs one.
type Record struct {
	schema *Schema
	values []float64
}

// Schema returns the schema the record was validated against
func (r *Record) Schema() *Schema {
	return r.schema
}

// Len returns the number of values
func (r *Record) Len() int {
	return len(r.values)
}

// Value returns the coded value at position i
func (r *Record) Value(i int) float64 {
	return r.values[i]
}

// Values returns a copy of the ordered values
func (r *Record) Values() []float64 {
	return append([]float64(nil), r.values...)
}

// Get looks a value up by feature name
func (r *Record) Get(name string) (float64, bool) {
	i, ok := r.schema.Index(name)
	if !ok {
		return 0, false
	}
	return r.values[i], true
}

// Map returns the record keyed by feature name
func (r *Record) Map() map[string]float64 {
	m := make(map[string]float64, len(r.values))
	for i, f := range r.schema.features {
		m[f.Name] = r.values[i]
	}
	return m
}

// Display renders the value at position i for humans: categorical codes
// become their labels.
func (r *Record) Display(i int) string {
	f := r.schema.features[i]
	v := r.values[i]
	if f.Kind == KindCategorical {
		if label, ok := f.LabelFor(v); ok {
			return label
		}
	}
	if math.Trunc(v) == v && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Validate gates a raw key-value input against the schema. The input must
// name exactly the schema's features. Categorical slots accept either a
// declared code or its label; continuous slots accept finite numbers inside
// their bounds. Checks run in a fixed order so the same input always
// reports the same error.
func Validate(raw map[string]any, s *Schema) (*Record, error) {
	for _, f := range s.features {
		if _, ok := raw[f.Name]; !ok {
			return nil, &MissingFeatureError{Feature: f.Name}
		}
	}

	if len(raw) != len(s.features) {
		extra := make([]string, 0, len(raw)-len(s.features))
		for name := range raw {
			if _, ok := s.index[name]; !ok {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		return nil, &UnknownFeatureError{Feature: extra[0]}
	}

	values := make([]float64, len(s.features))
	for i, f := range s.features {
		v, err := coerce(f, raw[f.Name])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	return &Record{schema: s, values: values}, nil
}

func coerce(f Feature, raw any) (float64, error) {
	if f.Kind == KindCategorical {
		return coerceCategorical(f, raw)
	}
	return coerceContinuous(f, raw)
}

func coerceCategorical(f Feature, raw any) (float64, error) {
	if label, ok := raw.(string); ok {
		code, found := f.CodeFor(label)
		if !found {
			return 0, &InvalidCategoryError{Feature: f.Name, Value: label, Allowed: f.allowedCodes()}
		}
		return float64(code), nil
	}

	v, ok := toFloat(raw)
	if !ok {
		return 0, &InvalidCategoryError{Feature: f.Name, Value: raw, Allowed: f.allowedCodes()}
	}
	if _, found := f.LabelFor(v); !found {
		return 0, &InvalidCategoryError{Feature: f.Name, Value: raw, Allowed: f.allowedCodes()}
	}
	return v, nil
}

func coerceContinuous(f Feature, raw any) (float64, error) {
	v, ok := toFloat(raw)
	if !ok {
		return 0, &DomainViolationError{Feature: f.Name, Value: raw, Constraint: "numeric value"}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &DomainViolationError{Feature: f.Name, Value: raw, Constraint: "finite value"}
	}
	if f.Min != nil && v < *f.Min {
		return 0, &DomainViolationError{Feature: f.Name, Value: v, Constraint: fmt.Sprintf(">= %v", *f.Min)}
	}
	if f.Max != nil && v > *f.Max {
		return 0, &DomainViolationError{Feature: f.Name, Value: v, Constraint: fmt.Sprintf("<= %v", *f.Max)}
	}
	return v, nil
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

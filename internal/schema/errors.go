package schema

import (
	"fmt"
	"strings"
)

// MissingFeatureError reports a schema feature absent from the raw input
type MissingFeatureError struct {
	Feature string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("missing feature %q", e.Feature)
}

// UnknownFeatureError reports an input key the schema does not declare
type UnknownFeatureError struct {
	Feature string
}

func (e *UnknownFeatureError) Error() string {
	return fmt.Sprintf("unknown feature %q", e.Feature)
}

// InvalidCategoryError reports a categorical value outside its declared codes
type InvalidCategoryError struct {
	Feature string
	Value   any
	Allowed []string
}

func (e *InvalidCategoryError) Error() string {
	return fmt.Sprintf("feature %q: value %v is not one of [%s]", e.Feature, e.Value, strings.Join(e.Allowed, ", "))
}

// DomainViolationError reports a numeric value outside its declared domain
type DomainViolationError struct {
	Feature    string
	Value      any
	Constraint string
}

func (e *DomainViolationError) Error() string {
	return fmt.Sprintf("feature %q: value %v violates %s", e.Feature, e.Value, e.Constraint)
}

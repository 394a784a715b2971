package decision

import "fmt"

// ShapeMismatchError reports an attribution set that does not line up with
// the label table or the feature schema. Class is -1 when the mismatch is
// about the set as a whole.
type ShapeMismatchError struct {
	What     string
	Class    int
	Expected int
	Actual   int
}

func (e *ShapeMismatchError) Error() string {
	if e.Class < 0 {
		return fmt.Sprintf("shape mismatch: %s expected %d, got %d", e.What, e.Expected, e.Actual)
	}
	return fmt.Sprintf("shape mismatch: class %d %s expected %d, got %d", e.Class, e.What, e.Expected, e.Actual)
}

// NonFiniteAttributionError reports a NaN or infinite baseline or
// contribution. Feature is -1 for the baseline.
type NonFiniteAttributionError struct {
	Class   int
	Feature int
	Value   float64
}

func (e *NonFiniteAttributionError) Error() string {
	if e.Feature < 0 {
		return fmt.Sprintf("class %d baseline is not finite: %v", e.Class, e.Value)
	}
	return fmt.Sprintf("class %d contribution %d is not finite: %v", e.Class, e.Feature, e.Value)
}

// NonFiniteOutputError reports a NaN or infinite model margin or
// probability supplied next to the attributions.
type NonFiniteOutputError struct {
	Output string
	Class  int
	Value  float64
}

func (e *NonFiniteOutputError) Error() string {
	return fmt.Sprintf("class %d %s is not finite: %v", e.Class, e.Output, e.Value)
}

// AdditivityError reports a reconstructed class score that disagrees with
// the model's raw margin.
type AdditivityError struct {
	Class  int
	Score  float64
	Margin float64
}

func (e *AdditivityError) Error() string {
	return fmt.Sprintf("class %d: reconstructed score %v differs from model margin %v", e.Class, e.Score, e.Margin)
}

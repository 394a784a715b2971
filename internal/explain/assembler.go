package explain

import (
	"fmt"
	"math"
	"sort"

	"github.com/ZanzyTHEbar/onset-explainer/internal/attribution"
	"github.com/ZanzyTHEbar/onset-explainer/internal/decision"
	"github.com/ZanzyTHEbar/onset-explainer/internal/schema"
)

const (
	DefaultTopN       = 15
	DefaultOtherLabel = "other features"
)

// EmptyAttributionError reports a class with no feature contributions to
// decompose.
type EmptyAttributionError struct {
	Class int
}

func (e *EmptyAttributionError) Error() string {
	return fmt.Sprintf("class %d has no feature contributions", e.Class)
}

// Config holds display settings
type Config struct {
	TopN       int
	OtherLabel string
}

// ImportanceEntry is one row of the global ranking
type ImportanceEntry struct {
	Name  string  `json:"name"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Ranking lists features ascending by importance
type Ranking []ImportanceEntry

// WaterfallEntry is one displayed feature of a waterfall
type WaterfallEntry struct {
	Name         string  `json:"name"`
	Title        string  `json:"title"`
	Value        float64 `json:"value"`
	Display      string  `json:"display"`
	Contribution float64 `json:"contribution"`
}

// FoldedEntry aggregates every feature beyond the displayed ones
type FoldedEntry struct {
	Label        string  `json:"label"`
	Count        int     `json:"count"`
	Contribution float64 `json:"contribution"`
}

// Waterfall is the additive decomposition of the predicted class score
type Waterfall struct {
	ClassIndex int              `json:"class_index"`
	Label      string           `json:"label"`
	Baseline   float64          `json:"baseline"`
	Entries    []WaterfallEntry `json:"entries"`
	Other      *FoldedEntry     `json:"other,omitempty"`
	Total      float64          `json:"total"`
}

// Assembler builds explanation artifacts against a fixed schema. It holds
// no mutable state.
type Assembler struct {
	schema *schema.Schema
	config Config
}

// NewAssembler creates an assembler; zero config values take the defaults
func NewAssembler(s *schema.Schema, config Config) (*Assembler, error) {
	if s == nil {
		return nil, fmt.Errorf("schema is required")
	}
	if config.TopN <= 0 {
		config.TopN = DefaultTopN
	}
	if config.OtherLabel == "" {
		config.OtherLabel = DefaultOtherLabel
	}
	return &Assembler{schema: s, config: config}, nil
}

// TopN returns the configured default display count
func (a *Assembler) TopN() int {
	return a.config.TopN
}

// RankGlobalImportance sorts features ascending by global importance score
// and keeps the first topN of that order. The map must name
// exactly the schema's features. topN <= 0 uses the configured default.
func (a *Assembler) RankGlobalImportance(importance map[string]float64, topN int) (Ranking, error) {
	if topN <= 0 {
		topN = a.config.TopN
	}

	for _, name := range a.schema.Names() {
		if _, ok := importance[name]; !ok {
			return nil, &schema.MissingFeatureError{Feature: name}
		}
	}
	if len(importance) != a.schema.Len() {
		extra := make([]string, 0)
		for name := range importance {
			if _, ok := a.schema.Index(name); !ok {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		return nil, &schema.UnknownFeatureError{Feature: extra[0]}
	}

	ranking := make(Ranking, a.schema.Len())
	for i, f := range a.schema.Features() {
		score := importance[f.Name]
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, &schema.DomainViolationError{Feature: f.Name, Value: score, Constraint: "finite importance"}
		}
		ranking[i] = ImportanceEntry{Name: f.Name, Title: f.DisplayName(), Score: score}
	}

	// schema order breaks ties
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].Score < ranking[j].Score
	})

	if topN < len(ranking) {
		ranking = ranking[:topN]
	}
	return ranking, nil
}

// BuildWaterfall decomposes the predicted class score into its baseline,
// the topN largest contributions by magnitude, and one folded entry for the
// remainder. topN <= 0 uses the configured default.
func (a *Assembler) BuildWaterfall(set attribution.Set, predicted decision.PredictionResult, record *schema.Record, topN int) (Waterfall, error) {
	if topN <= 0 {
		topN = a.config.TopN
	}

	k := predicted.ClassIndex
	if k < 0 || k >= len(set) {
		return Waterfall{}, &decision.ShapeMismatchError{What: "predicted index", Class: k, Expected: len(set), Actual: k}
	}

	class := set[k]
	if len(class.Contributions) == 0 {
		return Waterfall{}, &EmptyAttributionError{Class: k}
	}
	if record == nil || record.Len() != len(class.Contributions) {
		actual := 0
		if record != nil {
			actual = record.Len()
		}
		return Waterfall{}, &decision.ShapeMismatchError{What: "record length", Class: k, Expected: len(class.Contributions), Actual: actual}
	}

	order := make([]int, len(class.Contributions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return math.Abs(class.Contributions[order[i]]) > math.Abs(class.Contributions[order[j]])
	})

	shown := order
	var folded []int
	if topN < len(order) {
		shown, folded = order[:topN], order[topN:]
	}

	wf := Waterfall{
		ClassIndex: k,
		Label:      predicted.Label,
		Baseline:   class.Baseline,
		Entries:    make([]WaterfallEntry, 0, len(shown)),
	}

	total := class.Baseline
	for _, i := range shown {
		f := record.Schema().Feature(i)
		c := class.Contributions[i]
		wf.Entries = append(wf.Entries, WaterfallEntry{
			Name:         f.Name,
			Title:        f.DisplayName(),
			Value:        record.Value(i),
			Display:      record.Display(i),
			Contribution: c,
		})
		total += c
	}

	if len(folded) > 0 {
		other := &FoldedEntry{Label: a.config.OtherLabel, Count: len(folded)}
		for _, i := range folded {
			other.Contribution += class.Contributions[i]
		}
		wf.Other = other
		total += other.Contribution
	}

	wf.Total = total
	return wf, nil
}

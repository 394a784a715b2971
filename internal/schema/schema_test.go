package schema

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := New([]Feature{
		{Name: "A", Kind: KindCategorical, Categories: []Category{{Label: "no", Code: 0}, {Label: "yes", Code: 1}}},
		{Name: "B", Kind: KindContinuous, Min: floatPtr(0)},
	})
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		features []Feature
		hasError bool
	}{
		{
			name: "accepts valid schema",
			features: []Feature{
				{Name: "x", Kind: KindContinuous},
				{Name: "y", Kind: KindCategorical, Categories: []Category{{Label: "a", Code: 1}}},
			},
		},
		{
			name:     "rejects empty schema",
			features: nil,
			hasError: true,
		},
		{
			name: "rejects duplicate names",
			features: []Feature{
				{Name: "x", Kind: KindContinuous},
				{Name: "x", Kind: KindContinuous},
			},
			hasError: true,
		},
		{
			name: "rejects shared model column",
			features: []Feature{
				{Name: "x", Column: "X", Kind: KindContinuous},
				{Name: "y", Column: "X", Kind: KindContinuous},
			},
			hasError: true,
		},
		{
			name: "rejects column that shadows another name",
			features: []Feature{
				{Name: "x", Kind: KindContinuous},
				{Name: "y", Column: "x", Kind: KindContinuous},
			},
			hasError: true,
		},
		{
			name: "accepts distinct columns",
			features: []Feature{
				{Name: "x", Column: "X", Kind: KindContinuous},
				{Name: "y", Kind: KindContinuous},
			},
		},
		{
			name:     "rejects unknown kind",
			features: []Feature{{Name: "x", Kind: "ordinal"}},
			hasError: true,
		},
		{
			name:     "rejects categorical without categories",
			features: []Feature{{Name: "x", Kind: KindCategorical}},
			hasError: true,
		},
		{
			name: "rejects repeated codes",
			features: []Feature{{Name: "x", Kind: KindCategorical, Categories: []Category{
				{Label: "a", Code: 1}, {Label: "b", Code: 1},
			}}},
			hasError: true,
		},
		{
			name:     "rejects inverted bounds",
			features: []Feature{{Name: "x", Kind: KindContinuous, Min: floatPtr(2), Max: floatPtr(1)}},
			hasError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.features)
			if tt.hasError {
				assert.Error(t, err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.features), s.Len())
		})
	}
}

func TestValidate_Success(t *testing.T) {
	s := testSchema(t)

	tests := []struct {
		name     string
		raw      map[string]any
		expected []float64
	}{
		{
			name:     "coded categorical and float",
			raw:      map[string]any{"A": 1.0, "B": 18.3},
			expected: []float64{1, 18.3},
		},
		{
			name:     "categorical given as label",
			raw:      map[string]any{"A": "no", "B": 0},
			expected: []float64{0, 0},
		},
		{
			name:     "json numbers",
			raw:      map[string]any{"A": json.Number("1"), "B": json.Number("2.5")},
			expected: []float64{1, 2.5},
		},
		{
			name:     "integer types",
			raw:      map[string]any{"A": int64(0), "B": 7},
			expected: []float64{0, 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Validate(tt.raw, s)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, rec.Values())
			assert.Equal(t, s, rec.Schema())
		})
	}
}

func TestValidate_ClosedWorld(t *testing.T) {
	s := testSchema(t)

	t.Run("missing key", func(t *testing.T) {
		_, err := Validate(map[string]any{"A": 1}, s)
		var missing *MissingFeatureError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "B", missing.Feature)
	})

	t.Run("extra key", func(t *testing.T) {
		_, err := Validate(map[string]any{"A": 1, "B": 2, "C": 3}, s)
		var unknown *UnknownFeatureError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "C", unknown.Feature)
	})

	t.Run("extra keys report lexicographically first", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			_, err := Validate(map[string]any{"A": 1, "B": 2, "zz": 3, "Ca": 4}, s)
			var unknown *UnknownFeatureError
			require.ErrorAs(t, err, &unknown)
			assert.Equal(t, "Ca", unknown.Feature)
		}
	})

	t.Run("missing wins over extra", func(t *testing.T) {
		_, err := Validate(map[string]any{"A": 1, "b": 2}, s)
		var missing *MissingFeatureError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "B", missing.Feature)
	})

	t.Run("out of range categorical code", func(t *testing.T) {
		_, err := Validate(map[string]any{"A": 2, "B": 1}, s)
		var invalid *InvalidCategoryError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "A", invalid.Feature)
		assert.Len(t, invalid.Allowed, 2)
	})

	t.Run("fractional categorical code", func(t *testing.T) {
		_, err := Validate(map[string]any{"A": 0.5, "B": 1}, s)
		var invalid *InvalidCategoryError
		assert.ErrorAs(t, err, &invalid)
	})

	t.Run("unknown categorical label", func(t *testing.T) {
		_, err := Validate(map[string]any{"A": "maybe", "B": 1}, s)
		var invalid *InvalidCategoryError
		assert.ErrorAs(t, err, &invalid)
	})

	t.Run("negative where non-negative required", func(t *testing.T) {
		_, err := Validate(map[string]any{"A": 1, "B": -0.01}, s)
		var domain *DomainViolationError
		require.ErrorAs(t, err, &domain)
		assert.Equal(t, "B", domain.Feature)
		assert.Equal(t, ">= 0", domain.Constraint)
	})

	t.Run("non numeric continuous", func(t *testing.T) {
		_, err := Validate(map[string]any{"A": 1, "B": "12"}, s)
		var domain *DomainViolationError
		assert.ErrorAs(t, err, &domain)
	})

	t.Run("non finite continuous", func(t *testing.T) {
		_, err := Validate(map[string]any{"A": 1, "B": math.Inf(1)}, s)
		var domain *DomainViolationError
		assert.ErrorAs(t, err, &domain)
	})
}

func TestRecord_Accessors(t *testing.T) {
	s := testSchema(t)
	rec, err := Validate(map[string]any{"B": 18.3, "A": "yes"}, s)
	require.NoError(t, err)

	assert.Equal(t, 2, rec.Len())
	assert.Equal(t, 1.0, rec.Value(0))

	v, ok := rec.Get("B")
	assert.True(t, ok)
	assert.Equal(t, 18.3, v)

	_, ok = rec.Get("C")
	assert.False(t, ok)

	assert.Equal(t, map[string]float64{"A": 1, "B": 18.3}, rec.Map())
	assert.Equal(t, "yes", rec.Display(0))
	assert.Equal(t, "18.3", rec.Display(1))

	values := rec.Values()
	values[0] = 99
	assert.Equal(t, 1.0, rec.Value(0), "Values must return a copy")
}

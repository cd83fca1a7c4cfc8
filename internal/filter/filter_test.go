package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches_EmptyFilterAlwaysMatches(t *testing.T) {
	assert.True(t, Matches(map[string]any{"theme": "finance"}, nil))
	assert.True(t, Matches(map[string]any{"theme": "finance"}, Filters{}))
}

func TestMatches_PlainScalarIsEquality(t *testing.T) {
	metadata := map[string]any{"theme": "finance"}
	assert.True(t, Matches(metadata, Filters{"theme": "finance"}))
	assert.False(t, Matches(metadata, Filters{"theme": "legal"}))
}

func TestMatches_NumericComparisonOperators(t *testing.T) {
	metadata := map[string]any{"pages": float64(12)}
	assert.True(t, Matches(metadata, Filters{"pages": map[string]any{"$gte": float64(12)}}))
	assert.True(t, Matches(metadata, Filters{"pages": map[string]any{"$gt": float64(10)}}))
	assert.False(t, Matches(metadata, Filters{"pages": map[string]any{"$lt": float64(12)}}))
	assert.True(t, Matches(metadata, Filters{"pages": map[string]any{"$lte": float64(12)}}))
}

func TestMatches_NeOperator(t *testing.T) {
	metadata := map[string]any{"status": "ready"}
	assert.True(t, Matches(metadata, Filters{"status": map[string]any{"$ne": "processing"}}))
	assert.False(t, Matches(metadata, Filters{"status": map[string]any{"$ne": "ready"}}))
}

func TestMatches_InAndNinOperators(t *testing.T) {
	metadata := map[string]any{"theme": "finance"}
	in := []any{"finance", "legal"}
	assert.True(t, Matches(metadata, Filters{"theme": map[string]any{"$in": in}}))
	assert.False(t, Matches(metadata, Filters{"theme": map[string]any{"$nin": in}}))

	other := []any{"legal", "medical"}
	assert.False(t, Matches(metadata, Filters{"theme": map[string]any{"$in": other}}))
	assert.True(t, Matches(metadata, Filters{"theme": map[string]any{"$nin": other}}))
}

func TestMatches_MultipleFieldsAllMustMatch(t *testing.T) {
	metadata := map[string]any{"theme": "finance", "mime_type": "application/pdf"}
	assert.True(t, Matches(metadata, Filters{"theme": "finance", "mime_type": "application/pdf"}))
	assert.False(t, Matches(metadata, Filters{"theme": "finance", "mime_type": "text/plain"}))
}

func TestMatches_MissingFieldNeverMatches(t *testing.T) {
	metadata := map[string]any{"theme": "finance"}
	assert.False(t, Matches(metadata, Filters{"status": "ready"}))
}

func TestEqualityOnly_DropsOperatorFields(t *testing.T) {
	f := Filters{
		"theme": "finance",
		"pages": map[string]any{"$gte": float64(10)},
	}
	eq := EqualityOnly(f)
	assert.Equal(t, map[string]string{"theme": "finance"}, eq)
}

func TestValidate_AcceptsKnownOperators(t *testing.T) {
	f := Filters{"pages": map[string]any{"$gte": float64(10), "$lte": float64(100)}}
	assert.NoError(t, Validate(f))
}

func TestValidate_RejectsUnknownOperator(t *testing.T) {
	f := Filters{"pages": map[string]any{"$eq": float64(10)}}
	err := Validate(f)
	require.Error(t, err)
}

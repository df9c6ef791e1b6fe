package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRaw_Variants(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected Attribute
	}{
		{
			name:     "scalar with confidence",
			input:    map[string]any{"confidence": 0.8, "value": 5.0},
			expected: ScalarWithConfidence{Confidence: 0.8, Value: 5},
		},
		{
			name:     "numeric strings are accepted",
			input:    map[string]any{"confidence": "0.5", "value": " 1 "},
			expected: ScalarWithConfidence{Confidence: 0.5, Value: 1},
		},
		{
			name: "rectangle list",
			input: map[string]any{"rectangle": []any{
				map[string]any{"left": 1.0, "top": 2.0, "width": 3.0, "height": 4.0},
				map[string]any{"left": 5.0},
			}},
			expected: RectangleList{Items: []Rectangle{{Left: 1, Top: 2, Width: 3, Height: 4}, {Left: 5}}},
		},
		{
			name: "skin type indexed",
			input: map[string]any{"skin_type": 1.0, "details": []any{
				map[string]any{"confidence": 0.1, "value": 0.0},
				map[string]any{"confidence": 0.9, "value": 1.0},
			}},
			expected: SkinTypeIndexed{Index: 1, Details: []SkinTypeDetail{{Confidence: 0.1}, {Confidence: 0.9, Value: 1}}},
		},
		{
			name:     "confidence without value",
			input:    map[string]any{"confidence": 0.8},
			expected: Unknown{Raw: map[string]any{"confidence": 0.8}},
		},
		{
			name:     "value has wrong type",
			input:    map[string]any{"confidence": 0.8, "value": true},
			expected: Unknown{Raw: map[string]any{"confidence": 0.8, "value": true}},
		},
		{
			name:     "infinite value is malformed",
			input:    map[string]any{"confidence": 0.8, "value": "Inf"},
			expected: Unknown{Raw: map[string]any{"confidence": 0.8, "value": "Inf"}},
		},
		{
			name:     "NaN confidence is malformed",
			input:    map[string]any{"confidence": "NaN", "value": 3.0},
			expected: Unknown{Raw: map[string]any{"confidence": "NaN", "value": 3.0}},
		},
		{
			name: "non-finite skin type detail reads as zero",
			input: map[string]any{"skin_type": 0.0, "details": []any{
				map[string]any{"confidence": "-Infinity", "value": "NaN"},
			}},
			expected: SkinTypeIndexed{Index: 0, Details: []SkinTypeDetail{{}}},
		},
		{
			name:     "not an object",
			input:    "oily",
			expected: Unknown{Raw: "oily"},
		},
		{
			name:     "rectangle is not a list",
			input:    map[string]any{"rectangle": "none"},
			expected: Unknown{Raw: map[string]any{"rectangle": "none"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bag := ParseRaw(map[string]any{"attr": tt.input})
			assert.Equal(t, tt.expected, bag["attr"])
		})
	}
}

func TestParseRaw_UnwrapsResultEnvelope(t *testing.T) {
	bag := ParseRaw(map[string]any{
		"request_id": "abc",
		"result": map[string]any{
			"acne": map[string]any{"confidence": 0.8, "value": 5.0},
		},
	})

	require.Len(t, bag, 1)
	assert.Equal(t, ScalarWithConfidence{Confidence: 0.8, Value: 5}, bag["acne"])
}

func TestParseJSON(t *testing.T) {
	bag, raw, err := ParseJSON([]byte(`{"acne":{"confidence":0.8,"value":5},"mole":{"rectangle":[{},{}]}}`))
	require.NoError(t, err)

	assert.Equal(t, ScalarWithConfidence{Confidence: 0.8, Value: 5}, bag["acne"])
	assert.Len(t, bag["mole"].(RectangleList).Items, 2)
	assert.Contains(t, raw, "acne")
}

func TestParseJSON_Invalid(t *testing.T) {
	for _, in := range []string{`not json`, `null`, `[1,2]`} {
		_, _, err := ParseJSON([]byte(in))
		assert.ErrorIs(t, err, ErrInvalidPayload, in)
	}
}

func TestFormSubmission_Attributes(t *testing.T) {
	idx := 2
	form := FormSubmission{
		SkinType:        &idx,
		SkinTypeDetails: []FormSkinTypeDetail{{Confidence: 0}, {Confidence: 0.2}, {Confidence: 0.7, Value: 1}},
		Scores:          map[string]FormScore{"acne": {Confidence: 0.8, Value: 5}},
		Regions:         map[string][]Rectangle{"blackhead": {{Left: 1}, {Left: 2}, {Left: 3}}},
	}

	bag := form.Attributes()

	assert.Equal(t, ScalarWithConfidence{Confidence: 0.8, Value: 5}, bag["acne"])
	assert.Len(t, bag["blackhead"].(RectangleList).Items, 3)
	st := bag[SkinTypeKey].(SkinTypeIndexed)
	assert.Equal(t, 2, st.Index)
	assert.Equal(t, 0.7, st.Details[2].Confidence)
}

func TestFormSubmission_RawRoundTripsThroughParser(t *testing.T) {
	idx := 0
	form := FormSubmission{
		SkinType:        &idx,
		SkinTypeDetails: []FormSkinTypeDetail{{Confidence: 0.6}},
		Scores:          map[string]FormScore{"pores": {Confidence: 0.3, Value: 1}},
		Regions:         map[string][]Rectangle{"mole": {{Width: 2}}},
	}

	assert.Equal(t, form.Attributes(), ParseRaw(form.Raw()))
}

func TestFormSubmission_WithoutSkinType(t *testing.T) {
	bag := FormSubmission{}.Attributes()
	assert.NotContains(t, bag, SkinTypeKey)
}

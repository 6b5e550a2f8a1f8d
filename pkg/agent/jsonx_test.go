package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONPlainObject(t *testing.T) {
	obj, err := ExtractJSON(`{"status": "ok", "count": 3}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", obj["status"])
	assert.Equal(t, float64(3), obj["count"])
}

func TestExtractJSONInsideCodeFence(t *testing.T) {
	raw := "Here is the result you asked for:\n```json\n{\"endpoints\": [{\"method\": \"GET\", \"path\": \"/users\"}]}\n```\nLet me know if you need more."
	obj, err := ExtractJSON(raw, []string{"endpoints"})
	require.NoError(t, err)
	require.Contains(t, obj, "endpoints")
}

func TestExtractJSONRepairsTrailingCommas(t *testing.T) {
	raw := `{"cases": [{"name": "a",}, {"name": "b"},], "total": 2,}`
	obj, err := ExtractJSON(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(2), obj["total"])
}

func TestExtractJSONLargestKeySetWins(t *testing.T) {
	raw := `First thought: {"a": 1}. Final answer: {"a": 1, "b": 2, "c": 3}.`
	obj, err := ExtractJSON(raw, nil)
	require.NoError(t, err)
	assert.Len(t, obj, 3)
}

func TestExtractJSONExpectedKeysBreakTies(t *testing.T) {
	raw := `{"x": 1, "y": 2} and also {"summary": "s", "test_points": []}`
	obj, err := ExtractJSON(raw, []string{"summary", "test_points"})
	require.NoError(t, err)
	assert.Contains(t, obj, "summary")
}

func TestExtractJSONFullTieKeepsFirst(t *testing.T) {
	raw := `{"first": 1} then {"second": 2}`
	obj, err := ExtractJSON(raw, nil)
	require.NoError(t, err)
	assert.Contains(t, obj, "first")
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	raw := `{"snippet": "if x { return } else { panic }", "lang": "go"}`
	obj, err := ExtractJSON(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "go", obj["lang"])
}

func TestExtractJSONSurvivesStrayOpenBrace(t *testing.T) {
	raw := `the shape is { roughly speaking... {"valid": true, "n": 1}`
	obj, err := ExtractJSON(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, true, obj["valid"])
}

func TestExtractJSONNothingFound(t *testing.T) {
	_, err := ExtractJSON("I could not produce structured output, sorry.", nil)
	require.Error(t, err)
	assert.True(t, IsClass(err, ClassInputMalformed))
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassConfiguration, ClassOf(ErrNoStore))
	assert.Equal(t, ClassInputMalformed, ClassOf(Errorf(ClassInputMalformed, "bad doc")))
	assert.Equal(t, ClassTransient, ClassOf(assert.AnError))
}

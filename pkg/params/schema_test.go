package params

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSchema(t *testing.T) {
	schema := JSONSchema(assessDescriptor())

	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, []string{"topic", "format"}, schema.Required)

	var names []string
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	assert.Equal(t, []string{"topic", "questions", "timed", "areas", "format", "notes"}, names)

	questions, ok := schema.Properties.Get("questions")
	require.True(t, ok)
	assert.Equal(t, "integer", questions.Type)
	assert.Equal(t, 10, questions.Default)

	areas, ok := schema.Properties.Get("areas")
	require.True(t, ok)
	assert.Equal(t, "array", areas.Type)
	require.NotNil(t, areas.Items)
	assert.Equal(t, []any{"rag", "memory", "safety"}, areas.Items.Enum)

	format, ok := schema.Properties.Get("format")
	require.True(t, ok)
	assert.Equal(t, []any{"quiz", "project"}, format.Enum)

	raw, err := json.Marshal(schema)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"additionalProperties":false`)
}

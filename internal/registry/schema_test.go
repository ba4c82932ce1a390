package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimpleSchema(t *testing.T) {
	schema := SimpleSchema(map[string]string{
		"name":  "string",
		"count": "int",
		"ratio": "float64",
		"ok":    "bool",
		"tags":  "[]string",
		"blob":  "mystery",
	})

	require.Equal(t, "object", schema.Type)
	require.ElementsMatch(t, []string{"name", "count", "ratio", "ok", "tags", "blob"}, schema.Required)
	require.Equal(t, "string", schema.Properties["name"].Type)
	require.Equal(t, "integer", schema.Properties["count"].Type)
	require.Equal(t, "number", schema.Properties["ratio"].Type)
	require.Equal(t, "boolean", schema.Properties["ok"].Type)
	require.Equal(t, "array", schema.Properties["tags"].Type)
	require.Equal(t, "string", schema.Properties["tags"].Items.Type)
	require.Equal(t, "string", schema.Properties["blob"].Type)
}

func TestReflect(t *testing.T) {
	schema, err := Reflect[searchArgs]()
	require.NoError(t, err)

	require.Equal(t, "object", schema.Type)
	require.Empty(t, schema.Schema)
	require.Equal(t, []string{"query"}, schema.Required)
	require.Equal(t, "string", schema.Properties["query"].Type)
	require.Equal(t, "Search text", schema.Properties["query"].Description)
	require.Equal(t, "integer", schema.Properties["limit"].Type)
	require.JSONEq(t, `10`, string(schema.Properties["limit"].Default))

	data, err := json.Marshal(schema)
	require.NoError(t, err)
	require.NotContains(t, string(data), "$ref")
}

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type address struct {
	City string `json:"city" jsonschema_description:"City name"`
}

type searchArgs struct {
	Query       string   `json:"query" jsonschema_description:"The search query"`
	TopK        int      `json:"top_k,omitempty" jsonschema_description:"Number of results" jsonschema:"default=10"`
	Collections []string `json:"search_in_collections,omitempty"`
	Home        address  `json:"home"`
}

type noArgs struct{}

func TestReflectDerivesPropertiesAndRequired(t *testing.T) {
	s, err := Reflect[searchArgs]()
	require.NoError(t, err)

	assert.Equal(t, "object", s["type"])
	assert.NotContains(t, s, "$schema")

	props := s["properties"].(map[string]any)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "top_k")
	assert.Equal(t, "The search query", props["query"].(map[string]any)["description"])
	assert.Equal(t, "integer", props["top_k"].(map[string]any)["type"])

	assert.ElementsMatch(t, []any{"query", "home"}, s["required"])
}

func TestReflectEmptyStruct(t *testing.T) {
	s, err := Reflect[noArgs]()
	require.NoError(t, err)

	assert.Equal(t, "object", s["type"])
	assert.Equal(t, map[string]any{}, s["properties"])
}

func TestReflectAnonymousStruct(t *testing.T) {
	s, err := Reflect[struct {
		Query string  `json:"query" jsonschema_description:"The search query"`
		Home  address `json:"home,omitempty"`
	}]()
	require.NoError(t, err)

	assert.Equal(t, "object", s["type"])
	props := s["properties"].(map[string]any)
	assert.Equal(t, "The search query", props["query"].(map[string]any)["description"])
	assert.ElementsMatch(t, []any{"query"}, s["required"])

	in, err := Inline(s)
	require.NoError(t, err)
	assert.Contains(t, in["properties"].(map[string]any)["home"], "properties")

	empty, err := Reflect[struct{}]()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, empty["properties"])
}

func TestReflectPointerToStruct(t *testing.T) {
	s, err := Reflect[*searchArgs]()
	require.NoError(t, err)
	assert.Contains(t, s["properties"], "query")
}

func TestReflectRejectsNonStruct(t *testing.T) {
	_, err := Reflect[map[string]any]()
	assert.Error(t, err)

	_, err = Reflect[string]()
	assert.Error(t, err)
}

func TestInlineResolvesRefs(t *testing.T) {
	s, err := Reflect[searchArgs]()
	require.NoError(t, err)

	in, err := Inline(s)
	require.NoError(t, err)

	assert.NotContains(t, in, "$defs")
	home := in["properties"].(map[string]any)["home"].(map[string]any)
	assert.NotContains(t, home, "$ref")
	assert.Contains(t, home["properties"], "city")
}

func TestStrictFlavor(t *testing.T) {
	s, err := Reflect[searchArgs]()
	require.NoError(t, err)

	out, err := Transform(s, Strict)
	require.NoError(t, err)

	assert.Equal(t, false, out["additionalProperties"])
	assert.Equal(t, []string{"home", "query", "search_in_collections", "top_k"}, out["required"])
	assert.NotContains(t, out, "$defs")

	props := out["properties"].(map[string]any)
	topK := props["top_k"].(map[string]any)
	assert.Equal(t, []any{"number", "null"}, topK["type"])
	assert.NotContains(t, topK, "default")

	query := props["query"].(map[string]any)
	assert.Equal(t, "string", query["type"])

	home := props["home"].(map[string]any)
	assert.Equal(t, false, home["additionalProperties"])
	assert.Equal(t, []string{"city"}, home["required"])
}

func TestPermissiveFlavor(t *testing.T) {
	in := map[string]any{
		"type":                 "object",
		"title":                "Args",
		"additionalProperties": false,
		"properties": map[string]any{
			"title": map[string]any{"type": "string", "title": "Title", "default": "x"},
			"limit": map[string]any{
				"anyOf":   []any{map[string]any{"type": "null"}, map[string]any{"type": "integer"}},
				"default": nil,
			},
			"tags": map[string]any{"type": []any{"array", "null"}, "items": map[string]any{"type": "string"}},
		},
		"required": []any{"title"},
	}

	out, err := Transform(in, Permissive)
	require.NoError(t, err)

	assert.NotContains(t, out, "title")
	assert.NotContains(t, out, "additionalProperties")
	assert.Equal(t, []string{"title"}, out["required"])

	props := out["properties"].(map[string]any)
	// A property named "title" survives; only its schema keywords are stripped.
	assert.Equal(t, map[string]any{"type": "string"}, props["title"])
	assert.Equal(t, map[string]any{"type": "integer"}, props["limit"])
	assert.Equal(t, "array", props["tags"].(map[string]any)["type"])
}

func TestTransformIsPure(t *testing.T) {
	in := map[string]any{
		"type":       "object",
		"properties": map[string]any{"n": map[string]any{"type": "integer", "default": 1}},
	}

	_, err := Transform(in, Strict)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"type":       "object",
		"properties": map[string]any{"n": map[string]any{"type": "integer", "default": 1}},
	}, in)
}

func TestTransformEmptySchema(t *testing.T) {
	out, err := Transform(nil, Strict)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"required":             []string{},
		"additionalProperties": false,
	}, out)
}

func TestTransformRejectsRemoteRef(t *testing.T) {
	_, err := Transform(map[string]any{"$ref": "http://example.com/s.json"}, Strict)
	assert.Error(t, err)
}

func TestTransformRecursiveRefIsBounded(t *testing.T) {
	in := map[string]any{
		"$defs": map[string]any{
			"Node": map[string]any{
				"type":       "object",
				"properties": map[string]any{"child": map[string]any{"$ref": "#/$defs/Node"}},
			},
		},
		"$ref": "#/$defs/Node",
	}

	out, err := Transform(in, Permissive)
	require.NoError(t, err)
	assert.Equal(t, "object", out["type"])
}

func TestParseFlavor(t *testing.T) {
	f, err := ParseFlavor("Permissive")
	require.NoError(t, err)
	assert.Equal(t, Permissive, f)
	assert.Equal(t, "strict", Strict.String())

	_, err = ParseFlavor("loose")
	assert.Error(t, err)
}

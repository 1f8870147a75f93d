// Package schema derives JSON schemas for tool arguments from Go types and
// reshapes them for the tool-calling dialects of different model providers.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Reflect produces the JSON schema of T as a generic map. Struct fields become
// properties, fields without `omitempty` are required, and descriptions come
// from `jsonschema_description` / `jsonschema:"description=..."` tags. Nested
// named types are emitted under $defs and referenced with $ref. T must be a
// struct (or a pointer to one); anonymous structs are accepted.
func Reflect[T any]() (map[string]any, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("argument type %s is not a struct", t)
	}

	r := &jsonschema.Reflector{
		// Expansion looks the root up by type name, so only named
		// structs can use it. Anonymous structs are reflected inline.
		ExpandedStruct:            t.Name() != "",
		AllowAdditionalProperties: true,
	}

	s := r.ReflectFromType(t)

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	delete(m, "$schema")
	delete(m, "$id")

	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	if _, ok := m["properties"]; !ok && m["type"] == "object" {
		m["properties"] = map[string]any{}
	}

	return m, nil
}

// MustReflect is like Reflect but panics on error. Intended for package level
// tool declarations.
func MustReflect[T any]() map[string]any {
	m, err := Reflect[T]()
	if err != nil {
		panic(err)
	}
	return m
}

// Inline returns a copy of s with every $ref replaced by the referenced
// definition and the $defs / definitions sections removed. Everything else is
// left untouched.
func Inline(s map[string]any) (map[string]any, error) {
	w := walker{root: s, flavor: inlineOnly}
	out, err := w.schema(s, 0)
	if err != nil {
		return nil, err
	}
	return out, nil
}

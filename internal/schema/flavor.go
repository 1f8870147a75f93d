package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Flavor selects the schema dialect handed to a model provider. It only
// affects schema shape, never tool behaviour.
type Flavor int

const (
	// Strict targets providers with strict function calling: every object
	// forbids additional properties, every property is required (optional
	// ones become nullable), $refs are inlined, integers become numbers and
	// titles / defaults are removed.
	Strict Flavor = iota
	// Permissive targets providers that reject unions and defaults: $refs
	// are inlined, anyOf / oneOf collapse to their first non-null branch,
	// additionalProperties is dropped and titles / defaults are removed.
	Permissive

	inlineOnly Flavor = -1
)

// String returns the flavor name.
func (f Flavor) String() string {
	switch f {
	case Strict:
		return "strict"
	case Permissive:
		return "permissive"
	default:
		return fmt.Sprintf("Flavor(%d)", int(f))
	}
}

// ParseFlavor maps "strict" / "permissive" to a Flavor.
func ParseFlavor(s string) (Flavor, error) {
	switch strings.ToLower(s) {
	case "strict":
		return Strict, nil
	case "permissive":
		return Permissive, nil
	default:
		return Strict, fmt.Errorf("unknown schema flavor %q", s)
	}
}

// maxRefDepth bounds $ref expansion for recursive types.
const maxRefDepth = 16

// Transform returns a reshaped deep copy of s for the given flavor. The input
// is never modified.
func Transform(s map[string]any, f Flavor) (map[string]any, error) {
	if len(s) == 0 {
		s = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	w := walker{root: s, flavor: f}
	return w.schema(s, 0)
}

// MustTransform is like Transform but panics on error.
func MustTransform(s map[string]any, f Flavor) map[string]any {
	out, err := Transform(s, f)
	if err != nil {
		panic(err)
	}
	return out
}

type walker struct {
	root   map[string]any
	flavor Flavor
}

func (w walker) node(v any, depth int) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		return w.schema(t, depth)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := w.node(e, depth)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return copyValue(v), nil
	}
}

func (w walker) schema(s map[string]any, depth int) (map[string]any, error) {
	if ref, ok := s["$ref"].(string); ok {
		if depth >= maxRefDepth {
			return map[string]any{"type": "object"}, nil
		}
		resolved, err := resolveRef(w.root, ref)
		if err != nil {
			return nil, err
		}
		merged := make(map[string]any, len(resolved)+len(s))
		for k, v := range resolved {
			merged[k] = v
		}
		for k, v := range s {
			if k != "$ref" {
				merged[k] = v
			}
		}
		return w.schema(merged, depth+1)
	}

	out := make(map[string]any, len(s))
	for k, v := range s {
		switch k {
		case "$defs", "definitions", "$schema", "$id":
			continue
		case "title", "default":
			if w.flavor != inlineOnly {
				continue
			}
			out[k] = copyValue(v)
		case "properties":
			props, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("properties must be an object, got %T", v)
			}
			np := make(map[string]any, len(props))
			for name, p := range props {
				n, err := w.node(p, depth)
				if err != nil {
					return nil, fmt.Errorf("property %q: %w", name, err)
				}
				np[name] = n
			}
			out[k] = np
		case "items", "additionalProperties", "not", "anyOf", "oneOf", "allOf":
			n, err := w.node(v, depth)
			if err != nil {
				return nil, err
			}
			out[k] = n
		case "required":
			out[k] = toStrings(v)
		default:
			out[k] = copyValue(v)
		}
	}

	switch w.flavor {
	case Strict:
		mergeSingleAllOf(out)
		strictify(out)
	case Permissive:
		mergeSingleAllOf(out)
		permissify(out)
	}

	return out, nil
}

func strictify(s map[string]any) {
	s["type"] = replaceInteger(s["type"])

	if !isObject(s) {
		return
	}

	props, _ := s["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
		s["properties"] = props
	}

	required := map[string]bool{}
	for _, r := range toStrings(s["required"]) {
		required[r] = true
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
		if !required[k] {
			if p, ok := props[k].(map[string]any); ok {
				makeNullable(p)
			}
		}
	}
	sort.Strings(keys)

	s["required"] = keys
	s["additionalProperties"] = false
}

func permissify(s map[string]any) {
	delete(s, "additionalProperties")

	for _, key := range []string{"anyOf", "oneOf"} {
		variants, ok := s[key].([]any)
		if !ok {
			continue
		}
		delete(s, key)
		for _, v := range variants {
			vm, ok := v.(map[string]any)
			if !ok || vm["type"] == "null" {
				continue
			}
			for k, val := range vm {
				if _, exists := s[k]; !exists {
					s[k] = val
				}
			}
			break
		}
	}

	if types, ok := s["type"].([]any); ok {
		for _, t := range types {
			if t != "null" {
				s["type"] = t
				break
			}
		}
	}
}

func mergeSingleAllOf(s map[string]any) {
	all, ok := s["allOf"].([]any)
	if !ok || len(all) != 1 {
		return
	}
	delete(s, "allOf")
	if m, ok := all[0].(map[string]any); ok {
		for k, v := range m {
			if _, exists := s[k]; !exists {
				s[k] = v
			}
		}
	}
}

func isObject(s map[string]any) bool {
	if s["type"] == "object" {
		return true
	}
	_, ok := s["properties"]
	return ok
}

func replaceInteger(t any) any {
	switch v := t.(type) {
	case string:
		if v == "integer" {
			return "number"
		}
		return v
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = replaceInteger(e)
		}
		return out
	default:
		return t
	}
}

func makeNullable(p map[string]any) {
	switch t := p["type"].(type) {
	case string:
		if t != "null" {
			p["type"] = []any{t, "null"}
		}
	case []any:
		for _, e := range t {
			if e == "null" {
				return
			}
		}
		p["type"] = append(t, "null")
	}
}

func resolveRef(root map[string]any, ref string) (map[string]any, error) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, fmt.Errorf("unsupported $ref %q: only local references are allowed", ref)
	}
	var cur any = root
	for _, seg := range strings.Split(ref[2:], "/") {
		seg = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot resolve $ref %q", ref)
		}
		cur, ok = m[seg]
		if !ok {
			return nil, fmt.Errorf("cannot resolve $ref %q", ref)
		}
	}
	m, ok := cur.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("$ref %q does not point at a schema object", ref)
	}
	return m, nil
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

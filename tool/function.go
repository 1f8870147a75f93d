package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hupe1980/fundusmesh/internal/schema"
)

// FunctionTool exposes a typed Go function as a Tool.
//
// The parameter schema is reflected from T. Struct fields become properties,
// fields without `omitempty` are required and descriptions come from
// `jsonschema:"description=..."` tags. Incoming arguments are validated
// against the schema before being decoded into T, so fn never sees a shape it
// did not declare.
//
// Error semantics:
//
//	validation failure              -> *ToolError{Code: "VALIDATION_ERROR"}
//	*ToolError returned by fn       -> forwarded unchanged
//	other error returned by fn      -> *ToolError{Code: "EXECUTION_ERROR"}
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool[T any] struct {
	name        string
	description string
	parameters  map[string]any
	validator   *gojsonschema.Schema
	fn          func(ctx context.Context, args T) (any, error)
}

// NewFunctionTool builds a FunctionTool whose arguments are decoded into T.
func NewFunctionTool[T any](
	name, description string,
	fn func(ctx context.Context, args T) (any, error),
) (*FunctionTool[T], error) {
	if fn == nil {
		return nil, fmt.Errorf("tool %q: nil function", name)
	}

	params, err := schema.Reflect[T]()
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}

	inlined, err := schema.Inline(params)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}

	validator, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(inlined))
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile schema: %w", name, err)
	}

	return &FunctionTool[T]{
		name:        name,
		description: description,
		parameters:  params,
		validator:   validator,
		fn:          fn,
	}, nil
}

// MustFunctionTool is like NewFunctionTool but panics on error. Intended for
// tool tables built at startup.
func MustFunctionTool[T any](
	name, description string,
	fn func(ctx context.Context, args T) (any, error),
) *FunctionTool[T] {
	t, err := NewFunctionTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the unique tool name used in function call declarations and routing.
func (t *FunctionTool[T]) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool[T]) Description() string { return t.description }

// Parameters returns a copy of the reflected JSON schema with $refs inlined.
func (t *FunctionTool[T]) Parameters() map[string]any {
	cp, err := schema.Inline(t.parameters)
	if err != nil {
		return t.parameters
	}
	return cp
}

// Call validates args then invokes the wrapped function.
func (t *FunctionTool[T]) Call(ctx context.Context, args json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}

	args = dropNulls(args)

	result, err := t.validator.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return nil, NewToolError(t.name, fmt.Sprintf("invalid arguments: %v", err), CodeValidation)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, NewToolError(t.name, "parameter validation failed: "+strings.Join(msgs, "; "), CodeValidation)
	}

	var in T
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, NewToolError(t.name, fmt.Sprintf("decode arguments: %v", err), CodeValidation)
	}

	out, err := t.fn(ctx, in)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			return nil, toolErr
		}
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, NewToolError(t.name, err.Error(), CodeExecution)
	}

	return out, nil
}

// dropNulls removes top-level null members. Strict schemas mark optional
// properties nullable, so null means absent.
func dropNulls(args json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(args, &obj); err != nil || obj == nil {
		return args
	}

	changed := false
	for k, v := range obj {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			delete(obj, k)
			changed = true
		}
	}

	if !changed {
		return args
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return args
	}

	return out
}

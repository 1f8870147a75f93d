package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/fundusmesh/core"
	"github.com/hupe1980/fundusmesh/internal/schema"
	"github.com/hupe1980/fundusmesh/logging"
	"github.com/hupe1980/fundusmesh/model"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Registry is a flat namespace of tools with a dispatch table. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger logging.Logger
}

// NewRegistry merges the groups into one registry. When two groups provide
// the same name the later registration wins and a warning is logged.
func NewRegistry(groups ...Group) (*Registry, error) {
	r := &Registry{
		tools:  make(map[string]Tool),
		logger: logging.NoOpLogger{},
	}

	for _, g := range groups {
		if err := r.AddGroup(g); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// AddGroup registers every tool of g. Existing names are replaced in place.
func (r *Registry) AddGroup(g Group) error {
	for _, t := range g.Tools {
		if err := validate(t); err != nil {
			return core.WrapError(core.KindDuplicateOrInvalid, "tool.AddGroup", err, "group %q", g.Name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range g.Tools {
		if _, exists := r.tools[t.Name()]; exists {
			r.logger.Warn("tool.registry.override", "tool", t.Name(), "group", g.Name)
		} else {
			r.order = append(r.order, t.Name())
		}
		r.tools[t.Name()] = t
	}

	return nil
}

// SetLogger replaces the registry logger.
func (r *Registry) SetLogger(l logging.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logging.OrNoOp(l)
}

// Register adds a single tool. A nil tool, an invalid name or schema, or a
// name already claimed fail with core.ErrDuplicateOrInvalid.
func (r *Registry) Register(t Tool) error {
	if err := validate(t); err != nil {
		return core.WrapError(core.KindDuplicateOrInvalid, "tool.Register", err, "rejected tool")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return core.NewError(core.KindDuplicateOrInvalid, "tool.Register", "tool %q already registered", t.Name())
	}

	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())

	return nil
}

func validate(t Tool) error {
	if t == nil {
		return fmt.Errorf("nil tool")
	}
	if !validName.MatchString(t.Name()) {
		return fmt.Errorf("invalid tool name %q", t.Name())
	}
	if _, err := schema.Transform(t.Parameters(), schema.Strict); err != nil {
		return fmt.Errorf("tool %q: invalid parameter schema: %w", t.Name(), err)
	}
	return nil
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// DescribeAll returns the tool definitions shaped for the given flavor, in
// registration order.
func (r *Registry) DescribeAll(flavor schema.Flavor) []model.ToolDefinition {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]model.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		params, err := schema.Transform(t.Parameters(), flavor)
		if err != nil {
			r.logger.Error("tool.describe.failed", "tool", name, "error", err.Error())
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        name,
				Description: t.Description(),
				Parameters:  params,
				Strict:      flavor == schema.Strict,
			},
		})
	}

	return defs
}

// Execute runs the named tool and returns the serialized result. Failures of
// the tool itself are returned as a JSON error payload, never as an error;
// only unknown names (core.ErrToolNotFound) and context cancellation are.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	resp, err := r.Call(ctx, core.FunctionCall{Name: name, Arguments: string(args)})
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Call executes one function call and builds the matching response.
func (r *Registry) Call(ctx context.Context, fc core.FunctionCall) (core.FunctionResponse, error) {
	if err := ctx.Err(); err != nil {
		return core.FunctionResponse{}, err
	}

	r.mu.RLock()
	t, ok := r.tools[fc.Name]
	logger := r.logger
	r.mu.RUnlock()

	if !ok {
		return core.FunctionResponse{}, core.NewError(core.KindToolNotFound, "tool.Call", "tool %q not found", fc.Name)
	}

	logger.Debug("tool.call.start", "tool", fc.Name, "fc_id", fc.ID)
	start := time.Now()

	result, err := invoke(ctx, t, json.RawMessage(fc.Arguments))
	if err != nil && ctx.Err() != nil {
		return core.FunctionResponse{}, err
	}

	resp := core.FunctionResponse{ID: fc.ID, Name: fc.Name}

	if err != nil {
		toolErr := asToolError(fc.Name, err)
		if pe, ok := err.(*panicErr); ok {
			logger.Error("tool.call.panic", "tool", fc.Name, "recover", pe.val, "stack", string(pe.stack))
		} else {
			logger.Warn("tool.call.error", "tool", fc.Name, "code", toolErr.Code, "error", toolErr.Message)
		}
		resp.Response = errorPayload(toolErr)
		resp.Failed = true
		return resp, nil
	}

	encoded, err := encodeResult(result)
	if err != nil {
		resp.Response = errorPayload(NewToolError(fc.Name, fmt.Sprintf("encode result: %v", err), CodeExecution))
		resp.Failed = true
		return resp, nil
	}

	logger.Info("tool.call.success", "tool", fc.Name, "duration_ms", time.Since(start).Milliseconds())

	resp.Response = encoded

	return resp, nil
}

// invoke shields the caller from panics inside the tool.
func invoke(ctx context.Context, t Tool, args json.RawMessage) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicErr{val: rec, stack: debug.Stack()}
		}
	}()
	return t.Call(ctx, args)
}

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }

func asToolError(name string, err error) *ToolError {
	switch e := err.(type) {
	case *ToolError:
		return e
	case *panicErr:
		return NewToolError(name, e.Error(), CodePanic)
	default:
		return NewToolError(name, err.Error(), CodeExecution)
	}
}

func errorPayload(e *ToolError) string {
	b, _ := json.Marshal(map[string]string{"error": e.Message, "code": e.Code})
	return string(b)
}

// encodeResult passes strings and raw JSON through and JSON encodes everything else.
func encodeResult(v any) (string, error) {
	switch r := v.(type) {
	case nil:
		return "null", nil
	case string:
		return r, nil
	case json.RawMessage:
		return string(r), nil
	case []byte:
		return string(r), nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

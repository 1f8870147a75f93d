// Package tool implements the function / tool calling subsystem that lets
// assistants invoke typed Go functions with schema validated arguments and
// uniform error payloads the model can read and react to.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodePanic      = "PANIC"
)

// Tool is a capability exposed to a model.
//
// Implementations must be safe for concurrent use; one registry may serve
// many sessions at once.
type Tool interface {
	// Name returns the unique identifier (snake_case) used in function calls.
	Name() string

	// Description is shown to the model to decide when to call the tool.
	Description() string

	// Parameters returns the JSON schema of the argument object. It may contain
	// $defs / $ref; the registry reshapes it per provider flavor.
	Parameters() map[string]any

	// Call executes the tool with the raw JSON argument object.
	Call(ctx context.Context, args json.RawMessage) (any, error)
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`    // Name of the tool that failed
	Message string `json:"message"` // Error message
	Code    string `json:"code"`    // Error code for categorization
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// Group is a named set of tools registered together, e.g. all database
// lookup functions of one specialist.
type Group struct {
	Name  string
	Tools []Tool
}

// Names returns the tool names of the group in order.
func (g Group) Names() []string {
	names := make([]string, len(g.Tools))
	for i, t := range g.Tools {
		names[i] = t.Name()
	}
	return names
}

package model

import (
	"context"

	"github.com/hupe1980/fundusmesh/core"
	"github.com/hupe1980/fundusmesh/internal/schema"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object already shaped for the provider's flavor.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Strict      bool           `json:"strict,omitempty"`
}

// Request is one chat completion call: the full transcript so far plus the
// tools the model may call.
type Request struct {
	Messages []core.Message  `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a complete (non-streamed) model reply.
type Response struct {
	ID           string       `json:"id"`
	Message      core.Message `json:"message"`       // Role is always assistant
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Text returns the text and refusal content of the reply.
func (r *Response) Text() string { return r.Message.Text() }

// ToolCalls returns the function calls requested by the reply.
func (r *Response) ToolCalls() []core.FunctionCall { return r.Message.FunctionCalls() }

// Info contains metadata about a model implementation.
type Info struct {
	Name           string        `json:"name"`
	Provider       Provider      `json:"provider"`
	SupportsTools  bool          `json:"supports_tools"`
	SupportsImages bool          `json:"supports_images"`
	Flavor         schema.Flavor `json:"-"` // tool schema dialect accepted by the provider
}

// Model is the minimal interface the conversational loop needs. ChatComplete
// blocks until the provider answers or ctx is done.
type Model interface {
	ChatComplete(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// TextResponse builds a plain text reply.
func TextResponse(text string) *Response {
	return &Response{
		Message:      core.NewAssistantMessage(text, nil),
		FinishReason: "stop",
	}
}

// ToolCallResponse builds a reply requesting the given function calls.
func ToolCallResponse(calls ...core.FunctionCall) *Response {
	return &Response{
		Message:      core.NewAssistantMessage("", calls),
		FinishReason: "tool_calls",
	}
}

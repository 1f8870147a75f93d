package core

import "strings"

// Role tags a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message holds role + ordered parts.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewSystemMessage creates a system message with a single text part.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{TextPart{Text: text}}}
}

// NewUserMessage creates a user message. An empty imageURL attaches no image.
func NewUserMessage(text, imageURL string) Message {
	parts := []Part{TextPart{Text: text}}
	if imageURL != "" {
		parts = append(parts, ImagePart{URL: imageURL})
	}
	return Message{Role: RoleUser, Parts: parts}
}

// NewAssistantMessage creates an assistant message from text and tool calls.
// Empty text is omitted so tool-call-only turns carry no text part.
func NewAssistantMessage(text string, calls []FunctionCall) Message {
	parts := make([]Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, TextPart{Text: text})
	}
	for _, c := range calls {
		parts = append(parts, FunctionCallPart{FunctionCall: c})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

// NewToolMessage creates a tool-role message answering one function call.
func NewToolMessage(callID, name, response string, failed bool) Message {
	return Message{Role: RoleTool, Parts: []Part{FunctionResponsePart{FunctionResponse: FunctionResponse{
		ID:       callID,
		Name:     name,
		Response: response,
		Failed:   failed,
	}}}}
}

// Text concatenates the text and refusal parts of the message separated by newlines.
func (m Message) Text() string {
	var segs []string
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			if v.Text != "" {
				segs = append(segs, v.Text)
			}
		case RefusalPart:
			if v.Refusal != "" {
				segs = append(segs, v.Refusal)
			}
		}
	}
	return strings.Join(segs, "\n")
}

// FunctionCalls returns the function calls carried by the message in order.
func (m Message) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range m.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// Clone returns a copy with its own parts slice.
func (m Message) Clone() Message {
	parts := make([]Part, len(m.Parts))
	copy(parts, m.Parts)
	return Message{Role: m.Role, Parts: parts}
}

// ChatMessage is the flattened user/assistant view of a transcript entry.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

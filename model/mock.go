package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/fundusmesh/core"
	"github.com/hupe1980/fundusmesh/internal/schema"
)

type mockTurn struct {
	resp *Response
	err  error
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Scripted turns are replayed in order; once the script is exhausted it falls
// back to canned responses keyed by the last user text.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	script    []mockTurn
	responses map[string]string
	requests  []Request
}

// NewMockModel constructs a MockModel with tool and image support enabled.
func NewMockModel(name string, provider Provider) *MockModel {
	return &MockModel{
		info: Info{
			Name:           name,
			Provider:       provider,
			SupportsTools:  true,
			SupportsImages: true,
			Flavor:         FlavorFor(provider),
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Script appends replies that are returned in order by subsequent calls.
func (m *MockModel) Script(responses ...*Response) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range responses {
		m.script = append(m.script, mockTurn{resp: r})
	}
	return m
}

// ScriptError appends a failing turn.
func (m *MockModel) ScriptError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockTurn{err: err})
	return m
}

// WithFlavor overrides the schema flavor reported by Info.
func (m *MockModel) WithFlavor(f schema.Flavor) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info.Flavor = f
	return m
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns the number of ChatComplete invocations.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// ChatComplete implements Model.
func (m *MockModel) ChatComplete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]core.Message, len(req.Messages))
	for i, msg := range req.Messages {
		msgs[i] = msg.Clone()
	}
	m.requests = append(m.requests, Request{Messages: msgs, Tools: req.Tools})

	if len(m.script) > 0 {
		turn := m.script[0]
		m.script = m.script[1:]
		if turn.err != nil {
			return nil, turn.err
		}
		return turn.resp, nil
	}

	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	var input string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == core.RoleUser {
			input = req.Messages[i].Text()
			break
		}
	}

	full := m.responses[input]
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", input)
	}

	return TextResponse(full), nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

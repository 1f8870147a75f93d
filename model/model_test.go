package model

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/fundusmesh/core"
	"github.com/hupe1980/fundusmesh/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockModelScriptedTurns(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockModel("gpt-4o-mini", ProviderOpenAI).
		Script(ToolCallResponse(core.FunctionCall{ID: "c1", Name: "lookup", Arguments: "{}"})).
		ScriptError(boom).
		Script(TextResponse("done"))

	req := Request{Messages: []core.Message{core.NewUserMessage("hi", "")}}

	r1, err := m.ChatComplete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, r1.ToolCalls(), 1)
	assert.Equal(t, "lookup", r1.ToolCalls()[0].Name)
	assert.Empty(t, r1.Text())

	_, err = m.ChatComplete(context.Background(), req)
	assert.ErrorIs(t, err, boom)

	r3, err := m.ChatComplete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "done", r3.Text())

	assert.Equal(t, 3, m.Calls())
}

func TestMockModelCannedResponses(t *testing.T) {
	m := NewMockModel("mock", ProviderOpenAI)
	m.AddResponse("ping", "pong")

	r, err := m.ChatComplete(context.Background(), Request{Messages: []core.Message{core.NewUserMessage("ping", "")}})
	require.NoError(t, err)
	assert.Equal(t, "pong", r.Text())

	r, err = m.ChatComplete(context.Background(), Request{Messages: []core.Message{core.NewUserMessage("other", "")}})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", r.Text())
}

func TestMockModelRecordsRequestCopies(t *testing.T) {
	m := NewMockModel("mock", ProviderOpenAI)
	msgs := []core.Message{core.NewUserMessage("a", "")}

	_, err := m.ChatComplete(context.Background(), Request{Messages: msgs})
	require.NoError(t, err)

	msgs[0].Parts[0] = core.TextPart{Text: "mutated"}
	assert.Equal(t, "a", m.Requests()[0].Messages[0].Text())
}

func TestMockModelHonoursContext(t *testing.T) {
	m := NewMockModel("mock", ProviderOpenAI)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.ChatComplete(ctx, Request{Messages: []core.Message{core.NewUserMessage("a", "")}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.Calls())
}

func TestProviderFor(t *testing.T) {
	assert.Equal(t, ProviderGoogle, ProviderFor("google/gemini-2.0-flash"))
	assert.Equal(t, ProviderAnthropic, ProviderFor("claude-3-5-sonnet-latest"))
	assert.Equal(t, ProviderAnthropic, ProviderFor("anthropic/claude-3-5-haiku-latest"))
	assert.Equal(t, ProviderOpenAI, ProviderFor("gpt-4o-mini"))

	assert.Equal(t, schema.Strict, FlavorFor(ProviderOpenAI))
	assert.Equal(t, schema.Permissive, FlavorFor(ProviderGoogle))
	assert.Equal(t, schema.Permissive, FlavorFor(ProviderAnthropic))
}

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"gpt-4o-mini":             "GPT 4o Mini",
		"gpt-4o":                  "GPT 4o",
		"google/gemini-2.0-flash": "Gemini 2.0 Flash",
		"google/gemini-1.5-pro":   "Gemini 1.5 Pro",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, DisplayName(in))
		})
	}
}

func newTestCatalog() *Catalog {
	mockFactory := func(name string) (Model, error) { return NewMockModel(name, ProviderFor(name)), nil }
	return NewCatalog(func(o *CatalogOptions) {
		o.Models = []string{"gpt-4o-mini", "google/gemini-2.0-flash", "claude-3-5-haiku-latest"}
		o.Factories = map[Provider]Factory{
			ProviderOpenAI: mockFactory,
			ProviderGoogle: mockFactory,
		}
	})
}

func TestCatalogResolve(t *testing.T) {
	c := newTestCatalog()

	m, err := c.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", m.Info().Name)
	assert.Equal(t, schema.Strict, m.Info().Flavor)

	m, err = c.Resolve("google/gemini-2.0-flash")
	require.NoError(t, err)
	assert.Equal(t, schema.Permissive, m.Info().Flavor)

	_, err = c.Resolve("gpt-3.5-turbo")
	assert.ErrorIs(t, err, core.ErrModelUnavailable)

	// Allowed but no provider configured.
	_, err = c.Resolve("claude-3-5-haiku-latest")
	assert.ErrorIs(t, err, core.ErrModelUnavailable)
	assert.False(t, c.IsAvailable("claude-3-5-haiku-latest"))
}

func TestCatalogResolveFactoryError(t *testing.T) {
	c := NewCatalog(func(o *CatalogOptions) {
		o.Models = []string{"gpt-4o"}
		o.Factories = map[Provider]Factory{
			ProviderOpenAI: func(string) (Model, error) { return nil, errors.New("no key") },
		}
	})

	_, err := c.Resolve("gpt-4o")
	assert.ErrorIs(t, err, core.ErrModelUnavailable)
	assert.ErrorContains(t, err, "no key")
}

func TestCatalogList(t *testing.T) {
	c := newTestCatalog()

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, Entry{Name: "gpt-4o-mini", DisplayName: "GPT 4o Mini", Provider: ProviderOpenAI}, list[0])
	assert.Equal(t, "Gemini 2.0 Flash", list[1].DisplayName)
	assert.Equal(t, "gpt-4o-mini", c.Default())
	assert.Equal(t, []Provider{ProviderGoogle, ProviderOpenAI}, c.Providers())
}

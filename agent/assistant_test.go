package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fundusmesh/core"
	"github.com/hupe1980/fundusmesh/internal/schema"
	"github.com/hupe1980/fundusmesh/model"
	"github.com/hupe1980/fundusmesh/tool"
)

type countArgs struct {
	Collection string `json:"collection_name" jsonschema:"description=Name of the collection"`
}

func newTestRegistry(t *testing.T) (*tool.Registry, *[]string) {
	t.Helper()

	var (
		mu    sync.Mutex
		calls []string
	)

	count := tool.MustFunctionTool("count_records", "Count records", func(_ context.Context, args countArgs) (any, error) {
		mu.Lock()
		calls = append(calls, args.Collection)
		mu.Unlock()
		return map[string]int{"count": len(args.Collection)}, nil
	})
	fail := tool.MustFunctionTool("broken", "Always fails", func(context.Context, struct{}) (any, error) {
		return nil, errors.New("backend unavailable")
	})

	r, err := tool.NewRegistry(tool.Group{Name: "test", Tools: []tool.Tool{count, fail}})
	require.NoError(t, err)

	return r, &calls
}

func call(id, name, args string) core.FunctionCall {
	return core.FunctionCall{ID: id, Name: name, Arguments: args}
}

func TestSendUserMessagePlainText(t *testing.T) {
	m := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI).Script(model.TextResponse("Hello!"))
	a := New(m, func(o *Options) { o.Instruction = "You are helpful." })

	out, err := a.SendUserMessage(context.Background(), "Hi", "")
	require.NoError(t, err)
	assert.Equal(t, "Hello!", out)

	tr := a.Transcript()
	require.Len(t, tr, 3)
	assert.Equal(t, core.RoleSystem, tr[0].Role)
	assert.Equal(t, core.RoleUser, tr[1].Role)
	assert.Equal(t, core.RoleAssistant, tr[2].Role)

	// No tools registered: the request carries an empty tool list.
	assert.Empty(t, m.Requests()[0].Tools)
}

func TestSystemMessageOnlyOnFirstTurn(t *testing.T) {
	m := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI).
		Script(model.TextResponse("one"), model.TextResponse("two"))
	a := New(m, func(o *Options) { o.Instruction = "sys" })

	_, err := a.SendUserMessage(context.Background(), "a", "")
	require.NoError(t, err)
	_, err = a.SendUserMessage(context.Background(), "b", "")
	require.NoError(t, err)

	tr := a.Transcript()
	require.Len(t, tr, 5)
	system := 0
	for _, msg := range tr {
		if msg.Role == core.RoleSystem {
			system++
		}
	}
	assert.Equal(t, 1, system)
}

func TestToolRoundsAndTranscriptLength(t *testing.T) {
	reg, calls := newTestRegistry(t)

	m := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI).Script(
		model.ToolCallResponse(
			call("c1", "count_records", `{"collection_name": "ab"}`),
			call("c2", "count_records", `{"collection_name": "abc"}`),
		),
		model.ToolCallResponse(call("c3", "count_records", `{"collection_name": "x"}`)),
		model.TextResponse("There are 6 records."),
	)

	a := New(m, func(o *Options) {
		o.Instruction = "sys"
		o.Tools = reg
	})

	out, err := a.SendUserMessage(context.Background(), "How many?", "")
	require.NoError(t, err)
	assert.Equal(t, "There are 6 records.", out)

	// system + user + (assistant + 2 tool) + (assistant + 1 tool) + final assistant
	tr := a.Transcript()
	require.Len(t, tr, 8)
	assert.Equal(t, []string{"ab", "abc", "x"}, *calls)

	// Tool messages follow the call order and carry the call ids.
	fr := tr[3].Parts[0].(core.FunctionResponsePart).FunctionResponse
	assert.Equal(t, "c1", fr.ID)
	assert.JSONEq(t, `{"count": 2}`, fr.Response)
	assert.Equal(t, "c2", tr[4].Parts[0].(core.FunctionResponsePart).FunctionResponse.ID)
	assert.Equal(t, "c3", tr[6].Parts[0].(core.FunctionResponsePart).FunctionResponse.ID)

	assert.Equal(t, 3, m.Calls())
	reqs := m.Requests()
	assert.Len(t, reqs[1].Messages, 5)
	assert.Len(t, reqs[2].Messages, 7)
}

func TestToolFailureIsContained(t *testing.T) {
	reg, _ := newTestRegistry(t)

	m := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI).Script(
		model.ToolCallResponse(call("c1", "broken", `{}`)),
		model.ToolCallResponse(call("c2", "count_records", `{"wrong": 1}`)),
		model.TextResponse("Sorry, the backend failed."),
	)
	a := New(m, func(o *Options) { o.Tools = reg })

	out, err := a.SendUserMessage(context.Background(), "count", "")
	require.NoError(t, err)
	assert.Equal(t, "Sorry, the backend failed.", out)

	tr := a.Transcript()
	require.Len(t, tr, 6)

	first := tr[2].Parts[0].(core.FunctionResponsePart).FunctionResponse
	assert.True(t, first.Failed)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(first.Response), &payload))
	assert.Equal(t, "backend unavailable", payload["error"])
	assert.Equal(t, tool.CodeExecution, payload["code"])

	second := tr[4].Parts[0].(core.FunctionResponsePart).FunctionResponse
	assert.True(t, second.Failed)
	assert.Contains(t, second.Response, tool.CodeValidation)
}

func TestEmptyReplyIsNotAnError(t *testing.T) {
	m := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI).Script(&model.Response{})
	a := New(m)

	out, err := a.SendUserMessage(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "", out)

	// The empty assistant turn is kept in the transcript but hidden from history.
	assert.Len(t, a.Transcript(), 2)
	assert.Len(t, a.ConversationHistory(), 1)
}

func TestLoopBoundFailsClosed(t *testing.T) {
	reg, _ := newTestRegistry(t)

	m := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI)
	for i := 0; i < 10; i++ {
		m.Script(model.ToolCallResponse(call("c", "count_records", `{"collection_name": "a"}`)))
	}

	a := New(m, func(o *Options) {
		o.Tools = reg
		o.MaxRounds = 3
	})

	_, err := a.SendUserMessage(context.Background(), "loop", "")
	assert.ErrorIs(t, err, core.ErrLoopBoundExceeded)
	assert.Equal(t, 3, m.Calls())

	// The failed turn is rolled back.
	assert.Empty(t, a.Transcript())
}

func TestModelErrorIsExternalFailure(t *testing.T) {
	m := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI).
		Script(model.TextResponse("first")).
		ScriptError(errors.New("503 from provider"))
	a := New(m)

	_, err := a.SendUserMessage(context.Background(), "one", "")
	require.NoError(t, err)
	before := a.ConversationHistory()

	_, err = a.SendUserMessage(context.Background(), "two", "")
	assert.ErrorIs(t, err, core.ErrExternalModelFailure)
	assert.Equal(t, core.KindExternalModelFailure, core.KindOf(err))

	assert.Equal(t, before, a.ConversationHistory())
}

func TestUnknownToolPropagates(t *testing.T) {
	reg, _ := newTestRegistry(t)
	m := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI).
		Script(model.ToolCallResponse(call("c1", "does_not_exist", `{}`)))
	a := New(m, func(o *Options) { o.Tools = reg })

	_, err := a.SendUserMessage(context.Background(), "x", "")
	assert.ErrorIs(t, err, core.ErrToolNotFound)
	assert.Empty(t, a.Transcript())
}

func TestToolCallWithoutRegistry(t *testing.T) {
	m := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI).
		Script(model.ToolCallResponse(call("c1", "anything", `{}`)))
	a := New(m)

	_, err := a.SendUserMessage(context.Background(), "x", "")
	assert.ErrorIs(t, err, core.ErrToolNotFound)
}

func TestConversationHistoryIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	m := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI).Script(
		model.ToolCallResponse(call("c1", "count_records", `{"collection_name": "a"}`)),
		&model.Response{Message: core.Message{Role: core.RoleAssistant, Parts: []core.Part{
			core.TextPart{Text: "partial"},
			core.RefusalPart{Refusal: "I cannot say more."},
		}}},
	)
	a := New(m, func(o *Options) {
		o.Instruction = "sys"
		o.Tools = reg
	})

	_, err := a.SendUserMessage(context.Background(), "question", "")
	require.NoError(t, err)

	h1 := a.ConversationHistory()
	h2 := a.ConversationHistory()
	assert.Equal(t, h1, h2)

	assert.Equal(t, []core.ChatMessage{
		{Role: core.RoleUser, Content: "question"},
		{Role: core.RoleAssistant, Content: "partial\nI cannot say more."},
	}, h1)
}

func TestContextCancellationStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	slow := tool.MustFunctionTool("cancel_me", "Cancels the context", func(context.Context, struct{}) (any, error) {
		cancel()
		return "ok", nil
	})
	reg, err := tool.NewRegistry(tool.Group{Name: "g", Tools: []tool.Tool{slow}})
	require.NoError(t, err)

	m := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI).Script(
		model.ToolCallResponse(call("c1", "cancel_me", `{}`), call("c2", "cancel_me", `{}`)),
		model.TextResponse("never"),
	)
	a := New(m, func(o *Options) { o.Tools = reg })

	_, err = a.SendUserMessage(ctx, "go", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, m.Calls())
}

func TestImageIsAttachedAsDataURL(t *testing.T) {
	m := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI).Script(model.TextResponse("A vase."))
	a := New(m)

	_, err := a.SendUserMessage(context.Background(), "What is this?", "iVBORw0KGgo=")
	require.NoError(t, err)

	user := m.Requests()[0].Messages[0]
	require.Len(t, user.Parts, 2)
	assert.Equal(t, core.ImagePart{URL: "data:image/png;base64,iVBORw0KGgo="}, user.Parts[1])
}

func TestNormalizeImage(t *testing.T) {
	assert.Equal(t, "", NormalizeImage("  "))
	assert.Equal(t, "data:image/jpeg;base64,AA", NormalizeImage("data:image/jpeg;base64,AA"))
	assert.Equal(t, "https://example.org/a.png", NormalizeImage("https://example.org/a.png"))
	assert.Equal(t, "data:image/png;base64,AA", NormalizeImage("AA"))
}

func TestSchemaFlavorFollowsModel(t *testing.T) {
	reg, _ := newTestRegistry(t)

	gemini := model.NewMockModel("google/gemini-2.0-flash", model.ProviderGoogle).Script(model.TextResponse("ok"))
	a := New(gemini, func(o *Options) { o.Tools = reg })
	_, err := a.SendUserMessage(context.Background(), "x", "")
	require.NoError(t, err)
	assert.False(t, gemini.Requests()[0].Tools[0].Function.Strict)

	strict := schema.Strict
	forced := model.NewMockModel("google/gemini-2.0-flash", model.ProviderGoogle).Script(model.TextResponse("ok"))
	b := New(forced, func(o *Options) {
		o.Tools = reg
		o.SchemaFlavor = &strict
	})
	_, err = b.SendUserMessage(context.Background(), "x", "")
	require.NoError(t, err)
	assert.True(t, forced.Requests()[0].Tools[0].Function.Strict)
}

func TestConcurrentSendsAreSerialized(t *testing.T) {
	m := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI)
	a := New(m)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.SendUserMessage(context.Background(), "ping", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	tr := a.Transcript()
	require.Len(t, tr, 20)
	for i, msg := range tr {
		if i%2 == 0 {
			assert.Equal(t, core.RoleUser, msg.Role)
		} else {
			assert.Equal(t, core.RoleAssistant, msg.Role)
		}
	}
}

func TestNameAndModelName(t *testing.T) {
	a := New(model.NewMockModel("gpt-4o", model.ProviderOpenAI), func(o *Options) { o.Name = "db_lookup" })
	assert.Equal(t, "db_lookup", a.Name())
	assert.Equal(t, "gpt-4o", a.ModelName())
}

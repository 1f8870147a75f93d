// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API. The same adapter serves Gemini models through
// Google's OpenAI-compatible endpoint.
package openai

import (
	"context"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/fundusmesh/core"
	"github.com/hupe1980/fundusmesh/internal/schema"
	"github.com/hupe1980/fundusmesh/model"
)

// Options configure the OpenAI model adapter.
type Options struct {
	// Name is the catalog name reported by Info; defaults to Model.
	Name string
	// Model is the model id sent to the API.
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	Provider            model.Provider
	Flavor              *schema.Flavor
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client.
func NewModel(clientOpts []option.RequestOption, optFns ...func(o *Options)) *Model {
	client := openai.NewClient(clientOpts...)
	return NewModelFromClient(&client, optFns...)
}

// NewGeminiModel creates a model served by Google's OpenAI-compatible endpoint.
// name may carry the "google/" prefix, which is stripped for the API call.
func NewGeminiModel(apiKey, baseURL, name string, optFns ...func(o *Options)) *Model {
	clientOpts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}

	fns := append([]func(o *Options){func(o *Options) {
		o.Name = name
		o.Model = strings.TrimPrefix(name, "google/")
		o.Provider = model.ProviderGoogle
	}}, optFns...)

	return NewModel(clientOpts, fns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         1.0,
		MaxCompletionTokens: 8192,
		Provider:            model.ProviderOpenAI,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Name == "" {
		opts.Name = opts.Model
	}

	return &Model{client: client, opts: opts}
}

// ChatComplete implements model.Model.
func (m *Model) ChatComplete(ctx context.Context, req model.Request) (*model.Response, error) {
	params := m.buildParams(req, buildMessages(req.Messages))

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, core.WrapError(core.KindExternalModelFailure, "openai.ChatComplete", err, "%s api error", m.opts.Provider)
	}

	if len(resp.Choices) == 0 {
		return nil, core.NewError(core.KindExternalModelFailure, "openai.ChatComplete", "no choices returned")
	}

	ch0 := resp.Choices[0]
	parts := make([]core.Part, 0, len(ch0.Message.ToolCalls)+2)
	if ch0.Message.Content != "" {
		parts = append(parts, core.TextPart{Text: ch0.Message.Content})
	}
	if ch0.Message.Refusal != "" {
		parts = append(parts, core.RefusalPart{Refusal: ch0.Message.Refusal})
	}
	for _, tc := range ch0.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			// Gemini's compatibility layer may omit call ids.
			id = "call_" + gonanoid.Must()
		}
		parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}})
	}

	return &model.Response{
		ID:           resp.ID,
		Message:      core.Message{Role: core.RoleAssistant, Parts: parts},
		FinishReason: ch0.FinishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// buildMessages converts the transcript into OpenAI chat messages. Tool
// messages already follow their assistant turn in the transcript.
func buildMessages(msgs []core.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Text()))
		case core.RoleUser:
			messages = append(messages, buildUserMessage(msg))
		case core.RoleAssistant:
			messages = append(messages, buildAssistantMessage(msg))
		case core.RoleTool:
			for _, p := range msg.Parts {
				if fr, ok := p.(core.FunctionResponsePart); ok {
					messages = append(messages, openai.ToolMessage(fr.FunctionResponse.Response, fr.FunctionResponse.ID))
				}
			}
		}
	}

	return messages
}

func buildUserMessage(msg core.Message) openai.ChatCompletionMessageParamUnion {
	var (
		text   strings.Builder
		images []string
	)

	for _, p := range msg.Parts {
		switch v := p.(type) {
		case core.TextPart:
			text.WriteString(v.Text)
		case core.ImagePart:
			images = append(images, v.URL)
		}
	}

	if len(images) == 0 {
		return openai.UserMessage(text.String())
	}

	content := make([]openai.ChatCompletionContentPartUnionParam, 0, len(images)+1)
	content = append(content, openai.TextContentPart(text.String()))
	for _, url := range images {
		content = append(content, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
	}

	return openai.UserMessage(content)
}

func buildAssistantMessage(msg core.Message) openai.ChatCompletionMessageParamUnion {
	calls := msg.FunctionCalls()
	text := msg.Text()

	if len(calls) == 0 {
		return openai.AssistantMessage(text)
	}

	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
	for i, c := range calls {
		toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
			ID: c.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		}
	}

	param := &openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
	if text != "" {
		param.Content.OfString = openai.String(text)
	}

	return openai.ChatCompletionMessageParamUnion{OfAssistant: param}
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(
	req model.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}

	if len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		fn := openai.FunctionDefinitionParam{
			Name:        tdef.Function.Name,
			Description: openai.String(tdef.Function.Description),
			Parameters:  tdef.Function.Parameters,
		}
		if tdef.Function.Strict {
			fn.Strict = openai.Bool(true)
		}
		tools[i] = openai.ChatCompletionToolParam{Function: fn}
	}
	params.Tools = tools

	return params
}

// Info returns metadata describing this model implementation.
func (m *Model) Info() model.Info {
	flavor := model.FlavorFor(m.opts.Provider)
	if m.opts.Flavor != nil {
		flavor = *m.opts.Flavor
	}

	return model.Info{
		Name:           m.opts.Name,
		Provider:       m.opts.Provider,
		SupportsTools:  true,
		SupportsImages: true,
		Flavor:         flavor,
	}
}

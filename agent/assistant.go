package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/fundusmesh/core"
	"github.com/hupe1980/fundusmesh/internal/schema"
	"github.com/hupe1980/fundusmesh/logging"
	"github.com/hupe1980/fundusmesh/model"
	"github.com/hupe1980/fundusmesh/tool"
)

// DefaultMaxRounds caps the model calls of one SendUserMessage.
const DefaultMaxRounds = 16

// Options configures an Assistant.
type Options struct {
	// Name identifies the assistant in logs, e.g. "db_lookup".
	Name string
	// Instruction becomes the system message of the first turn. Empty means none.
	Instruction string
	// Tools the model may call. Nil means no tools.
	Tools *tool.Registry
	// SchemaFlavor overrides the flavor reported by the model.
	SchemaFlavor *schema.Flavor
	// MaxRounds bounds the model calls per user message. Negative disables the bound.
	MaxRounds int
	// Logger receives loop events.
	Logger logging.Logger
}

// Assistant is one conversational agent: a transcript, a model and a tool
// registry. SendUserMessage drives the tool-call loop until the model answers
// with plain text.
//
// Calls on one Assistant are serialized; a second caller blocks until the
// first turn completes.
type Assistant struct {
	mu         sync.Mutex
	model      model.Model
	opts       Options
	flavor     schema.Flavor
	transcript []core.Message
	logger     logging.Logger
}

// New creates an Assistant for m.
func New(m model.Model, optFns ...func(o *Options)) *Assistant {
	opts := Options{
		Name:      "assistant",
		MaxRounds: DefaultMaxRounds,
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxRounds == 0 {
		opts.MaxRounds = DefaultMaxRounds
	}

	flavor := m.Info().Flavor
	if opts.SchemaFlavor != nil {
		flavor = *opts.SchemaFlavor
	}

	logger := logging.OrNoOp(opts.Logger)
	if ml, ok := logger.(*logging.MeshLogger); ok {
		logger = ml.WithComponent("agent." + opts.Name)
	}

	return &Assistant{
		model:  m,
		opts:   opts,
		flavor: flavor,
		logger: logger,
	}
}

// Name returns the assistant name.
func (a *Assistant) Name() string { return a.opts.Name }

// ModelName returns the name of the underlying model.
func (a *Assistant) ModelName() string { return a.model.Info().Name }

// SendUserMessage appends a user message (with an optional image) and runs
// the loop until the model replies without tool calls. That reply's text is
// returned; a reply with neither text nor tool calls yields "".
//
// A turn is atomic: if it fails, the transcript is restored to its state
// before the call so the session stays usable.
func (a *Assistant) SendUserMessage(ctx context.Context, text, image string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	checkpoint := len(a.transcript)
	committed := false
	defer func() {
		if !committed {
			a.transcript = a.transcript[:checkpoint]
		}
	}()

	if len(a.transcript) == 0 && a.opts.Instruction != "" {
		a.transcript = append(a.transcript, core.NewSystemMessage(a.opts.Instruction))
	}
	a.transcript = append(a.transcript, core.NewUserMessage(text, NormalizeImage(image)))

	tools := a.opts.Tools.DescribeAll(a.flavor)
	limiter := core.NewRoundLimiter("agent.SendUserMessage", a.opts.MaxRounds)
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("assistant %s: %w", a.opts.Name, err)
		}

		if err := limiter.Increment(); err != nil {
			a.logger.Warn("agent.round.limit", "agent", a.opts.Name, "max_rounds", a.opts.MaxRounds)
			return "", err
		}

		a.logger.Debug("agent.round.start", "agent", a.opts.Name, "round", limiter.Count(), "messages", len(a.transcript))

		resp, err := a.complete(ctx, tools)
		if err != nil {
			return "", err
		}

		reply := core.Message{Role: core.RoleAssistant}
		if resp != nil {
			reply = resp.Message.Clone()
			reply.Role = core.RoleAssistant
		}
		a.transcript = append(a.transcript, reply)

		calls := reply.FunctionCalls()
		if len(calls) == 0 {
			committed = true
			a.logger.Info("agent.turn.completed",
				"agent", a.opts.Name,
				"rounds", limiter.Count(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return reply.Text(), nil
		}

		for _, fc := range calls {
			if err := ctx.Err(); err != nil {
				return "", fmt.Errorf("assistant %s: %w", a.opts.Name, err)
			}

			fr, err := a.callTool(ctx, fc)
			if err != nil {
				return "", err
			}

			a.transcript = append(a.transcript, core.NewToolMessage(fr.ID, fr.Name, fr.Response, fr.Failed))
		}
	}
}

func (a *Assistant) complete(ctx context.Context, tools []model.ToolDefinition) (*model.Response, error) {
	msgs := make([]core.Message, len(a.transcript))
	copy(msgs, a.transcript)

	start := time.Now()
	resp, err := a.model.ChatComplete(ctx, model.Request{Messages: msgs, Tools: tools})
	dur := time.Since(start)

	if err != nil {
		a.logger.Error("model.call.failed", "agent", a.opts.Name, "model", a.ModelName(), "duration_ms", dur.Milliseconds(), "error", err.Error())
		if ctx.Err() != nil {
			return nil, fmt.Errorf("assistant %s: %w", a.opts.Name, ctx.Err())
		}
		if core.KindOf(err) == core.KindExternalModelFailure {
			return nil, err
		}
		return nil, core.WrapError(core.KindExternalModelFailure, "agent.SendUserMessage", err, "model %s", a.ModelName())
	}

	tokens := 0
	if resp != nil && resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	a.logger.Debug("model.call.completed", "agent", a.opts.Name, "model", a.ModelName(), "tokens", tokens, "duration_ms", dur.Milliseconds())

	return resp, nil
}

func (a *Assistant) callTool(ctx context.Context, fc core.FunctionCall) (core.FunctionResponse, error) {
	if a.opts.Tools == nil {
		return core.FunctionResponse{}, core.NewError(core.KindToolNotFound, "agent.callTool", "assistant %s has no tools, model requested %q", a.opts.Name, fc.Name)
	}

	fr, err := a.opts.Tools.Call(ctx, fc)
	if err != nil {
		if errors.Is(err, core.ErrToolNotFound) {
			a.logger.Warn("agent.tool.unknown", "agent", a.opts.Name, "tool", fc.Name)
		}
		return core.FunctionResponse{}, err
	}

	return fr, nil
}

// ConversationHistory returns the user and assistant messages flattened to
// text. Messages without text (e.g. tool-call-only turns) are omitted.
func (a *Assistant) ConversationHistory() []core.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []core.ChatMessage
	for _, m := range a.transcript {
		if m.Role != core.RoleUser && m.Role != core.RoleAssistant {
			continue
		}
		if text := m.Text(); text != "" {
			out = append(out, core.ChatMessage{Role: m.Role, Content: text})
		}
	}

	return out
}

// Transcript returns a copy of the full transcript including system and tool messages.
func (a *Assistant) Transcript() []core.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]core.Message, len(a.transcript))
	for i, m := range a.transcript {
		out[i] = m.Clone()
	}

	return out
}

// Reset clears the transcript.
func (a *Assistant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transcript = nil
}

// NormalizeImage turns a bare base64 payload into a PNG data URL. Remote and
// data URLs pass through unchanged.
func NormalizeImage(image string) string {
	image = strings.TrimSpace(image)
	switch {
	case image == "":
		return ""
	case strings.HasPrefix(image, "data:"),
		strings.HasPrefix(image, "http://"),
		strings.HasPrefix(image, "https://"):
		return image
	default:
		return "data:image/png;base64," + image
	}
}

package concierge

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/hupe1980/fundusmesh/agent"
	"github.com/hupe1980/fundusmesh/core"
	"github.com/hupe1980/fundusmesh/logging"
	"github.com/hupe1980/fundusmesh/session"
	"github.com/hupe1980/fundusmesh/tool"
)

// ConciergeID is the role id of the coordinating assistant.
const ConciergeID = "concierge"

// DefaultMaxForwards bounds the forwarding rounds of one user request.
const DefaultMaxForwards = 8

// Role describes one assistant of the multi-agent system.
type Role struct {
	// ID is the name the concierge uses in forwarding requests, e.g. "db_lookup".
	ID string
	// Name is the human readable name shown to the concierge.
	Name string
	// Description tells the concierge when to delegate to this role.
	Description string
	// Instruction is the system instruction of the role's assistant.
	Instruction string
	// Tools available to the role. Nil for none.
	Tools *tool.Registry
}

// AssistantFactory builds the assistant for a role.
type AssistantFactory func(role Role) (*agent.Assistant, error)

// Options configures a Router.
type Options struct {
	// ConciergeInstruction is a template for the concierge system instruction;
	// AssistantsPlaceholder is replaced by the specialist list.
	ConciergeInstruction string
	// MaxForwards bounds forwarding rounds per request. Negative disables the bound.
	MaxForwards int
	// Logger receives routing events.
	Logger logging.Logger
}

// Router is the multi-agent system: a concierge assistant that answers users
// directly or delegates to specialist assistants through JSON forwarding
// requests.
type Router struct {
	mu       sync.Mutex
	opts     Options
	roles    []Role
	sessions map[string]string
	agents   *session.Store[*agent.Assistant]
	logger   logging.Logger
}

// New builds one assistant per role plus the concierge. Role ids must be
// unique and must not collide with ConciergeID.
func New(factory AssistantFactory, roles []Role, optFns ...func(o *Options)) (*Router, error) {
	opts := Options{
		ConciergeInstruction: DefaultConciergeInstruction,
		MaxForwards:          DefaultMaxForwards,
		Logger:               logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxForwards == 0 {
		opts.MaxForwards = DefaultMaxForwards
	}

	if factory == nil {
		return nil, core.NewError(core.KindDuplicateOrInvalid, "concierge.New", "nil assistant factory")
	}

	seen := map[string]bool{ConciergeID: true}
	for _, r := range roles {
		if r.ID == "" || seen[r.ID] {
			return nil, core.NewError(core.KindDuplicateOrInvalid, "concierge.New", "invalid or duplicate role id %q", r.ID)
		}
		seen[r.ID] = true
	}

	instruction, err := RenderConciergeInstruction(opts.ConciergeInstruction, roles)
	if err != nil {
		return nil, fmt.Errorf("render concierge instruction: %w", err)
	}

	all := append([]Role{{
		ID:          ConciergeID,
		Name:        "Concierge",
		Description: "Coordinates the specialist assistants and talks to the user.",
		Instruction: instruction,
	}}, roles...)

	rt := &Router{
		opts:     opts,
		roles:    append([]Role(nil), roles...),
		sessions: make(map[string]string, len(all)),
		agents: session.NewStore[*agent.Assistant](func(o *session.Options) {
			o.TTL = -1
			o.MaxSessions = len(all)
			o.Logger = opts.Logger
		}),
		logger: logging.OrNoOp(opts.Logger),
	}

	for _, role := range all {
		_, h, err := rt.agents.GetOrCreate("", func() (*agent.Assistant, error) { return factory(role) })
		if err != nil {
			return nil, fmt.Errorf("build assistant %q: %w", role.ID, err)
		}
		rt.sessions[role.ID] = h.ID
		rt.logger.Info("concierge.assistant.built", "role", role.ID, "session_id", h.ID)
	}

	return rt, nil
}

// Roles returns the specialist roles.
func (r *Router) Roles() []Role { return append([]Role(nil), r.roles...) }

// Agent returns the assistant bound to roleID. Unknown ids fail with
// core.ErrUnknownAgent.
func (r *Router) Agent(roleID string) (*agent.Assistant, error) {
	sid, ok := r.sessions[roleID]
	if !ok {
		return nil, core.NewError(core.KindUnknownAgent, "concierge.Agent", "unknown assistant %q", roleID)
	}

	a, _, err := r.agents.Get(sid)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// ConversationHistory returns the user-facing conversation with the concierge.
func (r *Router) ConversationHistory() []core.ChatMessage {
	c, err := r.Agent(ConciergeID)
	if err != nil {
		return nil
	}
	return c.ConversationHistory()
}

// ModelName returns the model of the concierge.
func (r *Router) ModelName() string {
	c, err := r.Agent(ConciergeID)
	if err != nil {
		return ""
	}
	return c.ModelName()
}

// HandleUserRequest sends text (and an optional image) to the concierge and
// follows its forwarding requests until it produces a final answer.
func (r *Router) HandleUserRequest(ctx context.Context, text, image string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reqID := gonanoid.Must(12)
	start := time.Now()

	concierge, err := r.Agent(ConciergeID)
	if err != nil {
		return "", err
	}

	r.logger.Info("concierge.request.start", "request_id", reqID)

	reply, err := concierge.SendUserMessage(ctx, text, image)
	if err != nil {
		return "", err
	}

	limiter := core.NewRoundLimiter("concierge.HandleUserRequest", r.opts.MaxForwards)

	for {
		fr, err := ParseForwardingRequest(reply)
		if err != nil {
			r.logger.Error("concierge.forward.malformed", "request_id", reqID, "error", err.Error())
			return "", err
		}

		if fr == nil {
			r.logger.Info("concierge.request.completed",
				"request_id", reqID,
				"forwards", limiter.Count(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return reply, nil
		}

		if err := limiter.Increment(); err != nil {
			r.logger.Warn("concierge.forward.limit", "request_id", reqID, "max_forwards", r.opts.MaxForwards)
			return "", err
		}

		answer, err := r.forward(ctx, reqID, limiter.Count(), fr, image)
		if err != nil {
			return "", err
		}

		feedback, err := RenderFeedback(text, fr, answer)
		if err != nil {
			return "", err
		}

		reply, err = concierge.SendUserMessage(ctx, feedback, "")
		if err != nil {
			return "", err
		}
	}
}

func (r *Router) forward(ctx context.Context, reqID string, round int, fr *ForwardingRequest, image string) (string, error) {
	if fr.Assistant == ConciergeID {
		return "", core.NewError(core.KindUnknownAgent, "concierge.forward", "the concierge cannot forward to itself")
	}

	target, err := r.Agent(fr.Assistant)
	if err != nil {
		return "", err
	}

	msg, err := RenderForward(fr)
	if err != nil {
		return "", err
	}

	start := time.Now()
	answer, err := target.SendUserMessage(ctx, msg, image)

	if ml, ok := r.logger.(*logging.MeshLogger); ok {
		ml.WithContext("request_id", reqID).LogForward(fr.Assistant, round, time.Since(start), err)
	} else if err != nil {
		r.logger.Error("concierge.forward.failed", "request_id", reqID, "target", fr.Assistant, "round", round, "error", err.Error())
	} else {
		r.logger.Info("concierge.forward.completed", "request_id", reqID, "target", fr.Assistant, "round", round)
	}

	if err != nil {
		return "", err
	}

	return answer, nil
}

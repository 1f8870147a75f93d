package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hupe1980/fundusmesh/agent"
	"github.com/hupe1980/fundusmesh/concierge"
	"github.com/hupe1980/fundusmesh/core"
	"github.com/hupe1980/fundusmesh/logging"
	"github.com/hupe1980/fundusmesh/model"
	"github.com/hupe1980/fundusmesh/session"
	"github.com/hupe1980/fundusmesh/tool"
)

// Options holds configuration overrides passed to New().
type Options struct {
	// Session bounds both session stores. Clock, NewID and Logger are shared.
	Session session.Options
	// SweepSchedule is a cron expression for background eviction. Empty disables it.
	SweepSchedule string
	// MaxRounds bounds the tool-call loop of every assistant.
	MaxRounds int
	// MaxForwards bounds the forwarding rounds of every router.
	MaxForwards int
	// ConciergeInstruction overrides the concierge instruction template.
	ConciergeInstruction string
	// Roles are the specialists of every multi-agent session.
	Roles []concierge.Role
	// Logger receives runner events.
	Logger logging.Logger
}

// AssistantSpec describes a single assistant session.
type AssistantSpec struct {
	// Name identifies the assistant in logs.
	Name string
	// Model is resolved through the catalog. Empty selects the default model.
	Model string
	// Instruction is the system instruction.
	Instruction string
	// Tools available to the assistant. Nil for none.
	Tools *tool.Registry
}

// SessionInfo is a live session together with the model it runs on.
type SessionInfo struct {
	session.Handle
	Model string `json:"model"`
}

// Runner holds the sessions of a process. Public methods are safe for
// concurrent use.
type Runner struct {
	catalog    *model.Catalog
	opts       Options
	assistants *session.Store[*agent.Assistant]
	agents     *session.Store[*concierge.Router]
	cron       *cron.Cron
	logger     logging.Logger
}

// New creates a Runner resolving models through catalog.
func New(catalog *model.Catalog, optFns ...func(o *Options)) (*Runner, error) {
	opts := Options{
		MaxRounds:   agent.DefaultMaxRounds,
		MaxForwards: concierge.DefaultMaxForwards,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if catalog == nil {
		return nil, core.NewError(core.KindDuplicateOrInvalid, "runner.New", "nil model catalog")
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	storeOpts := func(component string) func(o *session.Options) {
		return func(o *session.Options) {
			if opts.Session.TTL != 0 {
				o.TTL = opts.Session.TTL
			}
			if opts.Session.MaxSessions != 0 {
				o.MaxSessions = opts.Session.MaxSessions
			}
			o.MaxExpired = opts.Session.MaxExpired
			if opts.Session.Clock != nil {
				o.Clock = opts.Session.Clock
			}
			if opts.Session.NewID != nil {
				o.NewID = opts.Session.NewID
			}
			o.Logger = withComponent(opts.Logger, component)
		}
	}

	r := &Runner{
		catalog:    catalog,
		opts:       opts,
		assistants: session.NewStore[*agent.Assistant](storeOpts("sessions.assistants")),
		agents:     session.NewStore[*concierge.Router](storeOpts("sessions.agents")),
		logger:     withComponent(opts.Logger, "runner"),
	}

	if opts.SweepSchedule != "" {
		r.cron = cron.New()
		if _, err := r.cron.AddFunc(opts.SweepSchedule, r.Sweep); err != nil {
			return nil, fmt.Errorf("schedule session sweep %q: %w", opts.SweepSchedule, err)
		}
		r.cron.Start()
		r.logger.Info("runner.sweep.scheduled", "schedule", opts.SweepSchedule)
	}

	return r, nil
}

func withComponent(l logging.Logger, component string) logging.Logger {
	if ml, ok := l.(*logging.MeshLogger); ok {
		return ml.WithComponent(component)
	}
	return l
}

// Close stops the background sweep and waits for a running sweep to finish.
func (r *Runner) Close() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// Sweep evicts expired sessions from both stores.
func (r *Runner) Sweep() {
	a := r.assistants.Sweep()
	m := r.agents.Sweep()
	if a+m > 0 {
		r.logger.Info("runner.sessions.swept", "assistants", a, "agents", m)
	}
}

// ListModels returns the models sessions can be created with.
func (r *Runner) ListModels() []model.Entry {
	return r.catalog.List()
}

// GetOrCreateAssistant returns the assistant session sessionID or, when
// sessionID is empty, creates a new one from spec. Unknown and expired ids
// fail with core.ErrSessionNotFound and core.ErrSessionExpired.
func (r *Runner) GetOrCreateAssistant(ctx context.Context, spec AssistantSpec, sessionID string) (SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return SessionInfo{}, err
	}

	a, h, err := r.assistants.GetOrCreate(sessionID, func() (*agent.Assistant, error) {
		return r.newAssistant(spec.Model, spec.Name, spec.Instruction, spec.Tools)
	})
	if err != nil {
		return SessionInfo{}, err
	}

	return SessionInfo{Handle: h, Model: a.ModelName()}, nil
}

// SendUserMessage runs one turn of the assistant session sessionID.
func (r *Runner) SendUserMessage(ctx context.Context, sessionID, text, image string) (string, error) {
	a, _, release, err := r.assistants.Acquire(ctx, sessionID)
	if err != nil {
		return "", err
	}
	defer release()

	start := time.Now()
	reply, err := a.SendUserMessage(ctx, text, image)
	if err != nil {
		r.logger.Error("runner.message.failed", "session_id", sessionID, "kind", core.KindOf(err).String(), "error", err.Error())
		return "", err
	}

	r.logger.Info("runner.message.completed", "session_id", sessionID, "duration_ms", time.Since(start).Milliseconds())

	return reply, nil
}

// GetOrCreateAgent returns the multi-agent session sessionID or, when
// sessionID is empty, creates a router whose assistants all run on modelName.
func (r *Runner) GetOrCreateAgent(ctx context.Context, modelName, sessionID string) (SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return SessionInfo{}, err
	}

	rt, h, err := r.agents.GetOrCreate(sessionID, func() (*concierge.Router, error) {
		return r.newRouter(modelName)
	})
	if err != nil {
		return SessionInfo{}, err
	}

	return SessionInfo{Handle: h, Model: rt.ModelName()}, nil
}

// HandleUserRequest passes one user request to the multi-agent session sessionID.
func (r *Runner) HandleUserRequest(ctx context.Context, sessionID, text, image string) (string, error) {
	rt, _, release, err := r.agents.Acquire(ctx, sessionID)
	if err != nil {
		return "", err
	}
	defer release()

	start := time.Now()
	reply, err := rt.HandleUserRequest(ctx, text, image)
	if err != nil {
		r.logger.Error("runner.request.failed", "session_id", sessionID, "kind", core.KindOf(err).String(), "error", err.Error())
		return "", err
	}

	r.logger.Info("runner.request.completed", "session_id", sessionID, "duration_ms", time.Since(start).Milliseconds())

	return reply, nil
}

// ListAllSessions returns the live assistant sessions ordered by creation.
func (r *Runner) ListAllSessions() []session.Handle {
	return r.assistants.ListAll()
}

// ListAgentSessions returns the live multi-agent sessions ordered by creation.
func (r *Runner) ListAgentSessions() []session.Handle {
	return r.agents.ListAll()
}

// ConversationHistory returns the user-facing conversation of a session of
// either kind.
func (r *Runner) ConversationHistory(sessionID string) ([]core.ChatMessage, error) {
	if rt, _, err := r.agents.Get(sessionID); err == nil {
		return rt.ConversationHistory(), nil
	} else if core.KindOf(err) == core.KindSessionExpired {
		return nil, err
	}

	a, _, err := r.assistants.Get(sessionID)
	if err != nil {
		return nil, err
	}

	return a.ConversationHistory(), nil
}

// DeleteSession ends a session of either kind. It reports whether one was live.
func (r *Runner) DeleteSession(sessionID string) bool {
	return r.agents.Delete(sessionID) || r.assistants.Delete(sessionID)
}

func (r *Runner) newAssistant(modelName, name, instruction string, tools *tool.Registry) (*agent.Assistant, error) {
	m, err := r.catalog.Resolve(modelName)
	if err != nil {
		return nil, err
	}

	return agent.New(m, func(o *agent.Options) {
		if name != "" {
			o.Name = name
		}
		o.Instruction = instruction
		o.Tools = tools
		o.MaxRounds = r.opts.MaxRounds
		o.Logger = r.opts.Logger
	}), nil
}

func (r *Runner) newRouter(modelName string) (*concierge.Router, error) {
	factory := func(role concierge.Role) (*agent.Assistant, error) {
		return r.newAssistant(modelName, role.ID, role.Instruction, role.Tools)
	}

	return concierge.New(factory, r.opts.Roles, func(o *concierge.Options) {
		if r.opts.ConciergeInstruction != "" {
			o.ConciergeInstruction = r.opts.ConciergeInstruction
		}
		o.MaxForwards = r.opts.MaxForwards
		o.Logger = r.opts.Logger
	})
}

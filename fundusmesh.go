// Package fundusmesh wires the FUNDus! assistants into one object: it turns
// a config.Config into a model catalog, the collection database, the
// embedding client, the tool groups and a runner.Runner that owns all
// sessions. Most applications interact with this package by:
//  1. Loading a configuration (config.LoadDefault)
//  2. Creating a Mesh via New()
//  3. Creating sessions and sending messages through Mesh.Runner
package fundusmesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/openai/openai-go/option"

	"github.com/hupe1980/fundusmesh/agent"
	"github.com/hupe1980/fundusmesh/concierge"
	"github.com/hupe1980/fundusmesh/config"
	"github.com/hupe1980/fundusmesh/embedding"
	"github.com/hupe1980/fundusmesh/fundus"
	"github.com/hupe1980/fundusmesh/fundus/sqlite"
	"github.com/hupe1980/fundusmesh/logging"
	"github.com/hupe1980/fundusmesh/model"
	"github.com/hupe1980/fundusmesh/model/anthropic"
	"github.com/hupe1980/fundusmesh/model/openai"
	"github.com/hupe1980/fundusmesh/runner"
	"github.com/hupe1980/fundusmesh/session"
	"github.com/hupe1980/fundusmesh/tool"
)

// Options overrides components New would otherwise build from the config.
type Options struct {
	// Logger replaces the logger built from config.Logging.
	Logger logging.Logger
	// LogOutput receives log lines of the config-built logger. Defaults to stderr.
	LogOutput io.Writer
	// Catalog replaces the catalog built from config.Providers.
	Catalog *model.Catalog
	// Store replaces the SQLite database at config.Database.Path.
	Store fundus.Store
	// Embedder replaces the client for config.ML.URL.
	Embedder fundus.Embedder
	// WaitForEmbedder blocks New until the embedding service reports healthy.
	WaitForEmbedder bool
}

// Mesh is the assembled system.
type Mesh struct {
	Config  *config.Config
	Logger  logging.Logger
	Catalog *model.Catalog
	Store   fundus.Store
	Images  *fundus.ImageStore
	Toolkit *fundus.Toolkit
	Roles   []concierge.Role
	Runner  *runner.Runner

	allTools *tool.Registry
	closers  []func() error
}

// New builds a Mesh from cfg. A nil cfg means config.Default().
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Mesh, error) {
	opts := Options{LogOutput: os.Stderr}

	for _, fn := range optFns {
		fn(&opts)
	}

	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Mesh{Config: cfg, Logger: opts.Logger}

	if m.Logger == nil {
		logger, err := NewLogger(cfg.Logging, opts.LogOutput)
		if err != nil {
			return nil, err
		}
		m.Logger = logger
	}

	m.Catalog = opts.Catalog
	if m.Catalog == nil {
		m.Catalog = NewCatalog(cfg)
	}
	m.Logger.Info("mesh.models", "providers", m.Catalog.Providers(), "default", m.Catalog.Default())

	m.Store = opts.Store
	if m.Store == nil {
		db, err := sqlite.Open(cfg.Database.Path, func(o *sqlite.Options) { o.Logger = m.Logger })
		if err != nil {
			return nil, fmt.Errorf("open collection database: %w", err)
		}
		m.Store = db
		m.closers = append(m.closers, db.Close)
	}

	embedder := opts.Embedder
	if embedder == nil && cfg.ML.URL != "" {
		client := embedding.NewClient(cfg.ML.URL, func(o *embedding.Options) {
			o.Timeout = cfg.ML.Timeout
			o.Logger = m.Logger
		})
		if opts.WaitForEmbedder {
			if err := client.WaitReady(ctx); err != nil {
				m.Close()
				return nil, err
			}
		}
		embedder = client
	}

	if cfg.Images.Dir != "" {
		images, err := fundus.NewImageStore(cfg.Images.Dir, m.Logger)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("open image store: %w", err)
		}
		m.Images = images
	}

	m.Toolkit = fundus.NewToolkit(m.Store, func(o *fundus.ToolkitOptions) {
		o.Embedder = embedder
		o.Images = m.Images
		o.Vision = m.oneShotAssistant("vision")
		o.QueryRewriter = m.oneShotAssistant("query_rewriter")
		o.Logger = m.Logger
	})

	var err error
	if m.Roles, err = fundus.DefaultRoles(m.Toolkit); err != nil {
		m.Close()
		return nil, err
	}
	if m.allTools, err = fundus.AllTools(m.Toolkit); err != nil {
		m.Close()
		return nil, err
	}

	m.Runner, err = runner.New(m.Catalog, func(o *runner.Options) {
		o.Session = session.Options{
			TTL:         cfg.Session.TTL,
			MaxSessions: cfg.Session.MaxSessions,
			MaxExpired:  cfg.Session.MaxExpired,
		}
		o.SweepSchedule = cfg.Session.SweepSchedule
		o.MaxRounds = cfg.Assistant.MaxRounds
		o.MaxForwards = cfg.Assistant.MaxForwards
		o.ConciergeInstruction = fundus.ConciergeInstruction
		o.Roles = m.Roles
		o.Logger = m.Logger
	})
	if err != nil {
		m.Close()
		return nil, err
	}
	m.closers = append(m.closers, func() error { m.Runner.Close(); return nil })

	m.Logger.Info("mesh.ready", "roles", len(m.Roles), "tools", m.allTools.Len())

	return m, nil
}

// NewSingleAssistant creates a single assistant session with every tool group.
func (m *Mesh) NewSingleAssistant(ctx context.Context, modelName string) (runner.SessionInfo, error) {
	return m.Runner.GetOrCreateAssistant(ctx, runner.AssistantSpec{
		Name:        "fundus",
		Model:       modelName,
		Instruction: fundus.SingleAssistantInstruction,
		Tools:       m.allTools,
	}, "")
}

// Close releases the database and stops background jobs.
func (m *Mesh) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		errs = append(errs, m.closers[i]())
	}
	m.closers = nil
	return errors.Join(errs...)
}

// oneShotAssistant returns a factory of tool-less assistants on the default model.
func (m *Mesh) oneShotAssistant(name string) fundus.AssistantFactory {
	return func(instruction string) (*agent.Assistant, error) {
		llm, err := m.Catalog.Resolve(m.Config.Assistant.DefaultModel)
		if err != nil {
			return nil, err
		}

		return agent.New(llm, func(o *agent.Options) {
			o.Name = name
			o.Instruction = instruction
			o.MaxRounds = m.Config.Assistant.MaxRounds
			o.Logger = m.Logger
		}), nil
	}
}

// NewLogger builds the logger described by cfg. Backend "slog" selects the
// log/slog based MeshLogger, anything else zerolog.
func NewLogger(cfg config.LoggingConfig, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}

	lc := &logging.LoggerConfig{Level: level, Format: cfg.Format, Output: out}

	if cfg.Backend == "slog" {
		return logging.NewLogger(lc), nil
	}

	return logging.NewZerologLogger(lc), nil
}

// NewCatalog registers a provider for every configured API key. Keys fall
// back to OPENAI_API_KEY, ANTHROPIC_API_KEY and GEMINI_API_KEY.
func NewCatalog(cfg *config.Config) *model.Catalog {
	a := cfg.Assistant
	factories := map[model.Provider]model.Factory{}

	if key := orEnv(cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY"); key != "" {
		base := cfg.Providers.OpenAI.BaseURL
		factories[model.ProviderOpenAI] = func(name string) (model.Model, error) {
			clientOpts := []option.RequestOption{option.WithAPIKey(key)}
			if base != "" {
				clientOpts = append(clientOpts, option.WithBaseURL(base))
			}
			return openai.NewModel(clientOpts, func(o *openai.Options) {
				o.Model = name
				o.Temperature = a.Temperature
				o.MaxCompletionTokens = a.MaxTokens
			}), nil
		}
	}

	if key := orEnv(cfg.Providers.Google.APIKey, "GEMINI_API_KEY"); key != "" {
		base := cfg.Providers.Google.BaseURL
		factories[model.ProviderGoogle] = func(name string) (model.Model, error) {
			return openai.NewGeminiModel(key, base, name, func(o *openai.Options) {
				o.Temperature = a.Temperature
				o.MaxCompletionTokens = a.MaxTokens
			}), nil
		}
	}

	if key := orEnv(cfg.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY"); key != "" {
		base := cfg.Providers.Anthropic.BaseURL
		factories[model.ProviderAnthropic] = func(name string) (model.Model, error) {
			return anthropic.NewModel(anthropic.WithCatalogName(name), func(o *anthropic.Options) {
				o.APIKey = key
				o.BaseURL = base
				o.Temperature = a.Temperature
				o.MaxTokens = a.MaxTokens
			}), nil
		}
	}

	models := a.AvailableModels
	if len(models) == 0 {
		models = []string{a.DefaultModel}
	}

	return model.NewCatalog(func(o *model.CatalogOptions) {
		o.Models = models
		o.Default = a.DefaultModel
		o.Factories = factories
	})
}

func orEnv(v, env string) string {
	if v != "" {
		return v
	}
	return os.Getenv(env)
}

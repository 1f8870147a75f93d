package model

import (
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/fundusmesh/core"
	"github.com/hupe1980/fundusmesh/internal/schema"
)

// Provider names a model vendor.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// ProviderFor derives the provider from a model name prefix.
func ProviderFor(name string) Provider {
	switch {
	case strings.HasPrefix(name, "google/"), strings.HasPrefix(name, "gemini"):
		return ProviderGoogle
	case strings.HasPrefix(name, "anthropic/"), strings.HasPrefix(name, "claude"):
		return ProviderAnthropic
	default:
		return ProviderOpenAI
	}
}

// FlavorFor returns the tool schema dialect a provider accepts.
func FlavorFor(p Provider) schema.Flavor {
	if p == ProviderOpenAI {
		return schema.Strict
	}
	return schema.Permissive
}

// DisplayName turns a model id into a human readable label,
// e.g. "google/gemini-2.0-flash" -> "Gemini 2.0 Flash".
func DisplayName(name string) string {
	n := strings.ReplaceAll(name, "-", " ")
	n = strings.ReplaceAll(n, "google/", "")
	n = strings.ReplaceAll(n, "anthropic/", "")
	n = strings.ReplaceAll(n, "gpt", "GPT")
	n = strings.ReplaceAll(n, "flash", "Flash")
	n = strings.ReplaceAll(n, "pro", "Pro")
	n = strings.ReplaceAll(n, "gemini", "Gemini")
	n = strings.ReplaceAll(n, "claude", "Claude")
	n = strings.ReplaceAll(n, " mini", " Mini")
	return n
}

// Factory builds a Model for a concrete model name.
type Factory func(name string) (Model, error)

// Entry is one selectable model.
type Entry struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Provider    Provider `json:"provider"`
}

// CatalogOptions configures a Catalog.
type CatalogOptions struct {
	// Models lists the allowed model names in display order.
	Models []string
	// Default is used when Resolve is called with an empty name.
	Default string
	// Factories maps each provider to its constructor.
	Factories map[Provider]Factory
}

// Catalog resolves allowed model names to provider adapters.
type Catalog struct {
	mu        sync.RWMutex
	models    []string
	allowed   map[string]struct{}
	def       string
	factories map[Provider]Factory
}

// NewCatalog creates a catalog. Without an explicit default the first model is used.
func NewCatalog(optFns ...func(o *CatalogOptions)) *Catalog {
	opts := CatalogOptions{Factories: map[Provider]Factory{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	c := &Catalog{
		allowed:   make(map[string]struct{}, len(opts.Models)),
		def:       opts.Default,
		factories: make(map[Provider]Factory, len(opts.Factories)),
	}
	for _, m := range opts.Models {
		if _, dup := c.allowed[m]; dup || m == "" {
			continue
		}
		c.allowed[m] = struct{}{}
		c.models = append(c.models, m)
	}
	for p, f := range opts.Factories {
		c.factories[p] = f
	}
	if c.def == "" && len(c.models) > 0 {
		c.def = c.models[0]
	}

	return c
}

// Register installs or replaces the factory for a provider.
func (c *Catalog) Register(p Provider, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[p] = f
}

// IsAvailable reports whether name may be resolved.
func (c *Catalog) IsAvailable(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.allowed[name]
	if !ok {
		return false
	}
	_, ok = c.factories[ProviderFor(name)]
	return ok
}

// Default returns the default model name.
func (c *Catalog) Default() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.def
}

// Resolve builds the model registered under name; an empty name selects the
// default. Names outside the allowed set fail with core.ErrModelUnavailable.
func (c *Catalog) Resolve(name string) (Model, error) {
	c.mu.RLock()
	if name == "" {
		name = c.def
	}
	_, ok := c.allowed[name]
	factory := c.factories[ProviderFor(name)]
	c.mu.RUnlock()

	if !ok {
		return nil, core.NewError(core.KindModelUnavailable, "model.Resolve", "model %q is not available", name)
	}
	if factory == nil {
		return nil, core.NewError(core.KindModelUnavailable, "model.Resolve", "no provider configured for model %q", name)
	}

	m, err := factory(name)
	if err != nil {
		return nil, core.WrapError(core.KindModelUnavailable, "model.Resolve", err, "create model %q", name)
	}

	return m, nil
}

// List returns the allowed models whose provider is configured, in
// configuration order.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.models))
	for _, name := range c.models {
		p := ProviderFor(name)
		if _, ok := c.factories[p]; !ok {
			continue
		}
		out = append(out, Entry{Name: name, DisplayName: DisplayName(name), Provider: p})
	}

	return out
}

// Providers returns the configured providers sorted by name.
func (c *Catalog) Providers() []Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Provider, 0, len(c.factories))
	for p := range c.factories {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// Package logging provides a minimal logging interface and adapters for fundusmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that sessions, tools, agents and the concierge router use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter / MeshLogger wrapping Go's structured logging
//   - ZerologAdapter backed by github.com/rs/zerolog
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewZerologLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "console"})
//	store := session.NewStore[*agent.Assistant](func(o *session.Options) { o.Logger = logger })
package logging

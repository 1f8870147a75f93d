package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZerologAdapter wraps zerolog.Logger to implement the Logger interface.
// Key/value args are attached as fields.
type ZerologAdapter struct {
	zl zerolog.Logger
}

// NewZerologAdapter creates a Logger from an existing zerolog.Logger.
func NewZerologAdapter(zl zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{zl: zl}
}

// NewZerologLogger builds a zerolog backed Logger. Format "console" enables the
// human friendly console writer; anything else writes JSON lines.
func NewZerologLogger(cfg *LoggerConfig) *ZerologAdapter {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	var out io.Writer = cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	ctx := zerolog.New(out).Level(zerologLevel(cfg.Level)).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	if cfg.SessionID != "" {
		ctx = ctx.Str("session_id", cfg.SessionID)
	}
	if cfg.AddSource {
		ctx = ctx.Caller()
	}
	return &ZerologAdapter{zl: ctx.Logger()}
}

func zerologLevel(l LogLevel) zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child adapter carrying the given key/value fields.
func (z *ZerologAdapter) With(args ...any) *ZerologAdapter {
	return &ZerologAdapter{zl: z.zl.With().Fields(args).Logger()}
}

// Debug logs a debug message.
func (z *ZerologAdapter) Debug(msg string, args ...any) { z.zl.Debug().Fields(args).Msg(msg) }

// Info logs an informational message.
func (z *ZerologAdapter) Info(msg string, args ...any) { z.zl.Info().Fields(args).Msg(msg) }

// Warn logs a warning message.
func (z *ZerologAdapter) Warn(msg string, args ...any) { z.zl.Warn().Fields(args).Msg(msg) }

// Error logs an error message.
func (z *ZerologAdapter) Error(msg string, args ...any) { z.zl.Error().Fields(args).Msg(msg) }

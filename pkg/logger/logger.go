// Package logger builds the process-wide structured logger for SparkQuest Hub.
// It wraps log/slog with level parsing, format selection, and context propagation.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format selects the slog handler.
type Format string

const (
	// FormatJSON emits one JSON object per line.
	FormatJSON Format = "json"
	// FormatText emits logfmt-style lines.
	FormatText Format = "text"
)

// ParseLevel parses a string into a slog.Level. Unknown values map to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures the logger.
type Options struct {
	Level     slog.Level
	Format    Format
	Output    io.Writer
	AddSource bool

	// Service is attached to every record as "service".
	Service string
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Level:  slog.LevelInfo,
		Format: FormatText,
		Output: os.Stdout,
	}
}

// New creates a new slog.Logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.Format == FormatJSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	return log
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT PROPAGATION
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or returns slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// RequestIDKey is the attribute key used for request tracing.
const RequestIDKey = "request_id"

// WithRequestID returns a logger with the request ID attribute added.
func WithRequestID(l *slog.Logger, requestID string) *slog.Logger {
	return l.With(RequestIDKey, requestID)
}

// Domain attribute helpers.
func ChildID(id string) slog.Attr          { return slog.String("child_id", id) }
func TopicID(id string) slog.Attr          { return slog.String("topic_id", id) }
func SectionIndex(i int) slog.Attr         { return slog.Int("section_index", i) }
func Sparks(amount int64) slog.Attr        { return slog.Int64("sparks", amount) }
func Component(name string) slog.Attr      { return slog.String("component", name) }
func Operation(name string) slog.Attr      { return slog.String("operation", name) }
func Latency(d time.Duration) slog.Attr    { return slog.String("latency", d.String()) }
func Err(err error) slog.Attr              { return slog.Any("error", err) }

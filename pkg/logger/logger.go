// Package logger configures slog for the services and carries request
// scoped attributes through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type requestIDKey struct{}

type attrsKey struct{}

// Setup installs the process-wide handler on stdout. Every record carries
// the service name, since all binaries usually log to one sink.
func Setup(service, level, format string) {
	SetupWriter(os.Stdout, level, format)
	if service != "" {
		slog.SetDefault(slog.Default().With("service", service))
	}
}

// SetupWriter is Setup with an explicit destination and no service name.
// The CLI logs to stderr so that command output on stdout stays machine
// readable.
func SetupWriter(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// With returns a context whose loggers also log args, on top of any
// attributes ctx already carries.
func With(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(attrsKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, attrsKey{}, merged)
}

// Enrich adds the request id and attributes carried by ctx to l.
func Enrich(ctx context.Context, l *slog.Logger) *slog.Logger {
	if id := RequestID(ctx); id != "" {
		l = l.With("request_id", id)
	}
	if args, _ := ctx.Value(attrsKey{}).([]any); len(args) > 0 {
		l = l.With(args...)
	}
	return l
}

func FromContext(ctx context.Context) *slog.Logger {
	return Enrich(ctx, slog.Default())
}

// ParseLevel maps a config level name to a slog level. Unknown names mean
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

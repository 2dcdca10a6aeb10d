// Package logger wraps slog with the request-scoped fields and the
// domain-specific log lines shared by every module.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	// ActorKey holds the authenticated CPF.
	ActorKey contextKey = "actor_cpf"
	// ScopeKey holds the caller scope formatted as kind:id.
	ScopeKey contextKey = "scope"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New logs text at debug level in development and JSON at info level
// everywhere else.
func New(env string) *Logger {
	return newWithWriter(env, os.Stdout)
}

func newWithWriter(env string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var handler slog.Handler
	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// WithContext attaches request_id, actor_cpf and scope when ctx carries them.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if l == nil || ctx == nil {
		return l
	}

	var attrs []any
	for _, key := range []contextKey{RequestIDKey, ActorKey, ScopeKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{Logger: l.With(attrs...)}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// Transition logs a committed state change of a lifecycle entity.
func (l *Logger) Transition(entity string, id int64, from, to, actor string) {
	l.Info("state_transition",
		slog.String("entity", entity),
		slog.Int64("id", id),
		slog.String("from", from),
		slog.String("to", to),
		slog.String("actor", actor),
	)
}

// BusinessRejection logs an expected, caller-recoverable outcome.
func (l *Logger) BusinessRejection(operation, code, message string) {
	l.Debug("business_rejection",
		slog.String("operation", operation),
		slog.String("code", code),
		slog.String("message", message),
	)
}

func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}

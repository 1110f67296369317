// Package logging provides structured JSON logging with redaction of
// credential material. This tool handles raw SSH passwords, so redaction is
// on by default and the driver never logs buffer contents.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// sensitiveKeys marks attribute keys whose values are never logged.
var sensitiveKeys = []string{
	"password",
	"secret",
	"passphrase",
	"credential",
	"token",
}

const redacted = "[REDACTED]"

// RedactingHandler wraps a slog.Handler and replaces the values of
// credential-bearing attributes.
type RedactingHandler struct {
	handler slog.Handler
	enabled bool
}

// NewRedactingHandler creates a redacting handler. With enabled false it
// passes records through untouched (debug builds on trusted machines).
func NewRedactingHandler(handler slog.Handler, enabled bool) *RedactingHandler {
	return &RedactingHandler{handler: handler, enabled: enabled}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.enabled {
		return h.handler.Handle(ctx, r)
	}

	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.redact(a))
		return true
	})
	return h.handler.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if h.enabled {
		out := make([]slog.Attr, len(attrs))
		for i, a := range attrs {
			out[i] = h.redact(a)
		}
		attrs = out
	}
	return &RedactingHandler{handler: h.handler.WithAttrs(attrs), enabled: h.enabled}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{handler: h.handler.WithGroup(name), enabled: h.enabled}
}

func (h *RedactingHandler) redact(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, redacted)
		}
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		clean := make([]slog.Attr, len(group))
		for i, ga := range group {
			clean[i] = h.redact(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
	}
	return a
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs the global logger: JSON to stderr, redacting by default.
func Setup(level string, redact bool) {
	jsonHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	slog.SetDefault(slog.New(NewRedactingHandler(jsonHandler, redact)))
}

// Package logging carries a *slog.Logger and a set of attributes in a
// context.Context so every layer logs with the caller's request, event and
// component fields.
package logging

import (
	"context"
	"log/slog"
	"slices"
)

type ctxLoggerKey struct{}
type ctxAttrsKey struct{}

const requestIDKey = "request_id"

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

// WithAttrs adds attrs to every later log line of ctx. An attr replaces an
// earlier one with the same key in place.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(attrs) == 0 {
		return ctx
	}
	return context.WithValue(ctx, ctxAttrsKey{}, mergeAttrs(attrsOf(ctx), attrs))
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return WithAttrs(ctx, slog.String(requestIDKey, requestID))
}

func RequestID(ctx context.Context) string {
	for _, attr := range attrsOf(ctx) {
		if attr.Key == requestIDKey {
			return attr.Value.String()
		}
	}
	return ""
}

// Logger returns the logger of ctx, or slog.Default.
func Logger(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(ctxLoggerKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}

// Attrs returns a copy of the attributes carried by ctx.
func Attrs(ctx context.Context) []slog.Attr {
	return slices.Clone(attrsOf(ctx))
}

func Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	log(ctx, slog.LevelDebug, msg, attrs)
}

func Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	log(ctx, slog.LevelInfo, msg, attrs)
}

func Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	log(ctx, slog.LevelWarn, msg, attrs)
}

func Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	log(ctx, slog.LevelError, msg, attrs)
}

func log(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	logger := Logger(ctx)
	if ctx == nil {
		ctx = context.Background()
	}
	if !logger.Enabled(ctx, level) {
		return
	}
	logger.LogAttrs(ctx, level, msg, mergeAttrs(attrsOf(ctx), attrs)...)
}

func attrsOf(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	attrs, _ := ctx.Value(ctxAttrsKey{}).([]slog.Attr)
	return attrs
}

// mergeAttrs never modifies base or extra.
func mergeAttrs(base []slog.Attr, extra []slog.Attr) []slog.Attr {
	merged := make([]slog.Attr, 0, len(base)+len(extra))
	merged = append(merged, base...)

	for _, attr := range extra {
		idx := -1
		if attr.Key != "" {
			idx = slices.IndexFunc(merged, func(a slog.Attr) bool { return a.Key == attr.Key })
		}
		if idx >= 0 {
			merged[idx] = attr
			continue
		}
		merged = append(merged, attr)
	}
	return merged
}

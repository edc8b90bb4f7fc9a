// Package errs wraps errors with context and a transport-level kind while
// keeping the chain intact for errors.Is and errors.As.
package errs

import (
	"errors"
	"fmt"
	"log/slog"
)

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Loggable renders err as a structured group for slog:
//
//	slog.Any("err", errs.Loggable(err))
func Loggable(err error) slog.LogValuer { return loggable{err: err} }

type loggable struct{ err error }

func (l loggable) LogValue() slog.Value {
	if l.err == nil {
		return slog.GroupValue()
	}

	attrs := []slog.Attr{
		slog.String("message", l.err.Error()),
		slog.Any("chain", Chain(l.err)),
	}
	if kind := KindOf(l.err); kind != KindInternal {
		attrs = append(attrs, slog.String("kind", kind.String()))
	}
	return slog.GroupValue(attrs...)
}

// Chain lists the messages of the unwrap chain, outermost first. Joined
// errors contribute only their combined message.
func Chain(err error) []string {
	var out []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		out = append(out, e.Error())
	}
	return out
}

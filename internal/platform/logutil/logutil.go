// Package logutil normalizes optional *slog.Logger arguments so callers
// never have to nil-check before logging.
package logutil

import (
	"io"
	"log/slog"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Noop returns a shared logger whose output goes nowhere.
func Noop() *slog.Logger { return discard }

// NoopIfNil substitutes the discard logger for a nil l. Constructors that
// take a logger call this once and store the result.
func NoopIfNil(l *slog.Logger) *slog.Logger {
	if l == nil {
		return discard
	}
	return l
}

// Package logging configures the process-wide zerolog logger and the
// per-run fields that get stamped onto every log line for a single
// reconcile/suggest invocation.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the base logger for the process. In a TTY it uses zerolog's
// console writer for readability; otherwise it emits plain JSON so logs
// are consumable by a log aggregator.
func New(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	var w zerolog.ConsoleWriter
	if isTTY(os.Stderr) {
		w = zerolog.NewConsoleWriter()
		w.Out = os.Stderr
		w.TimeFormat = time.RFC3339
		return zerolog.New(w).Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// ForRun returns a child logger scoped to one control-surface invocation,
// stamping run_id so log lines can be correlated with the reason-code
// samples a reconcile/suggest call returns in its debug payload.
func ForRun(base zerolog.Logger, component, runID string) zerolog.Logger {
	return base.With().Str("component", component).Str("run_id", runID).Logger()
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

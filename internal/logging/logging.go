// Package logging wraps github.com/rs/zerolog the way the driver's three
// agents need it: one root logger configured once at startup, and a
// cheap per-agent child logger tagged with its own name, replacing the
// teacher's raw fmt.Fprintf(os.Stderr, ...) reporting with structured,
// leveled output.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds the root logger for level (one of zerolog's level names:
// "debug", "info", "warn", "error"), writing timestamped JSON lines to w
// (os.Stderr when w is nil) whatever kind of writer w is.
func New(levelName string, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("logging: invalid log level %q: %w", levelName, err)
	}
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// ForAgent returns a child logger tagged with agentName (an "agent"
// field), so every log line is attributable to the agent that emitted
// it. The Conductor/Sender/Receiver constructors add the same field to
// their injected logger themselves; cmd/flowdriverd uses ForAgent for the
// logger it passes to NewReceiver.
func ForAgent(root zerolog.Logger, agentName string) zerolog.Logger {
	return root.With().Str("agent", agentName).Logger()
}

// FatalIf reports err via logger at fatal level and exits the process
// (os.Exit instead of panic, since this is a startup-only helper for
// cmd/flowdriverd, not a library call path).
func FatalIf(logger zerolog.Logger, err error, msg string) {
	if err == nil {
		return
	}
	logger.Fatal().Err(err).Msg(msg)
}

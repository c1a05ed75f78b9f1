// Package logging provides the structured logger used throughout the
// pipeline. Output is zerolog's structured JSON; when a log file path is
// configured, writes are rotated through lumberjack the same way the
// teacher rotates its own log output.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.Mutex
	base   = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Configure points the package-level base logger at the given file path
// (rotated via lumberjack) in addition to stderr. Pass an empty path to
// log to stderr only.
func Configure(filePath string, maxSizeMB, maxBackups, maxAgeDays int, level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()

	var writers []io.Writer
	writers = append(writers, os.Stderr)
	if filePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   true,
		})
	}
	base = zerolog.New(io.MultiWriter(writers...)).Level(level).With().Timestamp().Logger()
}

// For returns a logger scoped to one pipeline execution, with iepId,
// childId and userId pre-bound as fields.
func For(iepID, childID, userID string) zerolog.Logger {
	mu.Lock()
	l := base
	mu.Unlock()
	return l.With().
		Str("iepId", iepID).
		Str("childId", childID).
		Str("userId", userID).
		Logger()
}

// Base returns the package-level logger without per-execution fields.
func Base() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base
}

// WithStep returns a child logger annotated with the current step label,
// the unit the Orchestrator reports progress against.
func WithStep(l zerolog.Logger, step string) zerolog.Logger {
	return l.With().Str("step", step).Logger()
}

// WithExecution returns a child logger annotated with an execution id,
// for correlating log lines across an orchestrator run.
func WithExecution(l zerolog.Logger, executionID string) zerolog.Logger {
	return l.With().Str("execution_id", executionID).Logger()
}

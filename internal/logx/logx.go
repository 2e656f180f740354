// Package logx wires pslog for the CLI and annotates loggers with stream metadata.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pkt.systems/pslog"
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// New builds the process logger from the environment, writing to w.
func New(w io.Writer, debug bool) pslog.Logger {
	opts := pslog.Options{Mode: pslog.ModeConsole, MinLevel: pslog.InfoLevel}
	if debug {
		opts.MinLevel = pslog.DebugLevel
	}
	if f, ok := w.(*os.File); !ok || f != os.Stderr {
		opts.NoColor = true
	}
	return pslog.LoggerFromEnv(
		pslog.WithEnvWriter(w),
		pslog.WithEnvOptions(opts),
	)
}

// OpenFile opens (appending) the log file at path, creating parent directories.
func OpenFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, sessionID string) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithSource annotates the logger with the source name when available.
func WithSource(log pslog.Logger, source string) pslog.Logger {
	if source != "" {
		log = log.With("source", source)
	}
	return log
}

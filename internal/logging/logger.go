// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package logging builds the structured logger shared by the
// replicawire client core and its optional domain components.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nishisan-dev/replicawire/internal/config"
)

// Logger wraps a *slog.Logger with a level that can be raised or
// lowered after construction. The autoscaler uses this to turn up
// verbosity for the duration of a load-driven pool resize without a
// config reload or process restart — see internal/autoscale.
type Logger struct {
	*slog.Logger

	level *slog.LevelVar
}

// SetLevel changes the minimum level accepted by this Logger and by
// every derived logger obtained via its embedded With/WithGroup calls,
// since they all share the same underlying handler and LevelVar.
func (l *Logger) SetLevel(level slog.Level) {
	l.level.Set(level)
}

// New builds a Logger from cfg. Supported formats: "json" (default)
// and "text". Supported levels: "debug", "info" (default), "warn",
// "error". If cfg.FilePath is non-empty, logs go to stdout + file
// (MultiWriter). Returns the logger and an io.Closer to call on
// shutdown; if FilePath is empty the returned Closer is a no-op.
func New(cfg config.LoggingInfo) (*Logger, io.Closer) {
	levelVar := &slog.LevelVar{}
	levelVar.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: levelVar}

	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(strings.NewReader(""))

	if cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", cfg.FilePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler), level: levelVar}, closer
}

func parseLevel(level string) slog.Level {
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

// Package ledgerlog builds the *slog.Logger handed explicitly to the
// ledger and its satellite packages, backed by a rotating log file. The
// teacher's go.mod carries gopkg.in/natefinch/lumberjack.v2 as a direct
// dependency without a retrieved call site; this package gives it one.
package ledgerlog

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the rotating file handler.
type Config struct {
	// Path is the log file path. Empty disables file output (stderr only).
	Path string
	// MaxSizeMB is the size in megabytes a log file reaches before it is
	// rotated. Defaults to 50.
	MaxSizeMB int
	// MaxBackups is how many rotated files to retain. Defaults to 3.
	MaxBackups int
	// MaxAgeDays is how many days to retain rotated files. Defaults to 28.
	MaxAgeDays int
	// Level sets the minimum logged level. Defaults to slog.LevelInfo.
	Level slog.Level
	// AlsoStderr additionally writes to stderr, e.g. for a foreground CLI run.
	AlsoStderr bool
}

// New builds a *slog.Logger writing JSON lines to a lumberjack-rotated
// file (and optionally stderr).
func New(cfg Config) *slog.Logger {
	var writers []io.Writer

	if cfg.Path != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    nonZero(cfg.MaxSizeMB, 50),
			MaxBackups: nonZero(cfg.MaxBackups, 3),
			MaxAge:     nonZero(cfg.MaxAgeDays, 28),
			Compress:   true,
		})
	}
	if cfg.AlsoStderr || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	var out io.Writer
	if len(writers) == 1 {
		out = writers[0]
	} else {
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.Level})
	return slog.New(handler)
}

func nonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

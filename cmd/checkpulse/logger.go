package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ericfisherdev/checkpulse/internal/config"
)

// loggerResult is the configured logger and the file it writes to, if any.
type loggerResult struct {
	Logger  *slog.Logger
	LogFile io.WriteCloser
}

// Close closes the log file if one was opened.
func (r *loggerResult) Close() error {
	if r.LogFile != nil {
		return r.LogFile.Close()
	}
	return nil
}

// setupLogger builds the process logger. Output goes to stderr unless a log
// file is configured, in which case lumberjack rotates it.
func setupLogger(cfg *config.Config) (*loggerResult, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var (
		w       io.Writer = os.Stderr
		logFile io.WriteCloser
	)
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogRotation.MaxSizeMB,
			MaxBackups: cfg.LogRotation.MaxBackups,
			MaxAge:     cfg.LogRotation.MaxAgeDays,
			Compress:   cfg.LogRotation.Compress,
		}
		w, logFile = lj, lj
	}

	return &loggerResult{
		Logger:  slog.New(newHandler(w, cfg.LogFormat, level)),
		LogFile: logFile,
	}, nil
}

func newHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

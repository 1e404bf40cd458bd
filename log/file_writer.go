package log

import (
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileRotationConfig controls rotating file output for a Logger.
type FileRotationConfig struct {
	// Filename is the log file path.
	Filename string
	// MaxSizeMB is the maximum size in megabytes before rotation.
	// Defaults to 100 when zero.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to retain. Zero keeps all.
	MaxBackups int
	// MaxAgeDays is the number of days to retain rotated files. Zero keeps
	// them indefinitely.
	MaxAgeDays int
	// Compress enables gzip compression of rotated files.
	Compress bool
}

// NewFileLogger returns a Logger that writes JSON lines to a rotating log
// file managed by lumberjack, at the given level.
func NewFileLogger(level slog.Level, cfg FileRotationConfig) *Logger {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	w := &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{inner: slog.New(h)}
}

// Package logger provides the process-wide slog logger.
//
// Logs go to both stderr and a dated file under the iris log directory.
// Stdout stays clean because the stdio transport owns it.
// The level comes from LOG_LEVEL (debug|info|warn|error); DEBUG=1 forces
// debug regardless.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	slogger *slog.Logger
	logFile *os.File
)

// Init initializes the logger. If jsonOutput is true, logs are formatted
// as JSON for production.
func Init(logDir string, jsonOutput bool) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}

	logFileName := "iris-" + time.Now().Format("2006-01-02") + ".log"
	logFilePath := filepath.Join(logDir, logFileName)

	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	writer := io.MultiWriter(os.Stderr, logFile)

	opts := &slog.HandlerOptions{Level: levelFromEnv()}
	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	slogger = slog.New(handler)
	slog.SetDefault(slogger)

	return nil
}

// levelFromEnv resolves the log level from LOG_LEVEL or DEBUG.
func levelFromEnv() slog.Level {
	if os.Getenv("DEBUG") == "1" || strings.EqualFold(os.Getenv("DEBUG"), "true") {
		return slog.LevelDebug
	}
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
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

// Close closes the log file.
func Close() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

// Log returns the slog.Logger instance for structured logging.
func Log() *slog.Logger {
	if slogger == nil {
		return slog.Default()
	}
	return slogger
}

// With returns a child logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return Log().With(args...)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) { Log().Debug(msg, args...) }

// Info logs an informational message.
func Info(msg string, args ...any) { Log().Info(msg, args...) }

// Warn logs a warning.
func Warn(msg string, args ...any) { Log().Warn(msg, args...) }

// Error logs an error message.
func Error(msg string, args ...any) { Log().Error(msg, args...) }

// Package log is the structured logging layer of scitune.
//
// Loggers take alternating key/value fields like log/slog. The default
// provider writes zerolog JSON to stderr; Configure switches to console or
// slog (Cloud Logging) output. A Logger also satisfies the Temporal SDK
// logger interface and is passed to cluster clients and workers as is.
//
//	logger := log.GetLoggerWithName("tune").With(log.StudyKey, "rf-accuracy")
//	logger.Info("trial finished", log.TrialNumberKey, 3, log.TrialValueKey, 0.94)
//	logger.Error("trial failed", err, log.TrialNumberKey, 7)
package log

import (
	"context"
	"strings"
)

// Logger は構造化ロガー。先頭フィールドが error なら "error" キーとスタックトレースで出力する。
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)

	// With binds fields to every entry of the returned logger.
	With(fields ...any) Logger

	// Enabled guards fields that are expensive to build, such as the
	// acquisition scores of every GP candidate.
	Enabled(ctx context.Context, level Level) bool
}

// Level uses the slog.Level numbering so it converts directly.
type Level int

const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseLevel maps a config value such as "debug" or "WARN" to a Level.
// Anything unrecognized is LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LoggerProvider creates loggers that share an output and a level.
type LoggerProvider interface {
	GetLogger() Logger
	GetLoggerWithName(name string) Logger
	SetLevel(level Level)
}

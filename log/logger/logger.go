package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LevelSQL SQL 语句日志级别，介于 info 和 warn 之间
const LevelSQL = slog.Level(2)

// Logger 日志接口
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// Log 按指定级别输出，用于 LevelSQL 这类自定义级别
	Log(ctx context.Context, level slog.Level, msg string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

// ParseLevel 解析日志级别：debug, info, sql, warn, error
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "sql":
		return LevelSQL, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", level)
	}
}

// LevelName 日志级别名称，LevelSQL 输出为 SQL
func LevelName(level slog.Level) string {
	if level == LevelSQL {
		return "SQL"
	}
	return level.String()
}

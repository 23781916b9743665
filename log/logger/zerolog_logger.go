package logger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hatlonely/rdbx/log/writer"
	"github.com/hatlonely/rdbx/ref"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ZeroLogOptions zerolog 日志选项，json 行格式输出
type ZeroLogOptions struct {
	Level  string           `cfg:"level" def:"info" validate:"omitempty,oneof=debug info sql warn error"`
	Output *ref.TypeOptions `cfg:"output"`
	// Console 为 true 时使用 zerolog.ConsoleWriter 输出人类可读格式
	Console bool           `cfg:"console"`
	Fields  map[string]any `cfg:"fields"`
}

type ZeroLog struct {
	zlogger zerolog.Logger
	level   slog.Level
}

func NewZeroLogWithOptions(options *ZeroLogOptions) (*ZeroLog, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}

	level, err := ParseLevel(options.Level)
	if err != nil {
		return nil, errors.WithMessage(err, "invalid log level")
	}

	w, err := writer.NewWriterWithOptions(options.Output)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create writer")
	}

	var zlogger zerolog.Logger
	if options.Console {
		zlogger = zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true})
	} else {
		zlogger = zerolog.New(w)
	}
	zctx := zlogger.With().Timestamp()
	if len(options.Fields) > 0 {
		zctx = zctx.Fields(options.Fields)
	}

	return &ZeroLog{zlogger: zctx.Logger(), level: level}, nil
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (l *ZeroLog) Log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if level < l.level {
		return
	}
	event := l.zlogger.WithLevel(zerologLevel(level))
	if level == LevelSQL {
		event = event.Str("channel", strings.ToLower(LevelName(level)))
	}
	if len(args) > 0 {
		event = event.Fields(args)
	}
	event.Ctx(ctx).Msg(msg)
}

func (l *ZeroLog) Debug(msg string, args ...any) {
	l.Log(context.Background(), slog.LevelDebug, msg, args...)
}

func (l *ZeroLog) Info(msg string, args ...any) {
	l.Log(context.Background(), slog.LevelInfo, msg, args...)
}

func (l *ZeroLog) Warn(msg string, args ...any) {
	l.Log(context.Background(), slog.LevelWarn, msg, args...)
}

func (l *ZeroLog) Error(msg string, args ...any) {
	l.Log(context.Background(), slog.LevelError, msg, args...)
}

func (l *ZeroLog) DebugContext(ctx context.Context, msg string, args ...any) {
	l.Log(ctx, slog.LevelDebug, msg, args...)
}

func (l *ZeroLog) InfoContext(ctx context.Context, msg string, args ...any) {
	l.Log(ctx, slog.LevelInfo, msg, args...)
}

func (l *ZeroLog) WarnContext(ctx context.Context, msg string, args ...any) {
	l.Log(ctx, slog.LevelWarn, msg, args...)
}

func (l *ZeroLog) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.Log(ctx, slog.LevelError, msg, args...)
}

func (l *ZeroLog) With(args ...any) Logger {
	return &ZeroLog{zlogger: l.zlogger.With().Fields(args).Logger(), level: l.level}
}

// WithGroup zerolog 没有分组的概念，记录为 group 字段
func (l *ZeroLog) WithGroup(name string) Logger {
	return &ZeroLog{zlogger: l.zlogger.With().Str("group", name).Logger(), level: l.level}
}

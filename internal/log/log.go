package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger is a structured logging handle passed to each component.
// Key/value pairs follow the msg argument: key, value, key, value, ...
type Logger struct {
	zl zerolog.Logger
}

var std = New(os.Stderr, LevelInfo)

// New creates a Logger writing console-formatted lines to w.
func New(w io.Writer, level Level) *Logger {
	out := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		TimeFormat: time.RFC3339Nano,
	}
	zl := zerolog.New(out).With().Timestamp().Logger().Level(zerologLevel(level))
	return &Logger{zl: zl}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Default returns the process-wide logger used by main.
func Default() *Logger {
	return std
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	if l != nil {
		std = l
	}
}

// ParseLevel maps a config/env string to a Level.
func ParseLevel(raw string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// With returns a child logger that always carries kv.
func (l *Logger) With(kv ...any) *Logger {
	if l == nil {
		return Nop()
	}
	ctx := l.zl.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) Debug(msg string, kv ...any) {
	l.log(zerolog.DebugLevel, msg, nil, kv...)
}

func (l *Logger) Info(msg string, kv ...any) {
	l.log(zerolog.InfoLevel, msg, nil, kv...)
}

func (l *Logger) Warn(msg string, kv ...any) {
	l.log(zerolog.WarnLevel, msg, nil, kv...)
}

func (l *Logger) Error(msg string, err error, kv ...any) {
	l.log(zerolog.ErrorLevel, msg, err, kv...)
}

func (l *Logger) log(level zerolog.Level, msg string, err error, kv ...any) {
	if l == nil {
		return
	}
	ev := l.zl.WithLevel(level)
	if ev == nil {
		return
	}
	if err != nil {
		ev = ev.Err(err)
	}
	// If odd number of args, last one is ignored.
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = appendField(ev, key, kv[i+1])
	}
	ev.Msg(msg)
}

func appendField(ev *zerolog.Event, key string, val any) *zerolog.Event {
	switch v := val.(type) {
	case string:
		return ev.Str(key, v)
	case int:
		return ev.Int(key, v)
	case bool:
		return ev.Bool(key, v)
	case time.Duration:
		return ev.Dur(key, v)
	case time.Time:
		return ev.Time(key, v)
	case error:
		return ev.AnErr(key, v)
	case fmt.Stringer:
		return ev.Stringer(key, v)
	default:
		return ev.Interface(key, v)
	}
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func Debug(msg string, kv ...any) {
	std.Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	std.Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	std.Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	std.Error(msg, err, kv...)
}

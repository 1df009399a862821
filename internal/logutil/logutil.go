// Package logutil provides the keyval-style structured logging call
// convention used throughout this module (Info(msg, "k", v, ...)),
// backed by zerolog rather than a bare log/slog shim.
package logutil

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once sync.Once
	root zerolog.Logger
)

func rootLogger() zerolog.Logger {
	once.Do(func() {
		root = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	})
	return root
}

// Logger wraps a zerolog.Logger with go-ethereum-style keyval methods.
type Logger struct {
	l zerolog.Logger
}

// New returns a Logger tagged with the given context fields.
func New(kv ...any) *Logger {
	ctx := rootLogger().With()
	ctx = applyKV(ctx, kv)
	l := ctx.Logger()
	return &Logger{l: l}
}

func applyKV(ctx zerolog.Context, kv []any) zerolog.Context {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ctx = ctx.Interface(key, kv[i+1])
	}
	return ctx
}

func event(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

func (l *Logger) Trace(msg string, kv ...any) { event(l.l.Trace(), msg, kv) }
func (l *Logger) Debug(msg string, kv ...any) { event(l.l.Debug(), msg, kv) }
func (l *Logger) Info(msg string, kv ...any)  { event(l.l.Info(), msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)  { event(l.l.Warn(), msg, kv) }
func (l *Logger) Error(msg string, kv ...any) { event(l.l.Error(), msg, kv) }
func (l *Logger) Crit(msg string, kv ...any)  { event(l.l.Fatal(), msg, kv) }

// package-level convenience logger, for call sites with no per-component
// context to attach (mirrors the teacher's package-level log.Info calls).
var std = New()

func Trace(msg string, kv ...any) { std.Trace(msg, kv...) }
func Debug(msg string, kv ...any) { std.Debug(msg, kv...) }
func Info(msg string, kv ...any)  { std.Info(msg, kv...) }
func Warn(msg string, kv ...any)  { std.Warn(msg, kv...) }
func Error(msg string, kv ...any) { std.Error(msg, kv...) }
func Crit(msg string, kv ...any)  { std.Crit(msg, kv...) }

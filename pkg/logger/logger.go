// Package logger is sagaflow's structured logger: log/slog with a runtime
// adjustable level, JSON or text output, caller source and the active
// OpenTelemetry trace and span ids on every record logged with a context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Level is a logging threshold.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levels = [...]struct {
	name  string
	value slog.Level
}{
	DebugLevel: {"debug", slog.LevelDebug},
	InfoLevel:  {"info", slog.LevelInfo},
	WarnLevel:  {"warn", slog.LevelWarn},
	ErrorLevel: {"error", slog.LevelError},
}

func (l Level) String() string {
	if l < DebugLevel || l > ErrorLevel {
		return "unknown"
	}
	return levels[l].name
}

func (l Level) toSlog() slog.Level {
	if l < DebugLevel || l > ErrorLevel {
		return slog.LevelInfo
	}
	return levels[l].value
}

func levelOf(s slog.Level) Level {
	switch {
	case s >= slog.LevelError:
		return ErrorLevel
	case s >= slog.LevelWarn:
		return WarnLevel
	case s >= slog.LevelInfo:
		return InfoLevel
	default:
		return DebugLevel
	}
}

// ParseLevel maps a config value to a Level. Unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Config selects level, format and destination.
type Config struct {
	Level Level
	// Format is "json" (default) or "text".
	Format string
	// Output is "stdout" (default), "stderr", "discard" or a file path
	// opened for append.
	Output string
	// Writer, when set, takes precedence over Output.
	Writer io.Writer
}

// Logger is the logging surface used across sagaflow.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	With(args ...any) Logger
	WithContext(ctx context.Context) context.Context

	SetLevel(level Level)
	GetLevel() Level

	// Close releases the log file, if the logger opened one.
	Close() error
}

// SlogLogger implements Logger on a slog.Handler.
type SlogLogger struct {
	handler slog.Handler
	// level is shared with every logger derived through With.
	level  *slog.LevelVar
	closer io.Closer
}

// New builds a logger. A nil cfg means info level JSON on stdout. A log file
// that cannot be opened falls back to stderr.
func New(cfg *Config) Logger {
	if cfg == nil {
		cfg = &Config{Level: InfoLevel}
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Level.toSlog())

	w, closer := cfg.Writer, io.Closer(nil)
	if w == nil {
		w, closer = openOutput(cfg.Output)
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   true,
		ReplaceAttr: renameMessage,
	}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &SlogLogger{
		handler: traceHandler{h},
		level:   level,
		closer:  closer,
	}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	level := new(slog.LevelVar)
	level.Set(slog.LevelError)
	return &SlogLogger{
		handler: slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: level}),
		level:   level,
	}
}

func openOutput(output string) (io.Writer, io.Closer) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "discard":
		return io.Discard, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v, logging to stderr\n", err)
		return os.Stderr, nil
	}
	return f, f
}

func renameMessage(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.MessageKey {
		a.Key = "message"
	}
	return a
}

// traceHandler adds trace_id and span_id from the record's context.
type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}

// log records at the caller skip frames above it, so source points at the
// code that logged rather than at this package.
func (l *SlogLogger) log(ctx context.Context, skip int, level Level, msg string, args ...any) {
	if ctx == nil {
		ctx = context.Background()
	}
	lvl := level.toSlog()
	if !l.handler.Enabled(ctx, lvl) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(skip, pcs[:])
	r := slog.NewRecord(time.Now(), lvl, msg, pcs[0])
	r.Add(args...)
	_ = l.handler.Handle(ctx, r)
}

// Frames between a caller and runtime.Callers: Callers, log and the method.
const methodSkip = 3

func (l *SlogLogger) Debug(msg string, args ...any) {
	l.log(context.Background(), methodSkip, DebugLevel, msg, args...)
}

func (l *SlogLogger) Info(msg string, args ...any) {
	l.log(context.Background(), methodSkip, InfoLevel, msg, args...)
}

func (l *SlogLogger) Warn(msg string, args ...any) {
	l.log(context.Background(), methodSkip, WarnLevel, msg, args...)
}

func (l *SlogLogger) Error(msg string, args ...any) {
	l.log(context.Background(), methodSkip, ErrorLevel, msg, args...)
}

func (l *SlogLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, methodSkip, DebugLevel, msg, args...)
}

func (l *SlogLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, methodSkip, InfoLevel, msg, args...)
}

func (l *SlogLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, methodSkip, WarnLevel, msg, args...)
}

func (l *SlogLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, methodSkip, ErrorLevel, msg, args...)
}

// With returns a child logger carrying args on every record. The child
// shares the level and does not own the log file.
func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{handler: slog.New(l.handler).With(args...).Handler(), level: l.level}
}

// WithContext stores l in ctx for FromContext.
func (l *SlogLogger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerKey{}, Logger(l))
}

func (l *SlogLogger) SetLevel(level Level) {
	l.level.Set(level.toSlog())
}

func (l *SlogLogger) GetLevel() Level {
	return levelOf(l.level.Level())
}

func (l *SlogLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

type loggerKey struct{}

// FromContext returns the logger stored by WithContext, or the global one.
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
			return l
		}
	}
	return Global()
}

var (
	globalMu sync.RWMutex
	global   Logger = New(&Config{Level: InfoLevel, Format: "text"})
)

// Global returns the process-wide logger.
func Global() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

// SetGlobal replaces the process-wide logger. nil is ignored.
func SetGlobal(l Logger) {
	if l == nil {
		return
	}
	globalMu.Lock()
	global = l
	globalMu.Unlock()
}

// SetLevel changes the level of the global logger.
func SetLevel(level Level) {
	Global().SetLevel(level)
}

// The package functions add logGlobal to the chain.
const globalSkip = methodSkip + 1

func logGlobal(ctx context.Context, level Level, msg string, args ...any) {
	g := Global()
	if s, ok := g.(*SlogLogger); ok {
		s.log(ctx, globalSkip, level, msg, args...)
		return
	}
	switch level {
	case DebugLevel:
		g.DebugContext(ctx, msg, args...)
	case WarnLevel:
		g.WarnContext(ctx, msg, args...)
	case ErrorLevel:
		g.ErrorContext(ctx, msg, args...)
	default:
		g.InfoContext(ctx, msg, args...)
	}
}

func Debug(msg string, args ...any) { logGlobal(context.Background(), DebugLevel, msg, args...) }
func Info(msg string, args ...any)  { logGlobal(context.Background(), InfoLevel, msg, args...) }
func Warn(msg string, args ...any)  { logGlobal(context.Background(), WarnLevel, msg, args...) }
func Error(msg string, args ...any) { logGlobal(context.Background(), ErrorLevel, msg, args...) }

func DebugContext(ctx context.Context, msg string, args ...any) {
	logGlobal(ctx, DebugLevel, msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	logGlobal(ctx, InfoLevel, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	logGlobal(ctx, WarnLevel, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	logGlobal(ctx, ErrorLevel, msg, args...)
}

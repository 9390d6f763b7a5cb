package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"
)

// SlogLogger implements Logger on top of a slog.Handler.
type SlogLogger struct {
	handler slog.Handler
	level   slog.Level
	module  string
	fields  []Field
	traceID string
	// levelFor resolves the level of a child module; nil means inherit.
	levelFor func(module string) (slog.Level, bool)
	flush    func() error
}

// NewSlogLogger creates a new slog-based logger with JSON output.
// A nil writer logs to stdout and a nil timezone means UTC.
func NewSlogLogger(writer io.Writer, level LogLevel, timezone *time.Location) *SlogLogger {
	if writer == nil {
		writer = os.Stdout
	}
	if timezone == nil {
		timezone = time.UTC
	}
	return &SlogLogger{
		handler: newJSONHandler(writer, LevelTrace, timezone),
		level:   parseSlogLevel(level),
	}
}

// NewConsoleLogger creates a console logger with human-readable text format,
// used before the central logger is configured.
func NewConsoleLogger(module string, level LogLevel) *SlogLogger {
	return &SlogLogger{
		handler: newTextHandler(os.Stdout, LevelTrace, time.Local),
		level:   parseSlogLevel(level),
		module:  module,
	}
}

// NewDiscardLogger returns a logger that drops everything. Useful in tests.
func NewDiscardLogger() *SlogLogger {
	return &SlogLogger{
		handler: slog.NewTextHandler(io.Discard, nil),
		level:   slog.LevelError + 1,
	}
}

func (l *SlogLogger) clone() *SlogLogger {
	c := *l
	c.fields = slices.Clone(l.fields)
	return &c
}

// Module returns a logger scoped to a child module. Nested modules are joined with a dot.
func (l *SlogLogger) Module(name string) Logger {
	c := l.clone()
	if l.module != "" {
		c.module = l.module + "." + name
	} else {
		c.module = name
	}
	if l.levelFor != nil {
		if lvl, ok := l.levelFor(c.module); ok {
			c.level = lvl
		}
	}
	return c
}

func (l *SlogLogger) Trace(msg string, fields ...Field) { l.log(LevelTrace, msg, fields) }
func (l *SlogLogger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields) }
func (l *SlogLogger) Info(msg string, fields ...Field)  { l.log(slog.LevelInfo, msg, fields) }
func (l *SlogLogger) Warn(msg string, fields ...Field)  { l.log(slog.LevelWarn, msg, fields) }
func (l *SlogLogger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields) }

// Log logs at an explicit level.
func (l *SlogLogger) Log(level LogLevel, msg string, fields ...Field) {
	l.log(parseSlogLevel(level), msg, fields)
}

// With returns a logger that adds fields to every record.
func (l *SlogLogger) With(fields ...Field) Logger {
	c := l.clone()
	c.fields = append(c.fields, fields...)
	return c
}

// WithContext returns a logger carrying the trace id from ctx.
func (l *SlogLogger) WithContext(ctx context.Context) Logger {
	id := TraceIDFromContext(ctx)
	if id == "" {
		return l
	}
	c := l.clone()
	c.traceID = id
	return c
}

// Flush writes buffered output, if the underlying sink buffers.
func (l *SlogLogger) Flush() error {
	if l.flush != nil {
		return l.flush()
	}
	return nil
}

// Enabled reports whether a record at level would be written.
func (l *SlogLogger) Enabled(level LogLevel) bool {
	return parseSlogLevel(level) >= l.level
}

func (l *SlogLogger) log(level slog.Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	ctx := context.Background()
	if !l.handler.Enabled(ctx, level) {
		return
	}

	record := slog.NewRecord(time.Now(), level, msg, 0)
	if l.module != "" {
		record.AddAttrs(slog.String("module", l.module))
	}
	if l.traceID != "" {
		record.AddAttrs(slog.String("trace_id", l.traceID))
	}
	for _, f := range l.fields {
		record.AddAttrs(slog.Any(f.Key, f.Value))
	}
	for _, f := range fields {
		record.AddAttrs(slog.Any(f.Key, f.Value))
	}
	_ = l.handler.Handle(ctx, record)
}

// replaceAttrFunc renders time in tz and prints the custom trace level name.
func replaceAttrFunc(tz *time.Location) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.TimeKey:
			if t, ok := a.Value.Any().(time.Time); ok {
				return slog.Time(slog.TimeKey, t.In(tz))
			}
		case slog.LevelKey:
			if lvl, ok := a.Value.Any().(slog.Level); ok {
				return slog.String(slog.LevelKey, levelName(lvl))
			}
		}
		return a
	}
}

func newJSONHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttrFunc(tz),
	})
}

func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttrFunc(tz),
	})
}

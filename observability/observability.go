package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Sink receives non-fatal anomalies found while reading a file. Components
// take a Sink at construction; there is no package-level logger.
type Sink interface {
	Add(d Diagnostic)
	Warn(msg string, fields ...Field)
	Info(msg string, fields ...Field)
}

// Level grades a diagnostic.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Diagnostic is one recorded anomaly.
type Diagnostic struct {
	Level     Level
	Component string
	Offset    int64
	Message   string
	Err       error
	Fields    []Field
}

func (d Diagnostic) String() string {
	s := fmt.Sprintf("[%s] %s", d.Level, d.Message)
	if d.Component != "" {
		s = fmt.Sprintf("[%s] %s: %s", d.Level, d.Component, d.Message)
	}
	if d.Offset >= 0 {
		s += fmt.Sprintf(" (offset %d)", d.Offset)
	}
	if d.Err != nil {
		s += ": " + d.Err.Error()
	}
	return s
}

type Field interface {
	Key() string
	Value() interface{}
}

type stringField struct{ key, val string }

func (f stringField) Key() string        { return f.key }
func (f stringField) Value() interface{} { return f.val }

type intField struct {
	key string
	val int
}

func (f intField) Key() string        { return f.key }
func (f intField) Value() interface{} { return f.val }

type int64Field struct {
	key string
	val int64
}

func (f int64Field) Key() string        { return f.key }
func (f int64Field) Value() interface{} { return f.val }

type errorField struct {
	key string
	err error
}

func (f errorField) Key() string        { return f.key }
func (f errorField) Value() interface{} { return f.err }

func String(key, value string) Field      { return stringField{key, value} }
func Int(key string, value int) Field     { return intField{key, value} }
func Int64(key string, value int64) Field { return int64Field{key, value} }
func Error(key string, err error) Field   { return errorField{key, err} }

// Warnf is shorthand for adding a warning tied to a component and offset.
func Warnf(s Sink, component string, offset int64, format string, args ...any) {
	if s == nil {
		return
	}
	s.Add(Diagnostic{Level: LevelWarn, Component: component, Offset: offset, Message: fmt.Sprintf(format, args...)})
}

// OrNop returns s, or a sink that drops everything when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return NopSink{}
	}
	return s
}

type NopSink struct{}

func (NopSink) Add(Diagnostic)        {}
func (NopSink) Warn(string, ...Field) {}
func (NopSink) Info(string, ...Field) {}

// Recorder keeps diagnostics in memory.
type Recorder struct {
	mu    sync.Mutex
	diags []Diagnostic
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Add(d Diagnostic) {
	r.mu.Lock()
	r.diags = append(r.diags, d)
	r.mu.Unlock()
}

func (r *Recorder) Warn(msg string, fields ...Field) {
	r.Add(Diagnostic{Level: LevelWarn, Offset: -1, Message: msg, Fields: fields})
}

func (r *Recorder) Info(msg string, fields ...Field) {
	r.Add(Diagnostic{Level: LevelInfo, Offset: -1, Message: msg, Fields: fields})
}

// Diagnostics returns a copy of everything recorded so far.
func (r *Recorder) Diagnostics() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Diagnostic(nil), r.diags...)
}

// Count returns how many diagnostics of the given level were recorded.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.diags {
		if d.Level == level {
			n++
		}
	}
	return n
}

// SlogSink forwards diagnostics to a slog.Logger.
type SlogSink struct {
	Logger *slog.Logger
}

func NewSlogSink(l *slog.Logger) *SlogSink {
	if l == nil {
		l = slog.Default()
	}
	return &SlogSink{Logger: l}
}

func (s *SlogSink) Add(d Diagnostic) {
	attrs := make([]any, 0, 2*len(d.Fields)+6)
	if d.Component != "" {
		attrs = append(attrs, slog.String("component", d.Component))
	}
	if d.Offset >= 0 {
		attrs = append(attrs, slog.Int64("offset", d.Offset))
	}
	if d.Err != nil {
		attrs = append(attrs, slog.String("error", d.Err.Error()))
	}
	attrs = append(attrs, slogAttrs(d.Fields)...)
	s.Logger.Log(context.Background(), slogLevel(d.Level), d.Message, attrs...)
}

func (s *SlogSink) Warn(msg string, fields ...Field) {
	s.Logger.Warn(msg, slogAttrs(fields)...)
}

func (s *SlogSink) Info(msg string, fields ...Field) {
	s.Logger.Info(msg, slogAttrs(fields)...)
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func slogAttrs(fields []Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key(), f.Value()))
	}
	return out
}

// Tracer provides tracing hooks for library operations.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span represents a tracing span.
type Span interface {
	SetTag(key string, value interface{})
	SetError(err error)
	Finish()
}

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

// NopTracer returns a tracer that does nothing.
func NopTracer() Tracer { return nopTracer{} }

type nopSpan struct{}

func (nopSpan) SetTag(string, interface{}) {}
func (nopSpan) SetError(error)             {}
func (nopSpan) Finish()                    {}

// Span names emitted by the library.
const (
	SpanOpen    = "pdf.open"
	SpanBuild   = "pdf.xref.build"
	SpanRebuild = "pdf.xref.rebuild"
)

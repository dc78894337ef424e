package logger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oarkflow/log"
)

// Logger is the minimal structured logging surface the engine needs.
// Key/value pairs follow the slog convention: alternating string keys and
// arbitrary values.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// TraceIDFunc extracts a trace id from a context for request correlation.
// A nil func or empty result means no trace id is attached.
type TraceIDFunc func(ctx context.Context) string

// ============================================================================
// DEFAULT IMPLEMENTATION
// ============================================================================

// DefaultLogger writes structured JSON via github.com/oarkflow/log.
type DefaultLogger struct {
	l *log.Logger
}

func NewDefault() *DefaultLogger {
	return &DefaultLogger{l: &log.Logger{
		Level:      log.InfoLevel,
		TimeField:  "ts",
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}}
}

// NewWith wraps an existing oarkflow/log logger.
func NewWith(l *log.Logger) *DefaultLogger {
	return &DefaultLogger{l: l}
}

func (d *DefaultLogger) Debug(msg string, keyvals ...any) {
	appendKeyvals(d.l.Debug(), keyvals).Msg(msg)
}

func (d *DefaultLogger) Info(msg string, keyvals ...any) {
	appendKeyvals(d.l.Info(), keyvals).Msg(msg)
}

func (d *DefaultLogger) Error(msg string, keyvals ...any) {
	appendKeyvals(d.l.Error(), keyvals).Msg(msg)
}

func appendKeyvals(e *log.Entry, keyvals []any) *log.Entry {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		switch v := keyvals[i+1].(type) {
		case string:
			e = e.Str(key, v)
		case bool:
			e = e.Bool(key, v)
		case int:
			e = e.Int(key, v)
		case error:
			e = e.Str(key, v.Error())
		default:
			e = e.Any(key, v)
		}
	}
	return e
}

// ============================================================================
// ADAPTERS
// ============================================================================

// SlogLogger adapts a *slog.Logger for callers already standardized on slog.
type SlogLogger struct {
	l *slog.Logger
}

func NewSlog(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(msg string, keyvals ...any) { s.l.Debug(msg, keyvals...) }
func (s *SlogLogger) Info(msg string, keyvals ...any)  { s.l.Info(msg, keyvals...) }
func (s *SlogLogger) Error(msg string, keyvals ...any) { s.l.Error(msg, keyvals...) }

// NullLogger discards everything. Used as the default when no logger is
// configured and in tests that do not assert on log output.
type NullLogger struct{}

func NewNull() *NullLogger { return &NullLogger{} }

func (NullLogger) Debug(string, ...any) {}
func (NullLogger) Info(string, ...any)  {}
func (NullLogger) Error(string, ...any) {}

// Package ratelimit provides logging hooks.
package ratelimit

import (
	"io"
	"log/slog"
)

// Logger provides structured logging hooks.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// SlogLogger logs JSON records through log/slog.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger constructs a logger writing JSON to w.
func NewSlogLogger(w io.Writer) *SlogLogger {
	return &SlogLogger{l: slog.New(slog.NewJSONHandler(w, nil))}
}

// Info logs an info message.
func (s *SlogLogger) Info(msg string, fields map[string]any) {
	if s == nil || s.l == nil {
		return
	}
	s.l.Info(msg, attrs(fields)...)
}

// Error logs an error message.
func (s *SlogLogger) Error(msg string, fields map[string]any) {
	if s == nil || s.l == nil {
		return
	}
	s.l.Error(msg, attrs(fields)...)
}

func attrs(fields map[string]any) []any {
	out := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		out = append(out, key, value)
	}
	return out
}

// NopLogger discards all records.
type NopLogger struct{}

// Info discards the record.
func (NopLogger) Info(string, map[string]any) {}

// Error discards the record.
func (NopLogger) Error(string, map[string]any) {}

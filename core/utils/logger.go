package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

type Logger struct {
	slog *slog.Logger
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, slog.LevelInfo)
}

// NewLoggerTo is used by tests to capture output.
func NewLoggerTo(w io.Writer, level slog.Level) *Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})
	return &Logger{slog: slog.New(handler)}
}

func (l *Logger) Printf(format string, v ...any) {
	if l == nil || l.slog == nil {
		return
	}
	l.slog.Info(fmt.Sprintf(format, v...))
}

func (l *Logger) Errorf(format string, v ...any) {
	if l == nil || l.slog == nil {
		return
	}
	l.slog.Error(fmt.Sprintf(format, v...))
}

// Security records an auth event. Callers pass hashed identifiers only.
func (l *Logger) Security(event string, attrs ...any) {
	if l == nil || l.slog == nil {
		return
	}
	l.slog.Warn("security event", append([]any{slog.String("event", event)}, attrs...)...)
}

func (l *Logger) Request(method, path, user string, status int, durMS int64, bytes int, requestID string) {
	if l == nil || l.slog == nil {
		return
	}
	l.slog.Info("http request",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("user", user),
		slog.Int("status", status),
		slog.Int64("duration_ms", durMS),
		slog.Int("bytes", bytes),
		slog.String("request_id", requestID),
	)
}

func (l *Logger) Fatalf(format string, v ...any) {
	if l == nil || l.slog == nil {
		os.Exit(1)
	}
	l.slog.Error(fmt.Sprintf("FATAL: "+format, v...))
	os.Exit(1)
}

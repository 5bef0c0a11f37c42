package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// gonkHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<message>\t<key=value ...>
type gonkHandler struct {
	w     io.Writer
	attrs []slog.Attr
}

func (h *gonkHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *gonkHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	level := r.Level.String()

	_, err := fmt.Fprintf(h.w, "%s\t%s\t%s", ts, level, r.Message)
	if err != nil {
		return err
	}

	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})

	_, err = fmt.Fprintln(h.w)
	return err
}

func (h *gonkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &gonkHandler{
		w:     h.w,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *gonkHandler) WithGroup(string) slog.Handler { return h }

// NewLogger creates a structured logger writing to both logDir/gonk.log and
// stderr. It returns the slog.Logger, the open log file (for cleanup), and
// any error.
func NewLogger(logDir string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "gonk.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := io.MultiWriter(f, os.Stderr)
	handler := &gonkHandler{w: w}
	return slog.New(handler), f, nil
}

// SlogAdapter wraps *slog.Logger to satisfy the gonk.Logger interface.
type SlogAdapter struct {
	L *slog.Logger
}

func (a *SlogAdapter) Debug(msg string, args ...any) { a.L.Debug(msg, args...) }
func (a *SlogAdapter) Info(msg string, args ...any)  { a.L.Info(msg, args...) }
func (a *SlogAdapter) Warn(msg string, args ...any)  { a.L.Warn(msg, args...) }
func (a *SlogAdapter) Error(msg string, args ...any) { a.L.Error(msg, args...) }

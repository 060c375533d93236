// Package logging builds the slog logger. The terminal belongs to the UI, so
// records go to a file.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

type Config struct {
	Level  slog.Level
	Format string
}

type contextKey string

const (
	ContextKeySessionID contextKey = "session_id"
	ContextKeyRunID     contextKey = "run_id"
)

// FromConfig maps flag values onto a Config. Unknown levels fall back to info.
func FromConfig(logLevel, logFormat string) Config {
	config := Config{Level: slog.LevelInfo, Format: "text"}
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		config.Level = slog.LevelDebug
	case "warn", "warning":
		config.Level = slog.LevelWarn
	case "error":
		config.Level = slog.LevelError
	}
	if format := strings.ToLower(strings.TrimSpace(logFormat)); format != "" {
		config.Format = format
	}
	return config
}

func New(w io.Writer, config Config) *slog.Logger {
	if config.Format == "json" {
		opts := &slog.HandlerOptions{
			Level: config.Level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.String(a.Key, a.Value.Time().Format(time.RFC3339))
				}
				return a
			},
		}
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      config.Level,
		TimeFormat: time.Kitchen,
		NoColor:    !isTerminal(w),
	}))
}

// Open creates the log file (and its directory) in append mode. An empty
// path or "-" means stderr.
func Open(path string) (io.WriteCloser, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return nopCloser{os.Stderr}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func DefaultPath() string {
	return filepath.Join(os.TempDir(), "adflow-tui.log")
}

func WithComponent(l *slog.Logger, component string) *slog.Logger {
	return l.With(slog.String("component", component))
}

// WithContext attaches the session and run ids carried by ctx.
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if id, ok := ctx.Value(ContextKeySessionID).(string); ok && id != "" {
		l = l.With(slog.String("session_id", id))
	}
	if id, ok := ctx.Value(ContextKeyRunID).(string); ok && id != "" {
		l = l.With(slog.String("run_id", id))
	}
	return l
}

func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

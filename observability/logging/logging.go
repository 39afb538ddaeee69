package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the process-wide structured logger.
type Config struct {
	Service     string
	Environment string
	Level       string
	// File, when set, receives a size-rotated copy of every line written to
	// stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Output overrides stdout; tests use it to capture lines.
	Output io.Writer
}

// ParseLevel maps a textual level onto slog. Unknown values fall back to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided. The returned closer
// releases the rotated log file, if any.
func Setup(cfg Config) (*slog.Logger, io.Closer) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	var closer io.Closer = nopCloser{}
	if path := strings.TrimSpace(cfg.File); path != "" {
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(out, rotator)
		closer = rotator
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		AddSource: false,
		Level:     ParseLevel(cfg.Level),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			}
			if attr.Key == slog.LevelKey {
				level := strings.ToUpper(attr.Value.String())
				return slog.String("severity", level)
			}
			if attr.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(cfg.Service)),
	}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

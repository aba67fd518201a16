package logger

import (
	"io"
	"log/slog"
	"os"
)

// Config controls logger construction. The zero value produces a JSON logger
// at info level on stdout.
type Config struct {
	Level   string
	Format  string
	Output  io.Writer
	Service string
}

// New builds a slog.Logger for the service. Loggers are passed explicitly;
// nothing in this codebase logs through a package-level default.
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	return slog.New(handler)
}

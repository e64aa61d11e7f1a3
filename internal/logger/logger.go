// Package logger configures process-wide logging for the escrowd daemon.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	mu   sync.Mutex
	file *os.File // log file opened by Setup, nil for stdout/stderr
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string // trace, debug, info, warn, error
	Format     string // json, console
	TimeFormat string // RFC3339 or a custom layout
	Output     string // stdout, stderr, or file path
}

// DefaultConfig returns a sensible default logging configuration
func DefaultConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Format:     "console",
		TimeFormat: time.RFC3339,
		Output:     "stdout",
	}
}

// Setup initializes the global zerolog logger with the provided
// configuration. It returns the resolved writer so other loggers can share
// the destination. A log file opened by an earlier Setup is closed; call
// Close on shutdown to close the current one.
func Setup(config LogConfig) (io.Writer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(level)

	out, err := openOutput(config.Output)
	if err != nil {
		return nil, err
	}
	track(out)

	var w io.Writer = out
	if strings.ToLower(config.Format) != "json" {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: config.TimeFormat,
		}
	}

	log.Logger = zerolog.New(w).With().
		Timestamp().
		Logger()

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	return out, nil
}

// Close closes the log file opened by Setup, if any. Later log lines to it
// are dropped.
func Close() error {
	mu.Lock()
	f := file
	file = nil
	mu.Unlock()

	if f == nil {
		return nil
	}
	return f.Close()
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
}

// track remembers out as the current log file and closes the previous one.
func track(out io.Writer) {
	f, _ := out.(*os.File)
	if f == os.Stdout || f == os.Stderr {
		f = nil
	}

	mu.Lock()
	prev := file
	file = f
	mu.Unlock()

	if prev != nil && prev != f {
		_ = prev.Close()
	}
}

// GetLogger returns the global logger.
func GetLogger() zerolog.Logger {
	return log.Logger
}

// WithComponent returns a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// Slog returns a log/slog logger writing to w at the configured level, in
// JSON when the format is json and text otherwise. The ledger and its
// plugins log through it.
func Slog(config LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slogLevel(config.Level)}
	if strings.ToLower(config.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func slogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal", "panic":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/deviceguard/internal/infrastructure/config"
)

// serviceName is attached to every log record.
const serviceName = "deviceguard"

// Logger wraps slog.Logger so components can depend on a small
// Debug/Info/Warn/Error interface while main wires the real handler.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a Logger from the logging section of config.yaml.
//
// Records carry the service name and build version. The format is JSON
// unless "text" is requested; output goes to stdout unless "stderr" is
// requested.
func New(cfg config.LoggingConfig, version string) *Logger {
	return newWithWriter(cfg, version, outputFor(cfg.Output))
}

// newWithWriter builds the handler chain against an explicit writer.
func newWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

func outputFor(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn/warning, error.
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	storeLog := logger.With("component", "whitelist")
//	storeLog.Info("record inserted") // Includes component=whitelist
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component is shorthand for With("component", name).
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default creates a logger for use before configuration is loaded.
// It writes JSON at info level to stdout.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// Discard returns a logger that drops every record. Tests use it.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

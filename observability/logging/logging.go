package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Options controls the JSON logger built by New.
type Options struct {
	Service string
	Env     string
	// Level accepts debug, info, warn or error. Unknown values mean info.
	Level  string
	Writer io.Writer
}

// Setup configures the process-wide logger to emit structured JSON on stdout
// and returns it. Every line carries the service name and, when set, the
// environment.
func Setup(service, env string) *slog.Logger {
	return Install(Options{Service: service, Env: env})
}

// Install builds a logger from opts, makes it the slog default and bridges the
// standard library logger onto it.
func Install(opts Options) *slog.Logger {
	handler, attrs := newHandler(opts)
	base := slog.New(handler).With(attrArgs(attrs)...)
	slog.SetDefault(base)

	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

// New builds a logger from opts without touching global state.
func New(opts Options) *slog.Logger {
	handler, attrs := newHandler(opts)
	return slog.New(handler).With(attrArgs(attrs)...)
}

// ParseLevel maps a configuration string onto a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func newHandler(opts Options) (slog.Handler, []slog.Attr) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(opts.Service))}
	if env := strings.TrimSpace(opts.Env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	return handler, attrs
}

func attrArgs(attrs []slog.Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

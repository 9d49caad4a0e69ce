// Package telemetry wires the structured loggers shared by every subsystem
// of the simulator.
package telemetry

import (
	"log/slog"
	"os"
)

// ParseLevel maps the config-file log level string onto a slog.Level,
// defaulting to Info on anything unrecognised.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger scoped to a single subsystem ("config", "memory",
// "scheduler", "executor", ...), each with its own text handler on stdout.
func New(component string, level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("component", component)
}

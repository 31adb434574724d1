package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"wayleave/internal/config"
	"wayleave/internal/monitoring"
)

// New builds the process logger: JSON in production, text otherwise, and a
// copy of every record to the OpenTelemetry log bridge when telemetry is on.
func New(cfg config.Config) *slog.Logger {
	return slog.New(newHandler(cfg, os.Stdout)).With(
		"service", cfg.Telemetry.ServiceName,
		"version", cfg.Telemetry.ServiceVersion,
		"environment", cfg.Telemetry.Environment,
	)
}

func newHandler(cfg config.Config, w io.Writer) slog.Handler {
	var console slog.Handler
	level := slog.LevelDebug
	if cfg.IsProduction() {
		level = slog.LevelInfo
		console = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, AddSource: true})
	} else {
		console = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}

	if !cfg.Telemetry.Enabled {
		return console
	}

	otelHandler := monitoring.NewOTelHandler(&slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return NewMultiHandler(otelHandler, console)
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MultiHandler sends logs to multiple handlers
type MultiHandler struct {
	handlers []slog.Handler
}

func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

// Enabled reports whether any handler handles records at the given level
func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record.Clone()); err != nil {
				// Keep going so one broken sink does not silence the others.
				slog.Error("Failed to handle log record", "error", err)
			}
		}
	}
	return nil
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var newHandlers []slog.Handler
	for _, handler := range h.handlers {
		newHandlers = append(newHandlers, handler.WithAttrs(attrs))
	}
	return &MultiHandler{handlers: newHandlers}
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	var newHandlers []slog.Handler
	for _, handler := range h.handlers {
		newHandlers = append(newHandlers, handler.WithGroup(name))
	}
	return &MultiHandler{handlers: newHandlers}
}

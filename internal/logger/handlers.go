package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"
)

// newTextHandler builds the human-readable handler used for console output.
// Timestamps are rendered in tz and the custom trace level prints as TRACE.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	if tz == nil {
		tz = time.Local
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.In(tz).Format(time.RFC3339))
				}
			case slog.LevelKey:
				if l, ok := a.Value.Any().(slog.Level); ok && l <= traceLevelValue {
					return slog.String(slog.LevelKey, "TRACE")
				}
			}
			return a
		},
	})
}

// NewSlogLogger returns a standalone Logger writing text lines to w.
// A nil writer falls back to stderr. It is meant for tests and for code
// paths that run before the central logger is configured.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = os.Stderr
	}
	slogLevel := parseSlogLevel(level)
	return &moduleLogger{
		logger:   slog.New(newTextHandler(w, slogLevel, tz)),
		level:    slogLevel,
		timezone: tz,
	}
}

// combineHandlers returns the single handler or fans out to all of them
func combineHandlers(handlers []slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return &fanoutHandler{handlers: handlers}
}

// fanoutHandler writes every record to several slog handlers
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Handler requires the record by value
func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

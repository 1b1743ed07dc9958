package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/Graylog2/go-gelf/gelf"
)

// GelfWriter is the part of *gelf.Writer the handler uses.
type GelfWriter interface {
	WriteMessage(m *gelf.Message) error
}

// NewGelfWriter dials a Graylog GELF UDP input.
func NewGelfWriter(addr string) (*gelf.Writer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to graylog at %s: %w", addr, err)
	}
	w.Facility = "platoon-sim"
	return w, nil
}

// GelfHandler sends records to Graylog. Attributes become additional fields.
type GelfHandler struct {
	w      GelfWriter
	level  slog.Leveler
	host   string
	attrs  []slog.Attr
	prefix string
}

// NewGelfHandler creates a handler writing records at or above level.
func NewGelfHandler(w GelfWriter, level slog.Leveler) *GelfHandler {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &GelfHandler{w: w, level: level, host: host}
}

func (h *GelfHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *GelfHandler) Handle(_ context.Context, r slog.Record) error {
	extra := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		extra["_"+a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		extra["_"+h.prefix+a.Key] = fieldValue(a.Value.Resolve())
		return true
	})
	return h.w.WriteMessage(&gelf.Message{
		Version:  "1.1",
		Host:     h.host,
		Short:    r.Message,
		TimeUnix: float64(r.Time.UnixNano()) / 1e9,
		Level:    gelfLevel(r.Level),
		Extra:    extra,
	})
}

func (h *GelfHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &next
}

func (h *GelfHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func fieldValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString, slog.KindInt64, slog.KindUint64, slog.KindFloat64, slog.KindBool:
		return v.Any()
	default:
		return v.String()
	}
}

func gelfLevel(l slog.Level) int32 {
	switch {
	case l >= slog.LevelError:
		return gelf.LOG_ERR
	case l >= slog.LevelWarn:
		return gelf.LOG_WARNING
	case l >= slog.LevelInfo:
		return gelf.LOG_INFO
	default:
		return gelf.LOG_DEBUG
	}
}

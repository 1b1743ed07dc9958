package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Options selects the outputs of SlogManager.Setup. Zero fields are disabled.
type Options struct {
	File     io.Writer              // console to stdout when nil, the file otherwise
	Level    string
	Provider *sdklog.LoggerProvider // OTel log bridge
	Gelf     GelfWriter             // Graylog
	Context  ContextProvider        // attrs added to every record
}

// SlogManager manages slog-based logging with optional OTel and Graylog output.
// It also owns the zerolog logger handed to the database and influx managers.
type SlogManager struct {
	logger  *slog.Logger
	zlog    zerolog.Logger
	hasZlog bool

	logProvider *sdklog.LoggerProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// Setup initializes the logging system.
func (m *SlogManager) Setup(opts Options) {
	lvl := parseLevel(opts.Level)
	m.logProvider = opts.Provider

	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var out io.Writer = os.Stdout
	if opts.File != nil {
		out = opts.File
	}
	handlers := []slog.Handler{slog.NewTextHandler(out, handlerOpts)}
	if opts.Provider != nil {
		handlers = append(handlers, otelslog.NewHandler("platoon-sim", otelslog.WithLoggerProvider(opts.Provider)))
	}
	if opts.Gelf != nil {
		handlers = append(handlers, NewGelfHandler(opts.Gelf, lvl))
	}

	var h slog.Handler = NewMultiHandler(handlers...)
	if opts.Context != nil {
		h = NewContextHandler(h, opts.Context)
	}
	m.logger = slog.New(h)

	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	m.zlog = zerolog.New(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    opts.File != nil,
	}).Level(zerologLevel(opts.Level)).With().Timestamp().Logger()
	m.hasZlog = true

	m.logger.Info("Logging initialized", "level", opts.Level)
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Zerolog returns the zerolog logger, a no-op one before Setup.
func (m *SlogManager) Zerolog() zerolog.Logger {
	if !m.hasZlog {
		return zerolog.Nop()
	}
	return m.zlog
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// MultiHandler fans out log records to every handler enabled for the level.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler drops nil handlers.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	valid := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			valid = append(valid, h)
		}
	}
	return &MultiHandler{handlers: valid}
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes to all handlers and joins their errors; one failing output
// does not stop the others.
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return m.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return m
	}
	return m.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (m *MultiHandler) each(f func(slog.Handler) slog.Handler) *MultiHandler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = f(h)
	}
	return &MultiHandler{handlers: out}
}

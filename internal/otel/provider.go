package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

var ErrNoLogSink = errors.New("otel enabled but no log writer or endpoint configured")

// Config holds OTel configuration
type Config struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	LogWriter    io.Writer // OTel log records (required unless Endpoint is set)
	MetricWriter io.Writer // periodic metric dumps, optional
	Endpoint     string    // OTLP endpoint, optional
	Insecure     bool
}

// Provider owns the log and meter providers of a simulator run.
type Provider struct {
	logProvider   *sdklog.LoggerProvider
	meterProvider *sdkmetric.MeterProvider
	config        Config
}

// New builds the providers. A disabled config yields a provider whose methods
// are no-ops. A configured MetricWriter also becomes the global meter provider,
// which the dispatcher, world and platoon instruments use.
func New(cfg Config) (*Provider, error) {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 5 * time.Second
	}
	p := &Provider{config: cfg}
	if !cfg.Enabled {
		return p, nil
	}

	ctx := context.Background()
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	processors, err := logProcessors(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, proc := range processors {
		opts = append(opts, sdklog.WithProcessor(proc))
	}
	p.logProvider = sdklog.NewLoggerProvider(opts...)

	if cfg.MetricWriter != nil {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.MetricWriter))
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.BatchTimeout))),
		)
		otel.SetMeterProvider(p.meterProvider)
	}
	return p, nil
}

func logProcessors(ctx context.Context, cfg Config) ([]sdklog.Processor, error) {
	var exporters []sdklog.Exporter
	if cfg.LogWriter != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter), stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating file log exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}
	if cfg.Endpoint != "" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP log exporter: %w", err)
		}
		exporters = append(exporters, exp)
	}
	if len(exporters) == 0 {
		return nil, ErrNoLogSink
	}

	processors := make([]sdklog.Processor, 0, len(exporters))
	for _, exp := range exporters {
		processors = append(processors, sdklog.NewBatchProcessor(exp, sdklog.WithExportTimeout(cfg.BatchTimeout)))
	}
	return processors, nil
}

// LoggerProvider returns the log provider for the otelslog bridge, or nil when
// disabled.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logProvider
}

// Meter returns a meter with the given name. Without a configured metric
// writer this is the global meter, which is a no-op unless set elsewhere.
func (p *Provider) Meter(name string) metric.Meter {
	if p.meterProvider != nil {
		return p.meterProvider.Meter(name)
	}
	return otel.Meter(name)
}

// Flush exports pending logs and metrics. Called at session end.
func (p *Provider) Flush(ctx context.Context) error {
	return p.each(ctx, "flush",
		func(ctx context.Context) error { return p.logProvider.ForceFlush(ctx) },
		func(ctx context.Context) error { return p.meterProvider.ForceFlush(ctx) },
	)
}

// Shutdown stops both providers. Called once on exit.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.each(ctx, "shutdown",
		func(ctx context.Context) error { return p.logProvider.Shutdown(ctx) },
		func(ctx context.Context) error { return p.meterProvider.Shutdown(ctx) },
	)
}

func (p *Provider) each(ctx context.Context, op string, logs, metrics func(context.Context) error) error {
	if !p.config.Enabled {
		return nil
	}
	var errs []error
	if p.logProvider != nil {
		if err := logs(ctx); err != nil {
			errs = append(errs, fmt.Errorf("log %s: %w", op, err))
		}
	}
	if p.meterProvider != nil {
		if err := metrics(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric %s: %w", op, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Provider) Enabled() bool {
	return p.config.Enabled
}

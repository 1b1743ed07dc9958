package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/OCAP2/platoon/internal/api"
	"github.com/OCAP2/platoon/internal/config"
	"github.com/OCAP2/platoon/internal/dispatcher"
	"github.com/OCAP2/platoon/internal/geo"
	"github.com/OCAP2/platoon/internal/influx"
	"github.com/OCAP2/platoon/internal/logging"
	"github.com/OCAP2/platoon/internal/monitor"
	intOtel "github.com/OCAP2/platoon/internal/otel"
	"github.com/OCAP2/platoon/internal/scenario"
	"github.com/OCAP2/platoon/internal/session"
	"github.com/OCAP2/platoon/internal/sim"
	"github.com/OCAP2/platoon/internal/storage"
	"github.com/OCAP2/platoon/internal/worker"
	"github.com/OCAP2/platoon/internal/world"
	"github.com/OCAP2/platoon/pkg/core"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// endSessionTimeout bounds draining the dispatcher after the last tick.
const endSessionTimeout = 30 * time.Second

type appOptions struct {
	Scenario    scenario.Scenario
	SessionName string
	Ticks       int
	ConfigDir   string
}

// app wires one scenario run: logging, recording pipeline, metrics and the
// runner itself.
type app struct {
	opts    appOptions
	start   time.Time
	logsDir string

	logs    *logging.SlogManager
	logger  *slog.Logger
	logFile *os.File
	otel    *intOtel.Provider
	gelf    io.Closer

	session *session.Context
}

func newApp(opts appOptions) (*app, error) {
	a := &app{
		opts:    opts,
		start:   time.Now(),
		logsDir: viper.GetString("logsDir"),
		logs:    logging.NewSlogManager(),
		session: session.NewContext(),
	}
	if err := os.MkdirAll(a.logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}

	logPath := logging.LogFilePath(a.logsDir, AppName, a.start)
	if _, err := os.Stat(logPath); err == nil {
		_ = os.Rename(logPath, logPath+".old")
	}
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	a.logFile = f

	a.setupLogging()
	a.logger.Info("Begin logging in logs directory", "path", logPath)
	return a, nil
}

func (a *app) setupLogging() {
	// plain outputs until OTel and Graylog are up
	a.logs.Setup(logging.Options{File: io.MultiWriter(os.Stderr, a.logFile), Level: viper.GetString("logLevel")})
	a.logger = a.logs.Logger()

	var provider *sdklog.LoggerProvider
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		p, err := intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    a.logFile,
			MetricWriter: a.logFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			a.logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			a.otel = p
			provider = p.LoggerProvider()
			a.logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	var gelfWriter logging.GelfWriter
	if viper.GetBool("graylog.enabled") {
		w, err := logging.NewGelfWriter(viper.GetString("graylog.address"))
		if err != nil {
			a.logger.Warn("Graylog disabled", "error", err)
		} else {
			gelfWriter, a.gelf = w, w
		}
	}

	a.logs.Setup(logging.Options{
		File:     io.MultiWriter(os.Stderr, a.logFile),
		Level:    viper.GetString("logLevel"),
		Provider: provider,
		Gelf:     gelfWriter,
		Context:  logging.SessionContext(a.session),
	})
	a.logger = a.logs.Logger()
	slog.SetDefault(a.logger)
}

func (a *app) ticks(simCfg config.SimConfig) int {
	switch {
	case a.opts.Ticks > 0:
		return a.opts.Ticks
	case a.opts.Scenario.Ticks > 0:
		return a.opts.Scenario.Ticks
	default:
		return simCfg.Ticks
	}
}

func (a *app) newSession(simCfg config.SimConfig, geoCfg config.GeoConfig) *core.Session {
	name := a.opts.SessionName
	if name == "" {
		name = a.opts.Scenario.Name
	}
	return &core.Session{
		ID:         uuid.NewString(),
		Name:       name,
		Scenario:   a.opts.Scenario.Name,
		MapName:    a.opts.Scenario.MapName,
		StartTime:  a.start,
		FixedDelta: simCfg.FixedDelta,
		OriginLat:  geoCfg.OriginLat,
		OriginLon:  geoCfg.OriginLon,
		Version:    CurrentVersion,
		BuildDate:  BuildDate,
		Tag:        viper.GetString("defaultTag"),
	}
}

// connectInflux returns nil when influx is disabled or cannot be set up.
func (a *app) connectInflux(ctx context.Context) *influx.Manager {
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return nil
	}
	backup := filepath.Join(a.logsDir,
		fmt.Sprintf("%s.%s.influx.gz", AppName, a.start.Format("20060102_150405")))
	m := influx.NewManager(cfg, a.logs.Zerolog(), backup)
	if err := m.Connect(ctx); err != nil {
		a.logger.Error("InfluxDB unavailable", "error", err)
		return nil
	}
	return m
}

func (a *app) checkServerStatus(ctx context.Context, client *api.Client) {
	if err := client.Healthcheck(ctx); err != nil {
		a.logger.Info("Results server is offline", "error", err)
		return
	}
	a.logger.Info("Results server is online")
}

// Run executes the scenario and always tears down, ends the session and
// flushes logs, whatever the run outcome.
func (a *app) Run(ctx context.Context) (err error) {
	defer func() { err = errors.Join(err, a.close()) }()

	simCfg := config.GetSimConfig()
	geoCfg := config.GetGeoConfig()
	sess := a.newSession(simCfg, geoCfg)

	projector, perr := geo.NewProjector(geoCfg.OriginLat, geoCfg.OriginLon)
	if perr != nil {
		a.logger.Warn("No geo projection for the export", "error", perr)
	}

	backend, err := createStorageBackend(config.GetStorageConfig(), storageDeps{
		Session:   sess,
		Logger:    a.logger,
		DBLogger:  a.logs.Zerolog(),
		Projector: projector,
	})
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer func() {
		if cerr := backend.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("closing storage: %w", cerr))
		}
	}()

	metrics := a.connectInflux(ctx)
	if metrics != nil {
		defer metrics.Close()
	}

	d, err := dispatcher.New(logging.NewDispatcherLogger(a.logs.Zerolog()))
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	deps := worker.Dependencies{Session: a.session, Logger: a.logger}
	if metrics != nil {
		deps.Metrics = metrics
	}
	rec := worker.NewManager(deps, backend)
	rec.RegisterHandlers(d)
	if err := rec.StartSession(sess); err != nil {
		return err
	}

	simulator := sim.New(
		sim.WithFixedDelta(simCfg.FixedDelta),
		sim.WithSpeedLimit(simCfg.SpeedLimit),
		sim.WithLogger(a.logger))
	w := world.New(
		world.WithRecorder(rec),
		world.WithLogger(a.logger),
		world.WithFixedDelta(simCfg.FixedDelta))
	runner := scenario.NewRunner(simulator, w,
		scenario.WithRecorder(rec),
		scenario.WithLogger(a.logger),
		scenario.WithVehicleDefaults(config.GetVehicleDefaults()),
		scenario.WithPlatoonConfig(config.GetPlatoonConfig()))

	if mc := config.GetMonitorConfig(); mc.Enabled {
		mon := monitor.NewService(monitor.Dependencies{
			World:     w,
			Session:   a.session,
			Recorder:  rec,
			Backend:   backend,
			StatusDir: a.logsDir,
			Interval:  mc.Interval,
			Logger:    a.logger,
		})
		if err := mon.Start(); err != nil {
			a.logger.Error("Status monitor not started", "error", err)
		} else {
			defer mon.Stop()
		}
	}

	ticks := a.ticks(simCfg)
	a.logger.Info("Running scenario",
		"scenario", sess.Scenario,
		"session", sess.Name,
		"ticks", ticks,
		"storage", config.GetStorageConfig().Type)

	wallStart := time.Now()
	runErr := a.opts.Scenario.Setup(runner)
	if runErr == nil {
		runErr = runner.Run(ctx, ticks, a.opts.Scenario.OnTick)
	}
	if errors.Is(runErr, context.Canceled) {
		a.logger.Warn("Run interrupted", "tick", w.Tick())
		runErr = nil
	}
	if runErr != nil {
		a.logger.Error("Scenario failed, tearing down", "tick", w.Tick(), "error", runErr)
	}
	wall := time.Since(wallStart)

	if terr := runner.Teardown(); terr != nil {
		a.logger.Warn("Teardown incomplete", "error", terr)
	}
	simulator.Close()

	endCtx, cancel := context.WithTimeout(context.Background(), endSessionTimeout)
	defer cancel()
	if err := rec.EndSession(endCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	a.logger.Info("Session recorded",
		"ticks", w.Tick(),
		"states", rec.RecordedStates(),
		"simSeconds", simulator.Elapsed(),
		"wall", wall)

	if metrics != nil {
		if err := metrics.WritePoint(influx.BucketPerformance,
			influx.PerformancePoint(sess.Name, w.Tick(), simulator.Elapsed(), wall)); err != nil {
			a.logger.Warn("Performance point not written", "error", err)
		}
	}

	if viper.GetBool("api.upload") {
		runErr = errors.Join(runErr, a.upload(endCtx, backend))
	}
	return runErr
}

func (a *app) upload(ctx context.Context, backend storage.Backend) error {
	u, ok := backend.(storage.Uploadable)
	if !ok {
		a.logger.Info("Storage backend produces nothing to upload")
		return nil
	}
	client := api.New(viper.GetString("api.serverUrl"), viper.GetString("api.apiKey"))
	a.checkServerStatus(ctx, client)
	if err := client.UploadExport(ctx, u); err != nil {
		return fmt.Errorf("uploading export: %w", err)
	}
	a.logger.Info("Export uploaded", "file", u.GetExportedFilePath())
	return nil
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := a.logs.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("otel shutdown: %w", err))
		}
	}
	if a.gelf != nil {
		errs = append(errs, a.gelf.Close())
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}

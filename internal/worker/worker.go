// Package worker turns what the platoon core does each tick into recording
// commands, routes them through the dispatcher and hands them to the storage
// backend and the metrics writer.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OCAP2/platoon/internal/cache"
	"github.com/OCAP2/platoon/internal/dispatcher"
	"github.com/OCAP2/platoon/internal/session"
	"github.com/OCAP2/platoon/internal/storage"
	"github.com/OCAP2/platoon/pkg/core"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

// ErrTooEarlyForStateAssociation is returned when state data arrives before entity is registered
var ErrTooEarlyForStateAssociation = errors.New("too early for state association")

// ErrNotStarted is returned when recording is attempted before RegisterHandlers.
var ErrNotStarted = errors.New("worker handlers not registered")

// PointWriter receives metric points. influx.Manager implements it.
type PointWriter interface {
	WritePoint(bucket string, point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	EntityCache   *cache.EntityCache
	ManeuverCache *cache.ManeuverCache
	Session       *session.Context
	Metrics       PointWriter // optional
	Logger        *slog.Logger
}

// Manager records one session. It implements world.Recorder so the core can
// report transitions and maneuver events straight into it.
type Manager struct {
	deps       Dependencies
	backend    storage.Backend
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger

	recorded cache.SafeCounter
	rejected cache.SafeCounter
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	if deps.EntityCache == nil {
		deps.EntityCache = cache.NewEntityCache()
	}
	if deps.ManeuverCache == nil {
		deps.ManeuverCache = cache.NewManeuverCache()
	}
	if deps.Session == nil {
		deps.Session = session.NewContext()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		deps:    deps,
		backend: backend,
		logger:  logger.With("component", "worker"),
	}
}

// StartSession resets the caches and opens the session on the backend.
func (m *Manager) StartSession(s *core.Session) error {
	m.deps.EntityCache.Reset()
	m.deps.ManeuverCache.Reset()
	m.deps.Session.SetSession(s)
	if err := m.backend.StartSession(s); err != nil {
		return fmt.Errorf("starting session %s: %w", s.Name, err)
	}
	m.logger.Info("session started", "session", s.Name, "scenario", s.Scenario)
	return nil
}

// EndSession drains the dispatcher and closes the session on the backend.
// The manager cannot record again afterwards.
func (m *Manager) EndSession(ctx context.Context) error {
	var err error
	if m.dispatcher != nil {
		err = m.dispatcher.Close(ctx)
	}
	if open := m.deps.ManeuverCache.Len(); open > 0 {
		m.logger.Warn("session ended with open maneuvers", "count", open)
	}
	if endErr := m.backend.EndSession(); endErr != nil {
		err = errors.Join(err, fmt.Errorf("ending session: %w", endErr))
	}
	m.logger.Info("session ended",
		"states", m.recorded.Value(),
		"rejected", m.rejected.Value())
	return err
}

// Backend returns the storage backend the manager writes to.
func (m *Manager) Backend() storage.Backend {
	return m.backend
}

// RecordedStates returns how many vehicle states reached the backend.
func (m *Manager) RecordedStates() int {
	return m.recorded.Value()
}

// LastWriteDuration returns the last write cycle duration in milliseconds,
// 0 if the backend doesn't report it.
func (m *Manager) LastWriteDuration() float64 {
	if p, ok := m.backend.(storage.WriteDurationProvider); ok {
		return p.LastWriteDuration()
	}
	return 0
}

// QueueDepths returns the dispatcher buffer depths per command.
func (m *Manager) QueueDepths() map[string]int {
	if m.dispatcher == nil {
		return map[string]int{}
	}
	return m.dispatcher.QueueDepths()
}

func (m *Manager) dispatch(command string, tick uint64, payload any) error {
	if m.dispatcher == nil {
		return ErrNotStarted
	}
	_, err := m.dispatcher.Dispatch(dispatcher.Event{
		Command:   command,
		Payload:   payload,
		Tick:      tick,
		Timestamp: time.Now(),
	})
	return err
}

func (m *Manager) sessionName() string {
	return m.deps.Session.GetSession().Name
}

func (m *Manager) writePoint(bucket string, p *influxdb2_write.Point) {
	if m.deps.Metrics == nil {
		return
	}
	if err := m.deps.Metrics.WritePoint(bucket, p); err != nil {
		m.logger.Debug("metric write failed", "bucket", bucket, "error", err)
	}
}

// Package world holds the shared platooning world state of one simulation session.
//
// A World is created at scenario start and passed explicitly to every vehicle and
// platoon manager. It is the discovery registry ("who else is platooning nearby")
// and carries the snapshot every managed vehicle publishes once per tick.
package world

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/OCAP2/platoon/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/platoon/internal/world"

var (
	ErrDuplicateVehicle = errors.New("vehicle already registered")
	ErrDuplicatePlatoon = errors.New("platoon already registered")
	ErrUnknownVehicle   = errors.New("vehicle not registered")
)

// Vehicle is a registered vehicle manager.
type Vehicle interface {
	ID() string
}

// Platoon is a registered platoon manager.
type Platoon interface {
	ID() string
	// MemberIDs returns the vehicle IDs ordered by rank, index 0 is the leader.
	MemberIDs() []string
}

// Recorder receives the protocol events managers emit.
type Recorder interface {
	RecordStatusTransition(core.StatusTransition)
	RecordManeuverEvent(core.ManeuverEvent)
}

type nopRecorder struct{}

func (nopRecorder) RecordStatusTransition(core.StatusTransition) {}
func (nopRecorder) RecordManeuverEvent(core.ManeuverEvent)       {}

// Option configures a World.
type Option func(*World)

// WithRecorder sets where status transitions and maneuver events are sent.
func WithRecorder(r Recorder) Option {
	return func(w *World) {
		if r != nil {
			w.recorder = r
		}
	}
}

// WithLogger sets the logger handed to managers that do not bring their own.
func WithLogger(l *slog.Logger) Option {
	return func(w *World) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithFixedDelta sets the simulated seconds per tick.
func WithFixedDelta(d float64) Option {
	return func(w *World) {
		if d > 0 {
			w.fixedDelta = d
		}
	}
}

// WithClock sets the wall-clock source used to timestamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(w *World) {
		if now != nil {
			w.now = now
		}
	}
}

// WithMeterProvider sets where the platoon gauge is registered. Defaults to the
// global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(w *World) {
		if mp != nil {
			w.meterProvider = mp
		}
	}
}

// World is the registry of vehicles, platoons and published snapshots.
// Core managers drive it from the single tick loop; the lock makes concurrent
// readers such as the status monitor safe.
type World struct {
	mu         sync.RWMutex
	tick       uint64
	fixedDelta float64
	vehicles   map[string]Vehicle
	platoons   map[string]Platoon
	states     map[string]core.VehicleState

	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	meterProvider metric.MeterProvider
	gauge         metric.Registration
}

// New creates an empty world at tick 0.
func New(opts ...Option) *World {
	w := &World{
		fixedDelta: 0.05,
		vehicles:   make(map[string]Vehicle),
		platoons:   make(map[string]Platoon),
		states:     make(map[string]core.VehicleState),
		recorder:   nopRecorder{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	w.meterProvider = otel.GetMeterProvider()
	for _, opt := range opts {
		opt(w)
	}
	w.registerMetrics()
	return w
}

func (w *World) registerMetrics() {
	m := w.meterProvider.Meter(instrumentationName)
	gauge, err := m.Int64ObservableGauge(
		"world.platoons",
		metric.WithDescription("Number of registered platoons"),
	)
	if err != nil {
		w.logger.Warn("creating platoon gauge", "error", err)
		return
	}
	w.gauge, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		w.mu.RLock()
		defer w.mu.RUnlock()
		o.ObserveInt64(gauge, int64(len(w.platoons)))
		return nil
	}, gauge)
	if err != nil {
		w.logger.Warn("registering platoon gauge callback", "error", err)
	}
}

// BeginTick advances the world to the next tick and returns it.
// It must be called once per simulator tick, before any manager update.
func (w *World) BeginTick() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tick++
	return w.tick
}

// Tick returns the current tick.
func (w *World) Tick() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tick
}

// FixedDelta returns the simulated seconds per tick.
func (w *World) FixedDelta() float64 { return w.fixedDelta }

// Now returns the wall-clock time used for snapshot timestamps.
func (w *World) Now() time.Time { return w.now() }

// Logger returns the world logger.
func (w *World) Logger() *slog.Logger { return w.logger }

// Recorder returns the event recorder. It is never nil.
func (w *World) Recorder() Recorder { return w.recorder }

// RegisterVehicle adds v to the registry.
func (w *World) RegisterVehicle(v Vehicle) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.vehicles[v.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateVehicle, v.ID())
	}
	w.vehicles[v.ID()] = v
	return nil
}

// RemoveVehicle drops a vehicle and its last snapshot.
func (w *World) RemoveVehicle(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.vehicles, id)
	delete(w.states, id)
}

// Vehicle returns a registered vehicle.
func (w *World) Vehicle(id string) (Vehicle, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.vehicles[id]
	return v, ok
}

// Vehicles returns all registered vehicles ordered by ID.
func (w *World) Vehicles() []Vehicle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Vehicle, 0, len(w.vehicles))
	for _, v := range w.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// RegisterPlatoon adds p to the registry.
func (w *World) RegisterPlatoon(p Platoon) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.platoons[p.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlatoon, p.ID())
	}
	w.platoons[p.ID()] = p
	return nil
}

// RemovePlatoon drops a platoon from the registry.
func (w *World) RemovePlatoon(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.platoons, id)
}

// Platoon returns a registered platoon.
func (w *World) Platoon(id string) (Platoon, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.platoons[id]
	return p, ok
}

// Platoons returns all registered platoons ordered by ID.
func (w *World) Platoons() []Platoon {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Platoon, 0, len(w.platoons))
	for _, p := range w.platoons {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Publish stores the snapshot of a registered vehicle, stamped with the current tick.
func (w *World) Publish(s core.VehicleState) (core.VehicleState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.vehicles[s.VehicleID]; !ok {
		return s, fmt.Errorf("%w: %s", ErrUnknownVehicle, s.VehicleID)
	}
	s.Tick = w.tick
	if s.Time.IsZero() {
		s.Time = w.now()
	}
	w.states[s.VehicleID] = s
	return s, nil
}

// State returns the latest snapshot a vehicle published.
func (w *World) State(id string) (core.VehicleState, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.states[id]
	return s, ok
}

// FreshState returns the snapshot of id only when it is at most maxAge ticks old.
func (w *World) FreshState(id string, maxAge uint64) (core.VehicleState, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.states[id]
	if !ok || s.Age(w.tick) > maxAge {
		return core.VehicleState{}, false
	}
	return s, true
}

// States returns every published snapshot ordered by vehicle ID.
func (w *World) States() []core.VehicleState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]core.VehicleState, 0, len(w.states))
	for _, s := range w.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

// Nearby returns the snapshots published this tick or the previous one within
// radius of loc, nearest first. The vehicle named by exclude is skipped.
func (w *World) Nearby(loc core.Location, radius float64, exclude string) []core.VehicleState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []core.VehicleState
	for id, s := range w.states {
		if id == exclude || s.Age(w.tick) > 1 {
			continue
		}
		if s.Transform.Location.Distance(loc) <= radius {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di := out[i].Transform.Location.Distance(loc)
		dj := out[j].Transform.Location.Distance(loc)
		if di == dj {
			return out[i].VehicleID < out[j].VehicleID
		}
		return di < dj
	})
	return out
}

// Reset clears the registry at session end and drops the platoon gauge. The
// tick counter is kept.
func (w *World) Reset() {
	w.mu.Lock()
	reg := w.gauge
	w.gauge = nil
	w.vehicles = make(map[string]Vehicle)
	w.platoons = make(map[string]Platoon)
	w.states = make(map[string]core.VehicleState)
	w.mu.Unlock()

	// outside the lock: a running collection holds the meter's lock while its
	// callback waits for ours
	if reg != nil {
		if err := reg.Unregister(); err != nil {
			w.logger.Warn("unregistering platoon gauge", "error", err)
		}
	}
}

// Package sim is a small synchronous kinematic simulator standing in for the
// driving simulator the platooning core runs against. Every tick integrates a
// kinematic bicycle model for each actor from its last applied control.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"

	"github.com/OCAP2/platoon/pkg/core"
)

var (
	ErrUnknownBlueprint = errors.New("unknown blueprint")
	ErrSpawnCollision   = errors.New("spawn point occupied")
	ErrActorDestroyed   = errors.New("actor destroyed")
	ErrClosed           = errors.New("simulator closed")
)

const (
	rollingResistance = 0.02 // 1/s, speed-proportional drag while coasting
	spawnClearance    = 2.0  // m between spawn point and any other actor
)

// Option configures a Simulator.
type Option func(*Simulator)

// WithFixedDelta sets the seconds integrated per tick.
func WithFixedDelta(d float64) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.delta = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) {
		s.logger = l
	}
}

// WithSpeedLimit sets the road speed limit autopilot actors drive to, in m/s.
func WithSpeedLimit(v float64) Option {
	return func(s *Simulator) {
		if v > 0 {
			s.speedLimit = v
		}
	}
}

// Simulator owns the actors and advances them in lockstep.
type Simulator struct {
	mu         sync.Mutex
	delta      float64
	tick       uint64
	elapsed    float64
	nextID     int
	actors     []*Actor
	lights     []*TrafficLight
	speedLimit float64
	speedDiff  float64 // percent, positive drives slower than the limit
	leadGap    float64 // m autopilot keeps to the vehicle ahead
	closed     bool
	logger     *slog.Logger
}

// New creates an empty simulator in synchronous mode.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		delta:      0.05,
		speedLimit: 90 / 3.6,
		leadGap:    2.5,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FixedDelta returns the seconds per tick.
func (s *Simulator) FixedDelta() float64 { return s.delta }

// Elapsed returns the simulated seconds since start.
func (s *Simulator) Elapsed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// Frame returns the number of ticks run.
func (s *Simulator) Frame() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// SetGlobalSpeedDifference sets how much slower than the limit autopilot actors
// drive, in percent. Negative values drive faster.
func (s *Simulator) SetGlobalSpeedDifference(pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speedDiff = pct
}

// SetGlobalDistanceToLeadingVehicle sets the gap autopilot actors keep.
func (s *Simulator) SetGlobalDistanceToLeadingVehicle(m float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leadGap = math.Max(m, 0)
}

// Spawn places a new actor at t. It fails when another actor is too close.
func (s *Simulator) Spawn(bp Blueprint, t core.Transform, roleName string) (*Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	for _, a := range s.actors {
		if a.alive && a.transform.Location.Distance(t.Location) < spawnClearance {
			return nil, fmt.Errorf("%w: %s at (%.1f, %.1f)", ErrSpawnCollision, a.id, t.Location.X, t.Location.Y)
		}
	}
	s.nextID++
	a := &Actor{
		sim:       s,
		id:        strconv.Itoa(s.nextID),
		bp:        bp,
		roleName:  roleName,
		transform: t,
		alive:     true,
	}
	s.actors = append(s.actors, a)
	s.logger.Debug("spawned actor", "actor", a.id, "blueprint", bp.ID, "role", roleName)
	return a, nil
}

// Actors returns the live actors in spawn order.
func (s *Simulator) Actors() []*Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Actor, 0, len(s.actors))
	for _, a := range s.actors {
		if a.alive {
			out = append(out, a)
		}
	}
	return out
}

// Tick advances the simulation one fixed step and returns the new frame number.
func (s *Simulator) Tick() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.tick, ErrClosed
	}
	for _, l := range s.lights {
		l.advance(s.delta)
	}
	for _, a := range s.actors {
		if a.alive && a.autopilot {
			a.control = s.autopilotControl(a)
		}
	}
	for _, a := range s.actors {
		if a.alive {
			a.integrate(s.delta)
		}
	}
	s.tick++
	s.elapsed += s.delta
	return s.tick, nil
}

// Close destroys every actor and refuses further ticks.
func (s *Simulator) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actors {
		a.alive = false
	}
	s.closed = true
}

// autopilotControl keeps lane and heading and follows the nearest actor ahead.
func (s *Simulator) autopilotControl(a *Actor) core.VehicleControl {
	target := s.speedLimit * (1 - s.speedDiff/100)
	target = math.Min(math.Max(target, 0), a.bp.MaxSpeed)

	gap := math.Inf(1)
	var vAhead float64
	for _, o := range s.actors {
		if o == a || !o.alive {
			continue
		}
		lon, lat := a.transform.Offsets(o.transform.Location)
		if lon <= 0 || math.Abs(lat) > a.bp.Width {
			continue
		}
		if g := lon - a.bp.Length/2 - o.bp.Length/2; g < gap {
			gap, vAhead = g, o.speed
		}
	}
	want := target
	if !math.IsInf(gap, 1) {
		want = math.Min(want, vAhead+0.5*(gap-s.leadGap-a.speed))
	}
	if d, ok := s.redAheadLocked(a.transform, 40); ok {
		want = math.Min(want, 0.5*math.Max(d-2, 0))
	}
	accel := 1.5 * (want - a.speed)
	var c core.VehicleControl
	if accel >= 0 {
		c.Throttle = math.Min(accel/a.bp.MaxAccel, 1)
	} else {
		c.Brake = math.Min(-accel/a.bp.MaxDecel, 1)
	}
	return c
}

// Package vehicle implements the platooning-aware vehicle manager.
//
// A Manager wraps one simulator actor and its driving agent. It owns the vehicle's
// FSM status: the platoon manager writes follow targets and asks for membership
// changes through the exported methods, but every status change is fired here.
// Free vehicles also run the candidate side of the join protocol from
// UpdateInformation.
package vehicle

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/OCAP2/platoon/internal/agent"
	"github.com/OCAP2/platoon/internal/control"
	"github.com/OCAP2/platoon/internal/fsm"
	"github.com/OCAP2/platoon/internal/queue"
	"github.com/OCAP2/platoon/internal/world"
	"github.com/OCAP2/platoon/pkg/core"
	"github.com/samber/lo"
)

var (
	ErrInvalidConfig = errors.New("invalid vehicle config")
	ErrPhaseOrder    = errors.New("run step called before update information in this tick")
	ErrDestroyed     = errors.New("vehicle destroyed")
	ErrNotMember     = errors.New("vehicle is not a platoon member")
	ErrAlreadyMember = errors.New("vehicle already belongs to a platoon")
	ErrVehicleBusy   = errors.New("vehicle is in a join maneuver")
	ErrLeaderStale   = errors.New("leader state is stale")
)

// Actor is the simulator handle of one vehicle.
type Actor interface {
	ID() string
	Transform() (core.Transform, error)
	Velocity() (core.Vector3D, error)
	ApplyControl(core.VehicleControl) error
	IsAlive() bool
	Length() float64
}

// Agent drives a vehicle on its own.
type Agent interface {
	SetDestination(start, end core.Location, clean bool)
	UpdateInformation(w *world.World, self core.VehicleState)
	RunStep() core.VehicleControl
	SetSpeedLimit(v float64)
	ClearSpeedLimit()
	TargetSpeed() float64
	Done() bool
}

// FollowTarget is what the platoon manager hands a follower each tick.
type FollowTarget struct {
	Leader      core.VehicleState
	Predecessor core.VehicleState
	Path        []core.Waypoint // leader path history, oldest first
	Destination *core.Location
}

// Option configures a Manager.
type Option func(*Manager)

// WithAgent replaces the default behavior agent.
func WithAgent(a Agent) Option {
	return func(m *Manager) {
		m.agent = a
	}
}

// WithLogger sets the logger. Defaults to the world logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithTrafficLights hands the default agent a traffic light source.
func WithTrafficLights(tl agent.TrafficLights) Option {
	return func(m *Manager) {
		m.lights = tl
	}
}

// Manager is the platooning-aware wrapper around one vehicle.
type Manager struct {
	id      string
	actor   Actor
	world   *world.World
	agent   Agent
	lights  agent.TrafficLights
	cfg     Config
	logger  *slog.Logger
	machine *fsm.Machine

	platoonID     string
	rank          int
	lastPlatoonID string
	target        *FollowTarget
	extraGap      float64
	joinedTick    uint64

	maneuver      *core.Maneuver
	slot          *core.Slot
	dwell         int
	cooldownUntil uint64

	state       core.VehicleState
	published   bool
	updated     bool
	updatedTick uint64
	lastControl core.VehicleControl
	destroyed   bool

	pid        *control.PID
	pursuit    control.Pursuit
	trajectory *queue.Ring[core.Waypoint]
}

// New creates a manager for actor and registers it in w.
func New(actor Actor, w *world.World, cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		id:      actor.ID(),
		actor:   actor,
		world:   w,
		cfg:     cfg,
		rank:    -1,
		machine: fsm.New(fsm.Searching),
		pid:     control.NewPID(cfg.Kp, cfg.Ki, cfg.Kd),
		pursuit: control.DefaultPursuit(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = w.Logger()
	}
	m.logger = m.logger.With("vehicle", m.id)
	if m.agent == nil {
		var aopts []agent.Option
		if m.lights != nil {
			aopts = append(aopts, agent.WithTrafficLights(m.lights))
		}
		m.agent = agent.New(agent.Config{
			TargetSpeed:        cfg.TargetSpeed,
			SampleResolution:   cfg.SampleResolution,
			IgnoreTrafficLight: cfg.IgnoreTrafficLight,
			OvertakeAllowed:    cfg.OvertakeAllowed,
			Limits:             cfg.Limits,
		}, aopts...)
	}
	if cfg.DebugTrajectory {
		m.trajectory = queue.NewRing[core.Waypoint](cfg.BufferSize)
	}
	m.machine.OnChange(m.recordTransition)

	if err := w.RegisterVehicle(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ID returns the actor identifier.
func (m *Manager) ID() string { return m.id }

// Config returns the options the manager was created with.
func (m *Manager) Config() Config { return m.cfg }

// Status returns the current FSM status.
func (m *Manager) Status() fsm.Status { return m.machine.Status() }

// Agent returns the wrapped agent.
func (m *Manager) Agent() Agent { return m.agent }

// Snapshot returns the state published in the latest update.
func (m *Manager) Snapshot() core.VehicleState { return m.state }

// HasSnapshot reports whether the manager has published at least once.
func (m *Manager) HasSnapshot() bool { return m.published }

// UpdatedAt reports whether UpdateInformation already ran in tick.
func (m *Manager) UpdatedAt(tick uint64) bool {
	return m.updated && m.updatedTick == tick
}

// Destroyed reports whether the manager has noticed its actor is gone.
func (m *Manager) Destroyed() bool { return m.destroyed }

// Alive reports whether the actor still exists, even before the manager's next
// update notices otherwise.
func (m *Manager) Alive() bool { return !m.destroyed && m.actor.IsAlive() }

// PlatooningStatus returns whether the vehicle is in a platoon, the platoon ID and
// the rank. Rank is -1 outside a platoon.
func (m *Manager) PlatooningStatus() (inPlatoon bool, platoonID string, rank int) {
	if m.platoonID == "" {
		return false, "", -1
	}
	return true, m.platoonID, m.rank
}

// PlatoonID returns the membership platoon, empty when free.
func (m *Manager) PlatoonID() string { return m.platoonID }

// Rank returns the rank in the platoon, -1 when free.
func (m *Manager) Rank() int { return m.rank }

// Maneuver returns a copy of the active join context.
func (m *Manager) Maneuver() (core.Maneuver, bool) {
	if m.maneuver == nil {
		return core.Maneuver{}, false
	}
	return *m.maneuver, true
}

// FollowTarget returns the target written by the platoon manager.
func (m *Manager) FollowTarget() (FollowTarget, bool) {
	if m.target == nil {
		return FollowTarget{}, false
	}
	return *m.target, true
}

// Trajectory returns the recorded trajectory when DebugTrajectory is set.
func (m *Manager) Trajectory() []core.Waypoint {
	if m.trajectory == nil {
		return nil
	}
	return m.trajectory.Items()
}

// SetDestination routes the agent from the current location to dest.
func (m *Manager) SetDestination(dest core.Location, clean bool) error {
	tr, err := m.actor.Transform()
	if err != nil {
		return fmt.Errorf("reading transform of %s: %w", m.id, err)
	}
	m.agent.SetDestination(tr.Location, dest, clean)
	return nil
}

// ApplyControl forwards c to the actor.
func (m *Manager) ApplyControl(c core.VehicleControl) error {
	if m.destroyed {
		return ErrDestroyed
	}
	if err := m.actor.ApplyControl(c); err != nil {
		return fmt.Errorf("applying control to %s: %w", m.id, err)
	}
	return nil
}

// Remove deregisters the vehicle from the world. Scenarios call it when they
// despawn the actor.
func (m *Manager) Remove() {
	m.destroyed = true
	m.CancelManeuver(AbortCandidateGone)
	m.world.RemoveVehicle(m.id)
}

// UpdateInformation refreshes the manager for the current world tick.
// It must run once per tick before RunStep.
func (m *Manager) UpdateInformation(w *world.World) error {
	now := w.Tick()
	m.updated, m.updatedTick = true, now
	if m.destroyed {
		return nil
	}
	if !m.actor.IsAlive() {
		m.destroyed = true
		m.logger.Warn("actor no longer alive", "tick", now)
		m.CancelManeuver(AbortCandidateGone)
		return nil
	}

	if s := m.Status(); (s == fsm.JoinedFollower || s == fsm.JoinedLeader) && now > m.joinedTick {
		if _, err := m.machine.Fire(fsm.Confirmed); err != nil {
			return err
		}
	}
	if m.isFollower() && m.target != nil && m.target.Leader.Age(now) > m.cfg.StaleTicks {
		if err := m.loseLeader(now); err != nil {
			return err
		}
	}

	if err := m.publish(); err != nil {
		return err
	}
	m.agent.UpdateInformation(w, m.state)

	switch s := m.Status(); {
	case s.IsManeuvering():
		m.advanceManeuver(now)
	case s == fsm.Searching:
		m.search(now)
	}

	if m.cfg.Debug {
		m.logger.Debug("updated",
			"tick", now,
			"status", m.Status().String(),
			"platoon", m.platoonID,
			"rank", m.rank,
			"speed", m.state.Speed)
	}
	return nil
}

func (m *Manager) publish() error {
	tr, err := m.actor.Transform()
	if err != nil {
		return fmt.Errorf("reading transform of %s: %w", m.id, err)
	}
	vel, err := m.actor.Velocity()
	if err != nil {
		return fmt.Errorf("reading velocity of %s: %w", m.id, err)
	}
	s, err := m.world.Publish(core.VehicleState{
		VehicleID: m.id,
		Transform: tr,
		Velocity:  vel,
		Speed:     vel.Length(),
		Length:    m.actor.Length(),
		Status:    m.Status().String(),
		PlatoonID: m.platoonID,
		Rank:      m.rank,
		Control:   m.lastControl,
	})
	if err != nil {
		return err
	}
	m.state = s
	m.published = true

	if m.trajectory != nil {
		last, ok := m.trajectory.Newest()
		if !ok || last.Transform.Location.Distance(tr.Location) >= m.cfg.SampleResolution {
			m.trajectory.Push(core.Waypoint{Transform: tr, Speed: s.Speed, Tick: s.Tick})
			m.logger.Debug("trajectory sample", "tick", s.Tick, "x", tr.Location.X, "y", tr.Location.Y)
		}
	}
	return nil
}

// RunStep returns the control for this tick.
func (m *Manager) RunStep() (core.VehicleControl, error) {
	if !m.updated || m.updatedTick != m.world.Tick() {
		return core.VehicleControl{}, ErrPhaseOrder
	}
	if m.destroyed {
		return core.VehicleControl{}, ErrDestroyed
	}

	var c core.VehicleControl
	switch s := m.Status(); {
	case s.IsManeuvering():
		c = m.maneuverControl()
	case m.isFollower():
		c = m.followControl()
	default:
		c = m.agent.RunStep()
	}
	m.lastControl = c
	return c, nil
}

func (m *Manager) isFollower() bool {
	s := m.Status()
	return s.IsMember() && s != fsm.Leaving && m.rank > 0
}

func (m *Manager) recordTransition(c fsm.Change) {
	m.world.Recorder().RecordStatusTransition(core.StatusTransition{
		VehicleID: m.id,
		Tick:      m.world.Tick(),
		Time:      m.world.Now(),
		From:      c.From.String(),
		To:        c.To.String(),
		Trigger:   c.Trigger.String(),
		PlatoonID: m.lastPlatoonID,
	})
	m.logger.Info("status changed",
		"from", c.From.String(),
		"to", c.To.String(),
		"trigger", c.Trigger.String(),
		"platoon", m.lastPlatoonID)
}

func (m *Manager) clampSpeed(v float64) float64 {
	return lo.Clamp(v, 0, m.cfg.Limits.MaxSpeed)
}

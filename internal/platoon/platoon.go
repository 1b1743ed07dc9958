// Package platoon implements the platoon manager: ordered membership with the
// leader at index 0, propagation of leader state and path history to followers,
// and the coordinator side of the join protocol.
package platoon

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/OCAP2/platoon/internal/fsm"
	"github.com/OCAP2/platoon/internal/queue"
	"github.com/OCAP2/platoon/internal/vehicle"
	"github.com/OCAP2/platoon/internal/world"
	"github.com/OCAP2/platoon/pkg/core"
	"github.com/google/uuid"
)

var (
	ErrLeaderExists       = errors.New("platoon already has a leader")
	ErrNoLeader           = errors.New("platoon has no leader")
	ErrManeuverInProgress = errors.New("a join maneuver is already in progress")
	ErrPlatoonFull        = errors.New("platoon is full")
	ErrDestroyed          = errors.New("platoon destroyed")
	ErrInvalidInsert      = errors.New("invalid insert position")

	ErrAlreadyMember = vehicle.ErrAlreadyMember
	ErrVehicleBusy   = vehicle.ErrVehicleBusy
	ErrNotMember     = vehicle.ErrNotMember
	ErrLeaderStale   = vehicle.ErrLeaderStale
	ErrPhaseOrder    = vehicle.ErrPhaseOrder
)

// Config holds the platoon-level constants.
type Config struct {
	MaxSize          int
	JoinTimeoutTicks uint64
	RelaxFactor      float64 // leader cruise speed factor while a frontal join is pending
	CutInGapExtra    float64 // m added to the rear member's gap for a cut-in
	StaleTicks       uint64
}

// DefaultConfig returns the platoon defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:          8,
		JoinTimeoutTicks: 600,
		RelaxFactor:      0.8,
		CutInGapExtra:    8,
		StaleTicks:       5,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithID sets the platoon ID instead of a generated one.
func WithID(id string) Option {
	return func(p *Manager) {
		p.id = id
	}
}

// WithConfig replaces the default constants.
func WithConfig(c Config) Option {
	return func(p *Manager) {
		p.cfg = c
	}
}

// WithLogger sets the logger. Defaults to the world logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Manager) {
		p.logger = l
	}
}

type pendingJoin struct {
	candidate *vehicle.Manager
	maneuver  core.Maneuver
	gapMember *vehicle.Manager
}

// Manager coordinates one platoon.
type Manager struct {
	id      string
	world   *world.World
	cfg     Config
	logger  *slog.Logger
	metrics *metrics

	members     []*vehicle.Manager
	destination *core.Location
	path        *queue.Ring[core.Waypoint]
	pathSpacing float64
	pending     *pendingJoin

	createdTime time.Time
	createdTick uint64
	updated     bool
	updatedTick uint64
	destroyed   bool
}

var _ vehicle.JoinTarget = (*Manager)(nil)

// New creates an empty platoon and registers it in w.
func New(w *world.World, opts ...Option) (*Manager, error) {
	p := &Manager{
		id:          uuid.NewString(),
		world:       w,
		cfg:         DefaultConfig(),
		createdTime: w.Now(),
		createdTick: w.Tick(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = w.Logger()
	}
	p.logger = p.logger.With("platoon", p.id)

	m, err := newMetrics()
	if err != nil {
		return nil, err
	}
	p.metrics = m

	if err := w.RegisterPlatoon(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ID returns the platoon ID.
func (p *Manager) ID() string { return p.id }

// MemberIDs returns the member vehicle IDs by rank.
func (p *Manager) MemberIDs() []string {
	ids := make([]string, len(p.members))
	for i, m := range p.members {
		ids[i] = m.ID()
	}
	return ids
}

// Members returns the members by rank.
func (p *Manager) Members() []*vehicle.Manager {
	return slices.Clone(p.members)
}

// Leader returns the member at index 0, nil when empty.
func (p *Manager) Leader() *vehicle.Manager {
	if len(p.members) == 0 {
		return nil
	}
	return p.members[0]
}

// Size returns the member count.
func (p *Manager) Size() int { return len(p.members) }

// Destroyed reports whether Destroy ran.
func (p *Manager) Destroyed() bool { return p.destroyed }

// Destination returns the shared destination.
func (p *Manager) Destination() (core.Location, bool) {
	if p.destination == nil {
		return core.Location{}, false
	}
	return *p.destination, true
}

// Pending returns the join in progress.
func (p *Manager) Pending() (core.Maneuver, bool) {
	if p.pending == nil {
		return core.Maneuver{}, false
	}
	return p.pending.maneuver, true
}

// Info returns the record persisted for this platoon.
func (p *Manager) Info() core.Platoon {
	return core.Platoon{
		ID:          p.id,
		CreatedTime: p.createdTime,
		CreatedTick: p.createdTick,
		Destination: p.destination,
	}
}

// Snapshot returns the composition at the current tick.
func (p *Manager) Snapshot() core.PlatoonSnapshot {
	s := core.PlatoonSnapshot{
		PlatoonID: p.id,
		Tick:      p.world.Tick(),
		Time:      p.world.Now(),
		Members:   p.MemberIDs(),
	}
	if p.pending != nil {
		s.Pending = p.pending.candidate.ID()
	}
	return s
}

// Path returns the leader path history, oldest first.
func (p *Manager) Path() []core.Waypoint {
	if p.path == nil {
		return nil
	}
	return p.path.Items()
}

func (p *Manager) contains(vm *vehicle.Manager) bool {
	return slices.Contains(p.members, vm)
}

// SetLead designates the leader of an empty platoon.
func (p *Manager) SetLead(vm *vehicle.Manager) error {
	if p.destroyed {
		return ErrDestroyed
	}
	if len(p.members) > 0 {
		return fmt.Errorf("%w: %s leads %s", ErrLeaderExists, p.members[0].ID(), p.id)
	}
	if err := vm.CheckFree(); err != nil {
		return err
	}
	if p.destination != nil {
		if err := vm.SetDestination(*p.destination, true); err != nil {
			return err
		}
	}
	if err := vm.JoinPlatoon(p.id, 0); err != nil {
		return err
	}
	p.members = []*vehicle.Manager{vm}
	p.resetPath(vm)
	p.logger.Info("leader set", "vehicle", vm.ID())
	return nil
}

// ReplaceLead swaps the leader for vm, which must not be a member. The previous
// leader is released and keeps driving on its own.
func (p *Manager) ReplaceLead(vm *vehicle.Manager) error {
	if p.destroyed {
		return ErrDestroyed
	}
	if len(p.members) == 0 {
		return p.SetLead(vm)
	}
	if p.members[0] == vm {
		return nil
	}
	if p.pending != nil {
		return ErrManeuverInProgress
	}
	if err := vm.CheckFree(); err != nil {
		return err
	}
	if p.destination != nil {
		if err := vm.SetDestination(*p.destination, true); err != nil {
			return err
		}
	}
	if err := vm.JoinPlatoon(p.id, 0); err != nil {
		return err
	}
	old := p.members[0]
	if err := old.Release(); err != nil {
		p.logger.Error("releasing replaced leader", "vehicle", old.ID(), "error", err)
	}
	next := make([]*vehicle.Manager, 0, len(p.members))
	next = append(next, vm)
	next = append(next, p.members[1:]...)
	p.swap(next)
	p.resetPath(vm)
	p.logger.Info("leader replaced", "old", old.ID(), "new", vm.ID())
	return nil
}

// AddMember appends vm at the back in MAINTAINING. It assumes the vehicle is
// already in position; joins on the road go through the join protocol.
func (p *Manager) AddMember(vm *vehicle.Manager) error {
	if p.destroyed {
		return ErrDestroyed
	}
	if len(p.members) == 0 {
		return ErrNoLeader
	}
	if p.contains(vm) {
		return fmt.Errorf("%w: %s", ErrAlreadyMember, vm.ID())
	}
	if err := vm.CheckFree(); err != nil {
		return err
	}
	if len(p.members) >= p.cfg.MaxSize {
		return fmt.Errorf("%w: %d members", ErrPlatoonFull, len(p.members))
	}
	if err := vm.JoinPlatoon(p.id, len(p.members)); err != nil {
		return err
	}
	next := make([]*vehicle.Manager, 0, len(p.members)+1)
	next = append(next, p.members...)
	next = append(next, vm)
	p.swap(next)
	p.logger.Info("member added", "vehicle", vm.ID(), "rank", vm.Rank())
	return nil
}

// RemoveMember releases vm from the platoon. Removing the last member tears the
// platoon down.
func (p *Manager) RemoveMember(vm *vehicle.Manager) error {
	if p.destroyed {
		return ErrDestroyed
	}
	if !p.contains(vm) {
		return fmt.Errorf("%w: %s", ErrNotMember, vm.ID())
	}
	if p.pending != nil {
		return ErrManeuverInProgress
	}
	if err := vm.Release(); err != nil {
		return err
	}
	oldLeader := p.members[0]
	next := slices.DeleteFunc(slices.Clone(p.members), func(m *vehicle.Manager) bool { return m == vm })
	p.swap(next)
	if len(next) == 0 {
		return p.Destroy()
	}
	if next[0] != oldLeader {
		p.promote(next[0])
	}
	return nil
}

// SetDestination stores the shared destination and routes the leader to it.
// Followers track the leader and do not route on their own.
func (p *Manager) SetDestination(loc core.Location) error {
	if p.destroyed {
		return ErrDestroyed
	}
	dest := loc
	p.destination = &dest
	if l := p.Leader(); l != nil {
		return l.SetDestination(loc, true)
	}
	return nil
}

// UpdateInformation refreshes every member for the current tick: the leader
// first, then each follower with the leader and predecessor state published in
// this same tick.
func (p *Manager) UpdateInformation(w *world.World) error {
	if p.destroyed {
		return ErrDestroyed
	}
	now := w.Tick()
	p.updated, p.updatedTick = true, now
	p.expirePending(now)
	if len(p.members) == 0 {
		return nil
	}

	leader := p.members[0]
	if err := leader.UpdateInformation(w); err != nil {
		return fmt.Errorf("updating leader %s: %w", leader.ID(), err)
	}
	ls := leader.Snapshot()
	if leader.HasSnapshot() && ls.Tick == now && leader.PlatoonID() == p.id {
		p.recordPath(ls)
	}

	pred := ls
	path := p.Path()
	for _, f := range p.members[1:] {
		f.SetFollowTarget(vehicle.FollowTarget{
			Leader:      ls,
			Predecessor: pred,
			Path:        path,
			Destination: p.destination,
		})
		if err := f.UpdateInformation(w); err != nil {
			return fmt.Errorf("updating follower %s: %w", f.ID(), err)
		}
		if f.PlatoonID() == p.id && !f.Destroyed() {
			pred = f.Snapshot()
		}
	}
	return p.prune(now)
}

// prune drops members that left, lost the leader or whose actor is gone, and
// dissolves the platoon when the leader state is stale.
func (p *Manager) prune(now uint64) error {
	leader := p.members[0]
	ls := leader.Snapshot()
	leaderLost := !leader.HasSnapshot() || ls.Age(now) > p.cfg.StaleTicks || leader.PlatoonID() != p.id

	next := make([]*vehicle.Manager, 0, len(p.members))
	for i, m := range p.members {
		switch {
		case m.Status() == fsm.Leaving:
			if err := m.Detach(); err != nil {
				p.logger.Error("detaching member", "vehicle", m.ID(), "error", err)
			}
			p.logger.Info("member left", "vehicle", m.ID())
		case m.PlatoonID() != p.id:
			p.logger.Info("member dropped out", "vehicle", m.ID(), "status", m.Status().String())
		case leaderLost:
			if err := m.Release(); err != nil {
				p.logger.Error("releasing member", "vehicle", m.ID(), "error", err)
			}
		case i > 0 && m.Destroyed():
			if err := m.Release(); err != nil {
				p.logger.Error("releasing destroyed member", "vehicle", m.ID(), "error", err)
			}
		default:
			next = append(next, m)
		}
	}
	if len(next) == len(p.members) {
		return nil
	}
	if leaderLost {
		p.logger.Warn("leader lost, dissolving platoon", "leader", leader.ID(), "age", ls.Age(now))
	}
	p.swap(next)
	if len(next) == 0 {
		return p.Destroy()
	}
	if next[0] != leader {
		p.promote(next[0])
	}
	return nil
}

// RunStep produces and applies the control of every member, leader first.
func (p *Manager) RunStep() (map[string]core.VehicleControl, error) {
	if p.destroyed {
		return nil, ErrDestroyed
	}
	if !p.updated || p.updatedTick != p.world.Tick() {
		return nil, ErrPhaseOrder
	}
	out := make(map[string]core.VehicleControl, len(p.members))
	for _, m := range p.members {
		if m.Destroyed() {
			continue
		}
		c, err := m.RunStep()
		if err != nil {
			return out, fmt.Errorf("stepping %s: %w", m.ID(), err)
		}
		if err := m.ApplyControl(c); err != nil {
			return out, err
		}
		out[m.ID()] = c
	}
	return out, nil
}

// Destroy releases every member and deregisters the platoon. Vehicles are not
// despawned. A pending join is aborted by its candidate on its next update.
func (p *Manager) Destroy() error {
	if p.destroyed {
		return nil
	}
	var errs []error
	for _, m := range p.members {
		if err := m.Release(); err != nil {
			errs = append(errs, fmt.Errorf("releasing %s: %w", m.ID(), err))
		}
	}
	p.members = nil
	p.pending = nil
	p.destroyed = true
	p.world.RemovePlatoon(p.id)
	p.logger.Info("platoon destroyed")
	return errors.Join(errs...)
}

// swap installs a new member slice and renumbers ranks.
func (p *Manager) swap(next []*vehicle.Manager) {
	for i, m := range next {
		m.SetRank(i)
	}
	p.members = next
}

// promote hands the route to a follower that became leader.
func (p *Manager) promote(vm *vehicle.Manager) {
	p.logger.Info("new leader", "vehicle", vm.ID())
	p.resetPath(vm)
	if p.destination != nil {
		if err := vm.SetDestination(*p.destination, true); err != nil {
			p.logger.Error("routing new leader", "vehicle", vm.ID(), "error", err)
		}
	}
}

func (p *Manager) resetPath(leader *vehicle.Manager) {
	cfg := leader.Config()
	p.path = queue.NewRing[core.Waypoint](cfg.BufferSize)
	p.pathSpacing = cfg.SampleResolution
}

// recordPath samples the leader pose every pathSpacing metres.
func (p *Manager) recordPath(s core.VehicleState) {
	if last, ok := p.path.Newest(); ok && last.Transform.Location.Distance(s.Transform.Location) < p.pathSpacing {
		return
	}
	p.path.Push(core.Waypoint{Transform: s.Transform, Speed: s.Speed, Tick: s.Tick})
}

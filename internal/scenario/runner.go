// Package scenario drives the simulator, the world state and the platoon
// managers through the per-tick protocol, and ships the bundled scenarios.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/OCAP2/platoon/internal/platoon"
	"github.com/OCAP2/platoon/internal/sim"
	"github.com/OCAP2/platoon/internal/vehicle"
	"github.com/OCAP2/platoon/internal/world"
	"github.com/OCAP2/platoon/pkg/core"
)

// BackgroundStatus is published for autopilot traffic.
const BackgroundStatus = "background"

var ErrTornDown = errors.New("scenario torn down")

// Recorder receives what the runner spawns and every tick's published states.
// worker.Manager implements it.
type Recorder interface {
	RegisterVehicle(core.Vehicle) error
	RegisterPlatoon(core.Platoon) error
	RecordTick(tick uint64, states []core.VehicleState, snapshots []core.PlatoonSnapshot)
}

type nopRecorder struct{}

func (nopRecorder) RegisterVehicle(core.Vehicle) error { return nil }
func (nopRecorder) RegisterPlatoon(core.Platoon) error { return nil }
func (nopRecorder) RecordTick(uint64, []core.VehicleState, []core.PlatoonSnapshot) {}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder sets where spawned entities and tick states are sent.
func WithRecorder(r Recorder) Option {
	return func(rn *Runner) {
		if r != nil {
			rn.recorder = r
		}
	}
}

// WithLogger sets the logger. Defaults to the world logger.
func WithLogger(l *slog.Logger) Option {
	return func(rn *Runner) {
		rn.logger = l
	}
}

// WithVehicleDefaults sets the config every spawned vehicle starts from.
func WithVehicleDefaults(c vehicle.Config) Option {
	return func(rn *Runner) {
		rn.vehicleCfg = c
	}
}

// WithPlatoonConfig sets the config of every platoon the runner creates.
func WithPlatoonConfig(c platoon.Config) Option {
	return func(rn *Runner) {
		rn.platoonCfg = c
	}
}

// background is an autopilot actor published into the world so managed
// vehicles see it as traffic.
type background struct {
	actor *sim.Actor
}

func (b *background) ID() string { return b.actor.ID() }

// Runner owns one scenario run.
type Runner struct {
	sim        *sim.Simulator
	world      *world.World
	recorder   Recorder
	logger     *slog.Logger
	vehicleCfg vehicle.Config
	platoonCfg platoon.Config

	vehicles   []*vehicle.Manager
	roles      map[string]*vehicle.Manager
	actors     map[string]*sim.Actor
	platoons   []*platoon.Manager
	background []*background
	tornDown   bool
}

// NewRunner creates a runner over s and w.
func NewRunner(s *sim.Simulator, w *world.World, opts ...Option) *Runner {
	r := &Runner{
		sim:        s,
		world:      w,
		recorder:   nopRecorder{},
		vehicleCfg: vehicle.DefaultConfig(),
		platoonCfg: platoon.DefaultConfig(),
		roles:      make(map[string]*vehicle.Manager),
		actors:     make(map[string]*sim.Actor),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = w.Logger()
	}
	r.logger = r.logger.With("component", "scenario")
	return r
}

// Sim returns the simulator.
func (r *Runner) Sim() *sim.Simulator { return r.sim }

// World returns the world state.
func (r *Runner) World() *world.World { return r.world }

// Platoons returns the platoons still alive.
func (r *Runner) Platoons() []*platoon.Manager { return r.platoons }

// Vehicles returns every managed vehicle in spawn order.
func (r *Runner) Vehicles() []*vehicle.Manager { return r.vehicles }

// Vehicle returns the managed vehicle spawned with role name role.
func (r *Runner) Vehicle(role string) (*vehicle.Manager, bool) {
	v, ok := r.roles[role]
	return v, ok
}

// Actor returns the simulator actor behind a managed vehicle.
func (r *Runner) Actor(id string) (*sim.Actor, bool) {
	a, ok := r.actors[id]
	return a, ok
}

// VehicleSpec describes one managed vehicle to spawn.
type VehicleSpec struct {
	Blueprint string
	Color     string // empty keeps the blueprint colour
	Role      string
	Transform core.Transform
	Speed     float64 // initial speed, m/s
	Configure func(*vehicle.Config)
}

// SpawnVehicle spawns an actor and wraps it in a vehicle manager.
func (r *Runner) SpawnVehicle(spec VehicleSpec) (*vehicle.Manager, error) {
	if r.tornDown {
		return nil, ErrTornDown
	}
	a, err := r.spawnActor(spec)
	if err != nil {
		return nil, err
	}

	cfg := r.vehicleCfg
	if spec.Configure != nil {
		spec.Configure(&cfg)
	}
	m, err := vehicle.New(a, r.world, cfg,
		vehicle.WithLogger(r.logger),
		vehicle.WithTrafficLights(r.sim))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("managing %s: %w", spec.Role, err), a.Destroy())
	}

	r.vehicles = append(r.vehicles, m)
	r.actors[m.ID()] = a
	if spec.Role != "" {
		r.roles[spec.Role] = m
	}
	r.register(a, true)
	return m, nil
}

// SpawnBackground spawns an autopilot actor that is not platooning-aware.
func (r *Runner) SpawnBackground(spec VehicleSpec) (*sim.Actor, error) {
	if r.tornDown {
		return nil, ErrTornDown
	}
	a, err := r.spawnActor(spec)
	if err != nil {
		return nil, err
	}
	a.SetAutopilot(true)

	bg := &background{actor: a}
	if err := r.world.RegisterVehicle(bg); err != nil {
		return nil, errors.Join(err, a.Destroy())
	}
	r.background = append(r.background, bg)
	r.register(a, false)
	return a, nil
}

func (r *Runner) spawnActor(spec VehicleSpec) (*sim.Actor, error) {
	bp, err := sim.FindBlueprint(spec.Blueprint)
	if err != nil {
		return nil, err
	}
	if spec.Color != "" {
		bp = bp.WithColor(spec.Color)
	}
	a, err := r.sim.Spawn(bp, spec.Transform, spec.Role)
	if err != nil {
		return nil, fmt.Errorf("spawning %s: %w", spec.Role, err)
	}
	if spec.Speed > 0 {
		if err := a.SetTargetVelocity(spec.Speed); err != nil {
			return nil, errors.Join(err, a.Destroy())
		}
	}
	return a, nil
}

func (r *Runner) register(a *sim.Actor, managed bool) {
	bp := a.Blueprint()
	err := r.recorder.RegisterVehicle(core.Vehicle{
		ID:        a.ID(),
		JoinTime:  r.world.Now(),
		JoinTick:  r.world.Tick(),
		Model:     bp.ID,
		Color:     bp.Color,
		RoleName:  a.RoleName(),
		Length:    a.Length(),
		IsManaged: managed,
	})
	if err != nil {
		r.logger.Error("vehicle not recorded", "vehicle", a.ID(), "error", err)
	}
}

// NewPlatoon forms a platoon led by leader with followers in order and routes
// it to dest.
func (r *Runner) NewPlatoon(dest core.Location, leader *vehicle.Manager, followers ...*vehicle.Manager) (*platoon.Manager, error) {
	if r.tornDown {
		return nil, ErrTornDown
	}
	p, err := platoon.New(r.world, platoon.WithConfig(r.platoonCfg), platoon.WithLogger(r.logger))
	if err != nil {
		return nil, err
	}
	if err := p.SetLead(leader); err != nil {
		return nil, errors.Join(err, p.Destroy())
	}
	for _, f := range followers {
		if err := p.AddMember(f); err != nil {
			return nil, errors.Join(err, p.Destroy())
		}
	}
	if err := p.SetDestination(dest); err != nil {
		return nil, errors.Join(err, p.Destroy())
	}
	r.platoons = append(r.platoons, p)
	if err := r.recorder.RegisterPlatoon(p.Info()); err != nil {
		r.logger.Error("platoon not recorded", "platoon", p.ID(), "error", err)
	}
	return p, nil
}

// Step runs one tick: the simulator advances, the world tick begins, every
// platoon updates and then steps, and finally every free vehicle updates,
// steps and applies its control.
func (r *Runner) Step() (uint64, error) {
	if r.tornDown {
		return 0, ErrTornDown
	}
	if _, err := r.sim.Tick(); err != nil {
		return 0, fmt.Errorf("simulator tick: %w", err)
	}
	now := r.world.BeginTick()

	if err := r.publishBackground(); err != nil {
		return now, err
	}

	for _, p := range r.platoons {
		if p.Destroyed() {
			continue
		}
		if err := p.UpdateInformation(r.world); err != nil && !errors.Is(err, platoon.ErrDestroyed) {
			return now, fmt.Errorf("platoon %s update: %w", p.ID(), err)
		}
	}
	for _, p := range r.platoons {
		if p.Destroyed() {
			continue
		}
		if _, err := p.RunStep(); err != nil {
			return now, fmt.Errorf("platoon %s step: %w", p.ID(), err)
		}
	}

	for _, v := range r.vehicles {
		if v.PlatoonID() != "" || v.Destroyed() {
			continue
		}
		if !v.UpdatedAt(now) {
			if err := v.UpdateInformation(r.world); err != nil {
				return now, fmt.Errorf("vehicle %s update: %w", v.ID(), err)
			}
		}
		if v.Destroyed() || v.PlatoonID() != "" {
			continue
		}
		c, err := v.RunStep()
		if err != nil {
			return now, fmt.Errorf("vehicle %s step: %w", v.ID(), err)
		}
		if err := v.ApplyControl(c); err != nil {
			return now, err
		}
	}

	r.recorder.RecordTick(now, r.world.States(), r.snapshots())
	r.platoons = r.livePlatoons()
	return now, nil
}

func (r *Runner) publishBackground() error {
	live := r.background[:0]
	for _, bg := range r.background {
		if !bg.actor.IsAlive() {
			r.world.RemoveVehicle(bg.ID())
			continue
		}
		tr, err := bg.actor.Transform()
		if err != nil {
			return err
		}
		vel, err := bg.actor.Velocity()
		if err != nil {
			return err
		}
		if _, err := r.world.Publish(core.VehicleState{
			VehicleID: bg.ID(),
			Transform: tr,
			Velocity:  vel,
			Speed:     vel.Length(),
			Length:    bg.actor.Length(),
			Status:    BackgroundStatus,
			Rank:      -1,
			Control:   bg.actor.Control(),
		}); err != nil {
			return err
		}
		live = append(live, bg)
	}
	r.background = live
	return nil
}

func (r *Runner) snapshots() []core.PlatoonSnapshot {
	out := make([]core.PlatoonSnapshot, 0, len(r.platoons))
	for _, p := range r.platoons {
		if !p.Destroyed() {
			out = append(out, p.Snapshot())
		}
	}
	return out
}

func (r *Runner) livePlatoons() []*platoon.Manager {
	live := r.platoons[:0]
	for _, p := range r.platoons {
		if !p.Destroyed() {
			live = append(live, p)
		}
	}
	return live
}

// Run steps until ticks have run, ctx is done or a step fails. hook, when not
// nil, runs after every step.
func (r *Runner) Run(ctx context.Context, ticks int, hook func(*Runner, uint64) error) error {
	for i := 0; i < ticks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		now, err := r.Step()
		if err != nil {
			return err
		}
		if hook != nil {
			if err := hook(r, now); err != nil {
				return fmt.Errorf("tick %d: %w", now, err)
			}
		}
	}
	return nil
}

// Teardown destroys the platoons and every actor. The world is cleared.
// It is safe to call more than once.
func (r *Runner) Teardown() error {
	if r.tornDown {
		return nil
	}
	r.tornDown = true

	var errs []error
	for _, p := range r.platoons {
		if err := p.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, v := range r.vehicles {
		v.Remove()
	}
	for _, a := range r.sim.Actors() {
		if err := a.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	r.platoons = nil
	r.background = nil
	r.world.Reset()
	r.logger.Info("scenario torn down", "tick", r.world.Tick())
	return errors.Join(errs...)
}

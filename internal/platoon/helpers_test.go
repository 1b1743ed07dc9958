package platoon

import (
	"sync"
	"testing"

	"github.com/OCAP2/platoon/internal/sim"
	"github.com/OCAP2/platoon/internal/vehicle"
	"github.com/OCAP2/platoon/internal/world"
	"github.com/OCAP2/platoon/pkg/core"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu          sync.Mutex
	transitions []core.StatusTransition
	events      []core.ManeuverEvent
}

func (r *recorder) RecordStatusTransition(t core.StatusTransition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) RecordManeuverEvent(e core.ManeuverEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(kind core.ManeuverEventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// fixture drives managers against sim actors without ticking the simulator, so
// positions only change when a test teleports an actor.
type fixture struct {
	sim    *sim.Simulator
	world  *world.World
	rec    *recorder
	actors map[string]*sim.Actor
}

func newFixture() *fixture {
	rec := &recorder{}
	return &fixture{
		sim:    sim.New(),
		world:  world.New(world.WithRecorder(rec)),
		rec:    rec,
		actors: make(map[string]*sim.Actor),
	}
}

func (f *fixture) vehicle(t *testing.T, x, y, speed float64, mutate ...func(*vehicle.Config)) *vehicle.Manager {
	t.Helper()
	bp, err := sim.FindBlueprint("vehicle.lincoln.mkz2017")
	require.NoError(t, err)
	a, err := f.sim.Spawn(bp, core.Transform{Location: core.Location{X: x, Y: y}}, "hero")
	require.NoError(t, err)
	require.NoError(t, a.SetTargetVelocity(speed))

	cfg := vehicle.DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	m, err := vehicle.New(a, f.world, cfg)
	require.NoError(t, err)
	f.actors[m.ID()] = a
	return m
}

func (f *fixture) platoon(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	p, err := New(f.world, opts...)
	require.NoError(t, err)
	return p
}

// convoy builds a static platoon L, F1, F2 spaced 10 m apart, all at speed.
func (f *fixture) convoy(t *testing.T, speed float64, opts ...Option) (*Manager, []*vehicle.Manager) {
	t.Helper()
	p := f.platoon(t, opts...)
	l := f.vehicle(t, 50, 0, speed)
	f1 := f.vehicle(t, 40, 0, speed)
	f2 := f.vehicle(t, 30, 0, speed)
	require.NoError(t, p.SetLead(l))
	require.NoError(t, p.AddMember(f1))
	require.NoError(t, p.AddMember(f2))
	require.NoError(t, p.SetDestination(core.Location{X: 630, Y: 0}))
	return p, []*vehicle.Manager{l, f1, f2}
}

// tick runs one synchronous step: platoons first, then the free vehicles.
func (f *fixture) tick(t *testing.T, p *Manager, free ...*vehicle.Manager) {
	t.Helper()
	now := f.world.BeginTick()
	if !p.Destroyed() {
		require.NoError(t, p.UpdateInformation(f.world))
	}
	if !p.Destroyed() {
		_, err := p.RunStep()
		require.NoError(t, err)
	}
	for _, v := range free {
		if v.PlatoonID() != "" || v.Destroyed() {
			continue
		}
		if !v.UpdatedAt(now) {
			require.NoError(t, v.UpdateInformation(f.world))
		}
		if v.Destroyed() || v.PlatoonID() != "" {
			continue
		}
		c, err := v.RunStep()
		require.NoError(t, err)
		require.NoError(t, v.ApplyControl(c))
	}
}

// teleportToSlot puts the candidate exactly on its join slot at slot speed.
func (f *fixture) teleportToSlot(t *testing.T, p *Manager, c *vehicle.Manager) {
	t.Helper()
	slot, err := p.JoinSlot(c)
	require.NoError(t, err)
	a := f.actors[c.ID()]
	require.NoError(t, a.SetTransform(slot.Transform))
	require.NoError(t, a.SetTargetVelocity(slot.Speed))
}

func requireLeaderInvariant(t *testing.T, p *Manager) {
	t.Helper()
	leaders := 0
	for i, m := range p.Members() {
		in, id, rank := m.PlatooningStatus()
		require.True(t, in, "member %s not in platoon", m.ID())
		require.Equal(t, p.ID(), id)
		require.Equal(t, i, rank, "rank of %s", m.ID())
		if rank == 0 {
			leaders++
		}
	}
	if p.Size() > 0 {
		require.Equal(t, 1, leaders)
	}
}

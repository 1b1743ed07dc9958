package vehicle

import (
	"sync"
	"testing"

	"github.com/OCAP2/platoon/internal/agent"
	"github.com/OCAP2/platoon/internal/fsm"
	"github.com/OCAP2/platoon/internal/sim"
	"github.com/OCAP2/platoon/internal/world"
	"github.com/OCAP2/platoon/pkg/core"
	"github.com/stretchr/testify/assert"
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

type fixture struct {
	sim   *sim.Simulator
	world *world.World
	rec   *recorder
}

func newFixture() *fixture {
	rec := &recorder{}
	return &fixture{
		sim:   sim.New(),
		world: world.New(world.WithRecorder(rec)),
		rec:   rec,
	}
}

func (f *fixture) vehicle(t *testing.T, x, y, speed float64, mutate ...func(*Config)) (*Manager, *sim.Actor) {
	t.Helper()
	bp, err := sim.FindBlueprint("vehicle.lincoln.mkz2017")
	require.NoError(t, err)
	a, err := f.sim.Spawn(bp, core.Transform{Location: core.Location{X: x, Y: y}}, "hero")
	require.NoError(t, err)
	require.NoError(t, a.SetTargetVelocity(speed))

	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	m, err := New(a, f.world, cfg)
	require.NoError(t, err)
	return m, a
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"lowercase searching", func(c *Config) { c.Status = "searching" }, false},
		{"empty status", func(c *Config) { c.Status = "" }, false},
		{"member status", func(c *Config) { c.Status = "MAINTAINING" }, true},
		{"unknown status", func(c *Config) { c.Status = "CRUISING" }, true},
		{"zero buffer", func(c *Config) { c.BufferSize = 0 }, true},
		{"zero resolution", func(c *Config) { c.SampleResolution = 0 }, true},
		{"zero update freq", func(c *Config) { c.UpdateFreq = 0 }, true},
		{"negative time to collision", func(c *Config) { c.MinTimeToCollision = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_RegistersInWorld(t *testing.T) {
	f := newFixture()
	m, a := f.vehicle(t, 0, 0, 0)

	got, ok := f.world.Vehicle(a.ID())
	require.True(t, ok)
	assert.Same(t, m, got)
	assert.Equal(t, fsm.Searching, m.Status())

	_, err := New(a, f.world, DefaultConfig())
	assert.ErrorIs(t, err, world.ErrDuplicateVehicle)
}

func TestNew_RejectsInitialMemberStatus(t *testing.T) {
	f := newFixture()
	bp, _ := sim.FindBlueprint("vehicle.audi.tt")
	a, _ := f.sim.Spawn(bp, core.Transform{}, "hero")

	cfg := DefaultConfig()
	cfg.Status = fsm.JoinedLeader.String()
	_, err := New(a, f.world, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, ok := f.world.Vehicle(a.ID())
	assert.False(t, ok, "nothing registered on error")
}

func TestRunStep_PhaseOrder(t *testing.T) {
	f := newFixture()
	m, _ := f.vehicle(t, 0, 0, 0)

	f.world.BeginTick()
	_, err := m.RunStep()
	assert.ErrorIs(t, err, ErrPhaseOrder)

	require.NoError(t, m.UpdateInformation(f.world))
	_, err = m.RunStep()
	assert.NoError(t, err)

	f.world.BeginTick()
	_, err = m.RunStep()
	assert.ErrorIs(t, err, ErrPhaseOrder, "update from the previous tick does not count")
}

func TestUpdateInformation_PublishesSnapshot(t *testing.T) {
	f := newFixture()
	m, a := f.vehicle(t, 3, 4, 5)

	f.world.BeginTick()
	require.NoError(t, m.UpdateInformation(f.world))

	s, ok := f.world.State(a.ID())
	require.True(t, ok)
	assert.Equal(t, uint64(1), s.Tick)
	assert.Equal(t, 3.0, s.Transform.Location.X)
	assert.InDelta(t, 5, s.Speed, 1e-9)
	assert.Equal(t, "SEARCHING", s.Status)
	assert.Equal(t, -1, s.Rank)
	assert.Equal(t, s, m.Snapshot())
}

func TestPlatooningStatus_Idempotent(t *testing.T) {
	f := newFixture()
	m, _ := f.vehicle(t, 0, 0, 0)

	in, id, rank := m.PlatooningStatus()
	assert.False(t, in)
	assert.Empty(t, id)
	assert.Equal(t, -1, rank)

	require.NoError(t, m.JoinPlatoon("p1", 2))
	in1, id1, rank1 := m.PlatooningStatus()
	in2, id2, rank2 := m.PlatooningStatus()
	assert.Equal(t, []any{true, "p1", 2}, []any{in1, id1, rank1})
	assert.Equal(t, []any{in1, id1, rank1}, []any{in2, id2, rank2})
}

func TestJoinPlatoon_AndRelease(t *testing.T) {
	f := newFixture()
	m, _ := f.vehicle(t, 0, 0, 0)

	require.NoError(t, m.JoinPlatoon("p1", 0))
	assert.Equal(t, fsm.Maintaining, m.Status())
	assert.ErrorIs(t, m.JoinPlatoon("p2", 0), ErrAlreadyMember)

	require.NoError(t, m.Release())
	assert.Equal(t, fsm.Searching, m.Status())
	assert.Equal(t, -1, m.Rank())
	assert.NoError(t, m.Release(), "releasing a free vehicle is a no-op")

	require.Len(t, f.rec.transitions, 2)
	assert.Equal(t, "formed", f.rec.transitions[0].Trigger)
	assert.Equal(t, "p1", f.rec.transitions[0].PlatoonID)
	assert.Equal(t, "released", f.rec.transitions[1].Trigger)
	assert.Equal(t, "p1", f.rec.transitions[1].PlatoonID)
}

func TestOpenGap_LeaderRelaxesSpeed(t *testing.T) {
	f := newFixture()
	m, _ := f.vehicle(t, 0, 0, 0)
	require.NoError(t, m.JoinPlatoon("p1", 0))

	require.NoError(t, m.OpenGap(0, 0.8))
	assert.Equal(t, fsm.OpenGap, m.Status())
	b := m.Agent().(*agent.Behavior)
	assert.InDelta(t, 0.8*12, b.SpeedLimit(), 1e-9)

	require.NoError(t, m.ReleaseGap())
	assert.Equal(t, fsm.Maintaining, m.Status())
	assert.Zero(t, b.SpeedLimit())
	assert.NoError(t, m.ReleaseGap(), "no gap open")
}

func TestOpenGap_NotMember(t *testing.T) {
	f := newFixture()
	m, _ := f.vehicle(t, 0, 0, 0)
	assert.ErrorIs(t, m.OpenGap(8, 0.8), ErrNotMember)
	assert.Equal(t, fsm.Searching, m.Status())
}

func TestLeaveRoundTrip(t *testing.T) {
	f := newFixture()
	m, _ := f.vehicle(t, 0, 0, 0)
	assert.ErrorIs(t, m.RequestLeave(), ErrNotMember)

	require.NoError(t, m.JoinPlatoon("p1", 1))
	require.NoError(t, m.RequestLeave())
	assert.Equal(t, fsm.Leaving, m.Status())
	assert.ErrorIs(t, m.RequestLeave(), fsm.ErrInvalidTransition)

	require.NoError(t, m.Detach())
	assert.Equal(t, fsm.Searching, m.Status())
	in, _, _ := m.PlatooningStatus()
	assert.False(t, in)
	_, ok := m.Maneuver()
	assert.False(t, ok)
	_, ok = m.FollowTarget()
	assert.False(t, ok)

	require.NotEmpty(t, f.rec.events)
	assert.Equal(t, core.ManeuverLeft, f.rec.events[0].Kind)
}

func followPair(t *testing.T, f *fixture, gap float64) (leader, follower *Manager) {
	t.Helper()
	leader, _ = f.vehicle(t, gap, 0, 10)
	follower, _ = f.vehicle(t, 0, 0, 10)
	require.NoError(t, leader.JoinPlatoon("p1", 0))
	require.NoError(t, follower.JoinPlatoon("p1", 1))
	return leader, follower
}

func stepFollower(t *testing.T, f *fixture, leader, follower *Manager, updateLeader bool) core.VehicleControl {
	t.Helper()
	f.world.BeginTick()
	if updateLeader {
		require.NoError(t, leader.UpdateInformation(f.world))
	}
	ls := leader.Snapshot()
	dest := core.Location{X: 500}
	follower.SetFollowTarget(FollowTarget{Leader: ls, Predecessor: ls, Destination: &dest})
	require.NoError(t, follower.UpdateInformation(f.world))
	c, err := follower.RunStep()
	require.NoError(t, err)
	return c
}

func TestFollowControl_ClosesLargeGap(t *testing.T) {
	f := newFixture()
	leader, follower := followPair(t, f, 20)

	c := stepFollower(t, f, leader, follower, true)
	assert.Greater(t, c.Throttle, 0.0)
	assert.Zero(t, c.Brake)
	assert.Equal(t, fsm.Maintaining, follower.Status())

	ft, ok := follower.FollowTarget()
	require.True(t, ok)
	assert.LessOrEqual(t, ft.Leader.Age(f.world.Tick()), uint64(1))
}

func TestFollowControl_BrakesWhenTooClose(t *testing.T) {
	f := newFixture()
	leader, follower := followPair(t, f, 8)

	c := stepFollower(t, f, leader, follower, true)
	assert.Greater(t, c.Brake, 0.0)
	assert.Zero(t, c.Throttle)
}

func TestFollowControl_StaleLeader(t *testing.T) {
	f := newFixture()
	leader, follower := followPair(t, f, 20)
	stepFollower(t, f, leader, follower, true)

	// age 1: the snapshot is still usable
	c := stepFollower(t, f, leader, follower, false)
	assert.Greater(t, c.Throttle, 0.0)

	// ages 2..5: brake gently, stay in the platoon
	for age := 2; age <= 5; age++ {
		c = stepFollower(t, f, leader, follower, false)
		assert.Equal(t, follower.Config().StaleBrake, c.Brake, "age %d", age)
		assert.Zero(t, c.Throttle)
		assert.Equal(t, fsm.Maintaining, follower.Status())
	}

	// age 6: leader lost, fall back to own routing
	c = stepFollower(t, f, leader, follower, false)
	assert.Equal(t, fsm.Searching, follower.Status())
	in, _, rank := follower.PlatooningStatus()
	assert.False(t, in)
	assert.Equal(t, -1, rank)
	assert.False(t, follower.Agent().Done(), "routed to the shared destination")
	assert.Greater(t, c.Throttle, 0.0)

	last := f.rec.transitions[len(f.rec.transitions)-1]
	assert.Equal(t, "leader_lost", last.Trigger)
}

func TestDestroyedActor(t *testing.T) {
	f := newFixture()
	m, a := f.vehicle(t, 0, 0, 0)
	require.NoError(t, a.Destroy())

	f.world.BeginTick()
	require.NoError(t, m.UpdateInformation(f.world))
	assert.True(t, m.Destroyed())
	_, err := m.RunStep()
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.ErrorIs(t, m.ApplyControl(core.VehicleControl{}), ErrDestroyed)
	assert.ErrorIs(t, m.JoinPlatoon("p1", 0), ErrDestroyed)
}

func TestRemove_Deregisters(t *testing.T) {
	f := newFixture()
	m, a := f.vehicle(t, 0, 0, 0)
	m.Remove()
	_, ok := f.world.Vehicle(a.ID())
	assert.False(t, ok)
	assert.True(t, m.Destroyed())
}

func TestDebugTrajectory(t *testing.T) {
	f := newFixture()
	m, a := f.vehicle(t, 0, 0, 0, func(c *Config) {
		c.DebugTrajectory = true
		c.BufferSize = 3
	})

	for i := 0; i < 6; i++ {
		f.world.BeginTick()
		require.NoError(t, a.SetTransform(core.Transform{Location: core.Location{X: float64(i) * 5}}))
		require.NoError(t, m.UpdateInformation(f.world))
	}
	traj := m.Trajectory()
	require.Len(t, traj, 3)
	assert.Equal(t, 15.0, traj[0].Transform.Location.X)
	assert.Equal(t, 25.0, traj[2].Transform.Location.X)
}

func TestClampSpeed(t *testing.T) {
	f := newFixture()
	m, _ := f.vehicle(t, 0, 0, 0, func(c *Config) { c.Limits.MaxSpeed = 20 })

	assert.Equal(t, 0.0, m.clampSpeed(-3))
	assert.Equal(t, 12.5, m.clampSpeed(12.5))
	assert.Equal(t, 20.0, m.clampSpeed(31))
}

func TestRemove_CandidateCancelsJoinOnce(t *testing.T) {
	f := newFixture()
	m, _ := f.vehicle(t, 0, 0, 0)
	now := f.world.BeginTick()
	require.NoError(t, m.UpdateInformation(f.world))
	m.maneuver = &core.Maneuver{ID: "m-1", PlatoonID: "gone", CandidateID: m.ID(), DeadlineTick: now + 10}
	_, err := m.machine.Fire(fsm.JoinAccepted)
	require.NoError(t, err)

	m.Remove()
	m.Remove()

	assert.Equal(t, fsm.Searching, m.Status())
	_, ok := m.Maneuver()
	assert.False(t, ok)
	aborted := 0
	for _, e := range f.rec.events {
		if e.Kind == core.ManeuverAborted {
			aborted++
			assert.Equal(t, AbortCandidateGone, e.Reason)
		}
	}
	assert.Equal(t, 1, aborted)
}

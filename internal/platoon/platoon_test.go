package platoon

import (
	"testing"

	"github.com/OCAP2/platoon/internal/fsm"
	"github.com/OCAP2/platoon/internal/vehicle"
	"github.com/OCAP2/platoon/internal/world"
	"github.com/OCAP2/platoon/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Registers(t *testing.T) {
	f := newFixture()
	p := f.platoon(t, WithID("alpha"))

	got, ok := f.world.Platoon("alpha")
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Nil(t, p.Leader())
	assert.Zero(t, p.Size())

	_, err := New(f.world, WithID("alpha"))
	assert.ErrorIs(t, err, world.ErrDuplicatePlatoon)
}

// Scenario 1: static formation.
func TestStaticFormation(t *testing.T) {
	f := newFixture()
	p, vs := f.convoy(t, 0)
	l, f1, f2 := vs[0], vs[1], vs[2]

	assert.Equal(t, []string{l.ID(), f1.ID(), f2.ID()}, p.MemberIDs())
	requireLeaderInvariant(t, p)

	f.tick(t, p)

	for _, m := range []*vehicle.Manager{f1, f2} {
		assert.Equal(t, fsm.Maintaining, m.Status())
	}
	f.world.BeginTick()
	require.NoError(t, p.UpdateInformation(f.world))
	controls, err := p.RunStep()
	require.NoError(t, err)
	require.Len(t, controls, 3)
	assert.False(t, controls[f1.ID()].IsZero(), "F1 tracks the leader")
	assert.False(t, controls[f2.ID()].IsZero(), "F2 tracks F1")
	assert.Equal(t, controls[f1.ID()], f.actors[f1.ID()].Control(), "controls are applied")
}

// Scenario 4: duplicate leader rejection.
func TestSetLead_Duplicate(t *testing.T) {
	f := newFixture()
	p := f.platoon(t)
	l := f.vehicle(t, 0, 0, 0)
	x := f.vehicle(t, 20, 0, 0)

	require.NoError(t, p.SetLead(l))
	err := p.SetLead(x)
	assert.ErrorIs(t, err, ErrLeaderExists)
	assert.Same(t, l, p.Leader())
	assert.Equal(t, fsm.Searching, x.Status())
	assert.Equal(t, 1, p.Size())
}

func TestReplaceLead(t *testing.T) {
	f := newFixture()
	p, vs := f.convoy(t, 0)
	x := f.vehicle(t, 80, 0, 0)

	require.NoError(t, p.ReplaceLead(x))
	assert.Same(t, x, p.Leader())
	assert.Equal(t, fsm.Searching, vs[0].Status(), "old leader released")
	assert.Equal(t, []string{x.ID(), vs[1].ID(), vs[2].ID()}, p.MemberIDs())
	requireLeaderInvariant(t, p)

	assert.ErrorIs(t, p.ReplaceLead(vs[1]), ErrAlreadyMember)
}

func TestAddMember_Errors(t *testing.T) {
	f := newFixture()
	p := f.platoon(t, WithConfig(Config{MaxSize: 2, JoinTimeoutTicks: 600, RelaxFactor: 0.8, StaleTicks: 5}))
	l := f.vehicle(t, 0, 0, 0)
	a := f.vehicle(t, -10, 0, 0)
	b := f.vehicle(t, -20, 0, 0)

	assert.ErrorIs(t, p.AddMember(a), ErrNoLeader)

	require.NoError(t, p.SetLead(l))
	require.NoError(t, p.AddMember(a))
	assert.ErrorIs(t, p.AddMember(a), ErrAlreadyMember)
	assert.ErrorIs(t, p.AddMember(b), ErrPlatoonFull)
	assert.Equal(t, fsm.Searching, b.Status(), "rejected vehicle untouched")

	other := f.platoon(t)
	assert.ErrorIs(t, other.SetLead(a), ErrAlreadyMember)
}

func TestRemoveMember(t *testing.T) {
	f := newFixture()
	p, vs := f.convoy(t, 0)

	require.NoError(t, p.RemoveMember(vs[1]))
	assert.Equal(t, []string{vs[0].ID(), vs[2].ID()}, p.MemberIDs())
	assert.Equal(t, fsm.Searching, vs[1].Status())
	requireLeaderInvariant(t, p)

	assert.ErrorIs(t, p.RemoveMember(vs[1]), ErrNotMember)

	require.NoError(t, p.RemoveMember(vs[0]))
	assert.Same(t, vs[2], p.Leader(), "follower promoted")
	requireLeaderInvariant(t, p)

	require.NoError(t, p.RemoveMember(vs[2]))
	assert.True(t, p.Destroyed(), "last member tears the platoon down")
	_, ok := f.world.Platoon(p.ID())
	assert.False(t, ok)
}

func TestDestroy_ReleasesWithoutDespawning(t *testing.T) {
	f := newFixture()
	p, vs := f.convoy(t, 0)

	require.NoError(t, p.Destroy())
	assert.True(t, p.Destroyed())
	assert.Zero(t, p.Size())
	for _, m := range vs {
		assert.Equal(t, fsm.Searching, m.Status())
		assert.True(t, f.actors[m.ID()].IsAlive())
	}
	_, ok := f.world.Platoon(p.ID())
	assert.False(t, ok)

	assert.NoError(t, p.Destroy(), "destroy is idempotent")
	assert.ErrorIs(t, p.SetLead(vs[0]), ErrDestroyed)
	assert.ErrorIs(t, p.UpdateInformation(f.world), ErrDestroyed)
	_, err := p.RunStep()
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestRunStep_PhaseOrder(t *testing.T) {
	f := newFixture()
	p, _ := f.convoy(t, 0)

	f.world.BeginTick()
	_, err := p.RunStep()
	assert.ErrorIs(t, err, ErrPhaseOrder)

	require.NoError(t, p.UpdateInformation(f.world))
	_, err = p.RunStep()
	assert.NoError(t, err)

	f.world.BeginTick()
	_, err = p.RunStep()
	assert.ErrorIs(t, err, ErrPhaseOrder)
}

func TestUpdateInformation_FollowersSeeThisTicksLeader(t *testing.T) {
	f := newFixture()
	p, vs := f.convoy(t, 10)

	for i := 0; i < 5; i++ {
		f.tick(t, p)
		now := f.world.Tick()
		for _, m := range vs[1:] {
			ft, ok := m.FollowTarget()
			require.True(t, ok)
			assert.Equal(t, now, ft.Leader.Tick)
			assert.LessOrEqual(t, ft.Predecessor.Age(now), uint64(1))
		}
	}
	ft, _ := vs[2].FollowTarget()
	assert.Equal(t, vs[1].ID(), ft.Predecessor.VehicleID)
	assert.NotEmpty(t, p.Path())
}

func TestLeaderPathSampling(t *testing.T) {
	f := newFixture()
	p, vs := f.convoy(t, 10)
	leader := f.actors[vs[0].ID()]

	for i := 0; i < 30; i++ {
		require.NoError(t, leader.SetTransform(core.Transform{Location: core.Location{X: 50 + float64(i)}}))
		f.tick(t, p)
	}
	path := p.Path()
	require.Len(t, path, 6, "x = 50, 55, ..., 75")
	for i := 1; i < len(path); i++ {
		d := path[i].Transform.Location.Distance(path[i-1].Transform.Location)
		assert.GreaterOrEqual(t, d, vs[0].Config().SampleResolution)
	}
}

// Scenario 3: leader loss fallback.
func TestLeaderLoss(t *testing.T) {
	f := newFixture()
	p, vs := f.convoy(t, 10)
	f.tick(t, p)

	require.NoError(t, f.actors[vs[0].ID()].Destroy())
	stale := vs[0].Config().StaleTicks

	for i := uint64(1); i <= stale; i++ {
		f.tick(t, p)
		for _, m := range vs[1:] {
			assert.Equal(t, fsm.Maintaining, m.Status(), "tick %d", i)
		}
	}

	f.tick(t, p)
	for _, m := range vs[1:] {
		assert.Equal(t, fsm.Searching, m.Status())
		in, _, _ := m.PlatooningStatus()
		assert.False(t, in)
		assert.False(t, m.Agent().Done(), "%s routes to the shared destination", m.ID())
	}
	assert.True(t, p.Destroyed())
	_, ok := f.world.Platoon(p.ID())
	assert.False(t, ok)
}

func TestRequestLeave_LeaderPromotesNext(t *testing.T) {
	f := newFixture()
	p, vs := f.convoy(t, 10)
	f.tick(t, p)

	require.NoError(t, vs[0].RequestLeave())
	f.tick(t, p)

	assert.Equal(t, fsm.Searching, vs[0].Status())
	assert.Equal(t, []string{vs[1].ID(), vs[2].ID()}, p.MemberIDs())
	requireLeaderInvariant(t, p)
}

package sim

import (
	"testing"

	"github.com/OCAP2/platoon/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lincoln(t *testing.T) Blueprint {
	t.Helper()
	bp, err := FindBlueprint("vehicle.lincoln.mkz2017")
	require.NoError(t, err)
	return bp
}

func at(x, y, yaw float64) core.Transform {
	return core.Transform{Location: core.Location{X: x, Y: y}, Rotation: core.Rotation{Yaw: yaw}}
}

func TestFindBlueprint(t *testing.T) {
	_, err := FindBlueprint("vehicle.unknown")
	assert.ErrorIs(t, err, ErrUnknownBlueprint)

	bp := lincoln(t).WithColor("0, 0, 0")
	assert.Equal(t, "0, 0, 0", bp.Color)
	assert.Contains(t, Blueprints(), "vehicle.lincoln.mkz2017")
}

func TestSpawn_Collision(t *testing.T) {
	s := New()
	_, err := s.Spawn(lincoln(t), at(0, 0, 0), "hero")
	require.NoError(t, err)

	_, err = s.Spawn(lincoln(t), at(1, 0, 0), "hero")
	assert.ErrorIs(t, err, ErrSpawnCollision)

	_, err = s.Spawn(lincoln(t), at(10, 0, 0), "hero")
	assert.NoError(t, err)
	assert.Len(t, s.Actors(), 2)
}

func TestTick_ThrottleAndBrake(t *testing.T) {
	s := New()
	a, err := s.Spawn(lincoln(t), at(0, 0, 0), "hero")
	require.NoError(t, err)

	require.NoError(t, a.ApplyControl(core.VehicleControl{Throttle: 1}))
	for i := 0; i < 20; i++ {
		_, err := s.Tick()
		require.NoError(t, err)
	}
	vel, err := a.Velocity()
	require.NoError(t, err)
	assert.Greater(t, vel.X, 2.5)
	tr, _ := a.Transform()
	assert.Greater(t, tr.Location.X, 1.0)
	assert.InDelta(t, 0, tr.Location.Y, 1e-9)

	require.NoError(t, a.ApplyControl(core.VehicleControl{Brake: 1}))
	for i := 0; i < 20; i++ {
		_, _ = s.Tick()
	}
	vel, _ = a.Velocity()
	assert.Zero(t, vel.Length())
	assert.Equal(t, uint64(40), s.Frame())
	assert.InDelta(t, 2.0, s.Elapsed(), 1e-9)
}

func TestTick_SteerRight(t *testing.T) {
	s := New()
	a, _ := s.Spawn(lincoln(t), at(0, 0, 0), "hero")
	require.NoError(t, a.SetTargetVelocity(10))
	require.NoError(t, a.ApplyControl(core.VehicleControl{Steer: 0.2}))
	for i := 0; i < 10; i++ {
		_, _ = s.Tick()
	}
	tr, _ := a.Transform()
	assert.Greater(t, tr.Rotation.Yaw, 0.0)
	assert.Greater(t, tr.Location.Y, 0.0, "yaw increases towards +Y")
}

func TestDestroy(t *testing.T) {
	s := New()
	a, _ := s.Spawn(lincoln(t), at(0, 0, 0), "hero")
	require.NoError(t, a.Destroy())

	assert.False(t, a.IsAlive())
	_, err := a.Transform()
	assert.ErrorIs(t, err, ErrActorDestroyed)
	assert.ErrorIs(t, a.ApplyControl(core.VehicleControl{}), ErrActorDestroyed)
	assert.ErrorIs(t, a.Destroy(), ErrActorDestroyed)
	assert.Empty(t, s.Actors())
}

func TestAutopilot_FollowsSpeedDifference(t *testing.T) {
	s := New(WithSpeedLimit(10))
	s.SetGlobalSpeedDifference(-80)
	a, _ := s.Spawn(lincoln(t), at(0, 0, 0), "background")
	a.SetAutopilot(true)

	for i := 0; i < 400; i++ {
		_, _ = s.Tick()
	}
	vel, _ := a.Velocity()
	assert.InDelta(t, 18, vel.Length(), 1.0)
}

func TestAutopilot_KeepsDistance(t *testing.T) {
	s := New(WithSpeedLimit(15))
	s.SetGlobalDistanceToLeadingVehicle(1)
	lead, _ := s.Spawn(lincoln(t), at(30, 0, 0), "parked")
	a, _ := s.Spawn(lincoln(t), at(0, 0, 0), "background")
	a.SetAutopilot(true)

	for i := 0; i < 600; i++ {
		_, _ = s.Tick()
	}
	lt, _ := lead.Transform()
	ft, _ := a.Transform()
	assert.Less(t, ft.Location.X, lt.Location.X-lincoln(t).Length)
}

func TestTrafficLight(t *testing.T) {
	s := New()
	l := s.AddTrafficLight(at(50, 0, 0), 1, 1, 1, 0)
	assert.Equal(t, Green, l.State())

	_, ok := s.RedAhead(at(0, 0, 0), 100)
	assert.False(t, ok)

	for i := 0; i < 30; i++ { // 1.5 s
		_, _ = s.Tick()
	}
	assert.Equal(t, Yellow, l.State())

	d, ok := s.RedAhead(at(0, 0, 0), 100)
	require.True(t, ok)
	assert.InDelta(t, 50, d, 1e-9)

	_, ok = s.RedAhead(at(0, 0, 180), 100)
	assert.False(t, ok, "light faces the other way")
	_, ok = s.RedAhead(at(0, 0, 0), 20)
	assert.False(t, ok, "beyond lookahead")
}

func TestClose(t *testing.T) {
	s := New()
	a, _ := s.Spawn(lincoln(t), at(0, 0, 0), "hero")
	s.Close()

	assert.False(t, a.IsAlive())
	_, err := s.Tick()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Spawn(lincoln(t), at(0, 0, 0), "hero")
	assert.ErrorIs(t, err, ErrClosed)
}

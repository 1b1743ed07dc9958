package control

import (
	"testing"

	"github.com/OCAP2/platoon/pkg/core"
	"github.com/stretchr/testify/assert"
)

func TestPedals(t *testing.T) {
	l := DefaultLimits()

	tests := []struct {
		name     string
		accel    float64
		throttle float64
		brake    float64
	}{
		{"coast", 0, 0, 0},
		{"half throttle", 1.5, 0.5, 0},
		{"saturated throttle", 10, 1, 0},
		{"half brake", -4, 0, 0.5},
		{"saturated brake", -50, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Pedals(tt.accel, l)
			assert.InDelta(t, tt.throttle, c.Throttle, 1e-9)
			assert.InDelta(t, tt.brake, c.Brake, 1e-9)
		})
	}
}

func TestPID_ProportionalAndIntegral(t *testing.T) {
	p := NewPID(1.2, 0.05, 0)
	out := p.Step(2, 0.05)
	assert.InDelta(t, 1.2*2+0.05*0.1, out, 1e-9)

	p.Reset()
	assert.InDelta(t, 1.2, p.Step(1, 0.05)-0.05*0.05, 1e-9)
}

func TestPID_IntegralClamped(t *testing.T) {
	p := NewPID(0, 1, 0)
	p.IntegralLimit = 1
	var out float64
	for i := 0; i < 100; i++ {
		out = p.Step(10, 0.1)
	}
	assert.InDelta(t, 1.0, out, 1e-9)
}

func TestSpacing_DesiredGapGrowsWithSpeed(t *testing.T) {
	s := Spacing{Standstill: 4.5, TimeGap: 0.6, GapGain: 0.4}
	assert.InDelta(t, 4.5, s.DesiredGap(0, 0), 1e-9)
	assert.InDelta(t, 10.5, s.DesiredGap(10, 0), 1e-9)
	assert.InDelta(t, 18.5, s.DesiredGap(10, 8), 1e-9)
	assert.InDelta(t, 4.5, s.DesiredGap(-3, 0), 1e-9, "negative speed treated as zero")
}

func TestSpacing_SpeedTarget(t *testing.T) {
	s := Spacing{Standstill: 4.5, TimeGap: 0.6, GapGain: 0.5}
	// on target gap: match the vehicle ahead
	assert.InDelta(t, 10, s.SpeedTarget(10, 10, 10.5, 0), 1e-9)
	// too far: speed up
	assert.Greater(t, s.SpeedTarget(10, 10, 20, 0), 10.0)
	// too close: slow down
	assert.Less(t, s.SpeedTarget(10, 10, 5, 0), 10.0)
}

func TestSlotSpeedTarget(t *testing.T) {
	assert.InDelta(t, 13, SlotSpeedTarget(10, -5, 0.6), 1e-9)
	assert.InDelta(t, 7, SlotSpeedTarget(10, 5, 0.6), 1e-9)
}

func TestIDM(t *testing.T) {
	m := DefaultIDM()

	assert.InDelta(t, m.MaxAccel, m.Free(0, 10), 1e-9)
	assert.InDelta(t, 0, m.Free(10, 10), 1e-9)

	assert.Less(t, m.Follow(10, 15, 10, 5), 0.0, "close behind brakes")
	assert.Greater(t, m.Follow(5, 15, 10, 100), 0.0, "far behind accelerates")
	assert.Equal(t, -m.MaxDecel, m.Follow(5, 15, 0, 0), "collision brakes fully")
	assert.Less(t, m.Stop(10, 15, 10), 0.0)
}

func TestPursuit_Steer(t *testing.T) {
	p := DefaultPursuit()
	pose := core.Transform{}

	assert.InDelta(t, 0, p.Steer(pose, core.Location{X: 10}), 1e-9)
	// +Y is to the right at yaw 0
	assert.Greater(t, p.Steer(pose, core.Location{X: 10, Y: 2}), 0.0)
	assert.Less(t, p.Steer(pose, core.Location{X: 10, Y: -2}), 0.0)
	assert.InDelta(t, 0, p.Steer(pose, pose.Location), 1e-9)
}

func TestPursuit_PathTarget(t *testing.T) {
	p := DefaultPursuit()
	path := []core.Waypoint{
		{Transform: core.Transform{Location: core.Location{X: -5}}},
		{Transform: core.Transform{Location: core.Location{X: 2}}},
		{Transform: core.Transform{Location: core.Location{X: 6}}},
		{Transform: core.Transform{Location: core.Location{X: 12}}},
	}

	loc, ok := p.PathTarget(core.Transform{}, path, 5)
	assert.True(t, ok)
	assert.Equal(t, 6.0, loc.X)

	_, ok = p.PathTarget(core.Transform{}, path, 20)
	assert.False(t, ok)
}

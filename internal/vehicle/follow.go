package vehicle

import (
	"math"

	"github.com/OCAP2/platoon/internal/control"
	"github.com/OCAP2/platoon/internal/fsm"
	"github.com/OCAP2/platoon/pkg/core"
)

// followControl tracks the predecessor with the constant time gap policy and
// steers along the leader's path history.
func (m *Manager) followControl() core.VehicleControl {
	if m.target == nil {
		return m.agent.RunStep()
	}
	now := m.world.Tick()
	self := m.state
	lookahead := m.pursuit.Lookahead(self.Speed)
	steerTo, ok := m.pursuit.PathTarget(self.Transform, m.target.Path, lookahead)

	// Never act on a snapshot older than one tick: coast down on the buffered path.
	if m.target.Leader.Age(now) > 1 || m.target.Predecessor.Age(now) > 1 {
		c := control.Brake(m.cfg.StaleBrake)
		if ok {
			c.Steer = m.pursuit.Steer(self.Transform, steerTo)
		}
		return c
	}

	pred := m.target.Predecessor
	gap := self.BumperGap(pred)
	vRef := m.clampSpeed(m.cfg.spacing().SpeedTarget(pred.Speed, self.Speed, gap, m.extraGap))
	accel := m.pid.Step(vRef-self.Speed, m.world.FixedDelta())
	c := control.Pedals(accel, m.cfg.Limits)
	if !ok {
		steerTo = pred.Transform.Location
	}
	c.Steer = m.pursuit.Steer(self.Transform, steerTo)
	return c
}

// maneuverControl converges on the join slot: a loose gain while approaching,
// a stiffer one while joining.
func (m *Manager) maneuverControl() core.VehicleControl {
	if m.slot == nil {
		return m.agent.RunStep()
	}
	self := m.state
	gain := m.cfg.ApproachGain
	if m.Status() == fsm.Joining {
		gain = m.cfg.JoinGain
	}
	lon, _ := m.slot.Transform.Offsets(self.Transform.Location)
	vRef := m.clampSpeed(control.SlotSpeedTarget(m.slot.Speed, lon, gain))
	if m.slot.Ahead != nil {
		// do not run into the vehicle that will be ahead after the merge
		gap := self.BumperGap(*m.slot.Ahead)
		if gap > 0 && gap < m.cfg.SampleResolution {
			vRef = m.clampSpeed(m.slot.Ahead.Speed - m.cfg.GapGain*(m.cfg.SampleResolution-gap))
		}
	}
	if m.slot.Behind != nil {
		// nor brake in front of the vehicle that will follow
		lonB, latB := self.Transform.Offsets(m.slot.Behind.Transform.Location)
		gap := -lonB - self.Length/2 - m.slot.Behind.Length/2
		if math.Abs(latB) < m.cfg.CorridorWidth && gap > 0 && gap < m.cfg.SampleResolution {
			vRef = max(vRef, m.clampSpeed(m.slot.Behind.Speed+m.cfg.GapGain*(m.cfg.SampleResolution-gap)))
		}
	}
	accel := m.pid.Step(vRef-self.Speed, m.world.FixedDelta())
	c := control.Pedals(accel, m.cfg.Limits)
	lane := m.slot.Transform.Project(lon+m.pursuit.Lookahead(self.Speed), 0)
	c.Steer = m.pursuit.Steer(self.Transform, lane)
	return c
}

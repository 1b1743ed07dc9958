package control

import "math"

// Spacing is the constant time gap policy followers keep to the vehicle ahead.
// Gaps are bumper to bumper.
type Spacing struct {
	Standstill float64 // m at zero speed
	TimeGap    float64 // s
	GapGain    float64 // 1/s, speed correction per metre of gap error
}

// DesiredGap returns the target bumper gap at speed v plus any extra gap requested
// by the platoon.
func (s Spacing) DesiredGap(v, extra float64) float64 {
	return s.Standstill + s.TimeGap*math.Max(v, 0) + extra
}

// SpeedTarget returns the speed a follower should hold given the speed of the
// vehicle ahead and the measured gap.
func (s Spacing) SpeedTarget(vAhead, v, gap, extra float64) float64 {
	return vAhead + s.GapGain*(gap-s.DesiredGap(v, extra))
}

// SlotSpeedTarget returns the approach speed towards a slot that moves at vSlot.
// lon is the signed offset of the vehicle from the slot, positive when ahead of it.
func SlotSpeedTarget(vSlot, lon, gain float64) float64 {
	return vSlot - gain*lon
}

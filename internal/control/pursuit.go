package control

import (
	"math"

	"github.com/OCAP2/platoon/pkg/core"
	"github.com/samber/lo"
)

// Pursuit is a pure-pursuit steering law.
type Pursuit struct {
	Wheelbase     float64 // m
	MaxSteerDeg   float64 // wheel angle at steer = 1
	MinLookahead  float64 // m
	LookaheadGain float64 // s, lookahead grows with speed
}

// DefaultPursuit returns steering parameters for a passenger car.
func DefaultPursuit() Pursuit {
	return Pursuit{Wheelbase: 2.9, MaxSteerDeg: 70, MinLookahead: 4.5, LookaheadGain: 0.8}
}

// Lookahead returns the lookahead distance at speed v.
func (p Pursuit) Lookahead(v float64) float64 {
	return math.Max(p.MinLookahead, p.LookaheadGain*v)
}

// Steer returns the normalised steer command that drives pose through target.
func (p Pursuit) Steer(pose core.Transform, target core.Location) float64 {
	lon, lat := pose.Offsets(target)
	ld2 := lon*lon + lat*lat
	if ld2 < 1e-6 {
		return 0
	}
	// curvature of the arc through target; lat is positive to the right
	kappa := 2 * lat / ld2
	angle := math.Atan(kappa*p.Wheelbase) * 180 / math.Pi
	return lo.Clamp(angle/p.MaxSteerDeg, -1, 1)
}

// PathTarget picks the first waypoint on path that lies at least lookahead metres
// ahead of pose. ok is false when no waypoint is far enough ahead.
func (p Pursuit) PathTarget(pose core.Transform, path []core.Waypoint, lookahead float64) (core.Location, bool) {
	for _, wp := range path {
		lon, _ := pose.Offsets(wp.Transform.Location)
		if lon >= lookahead {
			return wp.Transform.Location, true
		}
	}
	return core.Location{}, false
}

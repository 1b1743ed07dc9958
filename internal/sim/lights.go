package sim

import (
	"math"

	"github.com/OCAP2/platoon/pkg/core"
)

// LightState is the signal shown by a traffic light.
type LightState int

const (
	Green LightState = iota
	Yellow
	Red
)

func (l LightState) String() string {
	switch l {
	case Green:
		return "green"
	case Yellow:
		return "yellow"
	case Red:
		return "red"
	}
	return "unknown"
}

// TrafficLight is a fixed-cycle signal with a stop line facing one heading.
type TrafficLight struct {
	StopLine core.Transform
	Green    float64 // s
	Yellow   float64 // s
	Red      float64 // s

	phase float64
	state LightState
}

func (l *TrafficLight) advance(dt float64) {
	cycle := l.Green + l.Yellow + l.Red
	if cycle <= 0 {
		return
	}
	l.phase = math.Mod(l.phase+dt, cycle)
	switch {
	case l.phase < l.Green:
		l.state = Green
	case l.phase < l.Green+l.Yellow:
		l.state = Yellow
	default:
		l.state = Red
	}
}

// State returns the current signal.
func (l *TrafficLight) State() LightState { return l.state }

// AddTrafficLight installs a light whose cycle starts offset seconds in.
func (s *Simulator) AddTrafficLight(stopLine core.Transform, green, yellow, red, offset float64) *TrafficLight {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := &TrafficLight{StopLine: stopLine, Green: green, Yellow: yellow, Red: red}
	l.advance(offset)
	s.lights = append(s.lights, l)
	return l
}

// RedAhead returns the distance to the nearest non-green stop line ahead of pose
// that applies to its heading.
func (s *Simulator) RedAhead(pose core.Transform, lookahead float64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redAheadLocked(pose, lookahead)
}

func (s *Simulator) redAheadLocked(pose core.Transform, lookahead float64) (float64, bool) {
	best := math.Inf(1)
	for _, l := range s.lights {
		if l.state == Green {
			continue
		}
		if math.Abs(core.NormalizeAngle(l.StopLine.Rotation.Yaw-pose.Rotation.Yaw)) > 45 {
			continue
		}
		lon, lat := pose.Offsets(l.StopLine.Location)
		if lon <= 0 || lon > lookahead || math.Abs(lat) > 8 {
			continue
		}
		best = math.Min(best, lon)
	}
	return best, !math.IsInf(best, 1)
}

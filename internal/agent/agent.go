// Package agent is the free-driving vehicle agent a vehicle manager wraps: it routes
// to a destination, follows the vehicle ahead, stops for red lights and overtakes
// slow traffic when allowed.
package agent

import (
	"math"

	"github.com/OCAP2/platoon/internal/control"
	"github.com/OCAP2/platoon/internal/world"
	"github.com/OCAP2/platoon/pkg/core"
)

// TrafficLights reports the signal state ahead of a vehicle.
type TrafficLights interface {
	// RedAhead returns the distance to the stop line of the nearest red or yellow light
	// within lookahead metres in front of pose. ok is false when there is none.
	RedAhead(pose core.Transform, lookahead float64) (distance float64, ok bool)
}

// Config tunes a Behavior agent.
type Config struct {
	TargetSpeed        float64 // m/s cruise speed
	SampleResolution   float64 // m between route waypoints
	IgnoreTrafficLight bool
	OvertakeAllowed    bool
	LaneWidth          float64 // m, lateral shift used to overtake
	ArrivalTolerance   float64 // m
	SensorRange        float64 // m, lead vehicle and traffic light lookahead
	Limits             control.Limits
	IDM                control.IDM
	Pursuit            control.Pursuit
}

// DefaultConfig returns the agent defaults.
func DefaultConfig() Config {
	return Config{
		TargetSpeed:      12,
		SampleResolution: 4.5,
		LaneWidth:        3.5,
		ArrivalTolerance: 3,
		SensorRange:      60,
		Limits:           control.DefaultLimits(),
		IDM:              control.DefaultIDM(),
		Pursuit:          control.DefaultPursuit(),
	}
}

// Option configures a Behavior.
type Option func(*Behavior)

// WithTrafficLights sets the traffic light source.
func WithTrafficLights(tl TrafficLights) Option {
	return func(b *Behavior) {
		b.lights = tl
	}
}

// Behavior is the default agent.
type Behavior struct {
	cfg    Config
	lights TrafficLights

	route       []core.Waypoint
	destination *core.Location
	speedLimit  float64 // zero means no override

	self     core.VehicleState
	lead     *core.VehicleState
	leadGap  float64
	adjacent []core.VehicleState

	laneOffset float64
	overtaking string
}

// New returns an agent with cfg. Zero fields of cfg keep their defaults.
func New(cfg Config, opts ...Option) *Behavior {
	def := DefaultConfig()
	if cfg.TargetSpeed <= 0 {
		cfg.TargetSpeed = def.TargetSpeed
	}
	if cfg.SampleResolution <= 0 {
		cfg.SampleResolution = def.SampleResolution
	}
	if cfg.LaneWidth <= 0 {
		cfg.LaneWidth = def.LaneWidth
	}
	if cfg.ArrivalTolerance <= 0 {
		cfg.ArrivalTolerance = def.ArrivalTolerance
	}
	if cfg.SensorRange <= 0 {
		cfg.SensorRange = def.SensorRange
	}
	if cfg.Limits == (control.Limits{}) {
		cfg.Limits = def.Limits
	}
	if cfg.IDM == (control.IDM{}) {
		cfg.IDM = def.IDM
	}
	if cfg.Pursuit == (control.Pursuit{}) {
		cfg.Pursuit = def.Pursuit
	}
	b := &Behavior{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetDestination plans a straight route from start to end sampled every
// SampleResolution metres. With clean false the new leg is appended to the
// remaining route.
func (b *Behavior) SetDestination(start, end core.Location, clean bool) {
	if clean || len(b.route) == 0 {
		b.route = nil
	} else {
		start = b.route[len(b.route)-1].Transform.Location
	}
	b.route = append(b.route, sampleLeg(start, end, b.cfg.SampleResolution)...)
	dest := end
	b.destination = &dest
}

// Destination returns the current destination.
func (b *Behavior) Destination() (core.Location, bool) {
	if b.destination == nil {
		return core.Location{}, false
	}
	return *b.destination, true
}

// Route returns the remaining waypoints.
func (b *Behavior) Route() []core.Waypoint {
	out := make([]core.Waypoint, len(b.route))
	copy(out, b.route)
	return out
}

// Done reports whether the agent has no route left.
func (b *Behavior) Done() bool {
	return len(b.route) == 0
}

// TargetSpeed returns the configured cruise speed.
func (b *Behavior) TargetSpeed() float64 { return b.cfg.TargetSpeed }

// SetSpeedLimit caps the cruise speed until ClearSpeedLimit.
func (b *Behavior) SetSpeedLimit(v float64) {
	b.speedLimit = math.Max(v, 0)
}

// ClearSpeedLimit removes the cap set by SetSpeedLimit.
func (b *Behavior) ClearSpeedLimit() {
	b.speedLimit = 0
}

// SpeedLimit returns the active cap, zero when none.
func (b *Behavior) SpeedLimit() float64 { return b.speedLimit }

// Overtaking reports whether the agent is passing a vehicle.
func (b *Behavior) Overtaking() bool { return b.overtaking != "" }

// UpdateInformation refreshes the agent's view of itself and its surroundings.
func (b *Behavior) UpdateInformation(w *world.World, self core.VehicleState) {
	b.self = self
	b.pruneRoute()

	b.lead = nil
	b.leadGap = math.Inf(1)
	b.adjacent = b.adjacent[:0]
	for _, other := range w.Nearby(self.Transform.Location, b.cfg.SensorRange, self.VehicleID) {
		lon, lat := self.Transform.Offsets(other.Transform.Location)
		if math.Abs(lat) < b.cfg.LaneWidth/2 {
			if lon <= 0 {
				continue
			}
			gap := self.BumperGap(other)
			if gap < b.leadGap {
				o := other
				b.lead = &o
				b.leadGap = gap
			}
			continue
		}
		if math.Abs(lat-b.overtakeOffset()) < b.cfg.LaneWidth/2 {
			b.adjacent = append(b.adjacent, other)
		}
	}
	b.updateOvertake()
}

// overtakeOffset is the lateral offset of the lane the agent would move to next,
// relative to its own position.
func (b *Behavior) overtakeOffset() float64 {
	if b.laneOffset != 0 {
		return b.cfg.LaneWidth
	}
	return -b.cfg.LaneWidth
}

func (b *Behavior) pruneRoute() {
	for len(b.route) > 0 {
		lon, _ := b.self.Transform.Offsets(b.route[0].Transform.Location)
		if lon > b.cfg.SampleResolution/2 {
			break
		}
		if len(b.route) == 1 && b.self.Transform.Location.Distance(b.route[0].Transform.Location) > b.cfg.ArrivalTolerance && lon > 0 {
			break
		}
		b.route = b.route[1:]
	}
}

// updateOvertake pulls out behind slow traffic when the adjacent lane is clear
// and merges back once the overtaken vehicle is behind.
func (b *Behavior) updateOvertake() {
	if !b.cfg.OvertakeAllowed {
		b.laneOffset, b.overtaking = 0, ""
		return
	}
	if b.overtaking != "" {
		if b.lead != nil && b.lead.VehicleID == b.overtaking {
			return
		}
		for _, o := range b.adjacent {
			if o.VehicleID != b.overtaking {
				continue
			}
			lon, _ := b.self.Transform.Offsets(o.Transform.Location)
			if lon > -(b.self.Length + b.cfg.IDM.MinGap + b.cfg.IDM.Headway*b.self.Speed) {
				return
			}
		}
		if b.laneClear() {
			b.laneOffset, b.overtaking = 0, ""
		}
		return
	}
	if b.lead == nil || b.lead.Speed > 0.7*b.cruise() || b.leadGap > 30 {
		return
	}
	if b.laneClear() {
		b.laneOffset = -b.cfg.LaneWidth
		b.overtaking = b.lead.VehicleID
		b.lead = nil
		b.leadGap = math.Inf(1)
	}
}

func (b *Behavior) laneClear() bool {
	safe := b.cfg.IDM.MinGap + b.cfg.IDM.Headway*b.self.Speed
	for _, o := range b.adjacent {
		lon, _ := b.self.Transform.Offsets(o.Transform.Location)
		if math.Abs(lon) < safe+b.self.Length {
			return false
		}
	}
	return true
}

func (b *Behavior) cruise() float64 {
	if b.speedLimit > 0 {
		return math.Min(b.cfg.TargetSpeed, b.speedLimit)
	}
	return b.cfg.TargetSpeed
}

// RunStep returns the control for the current tick.
func (b *Behavior) RunStep() core.VehicleControl {
	v := b.self.Speed
	if len(b.route) == 0 {
		if v < 0.1 {
			return control.Brake(1)
		}
		return control.Pedals(-b.cfg.IDM.ComfortDecel, b.cfg.Limits)
	}

	vTarget := b.cruise()
	accel := b.cfg.IDM.Free(v, vTarget)
	if b.lead != nil {
		accel = math.Min(accel, b.cfg.IDM.Follow(v, vTarget, b.lead.Speed, b.leadGap))
	}
	if !b.cfg.IgnoreTrafficLight && b.lights != nil {
		if d, ok := b.lights.RedAhead(b.self.Transform, b.cfg.SensorRange); ok {
			accel = math.Min(accel, b.cfg.IDM.Stop(v, vTarget, d))
		}
	}
	if len(b.route) == 1 {
		d := b.self.Transform.Location.Distance(b.route[0].Transform.Location)
		accel = math.Min(accel, b.cfg.IDM.Stop(v, vTarget, d+b.cfg.IDM.MinGap))
	}

	c := control.Pedals(accel, b.cfg.Limits)
	c.Steer = b.cfg.Pursuit.Steer(b.self.Transform, b.steerTarget())
	return c
}

func (b *Behavior) steerTarget() core.Location {
	lookahead := b.cfg.Pursuit.Lookahead(b.self.Speed)
	target := b.route[len(b.route)-1]
	for _, wp := range b.route {
		if lon, _ := b.self.Transform.Offsets(wp.Transform.Location); lon >= lookahead {
			target = wp
			break
		}
	}
	return target.Transform.Project(0, b.laneOffset)
}

func sampleLeg(start, end core.Location, step float64) []core.Waypoint {
	d := end.Sub(start)
	length := d.Length()
	if length < 1e-6 {
		return nil
	}
	yaw := math.Atan2(d.Y, d.X) * 180 / math.Pi
	n := int(math.Ceil(length / step))
	out := make([]core.Waypoint, 0, n)
	for i := 1; i <= n; i++ {
		f := math.Min(float64(i)*step/length, 1)
		out = append(out, core.Waypoint{
			Transform: core.Transform{
				Location: start.Add(d.Scale(f)),
				Rotation: core.Rotation{Yaw: yaw},
			},
		})
	}
	return out
}

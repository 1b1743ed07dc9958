// pkg/core/vehicle.go
package core

import "time"

// Vehicle is a vehicle registered for recording.
// ID is the simulator actor identifier.
type Vehicle struct {
	ID        string
	JoinTime  time.Time
	JoinTick  uint64
	Model     string
	Color     string
	RoleName  string
	Length    float64
	IsManaged bool // false for background traffic
}

// VehicleState is a snapshot of a vehicle published into the world for one tick.
// VehicleID references the Vehicle's ID.
type VehicleState struct {
	VehicleID string
	Tick      uint64
	Time      time.Time
	Transform Transform
	Velocity  Vector3D
	Speed     float64 // m/s, planar
	Length    float64 // m, bumper to bumper
	Status    string
	PlatoonID string
	Rank      int // -1 when not in a platoon
	Control   VehicleControl
}

// Age returns how many ticks old the snapshot is at tick now.
func (s VehicleState) Age(now uint64) uint64 {
	if now < s.Tick {
		return 0
	}
	return now - s.Tick
}

// FrontLocation returns the location of the front bumper.
func (s VehicleState) FrontLocation() Location {
	return s.Transform.Project(s.Length/2, 0)
}

// RearLocation returns the location of the rear bumper.
func (s VehicleState) RearLocation() Location {
	return s.Transform.Project(-s.Length/2, 0)
}

// BumperGap returns the distance from the front bumper of s to the rear bumper of ahead,
// measured along the heading of s. Negative values mean overlap.
func (s VehicleState) BumperGap(ahead VehicleState) float64 {
	lon, _ := s.Transform.Offsets(ahead.Transform.Location)
	return lon - s.Length/2 - ahead.Length/2
}

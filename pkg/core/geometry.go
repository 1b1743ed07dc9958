// pkg/core/geometry.go
package core

import "math"

// Location is a point in the simulator frame, in metres.
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance returns the planar (XY) distance between two locations.
func (l Location) Distance(o Location) float64 {
	return math.Hypot(o.X-l.X, o.Y-l.Y)
}

// Add returns l offset by v.
func (l Location) Add(v Vector3D) Location {
	return Location{X: l.X + v.X, Y: l.Y + v.Y, Z: l.Z + v.Z}
}

// Sub returns the vector from o to l.
func (l Location) Sub(o Location) Vector3D {
	return Vector3D{X: l.X - o.X, Y: l.Y - o.Y, Z: l.Z - o.Z}
}

// Vector3D is a direction or velocity in the simulator frame.
type Vector3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Length returns the planar magnitude of v.
func (v Vector3D) Length() float64 {
	return math.Hypot(v.X, v.Y)
}

// Scale multiplies v by k.
func (v Vector3D) Scale(k float64) Vector3D {
	return Vector3D{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Rotation holds Euler angles in degrees, matching the simulator convention.
type Rotation struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// Forward returns the planar unit vector the rotation faces.
func (r Rotation) Forward() Vector3D {
	rad := r.Yaw * math.Pi / 180
	return Vector3D{X: math.Cos(rad), Y: math.Sin(rad)}
}

// Right returns the planar unit vector pointing to the right of Forward.
// The simulator frame is left-handed, so right is +90 degrees of yaw.
func (r Rotation) Right() Vector3D {
	rad := (r.Yaw + 90) * math.Pi / 180
	return Vector3D{X: math.Cos(rad), Y: math.Sin(rad)}
}

// Transform is a pose: location plus rotation.
type Transform struct {
	Location Location `json:"location"`
	Rotation Rotation `json:"rotation"`
}

// Offsets returns the longitudinal and lateral offsets of p in the frame of t.
// Positive lon is ahead of t, positive lat is to its right.
func (t Transform) Offsets(p Location) (lon, lat float64) {
	d := p.Sub(t.Location)
	f := t.Rotation.Forward()
	r := t.Rotation.Right()
	return d.X*f.X + d.Y*f.Y, d.X*r.X + d.Y*r.Y
}

// Project returns the location lon metres ahead and lat metres right of t.
func (t Transform) Project(lon, lat float64) Location {
	return t.Location.
		Add(t.Rotation.Forward().Scale(lon)).
		Add(t.Rotation.Right().Scale(lat))
}

// NormalizeAngle wraps an angle in degrees to (-180, 180].
func NormalizeAngle(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg > 180 {
		deg -= 360
	} else if deg <= -180 {
		deg += 360
	}
	return deg
}

// Waypoint is one sample of a recorded or planned path.
type Waypoint struct {
	Transform Transform `json:"transform"`
	Speed     float64   `json:"speed"` // m/s at the time the sample was taken
	Tick      uint64    `json:"tick"`
}

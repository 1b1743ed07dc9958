package sim

import (
	"math"

	"github.com/OCAP2/platoon/pkg/core"
)

// Actor is a simulated vehicle.
type Actor struct {
	sim       *Simulator
	id        string
	bp        Blueprint
	roleName  string
	transform core.Transform
	speed     float64
	control   core.VehicleControl
	alive     bool
	autopilot bool
}

// ID returns the actor identifier.
func (a *Actor) ID() string { return a.id }

// Blueprint returns the blueprint the actor was spawned from.
func (a *Actor) Blueprint() Blueprint { return a.bp }

// RoleName returns the role given at spawn.
func (a *Actor) RoleName() string { return a.roleName }

// Length returns the bumper to bumper length.
func (a *Actor) Length() float64 { return a.bp.Length }

// IsAlive reports whether the actor has not been destroyed.
func (a *Actor) IsAlive() bool {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	return a.alive
}

// Transform returns the current pose.
func (a *Actor) Transform() (core.Transform, error) {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	if !a.alive {
		return core.Transform{}, ErrActorDestroyed
	}
	return a.transform, nil
}

// Velocity returns the current velocity vector.
func (a *Actor) Velocity() (core.Vector3D, error) {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	if !a.alive {
		return core.Vector3D{}, ErrActorDestroyed
	}
	return a.transform.Rotation.Forward().Scale(a.speed), nil
}

// Control returns the last applied control.
func (a *Actor) Control() core.VehicleControl {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	return a.control
}

// ApplyControl sets the control used on the next tick.
func (a *Actor) ApplyControl(c core.VehicleControl) error {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	if !a.alive {
		return ErrActorDestroyed
	}
	a.control = c
	return nil
}

// SetTransform teleports the actor.
func (a *Actor) SetTransform(t core.Transform) error {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	if !a.alive {
		return ErrActorDestroyed
	}
	a.transform = t
	return nil
}

// SetTargetVelocity sets the speed along the current heading.
func (a *Actor) SetTargetVelocity(v float64) error {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	if !a.alive {
		return ErrActorDestroyed
	}
	a.speed = math.Max(v, 0)
	return nil
}

// SetAutopilot hands the actor to the simulator's background traffic driver.
func (a *Actor) SetAutopilot(enabled bool) {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	a.autopilot = enabled
}

// Destroy removes the actor from the simulation.
func (a *Actor) Destroy() error {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	if !a.alive {
		return ErrActorDestroyed
	}
	a.alive = false
	a.sim.logger.Debug("destroyed actor", "actor", a.id)
	return nil
}

// integrate advances the kinematic bicycle model by dt seconds.
func (a *Actor) integrate(dt float64) {
	c := a.control
	accel := c.Throttle*a.bp.MaxAccel - c.Brake*a.bp.MaxDecel - rollingResistance*a.speed
	if c.HandBrake {
		accel = -a.bp.MaxDecel
	}
	a.speed = math.Min(math.Max(a.speed+accel*dt, 0), a.bp.MaxSpeed)

	wheel := math.Max(-1, math.Min(1, c.Steer)) * a.bp.MaxSteerDeg * math.Pi / 180
	yawRate := a.speed / a.bp.Wheelbase * math.Tan(wheel) * 180 / math.Pi
	a.transform.Rotation.Yaw = core.NormalizeAngle(a.transform.Rotation.Yaw + yawRate*dt)

	dir := 1.0
	if c.Reverse {
		dir = -1
	}
	a.transform.Location = a.transform.Location.Add(a.transform.Rotation.Forward().Scale(dir * a.speed * dt))
}

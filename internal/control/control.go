// Package control holds the control laws vehicle managers and agents turn into
// actuation: a PID speed loop, the acceleration-to-pedal mapping, the constant
// time gap spacing policy, IDM car following and pure-pursuit steering.
package control

import (
	"github.com/OCAP2/platoon/pkg/core"
	"github.com/samber/lo"
)

// Limits bounds the longitudinal authority of a vehicle.
type Limits struct {
	MaxAccel float64 // m/s², full throttle
	MaxDecel float64 // m/s², positive, full brake
	MaxSpeed float64 // m/s
}

// DefaultLimits matches a passenger car in the stand-in simulator.
func DefaultLimits() Limits {
	return Limits{MaxAccel: 3.0, MaxDecel: 8.0, MaxSpeed: 30}
}

// Pedals maps a desired acceleration to throttle or brake.
func Pedals(accel float64, l Limits) core.VehicleControl {
	var c core.VehicleControl
	if accel >= 0 {
		c.Throttle = lo.Clamp(accel/l.MaxAccel, 0, 1)
	} else {
		c.Brake = lo.Clamp(-accel/l.MaxDecel, 0, 1)
	}
	return c
}

// Brake returns a control that decelerates at the given fraction of full brake.
func Brake(fraction float64) core.VehicleControl {
	return core.VehicleControl{Brake: lo.Clamp(fraction, 0, 1)}
}

// pkg/core/control.go
package core

// VehicleControl is the per-tick actuation command applied to a vehicle.
// Throttle and Brake are in [0,1], Steer in [-1,1].
type VehicleControl struct {
	Throttle  float64 `json:"throttle"`
	Steer     float64 `json:"steer"`
	Brake     float64 `json:"brake"`
	HandBrake bool    `json:"handBrake"`
	Reverse   bool    `json:"reverse"`
}

// IsZero reports whether the command leaves every actuator idle.
func (c VehicleControl) IsZero() bool {
	return c == VehicleControl{}
}

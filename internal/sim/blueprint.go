package sim

import (
	"fmt"
	"sort"
)

// Blueprint describes a spawnable vehicle model.
type Blueprint struct {
	ID          string
	Length      float64 // m
	Width       float64 // m
	Wheelbase   float64 // m
	MaxAccel    float64 // m/s² at full throttle
	MaxDecel    float64 // m/s² at full brake
	MaxSteerDeg float64 // front wheel angle at full steer
	MaxSpeed    float64 // m/s
	Color       string  // "r, g, b"
}

var library = map[string]Blueprint{
	"vehicle.lincoln.mkz2017": {
		ID: "vehicle.lincoln.mkz2017", Length: 4.9, Width: 2.1, Wheelbase: 2.9,
		MaxAccel: 3.0, MaxDecel: 8.0, MaxSteerDeg: 70, MaxSpeed: 50, Color: "255, 255, 255",
	},
	"vehicle.tesla.model3": {
		ID: "vehicle.tesla.model3", Length: 4.8, Width: 2.1, Wheelbase: 2.9,
		MaxAccel: 3.5, MaxDecel: 8.0, MaxSteerDeg: 70, MaxSpeed: 55, Color: "255, 0, 0",
	},
	"vehicle.audi.tt": {
		ID: "vehicle.audi.tt", Length: 4.2, Width: 2.0, Wheelbase: 2.5,
		MaxAccel: 3.2, MaxDecel: 8.0, MaxSteerDeg: 70, MaxSpeed: 50, Color: "0, 0, 255",
	},
	"vehicle.carlamotors.carlacola": {
		ID: "vehicle.carlamotors.carlacola", Length: 5.2, Width: 2.6, Wheelbase: 3.4,
		MaxAccel: 1.8, MaxDecel: 6.0, MaxSteerDeg: 60, MaxSpeed: 30, Color: "255, 0, 0",
	},
}

// FindBlueprint returns the blueprint with the given ID.
func FindBlueprint(id string) (Blueprint, error) {
	bp, ok := library[id]
	if !ok {
		return Blueprint{}, fmt.Errorf("%w: %s", ErrUnknownBlueprint, id)
	}
	return bp, nil
}

// Blueprints lists the known blueprint IDs.
func Blueprints() []string {
	ids := make([]string, 0, len(library))
	for id := range library {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WithColor returns a copy of bp painted in color.
func (bp Blueprint) WithColor(color string) Blueprint {
	bp.Color = color
	return bp
}

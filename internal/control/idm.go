package control

import (
	"math"

	"github.com/samber/lo"
)

const idmDelta = 4

// IDM is the intelligent driver model used by free-driving agents.
// See https://en.wikipedia.org/wiki/Intelligent_driver_model.
type IDM struct {
	MaxAccel     float64 // m/s²
	ComfortDecel float64 // m/s², positive
	MaxDecel     float64 // m/s², positive, emergency bound
	MinGap       float64 // m
	Headway      float64 // s
}

// DefaultIDM returns typical passenger car parameters.
func DefaultIDM() IDM {
	return IDM{MaxAccel: 2.0, ComfortDecel: 3.0, MaxDecel: 8.0, MinGap: 2.0, Headway: 1.5}
}

// Free returns the acceleration with no vehicle ahead.
func (m IDM) Free(v, vTarget float64) float64 {
	if vTarget <= 0 {
		return -m.MaxDecel
	}
	acc := m.MaxAccel * (1 - math.Pow(v/vTarget, idmDelta))
	return lo.Clamp(acc, -m.MaxDecel, m.MaxAccel)
}

// Follow returns the acceleration behind a vehicle moving at vAhead, gap metres away.
func (m IDM) Follow(v, vTarget, vAhead, gap float64) float64 {
	if gap <= 0 || vTarget <= 0 {
		return -m.MaxDecel
	}
	sStar := m.MinGap + math.Max(0, v*m.Headway+v*(v-vAhead)/2/math.Sqrt(m.ComfortDecel*m.MaxAccel))
	acc := m.MaxAccel * (1 - math.Pow(v/vTarget, idmDelta) - math.Pow(sStar/gap, 2))
	return lo.Clamp(acc, -m.MaxDecel, m.MaxAccel)
}

// Stop returns the acceleration to halt within distance metres.
func (m IDM) Stop(v, vTarget, distance float64) float64 {
	return m.Follow(v, vTarget, 0, distance)
}

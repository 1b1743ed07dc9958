package control

import "github.com/samber/lo"

// PID is a discrete PID controller with integral clamping.
type PID struct {
	Kp, Ki, Kd float64
	// IntegralLimit bounds the absolute integral term; zero disables the bound.
	IntegralLimit float64

	integral float64
	prevErr  float64
	primed   bool
}

// NewPID returns a controller with the given gains.
func NewPID(kp, ki, kd float64) *PID {
	return &PID{Kp: kp, Ki: ki, Kd: kd, IntegralLimit: 10}
}

// Step returns the controller output for err over dt seconds.
func (p *PID) Step(err, dt float64) float64 {
	if dt <= 0 {
		return p.Kp * err
	}
	p.integral += err * dt
	if p.IntegralLimit > 0 {
		p.integral = lo.Clamp(p.integral, -p.IntegralLimit, p.IntegralLimit)
	}
	var deriv float64
	if p.primed {
		deriv = (err - p.prevErr) / dt
	}
	p.prevErr = err
	p.primed = true
	return p.Kp*err + p.Ki*p.integral + p.Kd*deriv
}

// Reset clears the accumulated state.
func (p *PID) Reset() {
	p.integral, p.prevErr, p.primed = 0, 0, false
}

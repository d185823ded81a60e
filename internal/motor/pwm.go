// Package motor models the PWM response of the drive motors: duty-cycle
// conversion with a dead zone and power-law curve, plus acceleration-bounded
// inertia. It is a response model, not an electrical one.
package motor

import "math"

// Model holds the PWM response parameters.
type Model struct {
	// MaxDuty is the maximum duty cycle in percent.
	MaxDuty float64
	// DeadZone is the duty-cycle percentage below which the motor does not
	// turn at all.
	DeadZone float64
	// Exponent shapes the response above the dead zone. Values above 1 give
	// a concave curve: small duty above the dead zone yields
	// disproportionately small speed.
	Exponent float64
	// AccelerationPerMs bounds how far the effective speed may move toward
	// the target per millisecond.
	AccelerationPerMs float64
}

// Default returns the motor model used by the simulator.
func Default() Model {
	return Model{
		MaxDuty:           100,
		DeadZone:          10,
		Exponent:          1.5,
		AccelerationPerMs: 0.4,
	}
}

// SpeedToPWM converts a target speed to a duty-cycle percentage by linear
// normalization of speed/maxSpeed into [0, MaxDuty].
func (m Model) SpeedToPWM(speed, maxSpeed float64) float64 {
	if maxSpeed <= 0 {
		return 0
	}
	duty := speed / maxSpeed * m.MaxDuty
	return clamp(duty, 0, m.MaxDuty)
}

// PWMToSpeed converts a duty-cycle percentage back to a speed. Duty below
// the dead zone yields exactly zero; above it the normalized duty is raised
// to the response exponent and scaled by maxSpeed.
func (m Model) PWMToSpeed(duty, maxSpeed float64) float64 {
	duty = clamp(duty, 0, m.MaxDuty)
	if duty < m.DeadZone {
		return 0
	}
	span := m.MaxDuty - m.DeadZone
	if span <= 0 {
		return 0
	}
	norm := (duty - m.DeadZone) / span
	return math.Pow(norm, m.Exponent) * maxSpeed
}

// ApplyInertia moves current toward target by at most
// AccelerationPerMs * dtMs. It is a rate limiter, not a second-order model.
// A non-positive dt leaves the speed unchanged.
func (m Model) ApplyInertia(current, target, dtMs float64) float64 {
	if dtMs <= 0 {
		return current
	}
	maxDelta := m.AccelerationPerMs * dtMs
	delta := target - current
	if delta > maxDelta {
		delta = maxDelta
	} else if delta < -maxDelta {
		delta = -maxDelta
	}
	return current + delta
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package control implements the PID/PD tracking controller and its bounded
// auto-tune heuristic.
package control

import "math"

// Auto-tune nudge factors. These are contractual constants of the tuning
// heuristic, not defaults to redesign.
const (
	KpOscillationFactor = 0.95
	KdOscillationFactor = 1.05
	KslipTractionFactor = 1.1
)

// Gains holds the controller gains. Kslip scales down the whole correction
// when the error magnitude exceeds the slip threshold, modelling reduced
// traction under large excursions.
type Gains struct {
	Kp    float64 `json:"kp"`
	Ki    float64 `json:"ki"`
	Kd    float64 `json:"kd"`
	Kslip float64 `json:"kslip"`
}

// Config holds the controller gains and limits.
type Config struct {
	Gains Gains
	// IntegralLimit clamps the accumulated error (anti-windup). The integral
	// term is active only when Ki is non-zero.
	IntegralLimit float64
	// MaxCorrection clamps the absolute correction to suppress pathological
	// spikes. Zero disables the clamp.
	MaxCorrection float64
	// SlipThreshold is the error magnitude beyond which the slip factor
	// applies.
	SlipThreshold float64
}

// DefaultConfig returns a PD configuration (Ki disabled) suitable for the
// default track and base speed.
func DefaultConfig() Config {
	return Config{
		Gains: Gains{
			Kp:    0.8,
			Ki:    0,
			Kd:    0.25,
			Kslip: 0.2,
		},
		IntegralLimit: 50,
		MaxCorrection: 200,
		SlipThreshold: 60,
	}
}

// PID converts a signed tracking error into a correction signal. The zero
// value is not usable; construct with New. Gains are read and written through
// accessors so the anti-windup and clamping invariants stay enforceable.
type PID struct {
	gains         Gains
	integralLimit float64
	maxCorrection float64
	slipThreshold float64

	lastError        float64
	accumulatedError float64

	// Separate history for oscillation detection so its result does not
	// depend on whether Calculate ran first in the same tick.
	oscLastError float64
}

// New creates a controller from cfg.
func New(cfg Config) *PID {
	return &PID{
		gains:         cfg.Gains,
		integralLimit: cfg.IntegralLimit,
		maxCorrection: cfg.MaxCorrection,
		slipThreshold: cfg.SlipThreshold,
	}
}

// Calculate returns the correction for the given signed error and tick
// duration in milliseconds.
//
// The integral term accumulates error*dt clamped to +/-IntegralLimit before
// scaling by Ki. The derivative term is zero when dt is zero, avoiding a
// division by zero. When |error| exceeds the slip threshold the whole
// correction is scaled down by the slip factor; the discontinuity at the
// threshold boundary is intentional.
func (p *PID) Calculate(err, dtMs float64) float64 {
	dt := dtMs / 1000

	correction := p.gains.Kp * err

	if p.gains.Ki != 0 {
		p.accumulatedError += err * dt
		if p.accumulatedError > p.integralLimit {
			p.accumulatedError = p.integralLimit
		} else if p.accumulatedError < -p.integralLimit {
			p.accumulatedError = -p.integralLimit
		}
		correction += p.gains.Ki * p.accumulatedError
	}

	if dt > 0 {
		correction += p.gains.Kd * (err - p.lastError) / dt
	}

	if p.maxCorrection > 0 {
		if correction > p.maxCorrection {
			correction = p.maxCorrection
		} else if correction < -p.maxCorrection {
			correction = -p.maxCorrection
		}
	}

	if p.gains.Kslip > 0 && math.Abs(err) > p.slipThreshold {
		correction /= 1 + p.gains.Kslip
	}

	p.lastError = err
	return correction
}

// IsOscillating reports whether the error changed by more than threshold
// since the previous call. This is a high-frequency-change detector, not a
// frequency-domain analysis.
func (p *PID) IsOscillating(err, threshold float64) bool {
	oscillating := math.Abs(err-p.oscLastError) > threshold
	p.oscLastError = err
	return oscillating
}

// AutoTune applies one bounded heuristic adjustment step: nudge Kp down and
// Kd up when oscillating, and increase the slip gain under detected traction
// loss. The controller does not self-clamp; callers must clamp gains to sane
// bounds after each call.
func (p *PID) AutoTune(oscillating, tractionLoss bool) {
	if oscillating {
		p.gains.Kp *= KpOscillationFactor
		p.gains.Kd *= KdOscillationFactor
	}
	if tractionLoss {
		p.gains.Kslip *= KslipTractionFactor
	}
}

// Reset clears the error history and accumulated integral. Gains are never
// reset.
func (p *PID) Reset() {
	p.lastError = 0
	p.accumulatedError = 0
	p.oscLastError = 0
}

// Gains returns the current gains.
func (p *PID) Gains() Gains {
	return p.gains
}

// SetGains replaces the gains; limits are unchanged.
func (p *PID) SetGains(g Gains) {
	p.gains = g
}

// AccumulatedError returns the current anti-windup-clamped integral state.
func (p *PID) AccumulatedError() float64 {
	return p.accumulatedError
}

// LastError returns the error seen by the previous Calculate call.
func (p *PID) LastError() float64 {
	return p.lastError
}

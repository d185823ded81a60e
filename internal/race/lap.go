// Package race implements lap timing: a state machine that detects
// start-line crossings from the continuous track-progress signal sampled at
// discrete ticks, reconstructs the exact crossing instant by sub-tick
// interpolation, and emits immutable lap records.
package race

import (
	"math"
	"time"

	"github.com/trackside-labs/linesim/internal/timeutil"
)

// State is the lifecycle state of a race.
type State string

const (
	StateNotStarted State = "not_started" // Waiting for the first pass over the start band
	StateRacing     State = "racing"      // Laps are being timed
	StateFinished   State = "finished"    // Lap limit reached; further updates are no-ops
)

// Crossing-detection constants.
const (
	// startBandLow/startBandHigh define the progress band around t=0 that
	// arms the race on the first sample inside it.
	startBandLow  = 0.05
	startBandHigh = 0.95

	// MinLapTimeMs rejects crossings occurring too soon after the current
	// lap began. This suppresses the spurious crossing generated by the
	// start transition itself landing near the boundary.
	MinLapTimeMs = 3000
)

// LapRecord is an immutable summary of one completed circuit. Records are
// appended to the history in completion order and never mutated or removed.
type LapRecord struct {
	LapNumber  int       `json:"lap_number"`
	LapTimeMs  float64   `json:"lap_time_ms"`
	TotalMs    float64   `json:"total_ms"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Event reports what happened during one Update call. The caller inspects
// the returned value; there is no hidden dispatch.
type Event struct {
	Started      bool
	LapCompleted bool
	Finished     bool
	Record       *LapRecord
}

// Manager is the lap-crossing state machine. Transitions are strictly
// forward: NotStarted -> Racing -> Finished.
type Manager struct {
	state          State
	currentLap     int
	lapStartMs     float64
	totalElapsedMs float64
	prevProgress   float64
	lapLimit       int
	records        []LapRecord
	clock          timeutil.Clock
}

// NewManager creates a lap manager. lapLimit 0 means unlimited laps (the
// race never finishes on its own).
func NewManager(lapLimit int, clock timeutil.Clock) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{
		state:    StateNotStarted,
		lapLimit: lapLimit,
		clock:    clock,
	}
}

// Update advances the state machine with the progress sample t (normalized
// into [0,1)) and the tick duration in milliseconds. Once finished, updates
// are no-ops.
func (m *Manager) Update(t, dtMs float64) Event {
	if m.state == StateFinished {
		return Event{}
	}

	// Normalize into [0,1).
	t -= math.Floor(t)

	prevTimeMs := m.totalElapsedMs
	m.totalElapsedMs += dtMs
	curTimeMs := m.totalElapsedMs

	defer func() { m.prevProgress = t }()

	if m.state == StateNotStarted {
		if t < startBandLow || t > startBandHigh {
			m.state = StateRacing
			m.lapStartMs = curTimeMs
			return Event{Started: true}
		}
		return Event{}
	}

	prev := m.prevProgress
	wraparound := prev > 0.8 && t < 0.2
	negativeJump := prev > 0.95 && t < 0.05
	positiveJump := prev < 0.05 && t > 0.95

	if !wraparound && !negativeJump && !positiveJump {
		return Event{}
	}
	if curTimeMs-m.lapStartMs < MinLapTimeMs {
		// Too soon since the lap began; reject as spurious.
		return Event{}
	}

	// Reconstruct the exact crossing instant: the fraction of this tick's
	// dt attributable to travel up to the boundary, by linear interpolation
	// between the two progress samples.
	var frac float64
	if positiveJump {
		// Travelling backwards over the line: prev -> 0, then 1 -> t.
		span := prev + (1 - t)
		if span > 0 {
			frac = prev / span
		} else {
			frac = 1
		}
	} else {
		// Forward: prev -> 1, then 0 -> t.
		span := (1 - prev) + t
		if span > 0 {
			frac = (1 - prev) / span
		} else {
			frac = 1
		}
	}
	crossMs := prevTimeMs + frac*dtMs

	// The lap's duration is measured against the exact crossing instant;
	// total elapsed bookkeeping stays on the real tick clock so later laps
	// are measured against the actual time.
	m.currentLap++
	record := LapRecord{
		LapNumber:  m.currentLap,
		LapTimeMs:  crossMs - m.lapStartMs,
		TotalMs:    crossMs,
		RecordedAt: m.clock.Now(),
	}
	m.records = append(m.records, record)
	m.lapStartMs = crossMs

	ev := Event{LapCompleted: true, Record: &record}
	if m.lapLimit > 0 && m.currentLap >= m.lapLimit {
		m.state = StateFinished
		ev.Finished = true
	}
	return ev
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return m.state }

// CurrentLap returns the number of completed laps.
func (m *Manager) CurrentLap() int { return m.currentLap }

// TotalElapsedMs returns the accumulated race time in milliseconds.
func (m *Manager) TotalElapsedMs() float64 { return m.totalElapsedMs }

// CurrentLapTimeMs returns the elapsed time of the lap in progress, or zero
// before the race starts.
func (m *Manager) CurrentLapTimeMs() float64 {
	if m.state != StateRacing {
		return 0
	}
	return m.totalElapsedMs - m.lapStartMs
}

// Records returns a copy of the lap history in completion order.
func (m *Manager) Records() []LapRecord {
	out := make([]LapRecord, len(m.records))
	copy(out, m.records)
	return out
}

// LapLimit returns the configured lap limit (0 means unlimited).
func (m *Manager) LapLimit() int { return m.lapLimit }

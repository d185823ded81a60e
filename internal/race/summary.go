package race

import (
	"time"

	"github.com/google/uuid"

	"github.com/trackside-labs/linesim/internal/control"
)

// Summary is the boundary artifact handed to the results store when a race
// finishes. It is produced once, at race finish, and read-only thereafter.
// Lap times keep their insertion (completion) order.
type Summary struct {
	ID           string        `json:"id"`
	TotalTimeMs  float64       `json:"total_time_ms"`
	Laps         int           `json:"laps"`
	LapTimesMs   []float64     `json:"lap_times_ms"`
	Gains        control.Gains `json:"gains"`
	MeanError    float64       `json:"mean_error"`
	MeanVelocity float64       `json:"mean_velocity"`
	ErrorHistory []float64     `json:"error_history"`
	RecordedAt   time.Time     `json:"recorded_at"`
}

// Summarize builds the race summary from the completed lap history and the
// aggregate telemetry supplied by the orchestrator. The total time is the
// last lap's cumulative total, measured against the interpolated crossing
// instants.
func (m *Manager) Summarize(gains control.Gains, meanError, meanVelocity float64, errorHistory []float64) Summary {
	records := m.Records()
	lapTimes := make([]float64, len(records))
	var total float64
	for i, r := range records {
		lapTimes[i] = r.LapTimeMs
		total = r.TotalMs
	}

	history := make([]float64, len(errorHistory))
	copy(history, errorHistory)

	return Summary{
		ID:           uuid.NewString(),
		TotalTimeMs:  total,
		Laps:         len(records),
		LapTimesMs:   lapTimes,
		Gains:        gains,
		MeanError:    meanError,
		MeanVelocity: meanVelocity,
		ErrorHistory: history,
		RecordedAt:   m.clock.Now(),
	}
}

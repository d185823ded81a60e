package db

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trackside-labs/linesim/internal/control"
	"github.com/trackside-labs/linesim/internal/race"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "races.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testSummary(id string, totalMs float64, lapTimes []float64) race.Summary {
	return race.Summary{
		ID:           id,
		TotalTimeMs:  totalMs,
		Laps:         len(lapTimes),
		LapTimesMs:   lapTimes,
		Gains:        control.Gains{Kp: 0.8, Kd: 0.25, Kslip: 0.2},
		MeanError:    4.2,
		MeanVelocity: 118,
		ErrorHistory: []float64{1, -2, 3},
		RecordedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSaveAndRankRoundTrip(t *testing.T) {
	db := newTestDB(t)

	want := testSummary("race-1", 9500, []float64{3200, 3100, 3200})
	require.NoError(t, db.SaveRaceSummary(want))

	got, err := db.Rankings(10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	s := got[0]
	if s.ID != want.ID {
		t.Errorf("ID = %q, want %q", s.ID, want.ID)
	}
	if s.TotalTimeMs != want.TotalTimeMs {
		t.Errorf("TotalTimeMs = %v, want %v", s.TotalTimeMs, want.TotalTimeMs)
	}
	if s.Laps != want.Laps {
		t.Errorf("Laps = %d, want %d", s.Laps, want.Laps)
	}
	if s.Gains != want.Gains {
		t.Errorf("Gains = %+v, want %+v", s.Gains, want.Gains)
	}
	if s.MeanError != want.MeanError || s.MeanVelocity != want.MeanVelocity {
		t.Errorf("aggregates = (%v, %v), want (%v, %v)",
			s.MeanError, s.MeanVelocity, want.MeanError, want.MeanVelocity)
	}

	// Lap times come back in completion order.
	if len(s.LapTimesMs) != len(want.LapTimesMs) {
		t.Fatalf("lap count = %d, want %d", len(s.LapTimesMs), len(want.LapTimesMs))
	}
	for i := range want.LapTimesMs {
		if s.LapTimesMs[i] != want.LapTimesMs[i] {
			t.Errorf("lap %d = %v, want %v", i, s.LapTimesMs[i], want.LapTimesMs[i])
		}
	}

	if len(s.ErrorHistory) != 3 || s.ErrorHistory[1] != -2 {
		t.Errorf("ErrorHistory = %v, want %v", s.ErrorHistory, want.ErrorHistory)
	}
}

func TestRankingsAscendingByTotalTime(t *testing.T) {
	db := newTestDB(t)

	for i, total := range []float64{9000, 3000, 6000} {
		s := testSummary(fmt.Sprintf("race-%d", i), total, []float64{total})
		require.NoError(t, db.SaveRaceSummary(s))
	}

	got, err := db.Rankings(10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		if got[i-1].TotalTimeMs > got[i].TotalTimeMs {
			t.Errorf("rankings out of order: %v before %v",
				got[i-1].TotalTimeMs, got[i].TotalTimeMs)
		}
	}
	if got[0].TotalTimeMs != 3000 {
		t.Errorf("best time = %v, want 3000", got[0].TotalTimeMs)
	}
}

func TestRankingsLimit(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 5; i++ {
		s := testSummary(fmt.Sprintf("race-%d", i), float64(1000*(i+1)), []float64{1000})
		require.NoError(t, db.SaveRaceSummary(s))
	}

	got, err := db.Rankings(2)
	require.NoError(t, err)
	if len(got) != 2 {
		t.Errorf("Rankings(2) returned %d races", len(got))
	}
}

func TestDuplicateRaceIDRejected(t *testing.T) {
	db := newTestDB(t)

	s := testSummary("race-1", 5000, []float64{5000})
	require.NoError(t, db.SaveRaceSummary(s))
	require.Error(t, db.SaveRaceSummary(s), "duplicate race ID accepted")
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	require.False(t, dirty, "migration state is dirty")
	require.NotZero(t, version, "no migrations applied")

	require.NoError(t, db.MigrateDown())
	// Tables are gone after rolling back the initial migration.
	require.Error(t, db.SaveRaceSummary(testSummary("race-1", 5000, nil)),
		"save succeeded after schema rollback")
}

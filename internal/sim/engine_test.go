package sim

import (
	"math"
	"testing"
	"time"

	"github.com/trackside-labs/linesim/internal/control"
	"github.com/trackside-labs/linesim/internal/race"
	"github.com/trackside-labs/linesim/internal/timeutil"
	"github.com/trackside-labs/linesim/internal/track"
)

// straightTrack builds a horizontal line at y=100 so error signs and
// magnitudes are easy to reason about.
func straightTrack() *track.Track {
	n := 101
	points := make([]track.TrackPoint, n)
	for i := range points {
		points[i] = track.TrackPoint{
			X: float64(i) * 5,
			Y: 100,
			T: float64(i) / float64(n),
		}
	}
	return &track.Track{Points: points, LineWidth: 18, TotalLength: 500}
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(straightTrack(), DefaultConfig(), clock)
}

func TestTickRequiresStart(t *testing.T) {
	e := testEngine(t)
	if err := e.SetMode(ModeRace); err != nil {
		t.Fatal(err)
	}

	e.Tick(20)
	if got := e.Snapshot().TickCount; got != 0 {
		t.Errorf("tick count before Start = %d, want 0", got)
	}

	e.Start()
	e.Tick(20)
	if got := e.Snapshot().TickCount; got != 1 {
		t.Errorf("tick count after Start = %d, want 1", got)
	}

	e.Pause()
	e.Tick(20)
	if got := e.Snapshot().TickCount; got != 1 {
		t.Errorf("tick count while paused = %d, want 1", got)
	}

	e.Resume()
	e.Tick(20)
	if got := e.Snapshot().TickCount; got != 2 {
		t.Errorf("tick count after Resume = %d, want 2", got)
	}
}

func TestIdleTickMovesNothing(t *testing.T) {
	e := testEngine(t)
	e.Start()

	before := e.Snapshot()
	e.Tick(20)
	after := e.Snapshot()

	if after.X != before.X || after.Y != before.Y || after.Angle != before.Angle {
		t.Error("idle tick moved the robot")
	}
}

func TestErrorSign(t *testing.T) {
	// The track runs along +X, tangent (1,0). A robot above the line
	// (positive Y offset) has a positive cross product, below a negative one.
	cases := []struct {
		name string
		y    float64
		want float64
	}{
		{"above the line", 110, 10},
		{"below the line", 90, -10},
		{"on the line", 100, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := testEngine(t)
			e.SetMode(ModeRace)
			e.bot.SetPose(250, tc.y, 0)
			e.Start()
			e.Tick(20)

			got := e.Snapshot().LastError
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("LastError = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestErrorMagnitudeClamped(t *testing.T) {
	e := testEngine(t)
	e.SetMode(ModeRace)
	e.bot.SetPose(250, 100+5*e.cfg.MaxError, 0)
	e.Start()
	e.Tick(20)

	got := e.Snapshot().LastError
	if got != e.cfg.MaxError {
		t.Errorf("LastError = %v, want clamp at %v", got, e.cfg.MaxError)
	}
}

func TestCalibrateRefreshesSensorsOnly(t *testing.T) {
	e := testEngine(t)
	e.SetMode(ModeCalibrate)
	e.bot.SetPose(250, 100, 0) // centered on the line, heading along it
	e.Start()
	e.Tick(20)

	s := e.Snapshot()
	if s.X != 250 || s.Y != 100 {
		t.Error("calibrate tick moved the robot")
	}
	center := s.Sensors[4]
	if !center.DetectsLine {
		t.Errorf("center sensor does not detect the line (distance %v)", center.DistanceToLine)
	}
}

func TestMotorTestDrivesWheels(t *testing.T) {
	e := testEngine(t)
	e.SetMode(ModeMotorTest)
	e.Start()
	for i := 0; i < 20; i++ {
		e.Tick(20)
	}

	s := e.Snapshot()
	if s.DutyLeft <= 0 || s.DutyRight <= 0 {
		t.Errorf("duties = (%v, %v), want positive", s.DutyLeft, s.DutyRight)
	}
	if s.VelLeft <= 0 || s.VelRight <= 0 {
		t.Errorf("wheel speeds = (%v, %v), want positive", s.VelLeft, s.VelRight)
	}
	if s.VelLeft != s.VelRight {
		t.Errorf("motor test is asymmetric: left %v, right %v", s.VelLeft, s.VelRight)
	}
}

func TestRaceTickStages(t *testing.T) {
	e := testEngine(t)
	e.SetMode(ModeRace)
	e.bot.SetPose(250, 100, 0)
	e.Start()
	e.Tick(20)

	s := e.Snapshot()
	if s.TotalElapsedMs != 20 {
		t.Errorf("lap manager elapsed = %v, want 20", s.TotalElapsedMs)
	}
	tel := e.Telemetry()
	if len(tel.Errors) != 1 || len(tel.Corrections) != 1 ||
		len(tel.LeftSpeeds) != 1 || len(tel.RightSpeeds) != 1 {
		t.Errorf("telemetry lengths = (%d, %d, %d, %d), want 1 each",
			len(tel.Errors), len(tel.Corrections), len(tel.LeftSpeeds), len(tel.RightSpeeds))
	}
}

func TestSteeringDifferential(t *testing.T) {
	e := testEngine(t)
	e.SetMode(ModeRace)
	// Above the line: positive error, so the correction slows the right
	// wheel relative to the left, steering back down toward it.
	e.bot.SetPose(250, 130, 0)
	e.Start()
	for i := 0; i < 10; i++ {
		e.Tick(20)
	}

	s := e.Snapshot()
	if s.VelLeft <= s.VelRight {
		t.Errorf("wheel speeds = (left %v, right %v), want left > right", s.VelLeft, s.VelRight)
	}
}

func TestGainLockInRaceMode(t *testing.T) {
	e := testEngine(t)

	// Adjustments work outside race mode.
	if err := e.SetGains(control.Gains{Kp: 1, Kd: 0.3}); err != nil {
		t.Fatalf("SetGains in idle mode: %v", err)
	}
	if err := e.SetBaseSpeed(150); err != nil {
		t.Fatalf("SetBaseSpeed in idle mode: %v", err)
	}

	e.SetMode(ModeRace)
	if err := e.SetGains(control.Gains{Kp: 2}); err != ErrGainsLocked {
		t.Errorf("SetGains in race mode: err = %v, want ErrGainsLocked", err)
	}
	if err := e.ScaleGain("kp", 1.1); err != ErrGainsLocked {
		t.Errorf("ScaleGain in race mode: err = %v, want ErrGainsLocked", err)
	}
	if err := e.SetBaseSpeed(200); err != ErrGainsLocked {
		t.Errorf("SetBaseSpeed in race mode: err = %v, want ErrGainsLocked", err)
	}

	// Gains are untouched by the rejected calls.
	if got := e.Gains().Kp; got != 1 {
		t.Errorf("Kp after rejected updates = %v, want 1", got)
	}
}

func TestScaleGainClamps(t *testing.T) {
	e := testEngine(t)

	if err := e.ScaleGain("kp", 1e9); err != nil {
		t.Fatal(err)
	}
	if got := e.Gains().Kp; got != maxKp {
		t.Errorf("Kp = %v, want clamp at %v", got, maxKp)
	}

	if err := e.ScaleGain("kslip", 0); err != nil {
		t.Fatal(err)
	}
	if got := e.Gains().Kslip; got != minKslip {
		t.Errorf("Kslip = %v, want clamp at %v", got, minKslip)
	}

	if err := e.ScaleGain("bogus", 2); err == nil {
		t.Error("unknown gain name accepted")
	}
}

func TestSetModeRejectsUnknown(t *testing.T) {
	e := testEngine(t)
	if err := e.SetMode(Mode("warp")); err == nil {
		t.Error("unknown mode accepted")
	}
	if got := e.Mode(); got != ModeIdle {
		t.Errorf("mode = %v, want %v", got, ModeIdle)
	}
}

func TestStopZeroesMotors(t *testing.T) {
	e := testEngine(t)
	e.SetMode(ModeMotorTest)
	e.Start()
	for i := 0; i < 20; i++ {
		e.Tick(20)
	}
	e.Stop()

	s := e.Snapshot()
	if s.Running {
		t.Error("engine still running after Stop")
	}
	if s.VelLeft != 0 || s.VelRight != 0 || s.DutyLeft != 0 || s.DutyRight != 0 {
		t.Errorf("motor state after Stop = vel(%v, %v) duty(%v, %v), want all zero",
			s.VelLeft, s.VelRight, s.DutyLeft, s.DutyRight)
	}
}

func TestReset(t *testing.T) {
	e := testEngine(t)
	e.SetMode(ModeRace)
	e.bot.SetPose(250, 130, 0)
	e.Start()
	for i := 0; i < 50; i++ {
		e.Tick(20)
	}
	gains := e.Gains()

	e.Reset()
	s := e.Snapshot()

	if s.Running || s.TickCount != 0 {
		t.Errorf("after Reset: running=%v ticks=%d, want stopped at 0", s.Running, s.TickCount)
	}
	start := e.Track().Points[0]
	if s.X != start.X || s.Y != start.Y {
		t.Errorf("pose = (%v, %v), want start point (%v, %v)", s.X, s.Y, start.X, start.Y)
	}
	if s.RaceState != race.StateNotStarted {
		t.Errorf("race state = %v, want %v", s.RaceState, race.StateNotStarted)
	}
	if tel := e.Telemetry(); len(tel.Errors) != 0 {
		t.Errorf("telemetry survived Reset: %d samples", len(tel.Errors))
	}
	if e.Gains() != gains {
		t.Error("Reset changed the gains")
	}
}

func TestFinishCallback(t *testing.T) {
	e := testEngine(t)
	done := make(chan race.Summary, 1)
	e.OnFinish(func(s race.Summary) { done <- s })

	e.finishLocked()

	select {
	case s := <-done:
		if s.ID == "" {
			t.Error("summary has no ID")
		}
	case <-time.After(time.Second):
		t.Fatal("finish callback never fired")
	}
}

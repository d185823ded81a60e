// Package sim is the per-tick orchestrator. It owns the track, the robot,
// the controller, the motor model, the lap manager, and the telemetry
// histories, and mutates them exclusively during Tick. All shared access goes
// through the engine's mutex; within one tick the stages run in a fixed
// order because each stage consumes the previous stage's output.
package sim

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/trackside-labs/linesim/internal/control"
	"github.com/trackside-labs/linesim/internal/monitoring"
	"github.com/trackside-labs/linesim/internal/motor"
	"github.com/trackside-labs/linesim/internal/race"
	"github.com/trackside-labs/linesim/internal/robot"
	"github.com/trackside-labs/linesim/internal/telemetry"
	"github.com/trackside-labs/linesim/internal/timeutil"
	"github.com/trackside-labs/linesim/internal/track"
)

// Mode selects the engine's tick behaviour.
type Mode string

const (
	ModeIdle      Mode = "idle"       // Ticks are counted but nothing moves
	ModeCalibrate Mode = "calibrate"  // Sensor detections refresh; motors stay off
	ModeMotorTest Mode = "motor_test" // Both wheels driven at base speed, no controller
	ModeRace      Mode = "race"       // Full control loop with lap timing
)

// CanAdjustGains reports whether live gain and base-speed updates are allowed
// in the given mode. Race mode locks them.
func CanAdjustGains(m Mode) bool {
	return m != ModeRace
}

// ErrGainsLocked is returned by live-adjustment methods while the current
// mode locks them.
var ErrGainsLocked = errors.New("gain adjustment locked in race mode")

// Gain clamp bounds applied after every automatic or scaled adjustment.
const (
	minKp, maxKp       = 0.05, 8.0
	minKi, maxKi       = 0.0, 2.0
	minKd, maxKd       = 0.0, 5.0
	minKslip, maxKslip = 0.0, 1.0
)

// sensorDetectMargin widens the detection band beyond half the line width.
const sensorDetectMargin = 2.0

// Config holds the engine's tunables.
type Config struct {
	// BaseSpeed is the symmetric cruise speed in canvas units per second.
	// Per-wheel targets are clamped to [0, 1.5*BaseSpeed].
	BaseSpeed float64
	// MaxError caps the magnitude of the signed tracking error.
	MaxError float64
	// OscillationThreshold is the per-tick error change that counts as
	// oscillation.
	OscillationThreshold float64
	// AutoTuneEvery runs the bounded auto-tune step every N ticks. Zero
	// disables auto-tune.
	AutoTuneEvery int
	// LapLimit finishes the race after this many laps. Zero means unlimited.
	LapLimit int
	// HistoryCapacity bounds each telemetry ring.
	HistoryCapacity int

	Control control.Config
	Motor   motor.Model
}

// DefaultConfig returns the engine configuration used by the simulator.
func DefaultConfig() Config {
	return Config{
		BaseSpeed:            120,
		MaxError:             100,
		OscillationThreshold: 30,
		AutoTuneEvery:        50,
		LapLimit:             3,
		HistoryCapacity:      telemetry.DefaultCapacity,
		Control:              control.DefaultConfig(),
		Motor:                motor.Default(),
	}
}

// Engine orchestrates one simulation. All exported methods are safe for
// concurrent use; Tick itself never blocks.
type Engine struct {
	mu sync.Mutex

	cfg   Config
	trk   *track.Track
	bot   *robot.Robot
	pid   *control.PID
	laps  *race.Manager
	clock timeutil.Clock

	mode      Mode
	running   bool
	tickCount int

	dutyLeft       float64
	dutyRight      float64
	lastCorrection float64

	errorHist      *telemetry.Ring
	correctionHist *telemetry.Ring
	leftSpeedHist  *telemetry.Ring
	rightSpeedHist *telemetry.Ring

	onFinish []func(race.Summary)
}

// New creates an engine over a generated track. The robot is placed at the
// first track point facing along the travel direction. A nil clock falls
// back to the real clock.
func New(trk *track.Track, cfg Config, clock timeutil.Clock) *Engine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	e := &Engine{
		cfg:            cfg,
		trk:            trk,
		pid:            control.New(cfg.Control),
		clock:          clock,
		mode:           ModeIdle,
		errorHist:      telemetry.NewRing(cfg.HistoryCapacity),
		correctionHist: telemetry.NewRing(cfg.HistoryCapacity),
		leftSpeedHist:  telemetry.NewRing(cfg.HistoryCapacity),
		rightSpeedHist: telemetry.NewRing(cfg.HistoryCapacity),
	}
	e.bot = robot.New(e.startPose())
	e.laps = race.NewManager(cfg.LapLimit, clock)
	return e
}

// startPose is the robot config at the first track point, heading along the
// local travel direction.
func (e *Engine) startPose() robot.Config {
	cfg := robot.DefaultConfig()
	if len(e.trk.Points) == 0 {
		return cfg
	}
	start := e.trk.Points[0]
	dx, dy := e.trk.TangentAt(0)
	cfg.X = start.X
	cfg.Y = start.Y
	cfg.Angle = math.Atan2(dy, dx)
	return cfg
}

// OnFinish registers a callback invoked (in its own goroutine) with the race
// summary when the lap limit is reached. Callbacks own their error handling;
// the tick loop never waits on them.
func (e *Engine) OnFinish(fn func(race.Summary)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFinish = append(e.onFinish, fn)
}

// Tick advances the simulation by dtMs milliseconds. Paused engines and
// non-positive dt are no-ops.
func (e *Engine) Tick(dtMs float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || dtMs <= 0 {
		return
	}
	e.tickCount++

	switch e.mode {
	case ModeCalibrate:
		e.refreshSensors()
	case ModeMotorTest:
		e.driveWheels(e.cfg.BaseSpeed, e.cfg.BaseSpeed, dtMs)
		e.bot.Update(dtMs)
	case ModeRace:
		e.tickRace(dtMs)
	}
}

// tickRace runs the full control loop. Stage order matters: error, sensors,
// controller, auto-tune, motors, kinematics, lap manager, telemetry.
func (e *Engine) tickRace(dtMs float64) {
	err := e.trackingError()
	e.bot.LastError = err

	e.refreshSensors()

	correction := e.pid.Calculate(err, dtMs)
	e.lastCorrection = correction

	oscillating := e.pid.IsOscillating(err, e.cfg.OscillationThreshold)
	if e.cfg.AutoTuneEvery > 0 && e.tickCount%e.cfg.AutoTuneEvery == 0 {
		lineLost := math.IsNaN(e.bot.LinePosition())
		e.pid.AutoTune(oscillating, lineLost)
		e.pid.SetGains(clampGains(e.pid.Gains()))
	}

	base := e.cfg.BaseSpeed
	targetLeft := clamp(base+correction, 0, 1.5*base)
	targetRight := clamp(base-correction, 0, 1.5*base)
	e.driveWheels(targetLeft, targetRight, dtMs)

	e.bot.Update(dtMs)

	progress := e.trk.FindContinuousT(e.bot.X, e.bot.Y)
	ev := e.laps.Update(progress, dtMs)
	if ev.Started {
		monitoring.Logf("race started")
	}
	if ev.LapCompleted {
		monitoring.Logf("lap %d completed in %.0fms", ev.Record.LapNumber, ev.Record.LapTimeMs)
	}

	e.errorHist.Append(err)
	e.correctionHist.Append(correction)
	e.leftSpeedHist.Append(e.bot.VelLeft)
	e.rightSpeedHist.Append(e.bot.VelRight)

	if ev.Finished {
		e.finishLocked()
	}
}

// trackingError returns the signed lateral error: the distance to the
// nearest track point, signed by the 2D cross product of the local tangent
// with the vector from the track point to the robot, and clamped to
// MaxError.
func (e *Engine) trackingError() float64 {
	closest, idx, dist := e.trk.FindClosestPoint(e.bot.X, e.bot.Y)
	tx, ty := e.trk.TangentAt(idx)
	vx := e.bot.X - closest.X
	vy := e.bot.Y - closest.Y

	err := dist
	if tx*vy-ty*vx < 0 {
		err = -dist
	}
	return clamp(err, -e.cfg.MaxError, e.cfg.MaxError)
}

// refreshSensors decides each sensor's detection state from its distance to
// the track centerline.
func (e *Engine) refreshSensors() {
	for i, s := range e.bot.Sensors() {
		_, _, dist := e.trk.FindClosestPoint(s.X, s.Y)
		detects := dist <= e.trk.LineWidth/2+sensorDetectMargin
		if err := e.bot.SetSensorState(i, dist, detects); err != nil {
			monitoring.Logf("sensor refresh: %v", err)
		}
	}
}

// driveWheels pushes per-wheel target speeds through the PWM model: duty
// conversion, dead zone and response curve, then the inertia rate limiter
// applied to the current effective speeds.
func (e *Engine) driveWheels(targetLeft, targetRight, dtMs float64) {
	maxSpeed := 1.5 * e.cfg.BaseSpeed

	e.dutyLeft = e.cfg.Motor.SpeedToPWM(targetLeft, maxSpeed)
	e.dutyRight = e.cfg.Motor.SpeedToPWM(targetRight, maxSpeed)

	effLeft := e.cfg.Motor.PWMToSpeed(e.dutyLeft, maxSpeed)
	effRight := e.cfg.Motor.PWMToSpeed(e.dutyRight, maxSpeed)

	left := e.cfg.Motor.ApplyInertia(e.bot.VelLeft, effLeft, dtMs)
	right := e.cfg.Motor.ApplyInertia(e.bot.VelRight, effRight, dtMs)
	e.bot.SetWheelSpeeds(left, right)
}

// finishLocked builds the race summary and fires the finish callbacks.
// Called with the mutex held; callbacks run in their own goroutine so the
// tick loop never waits on persistence.
func (e *Engine) finishLocked() {
	meanError := e.errorHist.Stats().Mean
	meanVelocity := (e.leftSpeedHist.Stats().Mean + e.rightSpeedHist.Stats().Mean) / 2
	summary := e.laps.Summarize(e.pid.Gains(), meanError, meanVelocity, e.errorHist.Values())

	monitoring.Logf("race finished: %d laps in %.0fms", summary.Laps, summary.TotalTimeMs)

	callbacks := make([]func(race.Summary), len(e.onFinish))
	copy(callbacks, e.onFinish)
	go func() {
		for _, fn := range callbacks {
			fn(summary)
		}
	}()
}

// Start begins ticking in the current mode.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
}

// Pause suspends ticking without touching motor state.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
}

// Resume continues a paused simulation.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
}

// Stop halts ticking and zeroes the motors.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.bot.SetWheelSpeeds(0, 0)
	e.dutyLeft = 0
	e.dutyRight = 0
}

// Reset stops the simulation and restores the initial state: robot back at
// the start pose, controller history cleared (gains kept), a fresh lap
// manager, and empty telemetry. The mode is unchanged.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.tickCount = 0
	e.dutyLeft = 0
	e.dutyRight = 0
	e.lastCorrection = 0

	pose := e.startPose()
	e.bot = robot.New(pose)
	e.pid.Reset()
	e.laps = race.NewManager(e.cfg.LapLimit, e.clock)

	e.errorHist.Reset()
	e.correctionHist.Reset()
	e.leftSpeedHist.Reset()
	e.rightSpeedHist.Reset()
}

// SetMode switches the tick behaviour.
func (e *Engine) SetMode(m Mode) error {
	switch m {
	case ModeIdle, ModeCalibrate, ModeMotorTest, ModeRace:
	default:
		return fmt.Errorf("unknown mode %q", m)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = m
	return nil
}

// Mode returns the current mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Gains returns the controller's current gains.
func (e *Engine) Gains() control.Gains {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pid.Gains()
}

// SetGains replaces the controller gains, clamped to the fixed bounds.
// Rejected while the mode locks adjustments.
func (e *Engine) SetGains(g control.Gains) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !CanAdjustGains(e.mode) {
		return ErrGainsLocked
	}
	e.pid.SetGains(clampGains(g))
	return nil
}

// ScaleGain multiplies one gain by factor, then clamps. This is the
// instruction shape tuning tools issue.
func (e *Engine) ScaleGain(name string, factor float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !CanAdjustGains(e.mode) {
		return ErrGainsLocked
	}
	g := e.pid.Gains()
	switch name {
	case "kp":
		g.Kp *= factor
	case "ki":
		g.Ki *= factor
	case "kd":
		g.Kd *= factor
	case "kslip":
		g.Kslip *= factor
	default:
		return fmt.Errorf("unknown gain %q", name)
	}
	e.pid.SetGains(clampGains(g))
	return nil
}

// BaseSpeed returns the configured cruise speed.
func (e *Engine) BaseSpeed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.BaseSpeed
}

// SetBaseSpeed updates the cruise speed. Rejected while the mode locks
// adjustments; non-positive speeds are rejected outright.
func (e *Engine) SetBaseSpeed(speed float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !CanAdjustGains(e.mode) {
		return ErrGainsLocked
	}
	if speed <= 0 {
		return fmt.Errorf("base speed must be positive, got %g", speed)
	}
	e.cfg.BaseSpeed = speed
	return nil
}

// Track returns the engine's track.
func (e *Engine) Track() *track.Track {
	return e.trk
}

// LapRecords returns a copy of the completed lap history.
func (e *Engine) LapRecords() []race.LapRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.laps.Records()
}

// Telemetry is a point-in-time view of the bounded sample histories.
type Telemetry struct {
	Errors      []float64       `json:"errors"`
	Corrections []float64       `json:"corrections"`
	LeftSpeeds  []float64       `json:"left_speeds"`
	RightSpeeds []float64       `json:"right_speeds"`
	ErrorStats  telemetry.Stats `json:"error_stats"`
	ErrorDeltas []float64       `json:"error_deltas"`
}

// Telemetry returns copies of the sample histories plus the error
// aggregates tuning tools consume.
func (e *Engine) Telemetry() Telemetry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Telemetry{
		Errors:      e.errorHist.Values(),
		Corrections: e.correctionHist.Values(),
		LeftSpeeds:  e.leftSpeedHist.Values(),
		RightSpeeds: e.rightSpeedHist.Values(),
		ErrorStats:  e.errorHist.Stats(),
		ErrorDeltas: e.errorHist.Deltas(),
	}
}

// Snapshot is the read-only engine state served to clients.
type Snapshot struct {
	Mode      Mode `json:"mode"`
	Running   bool `json:"running"`
	TickCount int  `json:"tick_count"`

	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Angle      float64 `json:"angle"`
	LinearVel  float64 `json:"linear_vel"`
	AngularVel float64 `json:"angular_vel"`
	VelLeft    float64 `json:"vel_left"`
	VelRight   float64 `json:"vel_right"`
	DutyLeft   float64 `json:"duty_left"`
	DutyRight  float64 `json:"duty_right"`

	LastError      float64 `json:"last_error"`
	LastCorrection float64 `json:"last_correction"`

	Sensors [robot.NumSensors]robot.Sensor `json:"sensors"`

	Gains     control.Gains `json:"gains"`
	BaseSpeed float64       `json:"base_speed"`

	RaceState        race.State `json:"race_state"`
	CurrentLap       int        `json:"current_lap"`
	LapLimit         int        `json:"lap_limit"`
	TotalElapsedMs   float64    `json:"total_elapsed_ms"`
	CurrentLapTimeMs float64    `json:"current_lap_time_ms"`
}

// Snapshot captures the current state under the lock.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Mode:             e.mode,
		Running:          e.running,
		TickCount:        e.tickCount,
		X:                e.bot.X,
		Y:                e.bot.Y,
		Angle:            e.bot.Angle,
		LinearVel:        e.bot.LinearVel,
		AngularVel:       e.bot.AngularVel,
		VelLeft:          e.bot.VelLeft,
		VelRight:         e.bot.VelRight,
		DutyLeft:         e.dutyLeft,
		DutyRight:        e.dutyRight,
		LastError:        e.bot.LastError,
		LastCorrection:   e.lastCorrection,
		Sensors:          e.bot.Sensors(),
		Gains:            e.pid.Gains(),
		BaseSpeed:        e.cfg.BaseSpeed,
		RaceState:        e.laps.State(),
		CurrentLap:       e.laps.CurrentLap(),
		LapLimit:         e.laps.LapLimit(),
		TotalElapsedMs:   e.laps.TotalElapsedMs(),
		CurrentLapTimeMs: e.laps.CurrentLapTimeMs(),
	}
}

func clampGains(g control.Gains) control.Gains {
	g.Kp = clamp(g.Kp, minKp, maxKp)
	g.Ki = clamp(g.Ki, minKi, maxKi)
	g.Kd = clamp(g.Kd, minKd, maxKd)
	g.Kslip = clamp(g.Kslip, minKslip, maxKslip)
	return g
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

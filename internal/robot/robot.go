// Package robot models the differential-drive line follower and its virtual
// sensor array.
package robot

import (
	"fmt"
	"math"
)

// Sensor array geometry. The sensors form a symmetric fan centered on the
// robot heading; offsets are derived from the sensor index.
const (
	// NumSensors is the fixed size of the sensor array.
	NumSensors = 9
	// SensorAngularSpacing is the angle in radians between adjacent sensors.
	SensorAngularSpacing = 0.12
)

// Config holds the robot's initial pose and physical constants.
type Config struct {
	X          float64
	Y          float64
	Angle      float64 // heading in radians
	Radius     float64 // body radius in canvas units
	AxleLength float64 // wheel separation in canvas units
}

// DefaultConfig returns the physical constants used by the simulator.
func DefaultConfig() Config {
	return Config{
		Radius:     14,
		AxleLength: 24,
	}
}

// Sensor is a virtual line sensor. Its position is a pure function of the
// robot pose and its index-derived angular offset; detection state is set by
// the orchestrator from the sensor's distance to the track centerline.
type Sensor struct {
	Index          int     `json:"index"`
	Total          int     `json:"total"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	DistanceToLine float64 `json:"distance_to_line"`
	DetectsLine    bool    `json:"detects_line"`
}

// offsetAngle is the sensor's angular offset from the robot heading.
func (s *Sensor) offsetAngle() float64 {
	return (float64(s.Index) - float64(s.Total-1)/2) * SensorAngularSpacing
}

// Robot owns the pose, per-wheel speeds, and the sensor array. Sensors have
// no independent lifecycle: they are recomputed from the pose every tick.
type Robot struct {
	X     float64
	Y     float64
	Angle float64

	VelLeft  float64
	VelRight float64

	// Derived each update.
	LinearVel  float64
	AngularVel float64

	Radius     float64
	AxleLength float64

	// LastError is the most recent signed tracking error, stored by the
	// orchestrator for telemetry and rendering.
	LastError float64

	sensors [NumSensors]Sensor
}

// New creates a robot at the configured pose with a fresh sensor fan.
func New(cfg Config) *Robot {
	r := &Robot{
		X:          cfg.X,
		Y:          cfg.Y,
		Angle:      cfg.Angle,
		Radius:     cfg.Radius,
		AxleLength: cfg.AxleLength,
	}
	for i := range r.sensors {
		r.sensors[i] = Sensor{Index: i, Total: NumSensors}
	}
	r.refreshSensors()
	return r
}

// SetPose moves the robot to a new pose and refreshes sensor positions.
func (r *Robot) SetPose(x, y, angle float64) {
	r.X, r.Y, r.Angle = x, y, angle
	r.refreshSensors()
}

// SetWheelSpeeds sets the left and right wheel speeds in canvas units per
// second.
func (r *Robot) SetWheelSpeeds(left, right float64) {
	r.VelLeft = left
	r.VelRight = right
}

// Update advances the pose by dtMs milliseconds using differential-drive
// kinematics, then recomputes every sensor position from the new pose.
func (r *Robot) Update(dtMs float64) {
	if dtMs <= 0 {
		return
	}
	dt := dtMs / 1000

	r.LinearVel = (r.VelLeft + r.VelRight) / 2
	if r.AxleLength > 0 {
		r.AngularVel = (r.VelRight - r.VelLeft) / r.AxleLength
	} else {
		r.AngularVel = 0
	}

	r.Angle += r.AngularVel * dt
	r.X += r.LinearVel * math.Cos(r.Angle) * dt
	r.Y += r.LinearVel * math.Sin(r.Angle) * dt

	r.refreshSensors()
}

// sensorReach is the distance from the robot centre to the sensor fan.
func (r *Robot) sensorReach() float64 {
	return r.Radius + 10
}

func (r *Robot) refreshSensors() {
	reach := r.sensorReach()
	for i := range r.sensors {
		a := r.Angle + r.sensors[i].offsetAngle()
		r.sensors[i].X = r.X + reach*math.Cos(a)
		r.sensors[i].Y = r.Y + reach*math.Sin(a)
	}
}

// Sensor returns the sensor at index i. Out-of-range indices fail; they are
// never clamped.
func (r *Robot) Sensor(i int) (*Sensor, error) {
	if i < 0 || i >= NumSensors {
		return nil, fmt.Errorf("sensor index %d out of range [0,%d)", i, NumSensors)
	}
	return &r.sensors[i], nil
}

// Sensors returns a snapshot copy of the sensor array.
func (r *Robot) Sensors() [NumSensors]Sensor {
	return r.sensors
}

// SetSensorState records a sensor's distance to the line and whether it
// detects the line. Detection is decided by the orchestrator; the sensor
// only stores the flag.
func (r *Robot) SetSensorState(i int, distance float64, detects bool) error {
	s, err := r.Sensor(i)
	if err != nil {
		return err
	}
	s.DistanceToLine = distance
	s.DetectsLine = detects
	return nil
}

// LinePosition estimates where the line sits under the sensor fan as a
// weighted average of symmetric integer weights (-4..+4 for 9 sensors) over
// the sensors currently detecting the line. It returns NaN when no sensor
// detects the line; callers must check for the sentinel rather than treat it
// as zero error.
func (r *Robot) LinePosition() float64 {
	var sum float64
	var active int
	half := (NumSensors - 1) / 2
	for i := range r.sensors {
		if !r.sensors[i].DetectsLine {
			continue
		}
		sum += float64(i - half)
		active++
	}
	if active == 0 {
		return math.NaN()
	}
	return sum / float64(active)
}

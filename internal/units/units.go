// Package units provides shared constants and conversion for speed units.
// The simulator works in canvas centimeters per second; API output may be
// requested in other units.
package units

// Unit constants
const (
	CMPS = "cmps"
	MPS  = "mps"
	KMPH = "kmph"
	MPH  = "mph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{CMPS, MPS, KMPH, MPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "cmps, mps, kmph, mph"
}

// ConvertSpeed converts a speed from centimeters per second to the target
// units. The engine stores speeds in cm/s (canvas units per second).
func ConvertSpeed(speedCMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedCMPS / 100
	case KMPH:
		return speedCMPS * 0.036
	case MPH:
		return speedCMPS * 0.0223694
	case CMPS:
		return speedCMPS
	default:
		return speedCMPS // default to cm/s if unknown unit
	}
}

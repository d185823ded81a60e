package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/config endpoint so the same JSON can be used
// for both startup configuration and runtime inspection.
type TuningConfig struct {
	// Controller gains
	Kp    *float64 `json:"kp,omitempty"`
	Ki    *float64 `json:"ki,omitempty"`
	Kd    *float64 `json:"kd,omitempty"`
	Kslip *float64 `json:"kslip,omitempty"`

	// Controller limits
	IntegralLimit *float64 `json:"integral_limit,omitempty"`
	MaxCorrection *float64 `json:"max_correction,omitempty"`
	SlipThreshold *float64 `json:"slip_threshold,omitempty"`

	// Engine params
	BaseSpeed            *float64 `json:"base_speed,omitempty"`
	MaxError             *float64 `json:"max_error,omitempty"`
	OscillationThreshold *float64 `json:"oscillation_threshold,omitempty"`
	AutoTuneEvery        *int     `json:"autotune_every,omitempty"`
	LapLimit             *int     `json:"lap_limit,omitempty"`
	HistoryCapacity      *int     `json:"history_capacity,omitempty"`
	TickInterval         *string  `json:"tick_interval,omitempty"` // duration string like "20ms"

	// Track generation params
	CanvasWidth       *float64 `json:"canvas_width,omitempty"`
	CanvasHeight      *float64 `json:"canvas_height,omitempty"`
	LineWidth         *float64 `json:"line_width,omitempty"`
	SamplesPerSegment *int     `json:"samples_per_segment,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*float64{
		"kp":    c.Kp,
		"ki":    c.Ki,
		"kd":    c.Kd,
		"kslip": c.Kslip,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}

	if c.BaseSpeed != nil && *c.BaseSpeed <= 0 {
		return fmt.Errorf("base_speed must be positive, got %f", *c.BaseSpeed)
	}

	if c.LapLimit != nil && *c.LapLimit < 0 {
		return fmt.Errorf("lap_limit must be non-negative, got %d", *c.LapLimit)
	}

	// Validate TickInterval can be parsed if set
	if c.TickInterval != nil && *c.TickInterval != "" {
		if _, err := time.ParseDuration(*c.TickInterval); err != nil {
			return fmt.Errorf("invalid tick_interval '%s': %w", *c.TickInterval, err)
		}
	}

	if c.SamplesPerSegment != nil && *c.SamplesPerSegment < 1 {
		return fmt.Errorf("samples_per_segment must be >= 1, got %d", *c.SamplesPerSegment)
	}

	if c.CanvasWidth != nil && *c.CanvasWidth <= 0 {
		return fmt.Errorf("canvas_width must be positive, got %f", *c.CanvasWidth)
	}
	if c.CanvasHeight != nil && *c.CanvasHeight <= 0 {
		return fmt.Errorf("canvas_height must be positive, got %f", *c.CanvasHeight)
	}
	if c.LineWidth != nil && *c.LineWidth <= 0 {
		return fmt.Errorf("line_width must be positive, got %f", *c.LineWidth)
	}

	return nil
}

// GetKp returns the kp value or the default.
func (c *TuningConfig) GetKp() float64 {
	if c.Kp == nil {
		return 0.8 // default
	}
	return *c.Kp
}

// GetKi returns the ki value or the default.
func (c *TuningConfig) GetKi() float64 {
	if c.Ki == nil {
		return 0 // default: PD controller
	}
	return *c.Ki
}

// GetKd returns the kd value or the default.
func (c *TuningConfig) GetKd() float64 {
	if c.Kd == nil {
		return 0.25
	}
	return *c.Kd
}

// GetKslip returns the kslip value or the default.
func (c *TuningConfig) GetKslip() float64 {
	if c.Kslip == nil {
		return 0.2
	}
	return *c.Kslip
}

// GetIntegralLimit returns the integral_limit value or the default.
func (c *TuningConfig) GetIntegralLimit() float64 {
	if c.IntegralLimit == nil {
		return 50
	}
	return *c.IntegralLimit
}

// GetMaxCorrection returns the max_correction value or the default.
func (c *TuningConfig) GetMaxCorrection() float64 {
	if c.MaxCorrection == nil {
		return 200
	}
	return *c.MaxCorrection
}

// GetSlipThreshold returns the slip_threshold value or the default.
func (c *TuningConfig) GetSlipThreshold() float64 {
	if c.SlipThreshold == nil {
		return 60
	}
	return *c.SlipThreshold
}

// GetBaseSpeed returns the base_speed value or the default.
func (c *TuningConfig) GetBaseSpeed() float64 {
	if c.BaseSpeed == nil {
		return 120
	}
	return *c.BaseSpeed
}

// GetMaxError returns the max_error value or the default.
func (c *TuningConfig) GetMaxError() float64 {
	if c.MaxError == nil {
		return 100
	}
	return *c.MaxError
}

// GetOscillationThreshold returns the oscillation_threshold value or the default.
func (c *TuningConfig) GetOscillationThreshold() float64 {
	if c.OscillationThreshold == nil {
		return 30
	}
	return *c.OscillationThreshold
}

// GetAutoTuneEvery returns the autotune_every value or the default.
func (c *TuningConfig) GetAutoTuneEvery() int {
	if c.AutoTuneEvery == nil {
		return 50
	}
	return *c.AutoTuneEvery
}

// GetLapLimit returns the lap_limit value or the default.
func (c *TuningConfig) GetLapLimit() int {
	if c.LapLimit == nil {
		return 3
	}
	return *c.LapLimit
}

// GetHistoryCapacity returns the history_capacity value or the default.
func (c *TuningConfig) GetHistoryCapacity() int {
	if c.HistoryCapacity == nil {
		return 500
	}
	return *c.HistoryCapacity
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *TuningConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return 20 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil {
		return 20 * time.Millisecond // default on parse error
	}
	return d
}

// GetCanvasWidth returns the canvas_width value or the default.
func (c *TuningConfig) GetCanvasWidth() float64 {
	if c.CanvasWidth == nil {
		return 800
	}
	return *c.CanvasWidth
}

// GetCanvasHeight returns the canvas_height value or the default.
func (c *TuningConfig) GetCanvasHeight() float64 {
	if c.CanvasHeight == nil {
		return 600
	}
	return *c.CanvasHeight
}

// GetLineWidth returns the line_width value or the default.
func (c *TuningConfig) GetLineWidth() float64 {
	if c.LineWidth == nil {
		return 18
	}
	return *c.LineWidth
}

// GetSamplesPerSegment returns the samples_per_segment value or the default.
func (c *TuningConfig) GetSamplesPerSegment() int {
	if c.SamplesPerSegment == nil {
		return 24
	}
	return *c.SamplesPerSegment
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEmptyConfigFallsBackToDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetKp(); got != 0.8 {
		t.Errorf("GetKp() = %v, want 0.8", got)
	}
	if got := cfg.GetKi(); got != 0 {
		t.Errorf("GetKi() = %v, want 0", got)
	}
	if got := cfg.GetKd(); got != 0.25 {
		t.Errorf("GetKd() = %v, want 0.25", got)
	}
	if got := cfg.GetKslip(); got != 0.2 {
		t.Errorf("GetKslip() = %v, want 0.2", got)
	}
	if got := cfg.GetBaseSpeed(); got != 120 {
		t.Errorf("GetBaseSpeed() = %v, want 120", got)
	}
	if got := cfg.GetLapLimit(); got != 3 {
		t.Errorf("GetLapLimit() = %v, want 3", got)
	}
	if got := cfg.GetTickInterval(); got != 20*time.Millisecond {
		t.Errorf("GetTickInterval() = %v, want 20ms", got)
	}
	if got := cfg.GetSamplesPerSegment(); got != 24 {
		t.Errorf("GetSamplesPerSegment() = %v, want 24", got)
	}
	if got := cfg.GetCanvasWidth(); got != 800 {
		t.Errorf("GetCanvasWidth() = %v, want 800", got)
	}
}

func TestPartialConfigKeepsUnsetDefaults(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"kp": 1.5, "lap_limit": 5}`)

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if got := cfg.GetKp(); got != 1.5 {
		t.Errorf("GetKp() = %v, want 1.5", got)
	}
	if got := cfg.GetLapLimit(); got != 5 {
		t.Errorf("GetLapLimit() = %v, want 5", got)
	}
	// Unset fields fall back.
	if got := cfg.GetKd(); got != 0.25 {
		t.Errorf("GetKd() = %v, want default 0.25", got)
	}
	if got := cfg.GetBaseSpeed(); got != 120 {
		t.Errorf("GetBaseSpeed() = %v, want default 120", got)
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	path := writeConfig(t, "tuning.yaml", `kp: 1`)
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("non-.json file accepted")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := LoadTuningConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, "broken.json", `{"kp": `)
	if _, err := LoadTuningConfig(path); err == nil {
		t.Error("malformed JSON accepted")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     TuningConfig
		wantErr bool
	}{
		{"empty is valid", TuningConfig{}, false},
		{"negative kp", TuningConfig{Kp: ptrFloat64(-1)}, true},
		{"negative kslip", TuningConfig{Kslip: ptrFloat64(-0.1)}, true},
		{"zero base speed", TuningConfig{BaseSpeed: ptrFloat64(0)}, true},
		{"negative lap limit", TuningConfig{LapLimit: ptrInt(-1)}, true},
		{"unlimited laps", TuningConfig{LapLimit: ptrInt(0)}, false},
		{"bad tick interval", TuningConfig{TickInterval: ptrString("fast")}, true},
		{"good tick interval", TuningConfig{TickInterval: ptrString("50ms")}, false},
		{"zero samples", TuningConfig{SamplesPerSegment: ptrInt(0)}, true},
		{"zero canvas", TuningConfig{CanvasWidth: ptrFloat64(0)}, true},
		{"zero line width", TuningConfig{LineWidth: ptrFloat64(0)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	// The shipped defaults file must agree with the in-code fallbacks.
	if got := cfg.GetKp(); got != EmptyTuningConfig().GetKp() {
		t.Errorf("defaults file kp = %v, fallback = %v", got, EmptyTuningConfig().GetKp())
	}
	if got := cfg.GetTickInterval(); got != EmptyTuningConfig().GetTickInterval() {
		t.Errorf("defaults file tick_interval = %v, fallback = %v", got, EmptyTuningConfig().GetTickInterval())
	}
	if got := cfg.GetLapLimit(); got != EmptyTuningConfig().GetLapLimit() {
		t.Errorf("defaults file lap_limit = %v, fallback = %v", got, EmptyTuningConfig().GetLapLimit())
	}
}

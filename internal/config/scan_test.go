package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/laserscan/internal/frame"
)

func TestDefaultScanConfig(t *testing.T) {
	cfg := DefaultScanConfig()

	if cfg.OpenValue == nil || *cfg.OpenValue != 2 {
		t.Errorf("Expected OpenValue 2, got %v", cfg.OpenValue)
	}
	if cfg.ThresholdValue == nil || *cfg.ThresholdValue != 30 {
		t.Errorf("Expected ThresholdValue 30, got %v", cfg.ThresholdValue)
	}
	if cfg.Degrees == nil || *cfg.Degrees != 0.45 {
		t.Errorf("Expected Degrees 0.45, got %v", cfg.Degrees)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	empty := &ScanConfig{}
	if empty.GetFrameQueueSize() != cfg.GetFrameQueueSize() {
		t.Errorf("GetFrameQueueSize() = %d, want %d", empty.GetFrameQueueSize(), cfg.GetFrameQueueSize())
	}
	if empty.GetResultQueueSize() != 10000 {
		t.Errorf("GetResultQueueSize() = %d, want 10000", empty.GetResultQueueSize())
	}
	if empty.GetStopTimeout() != cfg.GetStopTimeout() {
		t.Errorf("GetStopTimeout() = %v, want %v", empty.GetStopTimeout(), cfg.GetStopTimeout())
	}
	if empty.GetAlgorithm() != frame.Compact {
		t.Errorf("GetAlgorithm() = %v, want compact", empty.GetAlgorithm())
	}
}

func TestLoadScanConfig_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.json")
	data := `{
  "threshold_value": 50,
  "algorithm": "weighted",
  "degrees": 1.8,
  "use_right_laser": true,
  "stop_timeout": "2s"
}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadScanConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetThresholdValue() != 50 {
		t.Errorf("GetThresholdValue() = %d, want 50", cfg.GetThresholdValue())
	}
	if cfg.GetAlgorithm() != frame.Weighted {
		t.Errorf("GetAlgorithm() = %v, want weighted", cfg.GetAlgorithm())
	}
	if cfg.GetDegrees() != 1.8 {
		t.Errorf("GetDegrees() = %f, want 1.8", cfg.GetDegrees())
	}
	if !cfg.GetUseRightLaser() || !cfg.GetUseLeftLaser() {
		t.Errorf("expected both lasers enabled")
	}
	if cfg.GetStopTimeout() != 2*time.Second {
		t.Errorf("GetStopTimeout() = %v, want 2s", cfg.GetStopTimeout())
	}
	// Unset fields keep defaults.
	if cfg.GetOpenValue() != 2 || cfg.GetRhoMax() != 100 {
		t.Errorf("partial config lost defaults: open=%d rho_max=%f", cfg.GetOpenValue(), cfg.GetRhoMax())
	}
}

func TestLoadScanConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.yaml")
	data := "open_enable: false\nrho_min: -50\nrho_max: 80\nz_offset: 12.5\nmove_motor: false\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadScanConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetOpenEnable() {
		t.Errorf("GetOpenEnable() = true, want false")
	}
	if cfg.GetRhoMin() != -50 || cfg.GetRhoMax() != 80 {
		t.Errorf("rho = [%f, %f], want [-50, 80]", cfg.GetRhoMin(), cfg.GetRhoMax())
	}
	if cfg.GetZOffset() != 12.5 {
		t.Errorf("GetZOffset() = %f, want 12.5", cfg.GetZOffset())
	}
	if cfg.GetMoveMotor() {
		t.Errorf("GetMoveMotor() = true, want false")
	}
}

func TestLoadScanConfig_Rejects(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{"missing", filepath.Join(dir, "nope.json"), "stat"},
		{"extension", write("scan.txt", "{}"), "extension"},
		{"bad json", write("bad.json", "{"), "parse config JSON"},
		{"bad yaml", write("bad.yaml", "degrees: [1"), "parse config YAML"},
		{"open range", write("open.json", `{"open_value": 11}`), "open_value"},
		{"threshold range", write("thr.json", `{"threshold_value": 256}`), "threshold_value"},
		{"algorithm", write("alg.json", `{"algorithm": "magic"}`), "algorithm"},
		{"rho inverted", write("rho.json", `{"rho_min": 50, "rho_max": 10}`), "rho_min"},
		{"rho out of range", write("rho2.json", `{"rho_max": 500}`), "rho range"},
		{"height out of range", write("h.json", `{"h_min": -150}`), "height range"},
		{"z offset", write("z.json", `{"z_offset": 60}`), "z_offset"},
		{"degrees zero", write("deg.json", `{"degrees": 0}`), "degrees"},
		{"queue", write("q.json", `{"frame_queue_size": 0}`), "frame_queue_size"},
		{"duration", write("d.json", `{"stop_timeout": "soon"}`), "stop_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScanConfig(tt.path)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadScanConfig_RejectsLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "large.json")
	if err := os.WriteFile(path, make([]byte, maxConfigSize+1), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScanConfig(path); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestDurationGetters_FallBackOnParseError(t *testing.T) {
	bad := "later"
	cfg := &ScanConfig{StopTimeout: &bad, MotorIdle: &bad, PausePoll: &bad}
	if cfg.GetStopTimeout() != DefaultStopTimeout {
		t.Errorf("GetStopTimeout() = %v", cfg.GetStopTimeout())
	}
	if cfg.GetMotorIdle() != DefaultMotorIdle {
		t.Errorf("GetMotorIdle() = %v", cfg.GetMotorIdle())
	}
	if cfg.GetPausePoll() != DefaultPausePoll {
		t.Errorf("GetPausePoll() = %v", cfg.GetPausePoll())
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/laserscan/internal/frame"
)

// Factory defaults of a scan profile.
const (
	DefaultOpenValue       = 2
	DefaultThresholdValue  = 30
	DefaultRhoMin          = -100.0
	DefaultRhoMax          = 100.0
	DefaultHMin            = 0.0
	DefaultHMax            = 200.0
	DefaultDegrees         = 0.45
	DefaultMotorSpeed      = 50
	DefaultFrameQueueSize  = 1000
	DefaultResultQueueSize = 10000
	DefaultStopTimeout     = 5 * time.Second
	DefaultMotorIdle       = 200 * time.Millisecond
	DefaultPausePoll       = 100 * time.Millisecond
)

// Ranges accepted for the live settings.
const (
	MinOpenValue = 1
	MaxOpenValue = 10
	MinRho       = -200.0
	MaxRho       = 200.0
	MinHeight    = -100.0
	MaxHeight    = 200.0
	MinZOffset   = -50.0
	MaxZOffset   = 50.0
	MaxDegrees   = 360.0
)

// maxConfigSize caps configuration files read from disk.
const maxConfigSize = 1 * 1024 * 1024

// ScanConfig is the on-disk form of a scan profile. Every field is optional;
// the Get* accessors supply the factory default for anything left unset, so
// partial files are safe.
type ScanConfig struct {
	// Image processing
	OpenEnable      *bool   `json:"open_enable,omitempty" yaml:"open_enable,omitempty"`
	OpenValue       *int    `json:"open_value,omitempty" yaml:"open_value,omitempty"`
	ThresholdEnable *bool   `json:"threshold_enable,omitempty" yaml:"threshold_enable,omitempty"`
	ThresholdValue  *int    `json:"threshold_value,omitempty" yaml:"threshold_value,omitempty"`
	Algorithm       *string `json:"algorithm,omitempty" yaml:"algorithm,omitempty"` // "compact" or "weighted"

	// Point cloud
	RhoMin  *float64 `json:"rho_min,omitempty" yaml:"rho_min,omitempty"`
	RhoMax  *float64 `json:"rho_max,omitempty" yaml:"rho_max,omitempty"`
	HMin    *float64 `json:"h_min,omitempty" yaml:"h_min,omitempty"`
	HMax    *float64 `json:"h_max,omitempty" yaml:"h_max,omitempty"`
	ZOffset *float64 `json:"z_offset,omitempty" yaml:"z_offset,omitempty"`

	// Capture
	Degrees       *float64 `json:"degrees,omitempty" yaml:"degrees,omitempty"`
	UseLeftLaser  *bool    `json:"use_left_laser,omitempty" yaml:"use_left_laser,omitempty"`
	UseRightLaser *bool    `json:"use_right_laser,omitempty" yaml:"use_right_laser,omitempty"`
	MotorSpeed    *int     `json:"motor_speed,omitempty" yaml:"motor_speed,omitempty"`
	MoveMotor     *bool    `json:"move_motor,omitempty" yaml:"move_motor,omitempty"`

	// Pipeline
	FrameQueueSize  *int    `json:"frame_queue_size,omitempty" yaml:"frame_queue_size,omitempty"`
	ResultQueueSize *int    `json:"result_queue_size,omitempty" yaml:"result_queue_size,omitempty"`
	StopTimeout     *string `json:"stop_timeout,omitempty" yaml:"stop_timeout,omitempty"` // duration string like "5s"
	MotorIdle       *string `json:"motor_idle,omitempty" yaml:"motor_idle,omitempty"`
	PausePoll       *string `json:"pause_poll,omitempty" yaml:"pause_poll,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultScanConfig returns a config with every field set to its default.
func DefaultScanConfig() *ScanConfig {
	return &ScanConfig{
		OpenEnable:      ptrBool(true),
		OpenValue:       ptrInt(DefaultOpenValue),
		ThresholdEnable: ptrBool(true),
		ThresholdValue:  ptrInt(DefaultThresholdValue),
		Algorithm:       ptrString(frame.Compact.String()),
		RhoMin:          ptrFloat64(DefaultRhoMin),
		RhoMax:          ptrFloat64(DefaultRhoMax),
		HMin:            ptrFloat64(DefaultHMin),
		HMax:            ptrFloat64(DefaultHMax),
		ZOffset:         ptrFloat64(0),
		Degrees:         ptrFloat64(DefaultDegrees),
		UseLeftLaser:    ptrBool(true),
		UseRightLaser:   ptrBool(false),
		MotorSpeed:      ptrInt(DefaultMotorSpeed),
		MoveMotor:       ptrBool(true),
		FrameQueueSize:  ptrInt(DefaultFrameQueueSize),
		ResultQueueSize: ptrInt(DefaultResultQueueSize),
		StopTimeout:     ptrString(DefaultStopTimeout.String()),
		MotorIdle:       ptrString(DefaultMotorIdle.String()),
		PausePoll:       ptrString(DefaultPausePoll.String()),
	}
}

// LoadScanConfig reads a ScanConfig from a .json, .yaml or .yml file.
func LoadScanConfig(path string) (*ScanConfig, error) {
	data, ext, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &ScanConfig{}
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// readConfigFile returns the contents and lower-cased extension of a config
// file after checking its extension and size.
func readConfigFile(path string) ([]byte, string, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, "", fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, "", fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	return data, ext, nil
}

// Validate checks the values that are set.
func (c *ScanConfig) Validate() error {
	if c.OpenValue != nil {
		if err := checkOpenValue(*c.OpenValue); err != nil {
			return err
		}
	}
	if c.ThresholdValue != nil {
		if err := checkThresholdValue(*c.ThresholdValue); err != nil {
			return err
		}
	}
	if c.Algorithm != nil {
		if _, err := frame.ParseAlgorithm(*c.Algorithm); err != nil {
			return err
		}
	}
	if err := checkBounds(c.GetRhoMin(), c.GetRhoMax(), c.GetHMin(), c.GetHMax()); err != nil {
		return err
	}
	if c.ZOffset != nil {
		if err := checkZOffset(*c.ZOffset); err != nil {
			return err
		}
	}
	if c.Degrees != nil {
		if err := checkDegrees(*c.Degrees); err != nil {
			return err
		}
	}
	if c.MotorSpeed != nil {
		if err := checkMotorSpeed(*c.MotorSpeed); err != nil {
			return err
		}
	}
	if c.FrameQueueSize != nil && *c.FrameQueueSize < 1 {
		return fmt.Errorf("frame_queue_size must be positive, got %d", *c.FrameQueueSize)
	}
	if c.ResultQueueSize != nil && *c.ResultQueueSize < 1 {
		return fmt.Errorf("result_queue_size must be positive, got %d", *c.ResultQueueSize)
	}
	for name, v := range map[string]*string{
		"stop_timeout": c.StopTimeout,
		"motor_idle":   c.MotorIdle,
		"pause_poll":   c.PausePoll,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	return nil
}

func checkOpenValue(v int) error {
	if v < MinOpenValue || v > MaxOpenValue {
		return fmt.Errorf("open_value must be between %d and %d, got %d", MinOpenValue, MaxOpenValue, v)
	}
	return nil
}

func checkThresholdValue(v int) error {
	if v < 0 || v > 255 {
		return fmt.Errorf("threshold_value must be between 0 and 255, got %d", v)
	}
	return nil
}

func checkBounds(rhoMin, rhoMax, hMin, hMax float64) error {
	for _, v := range []float64{rhoMin, rhoMax, hMin, hMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("range limits must be finite")
		}
	}
	if rhoMin < MinRho || rhoMax > MaxRho {
		return fmt.Errorf("rho range must lie within [%.0f, %.0f], got [%.2f, %.2f]", MinRho, MaxRho, rhoMin, rhoMax)
	}
	if hMin < MinHeight || hMax > MaxHeight {
		return fmt.Errorf("height range must lie within [%.0f, %.0f], got [%.2f, %.2f]", MinHeight, MaxHeight, hMin, hMax)
	}
	if rhoMin > rhoMax {
		return fmt.Errorf("rho_min %.2f exceeds rho_max %.2f", rhoMin, rhoMax)
	}
	if hMin > hMax {
		return fmt.Errorf("h_min %.2f exceeds h_max %.2f", hMin, hMax)
	}
	return nil
}

func checkZOffset(v float64) error {
	if !(v >= MinZOffset && v <= MaxZOffset) {
		return fmt.Errorf("z_offset must be between %.0f and %.0f, got %.2f", MinZOffset, MaxZOffset, v)
	}
	return nil
}

func checkDegrees(v float64) error {
	if !(v > 0 && v <= MaxDegrees) {
		return fmt.Errorf("degrees must be in (0, %.0f], got %f", MaxDegrees, v)
	}
	return nil
}

func checkMotorSpeed(v int) error {
	if v < 1 {
		return fmt.Errorf("motor_speed must be positive, got %d", v)
	}
	return nil
}

// GetOpenEnable returns the open_enable value or the default.
func (c *ScanConfig) GetOpenEnable() bool {
	if c.OpenEnable == nil {
		return true
	}
	return *c.OpenEnable
}

// GetOpenValue returns the open_value value or the default.
func (c *ScanConfig) GetOpenValue() int {
	if c.OpenValue == nil {
		return DefaultOpenValue
	}
	return *c.OpenValue
}

// GetThresholdEnable returns the threshold_enable value or the default.
func (c *ScanConfig) GetThresholdEnable() bool {
	if c.ThresholdEnable == nil {
		return true
	}
	return *c.ThresholdEnable
}

// GetThresholdValue returns the threshold_value value or the default.
func (c *ScanConfig) GetThresholdValue() int {
	if c.ThresholdValue == nil {
		return DefaultThresholdValue
	}
	return *c.ThresholdValue
}

// GetAlgorithm returns the parsed algorithm, falling back to compact.
func (c *ScanConfig) GetAlgorithm() frame.Algorithm {
	if c.Algorithm == nil {
		return frame.Compact
	}
	a, err := frame.ParseAlgorithm(*c.Algorithm)
	if err != nil {
		return frame.Compact
	}
	return a
}

func (c *ScanConfig) GetRhoMin() float64 {
	if c.RhoMin == nil {
		return DefaultRhoMin
	}
	return *c.RhoMin
}

func (c *ScanConfig) GetRhoMax() float64 {
	if c.RhoMax == nil {
		return DefaultRhoMax
	}
	return *c.RhoMax
}

func (c *ScanConfig) GetHMin() float64 {
	if c.HMin == nil {
		return DefaultHMin
	}
	return *c.HMin
}

func (c *ScanConfig) GetHMax() float64 {
	if c.HMax == nil {
		return DefaultHMax
	}
	return *c.HMax
}

func (c *ScanConfig) GetZOffset() float64 {
	if c.ZOffset == nil {
		return 0
	}
	return *c.ZOffset
}

// GetDegrees returns the turntable step per capture in degrees.
func (c *ScanConfig) GetDegrees() float64 {
	if c.Degrees == nil {
		return DefaultDegrees
	}
	return *c.Degrees
}

func (c *ScanConfig) GetUseLeftLaser() bool {
	if c.UseLeftLaser == nil {
		return true
	}
	return *c.UseLeftLaser
}

func (c *ScanConfig) GetUseRightLaser() bool {
	if c.UseRightLaser == nil {
		return false
	}
	return *c.UseRightLaser
}

func (c *ScanConfig) GetMotorSpeed() int {
	if c.MotorSpeed == nil {
		return DefaultMotorSpeed
	}
	return *c.MotorSpeed
}

func (c *ScanConfig) GetMoveMotor() bool {
	if c.MoveMotor == nil {
		return true
	}
	return *c.MoveMotor
}

// GetFrameQueueSize returns the capacity of the capture-to-processing queue.
func (c *ScanConfig) GetFrameQueueSize() int {
	if c.FrameQueueSize == nil {
		return DefaultFrameQueueSize
	}
	return *c.FrameQueueSize
}

// GetResultQueueSize returns the capacity of the processing-to-consumer queue.
func (c *ScanConfig) GetResultQueueSize() int {
	if c.ResultQueueSize == nil {
		return DefaultResultQueueSize
	}
	return *c.ResultQueueSize
}

// GetStopTimeout parses and returns StopTimeout as a time.Duration.
func (c *ScanConfig) GetStopTimeout() time.Duration {
	return parseDurationOr(c.StopTimeout, DefaultStopTimeout)
}

// GetMotorIdle returns how long the capture loop idles per step when the
// motor is not moved.
func (c *ScanConfig) GetMotorIdle() time.Duration {
	return parseDurationOr(c.MotorIdle, DefaultMotorIdle)
}

// GetPausePoll returns how often paused loops re-check their flags.
func (c *ScanConfig) GetPausePoll() time.Duration {
	return parseDurationOr(c.PausePoll, DefaultPausePoll)
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

package config

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/laserscan/internal/cloud"
	"github.com/banshee-data/laserscan/internal/frame"
)

// atomicFloat is a float64 stored as its IEEE-754 bits.
type atomicFloat struct{ bits atomic.Uint64 }

func (f *atomicFloat) Load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *atomicFloat) Store(v float64) { f.bits.Store(math.Float64bits(v)) }

// Settings are the live scan parameters. The capture and processing loops
// read them field by field every iteration, so a change takes effect on the
// next frame without any locking on the hot path. Each setter validates its
// input and leaves the previous value in place on error.
type Settings struct {
	openEnable      atomic.Bool
	openValue       atomic.Int32
	thresholdEnable atomic.Bool
	thresholdValue  atomic.Int32
	algorithm       atomic.Int32

	rhoMin, rhoMax atomicFloat
	hMin, hMax     atomicFloat
	zOffset        atomicFloat
	degrees        atomicFloat

	useLeft    atomic.Bool
	useRight   atomic.Bool
	moveMotor  atomic.Bool
	motorSpeed atomic.Int32

	// boundsMu serialises multi-field bound updates so readers of Bounds
	// never mix limits from two different updates.
	boundsMu sync.RWMutex
}

// NewSettings seeds live settings from cfg; nil means factory defaults.
func NewSettings(cfg *ScanConfig) *Settings {
	if cfg == nil {
		cfg = &ScanConfig{}
	}
	s := &Settings{}
	s.openEnable.Store(cfg.GetOpenEnable())
	s.openValue.Store(int32(cfg.GetOpenValue()))
	s.thresholdEnable.Store(cfg.GetThresholdEnable())
	s.thresholdValue.Store(int32(cfg.GetThresholdValue()))
	s.algorithm.Store(int32(cfg.GetAlgorithm()))
	s.rhoMin.Store(cfg.GetRhoMin())
	s.rhoMax.Store(cfg.GetRhoMax())
	s.hMin.Store(cfg.GetHMin())
	s.hMax.Store(cfg.GetHMax())
	s.zOffset.Store(cfg.GetZOffset())
	s.degrees.Store(cfg.GetDegrees())
	s.useLeft.Store(cfg.GetUseLeftLaser())
	s.useRight.Store(cfg.GetUseRightLaser())
	s.moveMotor.Store(cfg.GetMoveMotor())
	s.motorSpeed.Store(int32(cfg.GetMotorSpeed()))
	return s
}

// FrameParams returns the image-processing parameters for the next frame.
func (s *Settings) FrameParams() frame.Params {
	return frame.Params{
		OpenEnable:      s.openEnable.Load(),
		OpenValue:       int(s.openValue.Load()),
		ThresholdEnable: s.thresholdEnable.Load(),
		ThresholdValue:  uint8(s.thresholdValue.Load()),
		Algorithm:       frame.Algorithm(s.algorithm.Load()),
	}
}

// Bounds returns the current range filter.
func (s *Settings) Bounds() cloud.Bounds {
	s.boundsMu.RLock()
	defer s.boundsMu.RUnlock()
	return cloud.Bounds{
		RhoMin: s.rhoMin.Load(), RhoMax: s.rhoMax.Load(),
		HMin: s.hMin.Load(), HMax: s.hMax.Load(),
	}
}

func (s *Settings) ZOffset() float64    { return s.zOffset.Load() }
func (s *Settings) Degrees() float64    { return s.degrees.Load() }
func (s *Settings) UseLeftLaser() bool  { return s.useLeft.Load() }
func (s *Settings) UseRightLaser() bool { return s.useRight.Load() }
func (s *Settings) MoveMotor() bool     { return s.moveMotor.Load() }
func (s *Settings) MotorSpeed() int     { return int(s.motorSpeed.Load()) }

// SetOpen configures the morphological opening.
func (s *Settings) SetOpen(enable bool, value int) error {
	if err := checkOpenValue(value); err != nil {
		return err
	}
	s.openValue.Store(int32(value))
	s.openEnable.Store(enable)
	return nil
}

// SetThreshold configures binarisation.
func (s *Settings) SetThreshold(enable bool, value int) error {
	if err := checkThresholdValue(value); err != nil {
		return err
	}
	s.thresholdValue.Store(int32(value))
	s.thresholdEnable.Store(enable)
	return nil
}

func (s *Settings) SetAlgorithm(a frame.Algorithm) error {
	if a != frame.Compact && a != frame.Weighted {
		return fmt.Errorf("unknown line algorithm %v", a)
	}
	s.algorithm.Store(int32(a))
	return nil
}

// SetBounds replaces the range filter.
func (s *Settings) SetBounds(b cloud.Bounds) error {
	if err := checkBounds(b.RhoMin, b.RhoMax, b.HMin, b.HMax); err != nil {
		return err
	}
	s.boundsMu.Lock()
	defer s.boundsMu.Unlock()
	s.rhoMin.Store(b.RhoMin)
	s.rhoMax.Store(b.RhoMax)
	s.hMin.Store(b.HMin)
	s.hMax.Store(b.HMax)
	return nil
}

func (s *Settings) SetZOffset(v float64) error {
	if err := checkZOffset(v); err != nil {
		return err
	}
	s.zOffset.Store(v)
	return nil
}

// SetDegrees sets the turntable step per capture.
func (s *Settings) SetDegrees(v float64) error {
	if err := checkDegrees(v); err != nil {
		return err
	}
	s.degrees.Store(v)
	return nil
}

// SetLasers selects which lasers are captured each step.
func (s *Settings) SetLasers(left, right bool) {
	s.useLeft.Store(left)
	s.useRight.Store(right)
}

func (s *Settings) SetMoveMotor(v bool) { s.moveMotor.Store(v) }

func (s *Settings) SetMotorSpeed(v int) error {
	if err := checkMotorSpeed(v); err != nil {
		return err
	}
	s.motorSpeed.Store(int32(v))
	return nil
}

// Snapshot is a copy of the live settings, used for status reporting and as
// the wire form of settings updates.
type Snapshot struct {
	OpenEnable      bool    `json:"open_enable"`
	OpenValue       int     `json:"open_value"`
	ThresholdEnable bool    `json:"threshold_enable"`
	ThresholdValue  int     `json:"threshold_value"`
	Algorithm       string  `json:"algorithm"`
	RhoMin          float64 `json:"rho_min"`
	RhoMax          float64 `json:"rho_max"`
	HMin            float64 `json:"h_min"`
	HMax            float64 `json:"h_max"`
	ZOffset         float64 `json:"z_offset"`
	Degrees         float64 `json:"degrees"`
	UseLeftLaser    bool    `json:"use_left_laser"`
	UseRightLaser   bool    `json:"use_right_laser"`
	MoveMotor       bool    `json:"move_motor"`
	MotorSpeed      int     `json:"motor_speed"`
}

// Snapshot copies the current values.
func (s *Settings) Snapshot() Snapshot {
	p := s.FrameParams()
	b := s.Bounds()
	return Snapshot{
		OpenEnable:      p.OpenEnable,
		OpenValue:       p.OpenValue,
		ThresholdEnable: p.ThresholdEnable,
		ThresholdValue:  int(p.ThresholdValue),
		Algorithm:       p.Algorithm.String(),
		RhoMin:          b.RhoMin,
		RhoMax:          b.RhoMax,
		HMin:            b.HMin,
		HMax:            b.HMax,
		ZOffset:         s.ZOffset(),
		Degrees:         s.Degrees(),
		UseLeftLaser:    s.UseLeftLaser(),
		UseRightLaser:   s.UseRightLaser(),
		MoveMotor:       s.MoveMotor(),
		MotorSpeed:      s.MotorSpeed(),
	}
}

// Apply sets every field of snap, stopping at the first invalid value.
func (s *Settings) Apply(snap Snapshot) error {
	alg, err := frame.ParseAlgorithm(snap.Algorithm)
	if err != nil {
		return err
	}
	if err := s.SetOpen(snap.OpenEnable, snap.OpenValue); err != nil {
		return err
	}
	if err := s.SetThreshold(snap.ThresholdEnable, snap.ThresholdValue); err != nil {
		return err
	}
	if err := s.SetAlgorithm(alg); err != nil {
		return err
	}
	if err := s.SetBounds(cloud.Bounds{RhoMin: snap.RhoMin, RhoMax: snap.RhoMax, HMin: snap.HMin, HMax: snap.HMax}); err != nil {
		return err
	}
	if err := s.SetZOffset(snap.ZOffset); err != nil {
		return err
	}
	if err := s.SetDegrees(snap.Degrees); err != nil {
		return err
	}
	if err := s.SetMotorSpeed(snap.MotorSpeed); err != nil {
		return err
	}
	s.SetLasers(snap.UseLeftLaser, snap.UseRightLaser)
	s.SetMoveMotor(snap.MoveMotor)
	return nil
}

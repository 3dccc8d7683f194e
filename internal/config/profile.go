package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/banshee-data/laserscan/internal/frame"
)

// ErrUnknownSetting is returned for a setting name outside SettingNames.
var ErrUnknownSetting = errors.New("unknown setting")

// Store is a persisted key/value profile of named settings.
type Store interface {
	Get(name string) (any, bool)
	Put(name string, value any) error
}

// SettingNames lists the profile keys understood by Settings.Get and Set.
var SettingNames = []string{
	"open", "open_value",
	"threshold", "threshold_value",
	"use_compact",
	"z_offset",
	"rho_min", "rho_max", "h_min", "h_max",
	"degrees",
	"use_left_laser", "use_right_laser",
	"move_motor", "motor_speed",
}

// Get returns the current value of a named setting.
func (s *Settings) Get(name string) (any, error) {
	p := s.FrameParams()
	b := s.Bounds()
	switch name {
	case "open":
		return p.OpenEnable, nil
	case "open_value":
		return p.OpenValue, nil
	case "threshold":
		return p.ThresholdEnable, nil
	case "threshold_value":
		return int(p.ThresholdValue), nil
	case "use_compact":
		return p.Algorithm == frame.Compact, nil
	case "z_offset":
		return s.ZOffset(), nil
	case "rho_min":
		return b.RhoMin, nil
	case "rho_max":
		return b.RhoMax, nil
	case "h_min":
		return b.HMin, nil
	case "h_max":
		return b.HMax, nil
	case "degrees":
		return s.Degrees(), nil
	case "use_left_laser":
		return s.UseLeftLaser(), nil
	case "use_right_laser":
		return s.UseRightLaser(), nil
	case "move_motor":
		return s.MoveMotor(), nil
	case "motor_speed":
		return s.MotorSpeed(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSetting, name)
}

// Set updates one named setting. Numeric values may arrive as any Go number
// or a numeric string, as produced by JSON and form decoding.
func (s *Settings) Set(name string, value any) error {
	switch name {
	case "open", "threshold", "use_compact", "use_left_laser", "use_right_laser", "move_motor":
		v, err := toBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		p := s.FrameParams()
		switch name {
		case "open":
			return s.SetOpen(v, p.OpenValue)
		case "threshold":
			return s.SetThreshold(v, int(p.ThresholdValue))
		case "use_compact":
			if v {
				return s.SetAlgorithm(frame.Compact)
			}
			return s.SetAlgorithm(frame.Weighted)
		case "use_left_laser":
			s.SetLasers(v, s.UseRightLaser())
		case "use_right_laser":
			s.SetLasers(s.UseLeftLaser(), v)
		case "move_motor":
			s.SetMoveMotor(v)
		}
		return nil
	case "open_value", "threshold_value", "motor_speed":
		f, err := toFloat(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		v := int(f)
		if float64(v) != f {
			return fmt.Errorf("%s must be an integer, got %v", name, value)
		}
		p := s.FrameParams()
		switch name {
		case "open_value":
			return s.SetOpen(p.OpenEnable, v)
		case "threshold_value":
			return s.SetThreshold(p.ThresholdEnable, v)
		default:
			return s.SetMotorSpeed(v)
		}
	case "z_offset", "degrees", "rho_min", "rho_max", "h_min", "h_max":
		f, err := toFloat(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		switch name {
		case "z_offset":
			return s.SetZOffset(f)
		case "degrees":
			return s.SetDegrees(f)
		}
		return s.setBound(name, f)
	}
	return fmt.Errorf("%w: %q", ErrUnknownSetting, name)
}

func (s *Settings) setBound(name string, v float64) error {
	b := s.Bounds()
	switch name {
	case "rho_min":
		b.RhoMin = v
	case "rho_max":
		b.RhoMax = v
	case "h_min":
		b.HMin = v
	case "h_max":
		b.HMax = v
	}
	return s.SetBounds(b)
}

// Load applies every setting present in store. Bounds are applied together so
// that widening one limit past the other in a single profile is accepted.
func (s *Settings) Load(store Store) error {
	b := s.Bounds()
	bounds := map[string]*float64{
		"rho_min": &b.RhoMin, "rho_max": &b.RhoMax,
		"h_min": &b.HMin, "h_max": &b.HMax,
	}
	for _, name := range SettingNames {
		v, ok := store.Get(name)
		if !ok {
			continue
		}
		if dst, isBound := bounds[name]; isBound {
			f, err := toFloat(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = f
			continue
		}
		if err := s.Set(name, v); err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
	}
	if err := s.SetBounds(b); err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	return nil
}

// Save writes every named setting to store.
func (s *Settings) Save(store Store) error {
	for _, name := range SettingNames {
		v, err := s.Get(name)
		if err != nil {
			return err
		}
		if err := store.Put(name, v); err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
	}
	return nil
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	}
	return false, fmt.Errorf("expected boolean, got %T", v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]any)}
}

func (m *MemoryStore) Get(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	return v, ok
}

func (m *MemoryStore) Put(name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}

// FileStore is a Store backed by a JSON object on disk. Every Put rewrites
// the file through a temporary file and rename.
type FileStore struct {
	path string

	mu     sync.RWMutex
	values map[string]any
}

// OpenFileStore loads path if it exists; a missing file starts empty.
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: filepath.Clean(path), values: make(map[string]any)}
	if filepath.Ext(fs.path) != ".json" {
		return nil, fmt.Errorf("profile file must have .json extension, got %q", filepath.Ext(fs.path))
	}

	info, err := os.Stat(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat profile: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("profile too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fs.values); err != nil {
			return nil, fmt.Errorf("failed to parse profile JSON: %w", err)
		}
	}
	return fs, nil
}

func (f *FileStore) Get(name string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[name]
	return v, ok
}

func (f *FileStore) Put(name string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[name] = value
	return f.flushLocked()
}

// Names returns the stored keys in sorted order.
func (f *FileStore) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.values))
	for k := range f.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (f *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".profile-*.json")
	if err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write profile: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

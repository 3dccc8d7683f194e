package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/laserscan/internal/calibration"
	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/device"
	"github.com/banshee-data/laserscan/internal/scanner"
	"github.com/banshee-data/laserscan/internal/serialmux"
	"github.com/banshee-data/laserscan/internal/sim"
)

func TestFlagDefaults(t *testing.T) {
	if *listen != ":8080" {
		t.Errorf("listen default = %q, want :8080", *listen)
	}
	if *dbPath != "scans.db" {
		t.Errorf("db default = %q, want scans.db", *dbPath)
	}
	if *baudRate != serialmux.DefaultBaudRate {
		t.Errorf("baud default = %d, want %d", *baudRate, serialmux.DefaultBaudRate)
	}
	if *portPath != "/dev/ttyUSB0" {
		t.Errorf("port default = %q", *portPath)
	}
	if *mqttBroker != "" || *webhookURL != "" {
		t.Error("outbound publishing should be off by default")
	}
	if *mqttPrefix != "laserscan" {
		t.Errorf("mqtt-prefix default = %q", *mqttPrefix)
	}
	if *simulate || *debug || *scanOnce != "" {
		t.Error("sim, debug and scan should be off by default")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetDegrees() != config.DefaultScanConfig().GetDegrees() {
		t.Errorf("got degrees %v", cfg.GetDegrees())
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestLoadLookups(t *testing.T) {
	set, w, h, err := loadLookups("", false)
	if err != nil {
		t.Fatalf("hardware without calibration: %v", err)
	}
	if set.Left != nil || set.Right != nil || w != 0 || h != 0 {
		t.Error("expected no lookups without a calibration file")
	}

	set, w, h, err = loadLookups("", true)
	if err != nil {
		t.Fatalf("simulated calibration: %v", err)
	}
	if w != simWidth || h != simHeight {
		t.Errorf("got %dx%d, want %dx%d", w, h, simWidth, simHeight)
	}
	if set.Left == nil || set.Right == nil {
		t.Fatal("simulated calibration should cover both lasers")
	}
	if lw, lh := set.Left.Dims(); lw != simWidth || lh != simHeight {
		t.Errorf("lookup is %dx%d", lw, lh)
	}
}

func TestOpenProfile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")

	settings := config.NewSettings(nil)
	store, err := openProfile(path, settings)
	if err != nil {
		t.Fatalf("openProfile on a new file: %v", err)
	}
	if err := settings.SetDegrees(7.5); err != nil {
		t.Fatal(err)
	}
	shutdown(scanner.New(nil, nil, settings, calibration.LookupSet{}, scanner.Options{}), settings, store)

	reloaded := config.NewSettings(nil)
	if _, err := openProfile(path, reloaded); err != nil {
		t.Fatalf("openProfile on saved file: %v", err)
	}
	if reloaded.Degrees() != 7.5 {
		t.Errorf("reloaded degrees = %v, want 7.5", reloaded.Degrees())
	}

	if _, err := openProfile(filepath.Join(t.TempDir(), "profile.txt"), settings); err == nil {
		t.Error("expected an error for a non-JSON profile")
	}
}

func TestRunOnce_SimulatedScan(t *testing.T) {
	const w, h = 64, 48
	rig := sim.NewRig()
	ctx, err := sim.Calibration(w, h)
	if err != nil {
		t.Fatal(err)
	}
	lookup, err := calibration.BuildLookup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	settings := config.NewSettings(nil)
	if err := settings.SetDegrees(45); err != nil {
		t.Fatal(err)
	}
	scan := scanner.New(sim.NewCamera(rig, w, h), device.NewBoard(rig.Opener(), device.DefaultCommandTimeout),
		settings, calibration.LookupSet{Left: lookup, Right: lookup}, scanner.Options{})
	defer scan.Disconnect()

	out := filepath.Join(t.TempDir(), "bust.ply")
	if err := runOnce(context.Background(), scan, out); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "ply\n") {
		t.Errorf("export does not start with a PLY header: %q", string(data[:min(len(data), 20)]))
	}
	if rig.State().Enabled {
		t.Error("motor left enabled after the scan")
	}
}

func TestRunOnce_RequiresCalibration(t *testing.T) {
	rig := sim.NewRig()
	scan := scanner.New(sim.NewCamera(rig, 16, 12), device.NewBoard(rig.Opener(), device.DefaultCommandTimeout),
		nil, calibration.LookupSet{}, scanner.Options{})
	defer scan.Disconnect()

	err := runOnce(context.Background(), scan, filepath.Join(t.TempDir(), "x.asc"))
	if !errors.Is(err, scanner.ErrNoCalibration) {
		t.Errorf("got %v, want ErrNoCalibration", err)
	}
}

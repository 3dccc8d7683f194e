package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestDebugf_Gated(t *testing.T) {
	original := Logf
	defer func() {
		Logf = original
		SetDebug(false)
	}()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	SetDebug(false)
	Debugf("frame %d", 1)
	if len(lines) != 0 {
		t.Fatalf("expected no output with debug disabled, got %v", lines)
	}

	SetDebug(true)
	if !DebugEnabled() {
		t.Fatal("DebugEnabled() = false after SetDebug(true)")
	}
	Debugf("frame %d", 2)
	if len(lines) != 1 || lines[0] != "[debug] frame 2" {
		t.Fatalf("unexpected debug output %v", lines)
	}
}

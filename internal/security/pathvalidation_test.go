package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	// Create directories for symlink tests
	safeDir := filepath.Join(tmpDir, "safe")
	unsafeDir := filepath.Join(tmpDir, "unsafe")
	if err := os.MkdirAll(safeDir, 0755); err != nil {
		t.Fatalf("Failed to create safe directory: %v", err)
	}
	if err := os.MkdirAll(unsafeDir, 0755); err != nil {
		t.Fatalf("Failed to create unsafe directory: %v", err)
	}

	// Create a file in the unsafe directory
	unsafeFile := filepath.Join(unsafeDir, "secret.txt")
	if err := os.WriteFile(unsafeFile, []byte("secret"), 0644); err != nil {
		t.Fatalf("Failed to create unsafe file: %v", err)
	}

	// Create a symlink inside safe directory pointing to unsafe directory
	symlinkPath := filepath.Join(safeDir, "evil-symlink")
	if err := os.Symlink(unsafeDir, symlinkPath); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		safeDir   string
		wantError bool
	}{
		{
			name:      "valid path within directory",
			filePath:  filepath.Join(tmpDir, "file.txt"),
			safeDir:   tmpDir,
			wantError: false,
		},
		{
			name:      "valid nested path",
			filePath:  filepath.Join(tmpDir, "subdir", "file.txt"),
			safeDir:   tmpDir,
			wantError: false,
		},
		{
			name:      "path traversal with ..",
			filePath:  filepath.Join(tmpDir, "..", "file.txt"),
			safeDir:   tmpDir,
			wantError: true,
		},
		{
			name:      "path traversal at start",
			filePath:  "../../../etc/passwd",
			safeDir:   tmpDir,
			wantError: true,
		},
		{
			name:      "absolute path outside safe dir",
			filePath:  "/etc/passwd",
			safeDir:   tmpDir,
			wantError: true,
		},
		{
			name:      "symlink escape attack - following symlink to outside dir",
			filePath:  filepath.Join(symlinkPath, "secret.txt"),
			safeDir:   safeDir,
			wantError: true,
		},
		{
			name:      "symlink escape attack - accessing symlink directly",
			filePath:  symlinkPath,
			safeDir:   safeDir,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.safeDir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                 "unknown",
		"scan-01.ply":      "scan-01.ply",
		"../../etc/passwd": "etc_passwd",
		"my scan (2).asc":  "my_scan_2_.asc",
		"...":              "unknown",
		"a//b\\c":          "a_b_c",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
	long := SanitizeFilename(strings.Repeat("x", 300))
	if len(long) != 128 {
		t.Errorf("long name trimmed to %d bytes, want 128", len(long))
	}
}

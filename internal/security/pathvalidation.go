// Package security guards file paths built from request input.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory reports an error if filePath, after resolving
// symlinks on it or on its nearest existing parent, lies outside safeDir.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	// Clean the path to resolve . and .. components
	cleanPath := filepath.Clean(filePath)

	// Get absolute paths for proper validation
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	// Resolve symlinks to get canonical paths (prevents symlink-based traversal attacks)
	// Note: EvalSymlinks returns an error if the path doesn't exist
	canonicalPath := absPath
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		// Path exists and all symlinks resolved successfully
		canonicalPath = resolved
	} else {
		// Path doesn't exist. Check parent directories for symlinks to prevent attacks like:
		// /tmp/evil-symlink/newfile.txt where evil-symlink -> /etc
		// We walk up the directory tree until we find an existing directory
		checkPath := absPath
		for {
			parentDir := filepath.Dir(checkPath)
			if parentDir == checkPath {
				// Reached root without finding existing directory
				// This shouldn't happen in practice, but use original path
				break
			}

			if resolved, err := filepath.EvalSymlinks(parentDir); err == nil {
				// Found an existing parent directory with resolved symlinks
				// Reconstruct the path with canonical parent and remaining path components
				relToParent, _ := filepath.Rel(parentDir, absPath)
				canonicalPath = filepath.Join(resolved, relToParent)
				break
			}

			checkPath = parentDir
		}
	}

	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	// Check if canonical path is within canonical safe directory
	relPath, err := filepath.Rel(canonicalSafeDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}

	// Reject paths that escape the safe directory
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}

	return nil
}

// SanitizeFilename maps s onto ASCII letters, digits, dot, underscore and
// dash, collapsing runs of anything else into one underscore. The result is
// at most 128 bytes; "unknown" stands in for an empty result.
func SanitizeFilename(s string) string {
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	// Limit resulting filename length to avoid overly long paths
	const maxLen = 128
	lastUnderscore := false
	for _, r := range s {
		if len(b.String()) >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := b.String()
	// Trim leading/trailing underscores or dots
	out = strings.Trim(out, "._")
	if out == "" {
		return "unknown"
	}
	return out
}

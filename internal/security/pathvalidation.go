// Package security guards the filesystem surface of saved conflict
// documents: filenames derived from request input are sanitized and
// resolved paths are confined to the configured save directory.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects paths that resolve outside dir.
// Symlinks on both sides are resolved first, so a link planted inside
// the directory cannot redirect a write elsewhere.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}

	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalDir, canonicalize(absPath))
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", filePath, dir)
	}
	return nil
}

// canonicalize resolves symlinks in absPath. For a path that does not
// exist yet, the nearest existing ancestor is resolved and the missing
// tail re-joined, so a symlinked parent still maps to its target.
func canonicalize(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	ancestor := filepath.Dir(absPath)
	for {
		if resolved, err := filepath.EvalSymlinks(ancestor); err == nil {
			rel, relErr := filepath.Rel(ancestor, absPath)
			if relErr != nil {
				return absPath
			}
			return filepath.Join(resolved, rel)
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return absPath
		}
		ancestor = parent
	}
}

// SanitizeFilename maps an arbitrary string to a safe filename.
// Characters outside ASCII letters, digits, dot, underscore and dash
// become single underscores, the result is capped at 128 bytes and
// stripped of leading and trailing dots and underscores. An input that
// sanitizes to nothing becomes "unknown".
func SanitizeFilename(s string) string {
	if s == "" {
		return "unknown"
	}
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
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
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

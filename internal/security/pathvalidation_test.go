package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	saveDir := filepath.Join(tmpDir, "conflict_results")
	outsideDir := filepath.Join(tmpDir, "outside")
	if err := os.MkdirAll(saveDir, 0755); err != nil {
		t.Fatalf("failed to create save directory: %v", err)
	}
	if err := os.MkdirAll(outsideDir, 0755); err != nil {
		t.Fatalf("failed to create outside directory: %v", err)
	}

	outsideFile := filepath.Join(outsideDir, "secret.json")
	if err := os.WriteFile(outsideFile, []byte("{}"), 0644); err != nil {
		t.Fatalf("failed to create outside file: %v", err)
	}

	// A link inside the save directory pointing elsewhere.
	symlinkPath := filepath.Join(saveDir, "escape")
	if err := os.Symlink(outsideDir, symlinkPath); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	tests := []struct {
		name      string
		filePath  string
		dir       string
		wantError bool
	}{
		{
			name:     "file directly under the directory",
			filePath: filepath.Join(saveDir, "conflicts_20260101.json"),
			dir:      saveDir,
		},
		{
			name:     "nested path under the directory",
			filePath: filepath.Join(saveDir, "archive", "conflicts.json"),
			dir:      saveDir,
		},
		{
			name:      "dot-dot climbs out",
			filePath:  filepath.Join(saveDir, "..", "conflicts.json"),
			dir:       saveDir,
			wantError: true,
		},
		{
			name:      "relative traversal from the start",
			filePath:  "../../../etc/passwd",
			dir:       saveDir,
			wantError: true,
		},
		{
			name:      "absolute path outside the directory",
			filePath:  "/etc/passwd",
			dir:       saveDir,
			wantError: true,
		},
		{
			name:      "write through a symlinked subdirectory",
			filePath:  filepath.Join(symlinkPath, "secret.json"),
			dir:       saveDir,
			wantError: true,
		},
		{
			name:      "the symlink itself",
			filePath:  symlinkPath,
			dir:       saveDir,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.dir)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePathWithinDirectory() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain name passes through", "conflicts_20260101_120000", "conflicts_20260101_120000"},
		{"extension kept", "morning_run.json", "morning_run.json"},
		{"path separators collapse", "../../etc/passwd", "etc_passwd"},
		{"spaces become underscores", "rush hour report", "rush_hour_report"},
		{"runs of junk collapse to one underscore", "a//??b", "a_b"},
		{"leading and trailing junk trimmed", "__.report.__", "report"},
		{"empty input", "", "unknown"},
		{"only junk", "///***", "unknown"},
		{"non-ascii replaced", "Milano–Pavia", "Milano_Pavia"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeFilenameCapsLength(t *testing.T) {
	long := ""
	for i := 0; i < 300; i++ {
		long += "a"
	}

	got := SanitizeFilename(long)
	if len(got) > 128 {
		t.Errorf("sanitized name is %d bytes, want at most 128", len(got))
	}
}

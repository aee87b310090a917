// Package testutil builds the simulation fixtures the HTTP surface
// tests share. Systems come up on a mock clock pinned to a fixed epoch
// so response timestamps stay reproducible across runs.
package testutil

import (
	"testing"
	"time"

	"github.com/rail-mind/railmind/internal/rail"
	"github.com/rail-mind/railmind/internal/timeutil"
)

// FixtureStart is the wall-clock epoch test systems boot at.
var FixtureStart = time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

// NewSystem builds a System over the given snapshot with a mock clock
// pinned to FixtureStart and a per-test save directory.
func NewSystem(t *testing.T, snapshot string) *rail.System {
	t.Helper()
	sys, err := rail.New(rail.Config{
		Snapshot: []byte(snapshot),
		SaveDir:  t.TempDir(),
		Clock:    timeutil.NewMockClock(FixtureStart),
	})
	if err != nil {
		t.Fatalf("Failed to build system: %v", err)
	}
	return sys
}

package monitor

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rail-mind/railmind/internal/db"
	"github.com/rail-mind/railmind/internal/testutil"
)

const monitorSnapshot = `{
	"stations": [
		{"id": "MILANO CENTRALE", "region": "lombardia", "lat": 45.486, "lon": 9.204, "max_trains_at_once": 1, "blocking_behavior": "hard"},
		{"id": "MILANO LAMBRATE", "region": "lombardia", "lat": 45.485, "lon": 9.238, "max_trains_at_once": 2}
	],
	"rails": [
		{"source": "MILANO CENTRALE", "target": "MILANO LAMBRATE", "capacity": 2, "travel_time_min": 4, "max_speed_kmh": 160}
	],
	"trains": [
		{"train_id": "REG_301", "train_type": "regional", "priority": 2, "route": [
			{"station_name": "MILANO CENTRALE", "station_order": 0}
		]},
		{"train_id": "REG_302", "train_type": "regional", "priority": 2, "route": [
			{"station_name": "MILANO CENTRALE", "station_order": 0}
		]}
	]
}`

func newTestDashboard(t *testing.T, withDB bool) *Dashboard {
	t.Helper()
	sys := testutil.NewSystem(t, monitorSnapshot)

	var database *db.DB
	if withDB {
		var err error
		database, err = db.NewDB(filepath.Join(t.TempDir(), "monitor_test.db"))
		if err != nil {
			t.Fatalf("Failed to open database: %v", err)
		}
		t.Cleanup(func() { database.Close() })
	}
	return NewDashboard(sys, database)
}

func TestDashboardIndex(t *testing.T) {
	d := newTestDashboard(t, false)

	req := httptest.NewRequest("GET", "/monitor", nil)
	w := httptest.NewRecorder()
	d.handleDashboard(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected HTML content type, got %s", ct)
	}
	if !strings.Contains(w.Body.String(), "/monitor/charts/delays") {
		t.Error("Expected dashboard to frame the delay chart")
	}
}

func TestDelayChart(t *testing.T) {
	d := newTestDashboard(t, false)
	d.sys.Tick()

	req := httptest.NewRequest("GET", "/monitor/charts/delays", nil)
	w := httptest.NewRecorder()
	d.handleDelayChart(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), "Fleet Delay Distribution") {
		t.Error("Expected rendered delay chart")
	}
}

func TestDelayBucketIndex(t *testing.T) {
	tests := []struct {
		delaySec int
		bucket   int
	}{
		{0, 0},
		{1, 1},
		{59, 1},
		{60, 2},
		{179, 2},
		{180, 3},
		{300, 4},
		{599, 4},
		{600, 5},
		{4000, 5},
	}
	for _, tt := range tests {
		if got := delayBucketIndex(tt.delaySec); got != tt.bucket {
			t.Errorf("delayBucketIndex(%d) = %d, want %d", tt.delaySec, got, tt.bucket)
		}
	}
}

func TestConflictChartRequiresDatabase(t *testing.T) {
	d := newTestDashboard(t, false)

	req := httptest.NewRequest("GET", "/monitor/charts/conflicts", nil)
	w := httptest.NewRecorder()
	d.handleConflictChart(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestConflictChartWithDatabase(t *testing.T) {
	d := newTestDashboard(t, true)

	req := httptest.NewRequest("GET", "/monitor/charts/conflicts", nil)
	w := httptest.NewRecorder()
	d.handleConflictChart(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Conflicts by Type") {
		t.Error("Expected rendered conflict chart")
	}
}

func TestTimelineChartRequiresDatabase(t *testing.T) {
	d := newTestDashboard(t, false)

	req := httptest.NewRequest("GET", "/monitor/charts/timeline", nil)
	w := httptest.NewRecorder()
	d.handleTimelineChart(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestTimelineChartWithHistory(t *testing.T) {
	d := newTestDashboard(t, true)

	// Record a couple of ticks through the persistence listener so the
	// timeline has rows to plot.
	recorder := db.NewRecorder(d.db, func() string { return "normal" })
	recorder.Start()
	d.sys.AddListener(recorder)
	d.sys.Tick()
	d.sys.Tick()
	recorder.Stop()

	req := httptest.NewRequest("GET", "/monitor/charts/timeline?limit=10", nil)
	w := httptest.NewRecorder()
	d.handleTimelineChart(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Run Timeline") {
		t.Error("Expected rendered timeline chart")
	}
}

func TestNetworkChart(t *testing.T) {
	d := newTestDashboard(t, false)
	d.sys.Tick()

	req := httptest.NewRequest("GET", "/monitor/charts/network", nil)
	w := httptest.NewRecorder()
	d.handleNetworkChart(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), "Station Occupancy") {
		t.Error("Expected rendered network chart")
	}
}

func TestAttachRoutes(t *testing.T) {
	d := newTestDashboard(t, false)
	mux := http.NewServeMux()
	d.AttachRoutes(mux)

	req := httptest.NewRequest("GET", "/monitor", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected dashboard route registered, got status %d", w.Code)
	}
}

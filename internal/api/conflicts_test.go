package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rail-mind/railmind/internal/db"
	"github.com/rail-mind/railmind/internal/rail"
)

func TestConflictsSaveAndLoad(t *testing.T) {
	server := newTestServer(t)
	server.sys.Tick()

	req := httptest.NewRequest("POST", "/api/conflicts/save", strings.NewReader(`{"filename": "snapshot_one.json"}`))
	w := httptest.NewRecorder()
	server.handleConflictsSave(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var saved rail.SaveResult
	decodeBody(t, w, &saved)
	if !saved.Success {
		t.Error("Expected save to report success")
	}
	if saved.Filename != "snapshot_one.json" {
		t.Errorf("Expected filename snapshot_one.json, got %s", saved.Filename)
	}
	if saved.Summary.Trains == 0 {
		t.Error("Expected trains in save summary")
	}

	req = httptest.NewRequest("GET", "/api/conflicts/load/snapshot_one.json", nil)
	w = httptest.NewRecorder()
	server.handleConflictsLoad(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var doc rail.ConflictDocument
	decodeBody(t, w, &doc)
	if doc.Metadata.TickNumber != 1 {
		t.Errorf("Expected document taken at tick 1, got %d", doc.Metadata.TickNumber)
	}
}

func TestConflictsSaveDefaultFilename(t *testing.T) {
	server := newTestServer(t)
	server.sys.Tick()

	req := httptest.NewRequest("POST", "/api/conflicts/save", nil)
	w := httptest.NewRecorder()
	server.handleConflictsSave(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var saved rail.SaveResult
	decodeBody(t, w, &saved)
	if !strings.HasPrefix(saved.Filename, "conflicts_") {
		t.Errorf("Expected generated filename, got %s", saved.Filename)
	}
}

func TestConflictsSaveSanitizesTraversal(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/conflicts/save", strings.NewReader(`{"filename": "../evil.json"}`))
	w := httptest.NewRecorder()
	server.handleConflictsSave(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	// Separators and leading dots are stripped, so the document lands
	// inside the save directory under a safe name.
	var saved rail.SaveResult
	decodeBody(t, w, &saved)
	if saved.Filename != "evil.json" {
		t.Errorf("Expected sanitized filename evil.json, got %s", saved.Filename)
	}
}

func TestConflictsLoadRejectsTraversal(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/conflicts/load/x", nil)
	req.URL.Path = "/api/conflicts/load/../evil.json"
	w := httptest.NewRecorder()
	server.handleConflictsLoad(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestConflictsLoadMissing(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/conflicts/load/no_such_file.json", nil)
	w := httptest.NewRecorder()
	server.handleConflictsLoad(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestConflictsList(t *testing.T) {
	server := newTestServer(t)
	server.sys.Tick()
	if _, err := server.sys.SaveConflicts("listed.json"); err != nil {
		t.Fatalf("Failed to save document: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/conflicts/list", nil)
	w := httptest.NewRecorder()
	server.handleConflictsList(w, req)

	var resp struct {
		Count           int                      `json:"count"`
		Files           []map[string]interface{} `json:"files"`
		OutputDirectory string                   `json:"output_directory"`
		RecentBatches   []map[string]interface{} `json:"recent_batches"`
	}
	decodeBody(t, w, &resp)
	if resp.Count != 1 {
		t.Errorf("Expected 1 saved file, got %d", resp.Count)
	}
	if resp.Files[0]["filename"] != "listed.json" {
		t.Errorf("Expected listed.json, got %v", resp.Files[0]["filename"])
	}
	if resp.OutputDirectory != server.sys.SaveDir() {
		t.Errorf("Expected output directory %s, got %s", server.sys.SaveDir(), resp.OutputDirectory)
	}
	if resp.RecentBatches != nil {
		t.Error("Expected no recent batches without a database")
	}
}

func TestConflictsListWithDatabase(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "list_test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	server := NewServer(newTestSystem(t), database)

	req := httptest.NewRequest("GET", "/api/conflicts/list", nil)
	w := httptest.NewRecorder()
	server.handleConflictsList(w, req)

	var resp map[string]interface{}
	decodeBody(t, w, &resp)
	if _, ok := resp["recent_batches"]; !ok {
		t.Error("Expected recent_batches key with a database attached")
	}
}

func TestConflictsLatest(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/conflicts/latest", nil)
	w := httptest.NewRecorder()
	server.handleConflictsLatest(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d with no saves, got %d", http.StatusNotFound, w.Code)
	}

	server.sys.Tick()
	if _, err := server.sys.SaveConflicts("latest_doc.json"); err != nil {
		t.Fatalf("Failed to save document: %v", err)
	}

	req = httptest.NewRequest("GET", "/api/conflicts/latest", nil)
	w = httptest.NewRecorder()
	server.handleConflictsLatest(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp struct {
		Filename string `json:"filename"`
		Metadata struct {
			TickNumber int `json:"tick_number"`
		} `json:"metadata"`
	}
	decodeBody(t, w, &resp)
	if resp.Filename != "latest_doc.json" {
		t.Errorf("Expected latest_doc.json, got %s", resp.Filename)
	}
	if resp.Metadata.TickNumber != 1 {
		t.Errorf("Expected tick 1 metadata, got %d", resp.Metadata.TickNumber)
	}
}

func TestAutoSaveDefaults(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/conflicts/auto-save", nil)
	w := httptest.NewRecorder()
	server.handleConflictsAutoSave(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp struct {
		AutoSave      bool `json:"auto_save"`
		IntervalTicks int  `json:"interval_ticks"`
	}
	decodeBody(t, w, &resp)
	if !resp.AutoSave {
		t.Error("Expected auto-save enabled by default")
	}
	if resp.IntervalTicks != defaultAutoSaveTicks {
		t.Errorf("Expected default interval %d, got %d", defaultAutoSaveTicks, resp.IntervalTicks)
	}
}

func TestAutoSaveInvalidInterval(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/conflicts/auto-save", strings.NewReader(`{"interval_ticks": 0}`))
	w := httptest.NewRecorder()
	server.handleConflictsAutoSave(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestAutoSaveWritesOnCadence(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/conflicts/auto-save", strings.NewReader(`{"enabled": true, "interval_ticks": 2}`))
	w := httptest.NewRecorder()
	server.handleConflictsAutoSave(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	server.sys.Tick()
	files, err := server.sys.ListSaved()
	if err != nil {
		t.Fatalf("Failed to list saves: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("Expected no save after tick 1, got %d files", len(files))
	}

	server.sys.Tick()
	files, err = server.sys.ListSaved()
	if err != nil {
		t.Fatalf("Failed to list saves: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("Expected one save after tick 2, got %d files", len(files))
	}
}

func TestAutoSaveDisabled(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/conflicts/auto-save", strings.NewReader(`{"enabled": false}`))
	w := httptest.NewRecorder()
	server.handleConflictsAutoSave(w, req)

	for i := 0; i < 6; i++ {
		server.sys.Tick()
	}
	files, err := server.sys.ListSaved()
	if err != nil {
		t.Fatalf("Failed to list saves: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("Expected no saves while disabled, got %d files", len(files))
	}
}

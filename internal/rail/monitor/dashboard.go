// Package monitor renders operator debug charts for a running
// simulation: the live delay picture, conflict history roll-ups, and
// the per-tick timeline recorded in the history database.
package monitor

import (
	"fmt"
	"net/http"

	"github.com/rail-mind/railmind/internal/db"
	"github.com/rail-mind/railmind/internal/rail"
)

// echartsAssetsHost pins the chart runtime the rendered pages load.
const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Dashboard serves the chart endpoints. The history database is
// optional; history-backed charts answer 503 without one.
type Dashboard struct {
	sys *rail.System
	db  *db.DB
}

func NewDashboard(sys *rail.System, database *db.DB) *Dashboard {
	return &Dashboard{sys: sys, db: database}
}

// AttachRoutes registers the monitor endpoints on mux.
func (d *Dashboard) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/monitor", d.handleDashboard)
	mux.HandleFunc("/monitor/charts/delays", d.handleDelayChart)
	mux.HandleFunc("/monitor/charts/conflicts", d.handleConflictChart)
	mux.HandleFunc("/monitor/charts/timeline", d.handleTimelineChart)
	mux.HandleFunc("/monitor/charts/network", d.handleNetworkChart)
}

// dashboardHTML frames the individual charts so a browser tab shows the
// whole picture at once.
const dashboardHTML = `<!DOCTYPE html>
<html>
<head>
<title>railmind monitor</title>
<style>
body { background: #111; color: #ddd; font-family: sans-serif; margin: 1em; }
iframe { border: 1px solid #333; background: #1a1a1a; width: 48%%; height: 640px; }
h1 { font-size: 1.2em; }
</style>
</head>
<body>
<h1>railmind monitor tick=%d</h1>
<iframe src="/monitor/charts/delays"></iframe>
<iframe src="/monitor/charts/network"></iframe>
<iframe src="/monitor/charts/conflicts"></iframe>
<iframe src="/monitor/charts/timeline"></iframe>
</body>
</html>
`

func (d *Dashboard) handleDashboard(w http.ResponseWriter, r *http.Request) {
	doc := fmt.Sprintf(dashboardHTML, d.sys.TickCount())

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(doc))
}

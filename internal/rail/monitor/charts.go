package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/rail-mind/railmind/internal/httputil"
)

// viridisRamp colors the visual-map dimension on scatter charts.
var viridisRamp = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// delayBucketLabels and delayBucketBounds split the fleet by delay.
// Bounds are upper limits in seconds, exclusive; the last bucket is
// open-ended.
var (
	delayBucketLabels = []string{"on time", "<1 min", "1-3 min", "3-5 min", "5-10 min", "10+ min"}
	delayBucketBounds = []int{1, 60, 180, 300, 600}
)

func delayBucketIndex(delaySec int) int {
	for i, bound := range delayBucketBounds {
		if delaySec < bound {
			return i
		}
	}
	return len(delayBucketLabels) - 1
}

// handleDelayChart renders the live fleet delay distribution.
func (d *Dashboard) handleDelayChart(w http.ResponseWriter, r *http.Request) {
	state := d.sys.State()

	counts := make([]int, len(delayBucketLabels))
	for _, t := range state.Trains {
		counts[delayBucketIndex(t.DelaySeconds)]++
	}
	y := make([]opts.BarData, 0, len(counts))
	for _, c := range counts {
		y = append(y, opts.BarData{Value: c})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Fleet Delays", Theme: "dark", Width: "100%", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Fleet Delay Distribution", Subtitle: fmt.Sprintf("tick=%d active=%d weather=%s", state.TickNumber, state.ActiveTrains, state.Weather)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(delayBucketLabels).
		AddSeries("trains", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render delay chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// sortedCountBars flattens a grouped count map into stable label and
// bar slices.
func sortedCountBars(counts map[string]int64) ([]string, []opts.BarData) {
	labels := make([]string, 0, len(counts))
	for k := range counts {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	bars := make([]opts.BarData, 0, len(labels))
	for _, k := range labels {
		bars = append(bars, opts.BarData{Value: counts[k]})
	}
	return labels, bars
}

// handleConflictChart renders lifetime conflict totals by type and by
// severity from the history database.
func (d *Dashboard) handleConflictChart(w http.ResponseWriter, r *http.Request) {
	if d.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "history database not configured")
		return
	}
	ctx := r.Context()

	byType, err := d.db.ConflictTypeCounts(ctx)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get conflict totals: %v", err))
		return
	}
	bySeverity, err := d.db.ConflictSeverityCounts(ctx)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get severity totals: %v", err))
		return
	}

	typeLabels, typeBars := sortedCountBars(byType)
	typeChart := charts.NewBar()
	typeChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Conflicts by Type", Subtitle: time.Now().UTC().Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	typeChart.SetXAxis(typeLabels).
		AddSeries("conflicts", typeBars,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	sevLabels, sevBars := sortedCountBars(bySeverity)
	sevChart := charts.NewBar()
	sevChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Conflicts by Severity"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	sevChart.SetXAxis(sevLabels).
		AddSeries("conflicts", sevBars,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(typeChart, sevChart)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTimelineChart renders the recorded per-tick history as line
// series. Query params:
//   - limit (optional; default 120, max 1000) recent ticks to plot
func (d *Dashboard) handleTimelineChart(w http.ResponseWriter, r *http.Request) {
	if d.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "history database not configured")
		return
	}

	limit := 120
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	records, err := d.db.RecentTickRecords(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get tick records: %v", err))
		return
	}

	// Records come back newest first; plot chronologically.
	ticks := make([]string, 0, len(records))
	meanDelay := make([]opts.LineData, 0, len(records))
	p85Delay := make([]opts.LineData, 0, len(records))
	delayed := make([]opts.LineData, 0, len(records))
	conflicts := make([]opts.LineData, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		ticks = append(ticks, strconv.Itoa(rec.Tick))
		meanDelay = append(meanDelay, opts.LineData{Value: rec.MeanDelaySec})
		p85Delay = append(p85Delay, opts.LineData{Value: rec.P85DelaySec})
		delayed = append(delayed, opts.LineData{Value: rec.DelayedTrains})
		conflicts = append(conflicts, opts.LineData{Value: rec.ConflictCount})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Run Timeline", Theme: "dark", Width: "100%", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Run Timeline", Subtitle: fmt.Sprintf("last %d recorded ticks", len(records))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(ticks).
		AddSeries("mean delay (s)", meanDelay).
		AddSeries("p85 delay (s)", p85Delay).
		AddSeries("delayed trains", delayed).
		AddSeries("conflicts", conflicts)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render timeline chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleNetworkChart renders stations on their coordinates, colored by
// current occupancy.
func (d *Dashboard) handleNetworkChart(w http.ResponseWriter, r *http.Request) {
	stations := d.sys.Stations()
	if len(stations) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no stations in snapshot")
		return
	}

	data := make([]opts.ScatterData, 0, len(stations))
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	maxOcc := 1
	for _, st := range stations {
		occ := len(st.CurrentTrains)
		if occ > maxOcc {
			maxOcc = occ
		}
		if st.Lon < minLon {
			minLon = st.Lon
		}
		if st.Lon > maxLon {
			maxLon = st.Lon
		}
		if st.Lat < minLat {
			minLat = st.Lat
		}
		if st.Lat > maxLat {
			maxLat = st.Lat
		}
		data = append(data, opts.ScatterData{Value: []interface{}{st.Lon, st.Lat, occ}, Name: st.ID})
	}

	// Pad so edge stations stay visible.
	lonPad := (maxLon - minLon) * 0.05
	latPad := (maxLat - minLat) * 0.05
	if lonPad == 0 {
		lonPad = 0.1
	}
	if latPad == 0 {
		latPad = 0.1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Network Occupancy", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Station Occupancy", Subtitle: fmt.Sprintf("stations=%d tick=%d", len(stations), d.sys.TickCount())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: minLon - lonPad, Max: maxLon + lonPad, Name: "Lon", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: minLat - latPad, Max: maxLat + latPad, Name: "Lat", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxOcc),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridisRamp},
		}),
	)
	scatter.AddSeries("stations", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render network chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

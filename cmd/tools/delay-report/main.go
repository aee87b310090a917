// Command delay-report renders the delay picture of a recorded run as
// PNG charts: the per-tick mean/p85/max delay timeline and the
// distribution of per-tick mean delays. It reads the tick history the
// railmind server writes to SQLite.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/rail-mind/railmind/internal/db"
)

func main() {
	var dbPath string
	var outDir string
	var tickLimit int

	flag.StringVar(&dbPath, "db", "railmind.db", "path to the history sqlite db")
	flag.StringVar(&outDir, "out", "delay_report", "output directory for charts")
	flag.IntVar(&tickLimit, "ticks", 1000, "how many recent ticks to include")
	flag.Parse()

	if _, err := os.Stat(dbPath); err != nil {
		log.Fatalf("database not found: %v", err)
	}
	database, err := db.OpenDB(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()

	records, err := database.RecentTickRecords(context.Background(), tickLimit)
	if err != nil {
		log.Fatalf("read tick records: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("No tick records in the database; run a scenario first.")
		return
	}

	// RecentTickRecords returns newest first; charts read left to right.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		log.Fatalf("create output directory: %v", err)
	}

	timelinePath := filepath.Join(outDir, "delay_timeline.png")
	if err := renderTimeline(records, timelinePath); err != nil {
		log.Fatalf("render timeline: %v", err)
	}
	histPath := filepath.Join(outDir, "delay_histogram.png")
	if err := renderHistogram(records, histPath); err != nil {
		log.Fatalf("render histogram: %v", err)
	}

	means := make([]float64, len(records))
	var peak float64
	var peakTick int
	for i, r := range records {
		means[i] = r.MeanDelaySec
		if r.MaxDelaySec > peak {
			peak = r.MaxDelaySec
			peakTick = r.Tick
		}
	}

	first, last := records[0], records[len(records)-1]
	fmt.Printf("Report over %d ticks (%d..%d, %s to %s)\n",
		len(records), first.Tick, last.Tick,
		first.SimTime.Format("2006-01-02 15:04"), last.SimTime.Format("15:04"))
	fmt.Printf("  mean delay across ticks: %.1fs\n", stat.Mean(means, nil))
	fmt.Printf("  worst single delay: %.0fs at tick %d\n", peak, peakTick)
	fmt.Printf("  charts: %s, %s\n", timelinePath, histPath)
}

// renderTimeline plots mean, p85 and max delay against tick number.
func renderTimeline(records []db.TickRecord, path string) error {
	p := plot.New()
	p.Title.Text = "Fleet Delay Over Run"
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Delay (s)"

	meanPts := make(plotter.XYs, 0, len(records))
	p85Pts := make(plotter.XYs, 0, len(records))
	maxPts := make(plotter.XYs, 0, len(records))
	for _, r := range records {
		x := float64(r.Tick)
		meanPts = append(meanPts, plotter.XY{X: x, Y: r.MeanDelaySec})
		p85Pts = append(p85Pts, plotter.XY{X: x, Y: r.P85DelaySec})
		maxPts = append(maxPts, plotter.XY{X: x, Y: r.MaxDelaySec})
	}

	series := []struct {
		label string
		pts   plotter.XYs
		color color.RGBA
	}{
		{"mean", meanPts, color.RGBA{R: 34, G: 197, B: 94, A: 255}},
		{"p85", p85Pts, color.RGBA{R: 234, G: 179, B: 8, A: 255}},
		{"max", maxPts, color.RGBA{R: 239, G: 68, B: 68, A: 255}},
	}
	for _, s := range series {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return err
		}
		line.Color = s.color
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(s.label, line)
	}
	p.Legend.Top = true
	p.Legend.Left = true

	return p.Save(12*vg.Inch, 5*vg.Inch, path)
}

// renderHistogram plots the distribution of per-tick mean delays.
func renderHistogram(records []db.TickRecord, path string) error {
	p := plot.New()
	p.Title.Text = "Mean Delay Distribution"
	p.X.Label.Text = "Mean delay per tick (s)"
	p.Y.Label.Text = "Ticks"

	vals := make(plotter.Values, 0, len(records))
	for _, r := range records {
		vals = append(vals, r.MeanDelaySec)
	}
	bins := 24
	if len(vals) < bins {
		bins = len(vals)
	}
	h, err := plotter.NewHist(vals, bins)
	if err != nil {
		return err
	}
	h.FillColor = color.RGBA{R: 59, G: 130, B: 246, A: 255}
	p.Add(h)

	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}

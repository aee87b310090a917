// Command railsim runs a scenario offline and writes the detection
// artifacts for it: a conflicts JSONL stream, a per-tick change log and
// a summary document. It is the batch counterpart of the railmind
// server, useful for regression runs and scenario tuning.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rail-mind/railmind/internal/rail"
	"github.com/rail-mind/railmind/internal/rail/detect"
	"github.com/rail-mind/railmind/internal/rail/network"
	"github.com/rail-mind/railmind/internal/rail/sim"
)

// tickLogEntry is one line of simulation_log.json: the engine change
// record plus how many conflicts the detector raised on it.
type tickLogEntry struct {
	sim.ChangeRecord
	ConflictsDetected int `json:"conflicts_detected"`
}

// runSummary is simulation_summary.json.
type runSummary struct {
	Simulation struct {
		Scenario string    `json:"scenario"`
		Ticks    int       `json:"ticks"`
		Seed     int64     `json:"random_seed"`
		Snapshot string    `json:"snapshot"`
		RunTime  time.Time `json:"run_time"`
	} `json:"simulation"`
	Network struct {
		Stations     int `json:"stations"`
		Rails        int `json:"rails"`
		TrainsLoaded int `json:"trains_loaded"`
	} `json:"network"`
	SimulationResults struct {
		TicksCompleted  int       `json:"ticks_completed"`
		ActiveTrains    int       `json:"active_trains"`
		CompletedTrains int       `json:"completed_trains"`
		CurrentTime     time.Time `json:"current_time"`
		Scenario        string    `json:"scenario"`
	} `json:"simulation_results"`
	DetectionResults   detect.Statistics `json:"detection_results"`
	ConflictOutputFile string            `json:"conflict_output_file"`
}

func main() {
	snapshotPath := flag.String("snapshot", "config/network.demo.json", "Path to a network snapshot JSON")
	scenario := flag.String("scenario", "normal", "Scenario preset (normal, rush_hour, disruption, stress_test)")
	ticks := flag.Int("ticks", 100, "Number of simulation ticks to run")
	seed := flag.Int64("seed", 0, "Random seed override (0 keeps the scenario default)")
	outDir := flag.String("out", "detection_output", "Directory for conflicts.jsonl, simulation_log.json and simulation_summary.json")
	quiet := flag.Bool("quiet", false, "Suppress per-tick progress and conflict lines")
	flag.Parse()

	if !sim.Scenario(*scenario).Valid() {
		fmt.Fprintf(os.Stderr, "unknown scenario %q (choose one of %v)\n", *scenario, sim.Scenarios)
		os.Exit(1)
	}
	if *ticks <= 0 {
		fmt.Fprintf(os.Stderr, "ticks must be positive, got %d\n", *ticks)
		os.Exit(1)
	}

	snapshot, err := os.ReadFile(*snapshotPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read snapshot: %v\n", err)
		os.Exit(1)
	}
	net, err := network.ParseSnapshot(snapshot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse snapshot: %v\n", err)
		os.Exit(1)
	}

	simCfg := sim.ConfigForScenario(sim.Scenario(*scenario))
	if *seed != 0 {
		simCfg.Seed = *seed
	}
	simCfg.MaxTicks = *ticks

	sys, err := rail.New(rail.Config{Snapshot: snapshot, Sim: simCfg, SaveDir: *outDir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "assemble system: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "create output directory %s: %v\n", *outDir, err)
		os.Exit(1)
	}
	conflictPath := filepath.Join(*outDir, "conflicts.jsonl")
	cf, err := os.Create(conflictPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create conflict log %s: %v\n", conflictPath, err)
		os.Exit(1)
	}
	defer cf.Close()
	sys.AddConflictEmitter(detect.NewJSONLEmitter(cf))
	if !*quiet {
		sys.AddConflictEmitter(&detect.ConsoleEmitter{})
	}

	report, err := sys.StartSimulation(rail.StartOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start simulation: %v\n", err)
		os.Exit(1)
	}
	if !*quiet {
		fmt.Printf("[sim] scenario %s: %d stations, %d rails, %d trains in roster\n",
			report.Scenario, len(net.Stations), len(net.Rails), len(net.Trains))
		fmt.Printf("[sim] seed %d, %d ticks at %ds per tick, %d trains activated\n",
			report.Seed, *ticks, simCfg.TickIntervalSeconds, report.ActivatedTrains)
	}

	entries := make([]tickLogEntry, 0, *ticks)
	completed := 0
	for i := 0; i < *ticks; i++ {
		rep := sys.Tick()
		for _, a := range rep.Change.Arrivals {
			if a.Completed {
				completed++
			}
		}
		entries = append(entries, tickLogEntry{
			ChangeRecord:      *rep.Change,
			ConflictsDetected: len(rep.Conflicts),
		})
		if !*quiet {
			fmt.Printf("[tick %3d] active=%2d arrivals=%d delays=%d conflicts=%d\n",
				rep.Change.Tick, rep.Change.ActiveTrains, len(rep.Change.Arrivals),
				len(rep.Change.DelaysAdded), len(rep.Conflicts))
		}
	}

	state := sys.State()
	stats := sys.DetectionStats()

	var summary runSummary
	summary.Simulation.Scenario = *scenario
	summary.Simulation.Ticks = *ticks
	summary.Simulation.Seed = simCfg.Seed
	summary.Simulation.Snapshot = *snapshotPath
	summary.Simulation.RunTime = time.Now().UTC()
	summary.Network.Stations = len(net.Stations)
	summary.Network.Rails = len(net.Rails)
	summary.Network.TrainsLoaded = len(net.Trains)
	summary.SimulationResults.TicksCompleted = state.TickNumber
	summary.SimulationResults.ActiveTrains = state.ActiveTrains
	summary.SimulationResults.CompletedTrains = completed
	summary.SimulationResults.CurrentTime = state.SimulationTime
	summary.SimulationResults.Scenario = *scenario
	summary.DetectionResults = stats
	summary.ConflictOutputFile = conflictPath

	if err := writeJSON(filepath.Join(*outDir, "simulation_log.json"), entries); err != nil {
		fmt.Fprintf(os.Stderr, "write simulation log: %v\n", err)
		os.Exit(1)
	}
	summaryPath := filepath.Join(*outDir, "simulation_summary.json")
	if err := writeJSON(summaryPath, summary); err != nil {
		fmt.Fprintf(os.Stderr, "write summary: %v\n", err)
		os.Exit(1)
	}

	if !*quiet {
		fmt.Printf("\n[done] %d ticks, %d trains active, %d runs completed\n",
			state.TickNumber, state.ActiveTrains, completed)
		fmt.Printf("[done] %d conflicts detected\n", stats.Total)
		for ctype, count := range stats.ByType {
			fmt.Printf("  %-22s %d\n", ctype, count)
		}
		for sev, count := range stats.BySeverity {
			fmt.Printf("  severity %-13s %d\n", sev, count)
		}
		fmt.Printf("[done] conflict log: %s\n", conflictPath)
		fmt.Printf("[done] summary: %s\n", summaryPath)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

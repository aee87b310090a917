package main

import (
	"fmt"
	"os"

	"github.com/rail-mind/railmind/internal/config"
	"github.com/rail-mind/railmind/internal/rail"
	"github.com/rail-mind/railmind/internal/rail/predict"
	"github.com/rail-mind/railmind/internal/rail/sim"
)

// options bundles the parsed flag values so the wiring below main can be
// tested without touching the global flag set.
type options struct {
	listen       string
	dbPath       string
	snapshotPath string
	scenario     string
	seed         int64
	tickInterval int
	realtime     bool
	tuningPath   string
	modelPath    string
	saveDir      string
}

func optionsFromFlags() options {
	return options{
		listen:       *listen,
		dbPath:       *dbFile,
		snapshotPath: *snapshotPath,
		scenario:     *scenario,
		seed:         *seed,
		tickInterval: *tickInterval,
		realtime:     *realtime,
		tuningPath:   *tuningPath,
		modelPath:    *modelPath,
		saveDir:      *saveDir,
	}
}

func (o options) validate() error {
	if o.listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if !sim.Scenario(o.scenario).Valid() {
		return fmt.Errorf("unknown scenario %q (known: %v)", o.scenario, sim.Scenarios)
	}
	if o.seed < 0 {
		return fmt.Errorf("seed must be non-negative, got %d", o.seed)
	}
	if o.tickInterval < 0 {
		return fmt.Errorf("tick-interval must be non-negative, got %d", o.tickInterval)
	}
	return nil
}

// tuning loads the tuning file, or returns an all-defaults config when no
// file was named.
func (o options) tuning() (*config.TuningConfig, error) {
	if o.tuningPath == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(o.tuningPath)
}

// snapshotBytes returns the network snapshot to boot from: the file named
// by -snapshot, or the embedded Lombardia demo network.
func (o options) snapshotBytes() ([]byte, error) {
	if o.snapshotPath == "" {
		return demoSnapshot, nil
	}
	raw, err := os.ReadFile(o.snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", o.snapshotPath, err)
	}
	return raw, nil
}

// railConfig assembles the system config: scenario preset, tuning file
// overlay, then the explicit flag overrides on top.
func (o options) railConfig(tuning *config.TuningConfig) (rail.Config, error) {
	snapshot, err := o.snapshotBytes()
	if err != nil {
		return rail.Config{}, err
	}

	simCfg := tuning.ApplySim(sim.ConfigForScenario(sim.Scenario(o.scenario)))
	if o.seed != 0 {
		simCfg.Seed = o.seed
	}
	if o.tickInterval > 0 {
		simCfg.TickIntervalSeconds = o.tickInterval
	}
	// Realtime with no pace configured would spin through the whole run
	// in well under a second; one wall-clock second per tick keeps it
	// observable.
	if o.realtime && simCfg.TickRealSeconds <= 0 {
		simCfg.TickRealSeconds = 1
	}

	return rail.Config{
		Snapshot:  snapshot,
		Sim:       simCfg,
		Predict:   tuning.ApplyPredict(predict.DefaultConfig()),
		ModelPath: o.modelPath,
		SaveDir:   o.saveDir,
	}, nil
}

// Command railmind runs the rail conflict management server: a seeded
// network simulation with per-tick conflict detection and risk
// prediction, exposed over a JSON API, a websocket feed and an echarts
// dashboard, with run history in SQLite.
package main

import (
	"context"
	_ "embed"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/rail-mind/railmind/internal/db"
	"github.com/rail-mind/railmind/internal/rail"
	"github.com/rail-mind/railmind/internal/version"
)

var (
	// demoSnapshot is the embedded Lombardia network the server boots
	// from when no -snapshot file is given.
	//go:embed config/network.demo.json
	demoSnapshot []byte

	listen       = flag.String("listen", ":8080", "HTTP listen address")
	dbFile       = flag.String("db", "railmind.db", "Path to the SQLite history database (empty disables history)")
	snapshotPath = flag.String("snapshot", "", "Path to a network snapshot JSON (default: embedded demo network)")
	scenario     = flag.String("scenario", "normal", "Scenario preset (normal, rush_hour, disruption, stress_test)")
	seed         = flag.Int64("seed", 0, "Random seed override (0 keeps the scenario default)")
	tickInterval = flag.Int("tick-interval", 0, "Simulated seconds per tick (0 keeps the scenario default)")
	realtime     = flag.Bool("realtime", false, "Start the scenario and advance it continuously")
	tuningPath   = flag.String("tuning", "", "Path to a tuning config JSON (see config/tuning.defaults.json)")
	modelPath    = flag.String("model", "", "Path to a trained classifier artifact")
	saveDir      = flag.String("save-dir", rail.DefaultSaveDir, "Directory for saved conflict documents")
)

func main() {
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		runCommand(args, *dbFile)
		return
	}

	opts := optionsFromFlags()
	if err := opts.validate(); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	tuning, err := opts.tuning()
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}

	railCfg, err := opts.railConfig(tuning)
	if err != nil {
		log.Fatalf("failed to assemble configuration: %v", err)
	}

	sys, err := rail.New(railCfg)
	if err != nil {
		log.Fatalf("failed to build system: %v", err)
	}

	var database *db.DB
	if opts.dbPath != "" {
		database, err = db.NewDB(opts.dbPath)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer database.Close()
	}

	if database != nil {
		recorder := db.NewRecorder(database, func() string {
			return string(sys.SimConfig().Scenario)
		})
		recorder.Start()
		defer recorder.Stop()
		sys.AddListener(recorder)
	}

	log.Printf("railmind %s starting: scenario=%s stations=%d history=%v",
		version.Version, opts.scenario, len(sys.Stations()), database != nil)

	// Wait group for the HTTP server and the optional realtime loop
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.realtime {
		report, err := sys.StartSimulation(rail.StartOptions{})
		if err != nil {
			log.Fatalf("failed to start simulation: %v", err)
		}
		log.Printf("realtime run started: scenario=%s seed=%d activated=%d",
			report.Scenario, report.Seed, report.ActivatedTrains)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sys.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("realtime loop stopped: %v", err)
			}
			log.Print("realtime loop terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		serveHTTP(ctx, opts.listen, buildHandler(sys, database))
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

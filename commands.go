package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"slices"

	"github.com/rail-mind/railmind/internal/db"
	"github.com/rail-mind/railmind/internal/rail/judge"
	"github.com/rail-mind/railmind/internal/rail/llm"
	"github.com/rail-mind/railmind/internal/rail/network"
	"github.com/rail-mind/railmind/internal/rail/patch"
	"github.com/rail-mind/railmind/internal/rail/resolve"
	"github.com/rail-mind/railmind/internal/version"
)

// Subcommand verbs the binary accepts before falling back to server mode.
var allowedCommands = []string{
	"migrate", // schema migration verbs (up, down, status, version, force, baseline)
	"judge",   // rank resolution proposals for a conflict
	"patch",   // apply a ranked resolution to a network snapshot
	"version", // print build information
	"help",    // print usage
}

// runCommand dispatches a subcommand. It never returns to server mode;
// unknown verbs print usage and exit non-zero.
func runCommand(args []string, dbPath string) {
	if !slices.Contains(allowedCommands, args[0]) {
		fmt.Printf("Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "migrate":
		db.RunMigrateCommand(args[1:], dbPath)

	case "judge":
		runJudgeCommand(args[1:])

	case "patch":
		runPatchCommand(args[1:])

	case "version":
		fmt.Printf("railmind %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)

	case "help":
		printUsage()
	}
}

// runJudgeCommand ranks a proposal set against a conflict with the LLM
// judge and writes the ranked array, top entry first. The output file
// feeds straight into the patch command.
func runJudgeCommand(args []string) {
	if len(args) < 2 {
		log.Fatal("Usage: railmind judge <conflict.json> <proposals.json> [output.json]")
	}
	outPath := "ranked_resolutions.json"
	if len(args) >= 3 {
		outPath = args[2]
	}

	var conflict judge.ConflictContext
	if err := readJSONFile(args[0], &conflict); err != nil {
		log.Fatalf("Failed to load conflict context: %v", err)
	}
	var proposals resolve.ProposalSet
	if err := readJSONFile(args[1], &proposals); err != nil {
		log.Fatalf("Failed to load proposals: %v", err)
	}

	var normalizer resolve.Normalizer
	resolutions := normalizer.NormalizeSet(proposals)
	if len(resolutions) == 0 {
		log.Fatal("Proposal file holds no proposals (expected verbose and/or optimizer arrays)")
	}
	fmt.Printf("Normalized %d proposals (%d verbose, %d optimizer)\n",
		len(resolutions), len(proposals.Verbose), len(proposals.Optimizer))

	client := llm.New(llm.ConfigFromEnv(), nil)
	if !client.Configured() {
		log.Fatal("No LLM credentials; set RAILMIND_LLM_API_KEY")
	}

	j := judge.New(client, judge.Config{})
	result, err := j.Rank(context.Background(), conflict, resolutions)
	if err != nil {
		log.Fatalf("Judging failed: %v", err)
	}

	fmt.Printf("Session %s judged by %s\n\n", result.SessionID, result.Model)
	for _, r := range result.Rankings {
		fmt.Printf("#%d %s (%s)\n", r.Rank, r.Resolution.StrategyName, r.Resolution.SourceAgent)
		fmt.Printf("   overall %.0f/100  safety %.1f  efficiency %.1f  feasibility %.1f  robustness %.1f\n",
			r.OverallScore, r.SafetyRating, r.EfficiencyRating, r.FeasibilityRating, r.RobustnessRating)
		fmt.Printf("   %s\n\n", r.Justification)
	}

	if err := writeJSONFile(outPath, result.Rankings); err != nil {
		log.Fatalf("Failed to write rankings: %v", err)
	}
	fmt.Printf("Rankings saved to %s\n", outPath)
}

// runPatchCommand applies the top entry of a judge output file to a
// network snapshot and writes the patched model. Without LLM credentials
// the action translation falls back to the keyword rules.
func runPatchCommand(args []string) {
	if len(args) < 2 {
		log.Fatal("Usage: railmind patch <resolution.json> <snapshot.json> [output.json]")
	}
	outPath := "updated_context.json"
	if len(args) >= 3 {
		outPath = args[2]
	}

	res, err := patch.LoadResolution(args[0])
	if err != nil {
		log.Fatalf("Failed to load resolution: %v", err)
	}
	fmt.Printf("Applying %s (rank %d, score %.0f): %s\n",
		res.ResolutionID, res.Rank, res.OverallScore, res.Resolution.StrategyName)

	net, err := network.LoadSnapshot(args[1])
	if err != nil {
		log.Fatalf("Failed to load snapshot: %v", err)
	}
	fmt.Printf("Loaded network: %d stations, %d rails, %d trains\n",
		len(net.Stations), len(net.Rails), len(net.Trains))

	var interp *patch.Interpreter
	cfg := llm.ConfigFromEnv()
	// Structured instruction JSON runs longer than a rankings array.
	if cfg.MaxTokens < 3072 {
		cfg.MaxTokens = 3072
	}
	client := llm.New(cfg, nil)
	if client.Configured() {
		interp = patch.NewInterpreter(client)
	} else {
		fmt.Println("No LLM credentials; translating actions with keyword rules")
	}

	patcher := patch.New(interp)
	patched, ins, err := patcher.Apply(context.Background(), res, net)
	if err != nil {
		log.Fatalf("Patch failed: %v", err)
	}
	fmt.Printf("Applied %d rail, %d train, %d global updates\n",
		len(ins.RailUpdates), len(ins.TrainUpdates), len(ins.GlobalUpdates))

	data, err := patched.Marshal()
	if err != nil {
		log.Fatalf("Failed to encode patched network: %v", err)
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		log.Fatalf("Failed to write patched network: %v", err)
	}
	fmt.Printf("Updated context saved to %s\n", outPath)
}

func readJSONFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func printUsage() {
	fmt.Println("Usage: railmind [flags] [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  migrate <action>                           Manage the history database schema (up, down, status, version, force, baseline)")
	fmt.Println("  judge <conflict> <proposals> [out]         Rank resolution proposals for a conflict with the LLM judge")
	fmt.Println("  patch <resolution> <snapshot> [out]        Apply a ranked resolution to a network snapshot")
	fmt.Println("  version                                    Print build information")
	fmt.Println("  help                                       Print this help")
	fmt.Println()
	fmt.Println("With no command, railmind starts the simulation server. Flags:")
	fmt.Println()
	flag.PrintDefaults()
}

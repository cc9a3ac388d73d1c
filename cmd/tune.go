package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lichenbiostat/GraphProt/internal/param"
	"github.com/lichenbiostat/GraphProt/internal/store"
	"github.com/lichenbiostat/GraphProt/internal/tune"
)

var (
	paramsPath     string
	dataPath       string
	oracleCmd      string
	outPath        string
	configPath     string
	maxRounds      int
	minImprovement float64
	floorScore     float64
	noCache        bool
	externalMode   bool
	externalParams []string
	constraints    []string
	workers        int
	workDir        string
	tuneDataDir    string
	noCheckpoint   bool
	jobID          string
)

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Run a hyperparameter line search",
	Long: `Runs the coordinate-ascent line search over the declared parameter
space, invoking the cross-validation oracle for each candidate, and
writes the winning parameter set on completion.`,
	RunE: runTune,
}

func init() {
	tuneCmd.Flags().StringVar(&paramsPath, "params", "", "Parameter definition file (required)")
	tuneCmd.Flags().StringVar(&dataPath, "data", "", "Training data file (required)")
	tuneCmd.Flags().StringVar(&oracleCmd, "oracle", "", "Cross-validation command (required)")
	tuneCmd.Flags().StringVar(&outPath, "out", "param.best", "Output file for the winning parameters")
	tuneCmd.Flags().StringVar(&configPath, "config", "", "Optional YAML config file (flags override)")
	tuneCmd.Flags().IntVar(&maxRounds, "rounds", 5, "Maximum number of sweeps")
	tuneCmd.Flags().Float64Var(&minImprovement, "min-improvement", 0.01, "Round-over-round improvement below which the search stops")
	tuneCmd.Flags().Float64Var(&floorScore, "score-floor", 0, "Sentinel score lower than anything the oracle can report")
	tuneCmd.Flags().BoolVar(&noCache, "no-cache", false, "Re-evaluate every vector instead of reusing cached scores")
	tuneCmd.Flags().BoolVar(&externalMode, "external", false, "Delegate selected parameters to the oracle's internal optimizer")
	tuneCmd.Flags().StringSliceVar(&externalParams, "external-param", nil, "Parameter delegated to the oracle (repeatable, requires --external)")
	tuneCmd.Flags().StringSliceVar(&constraints, "constraint", nil, "Validity rule in lesser<=greater form (repeatable)")
	tuneCmd.Flags().IntVar(&workers, "workers", 1, "Concurrent candidate evaluations per parameter")
	tuneCmd.Flags().StringVar(&workDir, "work-dir", "", "Base directory for scratch workspaces (default: system temp)")
	tuneCmd.Flags().StringVar(&tuneDataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
	tuneCmd.Flags().BoolVar(&noCheckpoint, "no-checkpoint", false, "Disable per-sweep checkpointing")
	tuneCmd.Flags().StringVar(&jobID, "job-id", "", "Job ID for checkpoint/trace storage (default: random)")

	tuneCmd.MarkFlagRequired("params")
	tuneCmd.MarkFlagRequired("data")
	tuneCmd.MarkFlagRequired("oracle")
	rootCmd.AddCommand(tuneCmd)
}

// fileConfig mirrors the tunable subset of TuneConfig for YAML input.
type fileConfig struct {
	MaxRounds      int      `yaml:"maxRounds"`
	MinImprovement float64  `yaml:"minImprovement"`
	FloorScore     float64  `yaml:"floorScore"`
	NoCache        bool     `yaml:"noCache"`
	ExternalMode   bool     `yaml:"externalMode"`
	ExternalParams []string `yaml:"externalParams"`
	Constraints    []string `yaml:"constraints"`
	Workers        int      `yaml:"workers"`
	WorkDir        string   `yaml:"workDir"`
}

// buildTuneConfig merges the YAML config file (if any) with flags.
// Flags that were set explicitly win.
func buildTuneConfig(cmd *cobra.Command) (store.TuneConfig, error) {
	cfg := store.TuneConfig{
		ParamsPath:     paramsPath,
		DataPath:       dataPath,
		OracleCmd:      oracleCmd,
		OutPath:        outPath,
		MaxRounds:      maxRounds,
		MinImprovement: minImprovement,
		FloorScore:     floorScore,
		Cache:          !noCache,
		ExternalMode:   externalMode,
		ExternalParams: externalParams,
		Constraints:    constraints,
		Workers:        workers,
		WorkDir:        workDir,
	}

	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if !cmd.Flags().Changed("rounds") && fc.MaxRounds != 0 {
		cfg.MaxRounds = fc.MaxRounds
	}
	if !cmd.Flags().Changed("min-improvement") && fc.MinImprovement != 0 {
		cfg.MinImprovement = fc.MinImprovement
	}
	if !cmd.Flags().Changed("score-floor") {
		cfg.FloorScore = fc.FloorScore
	}
	if !cmd.Flags().Changed("no-cache") && fc.NoCache {
		cfg.Cache = false
	}
	if !cmd.Flags().Changed("external") && fc.ExternalMode {
		cfg.ExternalMode = true
	}
	if !cmd.Flags().Changed("external-param") && len(fc.ExternalParams) > 0 {
		cfg.ExternalParams = fc.ExternalParams
	}
	if !cmd.Flags().Changed("constraint") && len(fc.Constraints) > 0 {
		cfg.Constraints = fc.Constraints
	}
	if !cmd.Flags().Changed("workers") && fc.Workers != 0 {
		cfg.Workers = fc.Workers
	}
	if !cmd.Flags().Changed("work-dir") && fc.WorkDir != "" {
		cfg.WorkDir = fc.WorkDir
	}
	return cfg, nil
}

func runTune(cmd *cobra.Command, args []string) error {
	cfg, err := buildTuneConfig(cmd)
	if err != nil {
		return err
	}
	cfg, err = tune.Normalize(cfg)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.DataPath); err != nil {
		return fmt.Errorf("training data not accessible: %w", err)
	}

	// A termination signal cancels the in-flight evaluation and
	// releases its workspace; no partial parameter file is written.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := jobID
	if id == "" {
		id = uuid.New().String()
	}

	var checkpointStore store.Store
	traceDir := ""
	if !noCheckpoint {
		fsStore, err := store.NewFSStore(tuneDataDir)
		if err != nil {
			return fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		checkpointStore = fsStore
		traceDir = tuneDataDir
	}

	slog.Info("Starting line search",
		"job_id", id,
		"params", cfg.ParamsPath,
		"data", cfg.DataPath,
		"oracle", cfg.OracleCmd,
		"rounds", cfg.MaxRounds,
		"workers", cfg.Workers,
		"cache", cfg.Cache,
		"external", cfg.ExternalMode,
	)

	start := time.Now()
	result, err := tune.Execute(ctx, id, cfg, checkpointStore, traceDir, nil, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("search interrupted, no parameters written")
		}
		return err
	}
	elapsed := time.Since(start)

	if err := param.WriteVectorFile(cfg.OutPath, result.Final); err != nil {
		return err
	}

	slog.Info("Line search complete",
		"elapsed", elapsed,
		"rounds", result.Rounds,
		"best_score", result.BestScore,
		"evaluations", result.Evaluations,
		"cache_hits", result.CacheHits,
	)

	fmt.Printf("Wrote %s (correlation %.4f after %d round(s), %d evaluation(s), %d cache hit(s))\n",
		cfg.OutPath, result.BestScore, result.Rounds, result.Evaluations, result.CacheHits)

	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lichenbiostat/GraphProt/internal/param"
	"github.com/lichenbiostat/GraphProt/internal/store"
	"github.com/lichenbiostat/GraphProt/internal/tune"
)

var (
	resumeDataDir string
	resumeOutPath string
)

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume an interrupted line search from its last checkpoint",
	Long: `Restores the search state saved at the last completed sweep and
continues the line search from there. Cached scores recorded in the
checkpoint are re-seeded, so already-evaluated vectors are not
re-scored.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
	resumeCmd.Flags().StringVar(&resumeOutPath, "out", "", "Output file (default: the original run's output path)")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	id := args[0]

	checkpointStore, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	checkpoint, err := checkpointStore.LoadCheckpoint(id)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	cfg := checkpoint.Config
	out := cfg.OutPath
	if resumeOutPath != "" {
		out = resumeOutPath
	}
	if out == "" {
		out = "param.best"
	}

	if checkpoint.Finished {
		slog.Info("Checkpoint already finished, writing its result", "job_id", id)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Resuming line search",
		"job_id", id,
		"round", checkpoint.Round,
		"best_score", checkpoint.BestScore,
	)

	result, err := tune.Execute(ctx, id, cfg, checkpointStore, resumeDataDir, checkpoint, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("search interrupted, no parameters written")
		}
		return err
	}

	if err := param.WriteVectorFile(out, result.Final); err != nil {
		return err
	}

	fmt.Printf("Wrote %s (correlation %.4f after %d round(s), %d new evaluation(s))\n",
		out, result.BestScore, result.Rounds, result.Evaluations)

	return nil
}

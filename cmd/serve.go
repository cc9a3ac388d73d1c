package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lichenbiostat/GraphProt/internal/server"
	"github.com/lichenbiostat/GraphProt/internal/store"
)

var (
	serveAddr         string
	serveDataDir      string
	serveNoCheckpoint bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tuning job server",
	Long: `Starts an HTTP server that runs line searches as background jobs.
Jobs are created via POST /api/v1/jobs and report progress over SSE.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
	serveCmd.Flags().BoolVar(&serveNoCheckpoint, "no-checkpoint", false, "Disable per-sweep checkpointing for server jobs")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var checkpointStore store.Store
	traceDir := ""
	if !serveNoCheckpoint {
		fsStore, err := store.NewFSStore(serveDataDir)
		if err != nil {
			return fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		checkpointStore = fsStore
		traceDir = serveDataDir
	}

	srv := server.NewServer(serveAddr, checkpointStore, traceDir)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

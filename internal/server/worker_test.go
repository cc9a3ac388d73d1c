package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunJob_Success(t *testing.T) {
	tmpDir := t.TempDir()

	jm := NewJobManager()
	config := TuneConfig{
		ParamsPath:     writeParamDefs(t, tmpDir, "R 1 1 2\nD 4 4 6\n"),
		DataPath:       writeDataFile(t, tmpDir),
		OracleCmd:      writeOracleScript(t, tmpDir, `echo 0.5 > "$3"`),
		MaxRounds:      5,
		MinImprovement: 0.01,
		Cache:          true,
		Workers:        1,
		WorkDir:        tmpDir,
	}

	job := jm.CreateJob(config)

	ctx := context.Background()
	err := runJob(ctx, jm, nil, "", job.ID)

	if err != nil {
		t.Errorf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}

	if updated.BestScore != 0.5 {
		t.Errorf("Expected best score 0.5, got %f", updated.BestScore)
	}

	if len(updated.Final) != 2 {
		t.Errorf("Expected final vector with 2 parameters, got %d", len(updated.Final))
	}

	if updated.Evaluations == 0 {
		t.Error("Evaluations should be counted")
	}

	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}
}

func TestRunJob_InvalidParamsPath(t *testing.T) {
	tmpDir := t.TempDir()

	jm := NewJobManager()
	config := TuneConfig{
		ParamsPath:     "/nonexistent/params.def",
		DataPath:       writeDataFile(t, tmpDir),
		OracleCmd:      writeOracleScript(t, tmpDir, `echo 0.5 > "$3"`),
		MaxRounds:      5,
		MinImprovement: 0.01,
		Workers:        1,
	}

	job := jm.CreateJob(config)

	ctx := context.Background()
	err := runJob(ctx, jm, nil, "", job.ID)

	if err == nil {
		t.Error("runJob should fail with invalid parameter definition path")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}

	if updated.Error == "" {
		t.Error("Error message should be set")
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	tmpDir := t.TempDir()

	jm := NewJobManager()
	config := TuneConfig{
		ParamsPath:     writeParamDefs(t, tmpDir, "R 1 1 2 3 4\n"),
		DataPath:       writeDataFile(t, tmpDir),
		OracleCmd:      writeOracleScript(t, tmpDir, `sleep 30; echo 0.5 > "$3"`),
		MaxRounds:      5,
		MinImprovement: 0.01,
		Workers:        1,
		WorkDir:        tmpDir,
	}

	job := jm.CreateJob(config)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- runJob(ctx, jm, nil, "", job.ID)
	}()

	// Give it time to start
	time.Sleep(50 * time.Millisecond)

	// Cancel the job
	cancel()

	// Wait for completion
	err := <-done

	if err == nil {
		t.Error("runJob should return error when cancelled")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
}

// writeParamDefs writes a parameter definition file and returns its path.
func writeParamDefs(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "params.def")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write parameter definitions: %v", err)
	}
	return path
}

// writeDataFile writes a small training data file and returns its path.
func writeDataFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "train.fa")
	if err := os.WriteFile(path, []byte(">s1\nACGU\n"), 0644); err != nil {
		t.Fatalf("Failed to write data file: %v", err)
	}
	return path
}

// writeOracleScript writes a shell script that stands in for the
// cross-validation oracle. The script receives the parameter file, the
// data file and the output path as positional arguments.
func writeOracleScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "oracle.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("Failed to write oracle script: %v", err)
	}
	return path
}

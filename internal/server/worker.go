package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lichenbiostat/GraphProt/internal/search"
	"github.com/lichenbiostat/GraphProt/internal/store"
	"github.com/lichenbiostat/GraphProt/internal/tune"
)

// runJob executes a tuning search in the background.
// If checkpointStore is not nil, the engine checkpoints after every
// completed sweep and appends each evaluation to the job's trace.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, traceDir, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	slog.Info("Starting job",
		"job_id", jobID,
		"params", job.Config.ParamsPath,
		"data", job.Config.DataPath,
		"oracle", job.Config.OracleCmd,
	)

	start := time.Now()

	// Throttled progress broadcasting: evaluations can be seconds to
	// minutes apart, so every event is worth forwarding, but the job
	// record is updated first so SSE subscribers and status polls agree.
	observer := func(ev search.Event) {
		var snapshot ProgressEvent
		jm.UpdateJob(jobID, func(j *Job) {
			j.Round = ev.Round
			if ev.Param != "" {
				j.Param = ev.Param
			}
			if ev.Kind == search.EventEvaluation {
				if ev.CacheHit {
					j.CacheHits++
				} else {
					j.Evaluations++
				}
				j.BestScore = ev.BestScore
			}
			snapshot = ProgressEvent{
				JobID:       jobID,
				State:       j.State,
				Round:       j.Round,
				Param:       j.Param,
				BestScore:   j.BestScore,
				Evaluations: j.Evaluations,
				CacheHits:   j.CacheHits,
				Timestamp:   time.Now(),
			}
		})
		jm.broadcaster.Broadcast(snapshot)
	}

	result, err := tune.Execute(ctx, jobID, job.Config, checkpointStore, traceDir, nil, observer)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			markJobCancelled(jm, jobID)
			return err
		}
		markJobFailed(jm, jobID, err)
		return err
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Round = result.Rounds
		j.Param = ""
		j.BestScore = result.BestScore
		j.Evaluations = result.Evaluations
		j.CacheHits = result.CacheHits
		j.Final = result.Final
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", endTime.Sub(start),
		"rounds", result.Rounds,
		"best_score", result.BestScore,
		"evaluations", result.Evaluations,
		"cache_hits", result.CacheHits,
	)

	// Broadcast final completion event
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:       jobID,
		State:       StateCompleted,
		Round:       result.Rounds,
		BestScore:   result.BestScore,
		Evaluations: result.Evaluations,
		CacheHits:   result.CacheHits,
		Timestamp:   time.Now(),
	})

	return nil
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/internal/opt"
	"github.com/descentlab/descent/internal/store"
)

// broadcastInterval throttles progress events so a fast run does not flood
// SSE clients. Trace entries are written for every iteration regardless.
const broadcastInterval = 250 * time.Millisecond

// runJob executes a job to completion. It persists run metadata and the
// cost trace through st, streams progress through the manager's
// broadcaster and reacts to cancellation via ctx.
func runJob(ctx context.Context, jm *JobManager, st *store.FSStore, jobID string) error {
	defer jm.clearCancel(jobID)

	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	}); err != nil {
		return err
	}

	slog.Info("starting job", "jobID", jobID, "function", job.Config.Function, "solver", job.Config.Solver)

	meta := store.NewRunMeta(jobID, job.Config)
	if err := st.SaveMeta(meta); err != nil {
		markJobFailed(jm, st, meta, jobID, err)
		return err
	}

	trace, err := store.NewTraceWriter(st.RunDir(jobID), false)
	if err != nil {
		markJobFailed(jm, st, meta, jobID, err)
		return err
	}
	defer trace.Close()

	var lastBroadcast time.Time
	onProgress := func(p opt.Progress) {
		jm.UpdateJob(jobID, func(j *Job) {
			j.Iterations = p.Iter
			j.BestCost = core.Float(p.BestCost)
		})
		if err := trace.Write(store.TraceEntry{
			Iteration: p.Iter,
			Cost:      core.Float(p.Cost),
			BestCost:  core.Float(p.BestCost),
			Timestamp: time.Now(),
		}); err != nil {
			slog.Warn("writing trace entry", "jobID", jobID, "error", err)
		}
		if time.Since(lastBroadcast) < broadcastInterval {
			return
		}
		lastBroadcast = time.Now()
		jm.broadcaster.Broadcast(ProgressEvent{
			JobID:     jobID,
			State:     StateRunning,
			Iteration: p.Iter,
			Cost:      core.Float(p.Cost),
			BestCost:  core.Float(p.BestCost),
			Timestamp: lastBroadcast,
		})
	}

	result, err := opt.Run(ctx, job.Config, opt.RunOptions{
		OnProgress:    onProgress,
		CheckpointDir: st.RunDir(jobID),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			markJobCancelled(jm, st, meta, jobID)
			return err
		}
		markJobFailed(jm, st, meta, jobID, err)
		return err
	}

	state := StateCompleted
	if result.Termination == core.Interrupt {
		state = StateCancelled
	}

	endTime := time.Now()
	if err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = state
		j.BestParam = result.BestParam
		j.BestCost = result.BestCost
		j.Iterations = result.Iterations
		j.Termination = result.Termination
		j.EndTime = &endTime
	}); err != nil {
		return err
	}

	meta.BestCost = result.BestCost
	meta.Iterations = result.Iterations
	meta.Termination = result.Termination
	meta.UpdatedAt = endTime
	if err := st.SaveMeta(meta); err != nil {
		slog.Warn("saving final run metadata", "jobID", jobID, "error", err)
	}
	if err := trace.Flush(); err != nil {
		slog.Warn("flushing trace", "jobID", jobID, "error", err)
	}

	slog.Info("job finished",
		"jobID", jobID,
		"state", state,
		"iterations", result.Iterations,
		"bestCost", result.BestCost,
		"termination", result.Termination,
	)

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     state,
		Iteration: result.Iterations,
		Cost:      result.BestCost,
		BestCost:  result.BestCost,
		Timestamp: time.Now(),
	})
	return nil
}

func markJobFailed(jm *JobManager, st *store.FSStore, meta *store.RunMeta, jobID string, cause error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = cause.Error()
		j.EndTime = &endTime
	})
	persistMeta(jm, st, meta, jobID)
	slog.Error("job failed", "jobID", jobID, "error", cause)

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     StateFailed,
		Timestamp: endTime,
	})
}

func markJobCancelled(jm *JobManager, st *store.FSStore, meta *store.RunMeta, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	persistMeta(jm, st, meta, jobID)
	slog.Info("job cancelled", "jobID", jobID)

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     StateCancelled,
		Timestamp: endTime,
	})
}

// persistMeta records the job's last known progress so a failed or
// cancelled run can still be inspected and resumed from its checkpoint.
func persistMeta(jm *JobManager, st *store.FSStore, meta *store.RunMeta, jobID string) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}
	meta.BestCost = job.BestCost
	meta.Iterations = job.Iterations
	meta.UpdatedAt = time.Now()
	if err := st.SaveMeta(meta); err != nil {
		slog.Warn("saving run metadata", "jobID", jobID, "error", err)
	}
}

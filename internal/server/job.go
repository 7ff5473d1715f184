package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/descentlab/descent/core"
	"github.com/descentlab/descent/internal/opt"
)

// JobState is the lifecycle state of a job.
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Job is one optimization run owned by the server.
type Job struct {
	ID          string                 `json:"id"`
	State       JobState               `json:"state"`
	Config      opt.Config             `json:"config"`
	BestParam   []float64              `json:"bestParam,omitempty"`
	BestCost    core.Float             `json:"bestCost"`
	Iterations  uint64                 `json:"iterations"`
	Termination core.TerminationReason `json:"termination,omitempty"`
	StartTime   time.Time              `json:"startTime"`
	EndTime     *time.Time             `json:"endTime,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

func (j *Job) snapshot() *Job {
	copied := *j
	copied.BestParam = append([]float64(nil), j.BestParam...)
	return &copied
}

// JobManager tracks jobs and their cancellation handles.
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewJobManager creates an empty manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob registers a pending job for the given configuration and returns
// a snapshot of it.
func (jm *JobManager) CreateJob(cfg opt.Config) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    cfg,
		StartTime: time.Now(),
	}
	jm.jobs[job.ID] = job
	return job.snapshot()
}

// GetJob returns a snapshot of a job. Mutating the snapshot does not affect
// the stored job.
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	return job.snapshot(), true
}

// ListJobs returns snapshots of all jobs.
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.snapshot())
	}
	return jobs
}

// UpdateJob applies fn to the stored job under the manager's lock.
func (jm *JobManager) UpdateJob(id string, fn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	fn(job)
	return nil
}

// setCancel associates a cancellation handle with a job.
func (jm *JobManager) setCancel(id string, cancel context.CancelFunc) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.cancels[id] = cancel
}

// clearCancel drops the cancellation handle once a job has ended.
func (jm *JobManager) clearCancel(id string) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	delete(jm.cancels, id)
}

// Cancel requests cancellation of a running job. It reports whether a
// cancellation handle existed; the job transitions to cancelled once the
// worker observes the context.
func (jm *JobManager) Cancel(id string) bool {
	jm.mu.Lock()
	cancel, ok := jm.cancels[id]
	delete(jm.cancels, id)
	jm.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// CancelAll cancels every running job, used during shutdown.
func (jm *JobManager) CancelAll() {
	jm.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(jm.cancels))
	for id, cancel := range jm.cancels {
		cancels = append(cancels, cancel)
		delete(jm.cancels, id)
	}
	jm.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// RunningJobs returns snapshots of the jobs currently running.
func (jm *JobManager) RunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	running := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			running = append(running, job.snapshot())
		}
	}
	return running
}

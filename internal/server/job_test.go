package server

import (
	"context"
	"testing"
	"time"

	"github.com/descentlab/descent/internal/opt"
)

func testConfig() opt.Config {
	cfg := opt.Config{
		Function: "sphere",
		Solver:   "steepestdescent",
		X0:       []float64{1, 1},
		MaxIters: 5,
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestJobManagerCreateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(testConfig())

	if job.ID == "" {
		t.Error("job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("initial state = %s, want pending", job.State)
	}
	if job.Config.Function != "sphere" {
		t.Error("config not stored")
	}
}

func TestJobManagerGetJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("job should exist")
	}
	if retrieved.ID != job.ID {
		t.Error("retrieved wrong job")
	}

	if _, exists := jm.GetJob("nonexistent"); exists {
		t.Error("should not find nonexistent job")
	}
}

func TestJobManagerGetJobReturnsSnapshot(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())
	jm.UpdateJob(job.ID, func(j *Job) {
		j.BestParam = []float64{1, 2}
	})

	snap, _ := jm.GetJob(job.ID)
	snap.State = StateFailed
	snap.BestParam[0] = 99

	stored, _ := jm.GetJob(job.ID)
	if stored.State != StatePending {
		t.Error("mutating a snapshot changed the stored job")
	}
	if stored.BestParam[0] != 1 {
		t.Error("mutating a snapshot's params changed the stored job")
	}
}

func TestJobManagerListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("should start with no jobs")
	}

	jm.CreateJob(testConfig())
	jm.CreateJob(testConfig())

	if got := len(jm.ListJobs()); got != 2 {
		t.Errorf("ListJobs() returned %d jobs, want 2", got)
	}
}

func TestJobManagerUpdateJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Iterations = 10
		j.BestCost = 123.45
	})
	if err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning || updated.Iterations != 10 || float64(updated.BestCost) != 123.45 {
		t.Errorf("update not applied: %+v", updated)
	}

	if err := jm.UpdateJob("nonexistent", func(j *Job) {}); err == nil {
		t.Error("update of nonexistent job should fail")
	}
}

func TestJobManagerCancel(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	jm.setCancel(job.ID, cancel)

	if !jm.Cancel(job.ID) {
		t.Fatal("Cancel should report an existing handle")
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled")
	}

	if jm.Cancel(job.ID) {
		t.Error("second Cancel should report no handle")
	}
}

func TestJobManagerCancelAll(t *testing.T) {
	jm := NewJobManager()

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	jm.setCancel("a", cancelA)
	jm.setCancel("b", cancelB)

	jm.CancelAll()

	for _, ctx := range []context.Context{ctxA, ctxB} {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("context was not cancelled")
		}
	}
}

func TestJobManagerThreadSafety(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(n int) {
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Iterations = uint64(n)
			})
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if _, exists := jm.GetJob(job.ID); !exists {
		t.Error("job should still exist after concurrent updates")
	}
}

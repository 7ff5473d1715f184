package server

import (
	"testing"
	"time"
)

func TestBroadcasterDeliversEvents(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job-1")
	defer eb.Unsubscribe("job-1", ch)

	event := ProgressEvent{JobID: "job-1", State: StateRunning, Iteration: 3, BestCost: 0.5, Timestamp: time.Now()}
	eb.Broadcast(event)

	select {
	case got := <-ch:
		if got.Iteration != 3 || got.State != StateRunning {
			t.Fatalf("received %+v, want %+v", got, event)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBroadcasterReplaysLastEventToNewSubscribers(t *testing.T) {
	eb := NewEventBroadcaster()

	eb.Broadcast(ProgressEvent{JobID: "job-1", State: StateRunning, Iteration: 7, Timestamp: time.Now()})

	ch := eb.Subscribe("job-1")
	defer eb.Unsubscribe("job-1", ch)

	select {
	case got := <-ch:
		if got.Iteration != 7 {
			t.Fatalf("replayed iteration = %d, want 7", got.Iteration)
		}
	case <-time.After(time.Second):
		t.Fatal("last event not replayed")
	}
}

func TestBroadcasterIsolatesJobs(t *testing.T) {
	eb := NewEventBroadcaster()

	chA := eb.Subscribe("job-a")
	defer eb.Unsubscribe("job-a", chA)
	chB := eb.Subscribe("job-b")
	defer eb.Unsubscribe("job-b", chB)

	eb.Broadcast(ProgressEvent{JobID: "job-a", Iteration: 1, Timestamp: time.Now()})

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("subscriber of job-a received nothing")
	}
	select {
	case got := <-chB:
		t.Fatalf("subscriber of job-b received %+v", got)
	default:
	}
}

func TestBroadcasterSkipsFullChannels(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job-1")
	defer eb.Unsubscribe("job-1", ch)

	// Fill the buffer and keep going; Broadcast must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			eb.Broadcast(ProgressEvent{JobID: "job-1", Iteration: uint64(i), Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Broadcast blocked on a full channel")
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job-1")
	eb.Unsubscribe("job-1", ch)

	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}

	// Unsubscribing twice must not panic.
	eb.Unsubscribe("job-1", ch)
}

func TestBroadcasterCleanupJob(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job-1")
	eb.Broadcast(ProgressEvent{JobID: "job-1", Iteration: 1, Timestamp: time.Now()})
	<-ch

	eb.CleanupJob("job-1")

	if _, open := <-ch; open {
		t.Fatal("channel still open after cleanup")
	}

	// The cached event is gone, so a new subscriber sees nothing.
	fresh := eb.Subscribe("job-1")
	defer eb.Unsubscribe("job-1", fresh)
	select {
	case got := <-fresh:
		t.Fatalf("stale event replayed after cleanup: %+v", got)
	default:
	}

	// Unsubscribe after cleanup must not double close.
	eb.Unsubscribe("job-1", ch)
}

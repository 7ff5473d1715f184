package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Executor drives a solver over a problem. It owns the state, invokes the
// solver once per iteration, evaluates the termination criteria and feeds
// observers and the checkpointing backend.
type Executor[O any, S State[S]] struct {
	solver     Solver[O, S]
	problem    *Problem[O]
	state      S
	observers  []registeredObserver[S]
	checkpoint Checkpoint[Solver[O, S], S]
	timeout    time.Duration
	timer      bool
}

type registeredObserver[S any] struct {
	observer Observer[S]
	mode     ObserverMode
}

// NewExecutor pairs an objective with a solver. The state starts out with
// its New defaults and is adjusted via Configure.
func NewExecutor[O any, S State[S]](objective O, solver Solver[O, S]) *Executor[O, S] {
	var empty S
	return &Executor[O, S]{
		solver:  solver,
		problem: NewProblem(objective),
		state:   empty.New(),
		timer:   true,
	}
}

// Configure gives access to the state before the run, typically to set the
// initial parameter vector, the iteration limit or a target cost.
func (e *Executor[O, S]) Configure(init func(state S) S) *Executor[O, S] {
	e.state = init(e.state)
	return e
}

// AddObserver registers an observer. The mode controls how often its
// ObserveIter fires; the zero mode observes every iteration.
func (e *Executor[O, S]) AddObserver(observer Observer[S], mode ObserverMode) *Executor[O, S] {
	e.observers = append(e.observers, registeredObserver[S]{observer: observer, mode: mode})
	return e
}

// Checkpointing registers a checkpointing backend. At the start of Run an
// existing checkpoint is restored and the run resumes from it, skipping
// solver initialization.
func (e *Executor[O, S]) Checkpointing(checkpoint Checkpoint[Solver[O, S], S]) *Executor[O, S] {
	e.checkpoint = checkpoint
	return e
}

// Timer enables or disables timing of the run. Once a timeout is set the
// call is ignored, because the timeout relies on the timer.
func (e *Executor[O, S]) Timer(enabled bool) *Executor[O, S] {
	if e.timeout == 0 {
		e.timer = enabled
	}
	return e
}

// Timeout terminates the run with Timeout once the given wall clock
// duration has elapsed. The check runs between iterations, so a long
// iteration can overshoot the budget. Setting a timeout forces the timer
// on.
func (e *Executor[O, S]) Timeout(d time.Duration) *Executor[O, S] {
	e.timeout = d
	e.timer = true
	return e
}

// BulkConcurrency lets bulk evaluations of the problem fan out across up
// to n goroutines. The objective must tolerate concurrent reads.
func (e *Executor[O, S]) BulkConcurrency(n int) *Executor[O, S] {
	e.problem.WithConcurrency(n)
	return e
}

// Run drives the solver until a termination criterion fires, the context
// is cancelled or an error occurs. Cancellation is checked between
// iterations; an iteration in flight finishes first and its state is kept,
// tagged with the Interrupt reason.
func (e *Executor[O, S]) Run(ctx context.Context) (*OptimizationResult[O, S], error) {
	if e.checkpoint != nil {
		if _, err := e.checkpoint.Load(e.solver, e.state); err != nil {
			return nil, fmt.Errorf("loading checkpoint: %w", err)
		}
	}

	var runStart time.Time
	if e.timer {
		runStart = time.Now()
	}

	state := e.state

	// Init only runs on a pristine state. After a checkpoint resume the
	// iteration counter is non-zero and init would clobber the restored
	// solver configuration.
	if state.Iter() == 0 {
		kv, err := e.solver.Init(ctx, e.problem, state)
		if err != nil {
			return nil, fmt.Errorf("%s init: %w", e.solver.Name(), err)
		}
		state.Update()
		for i := range e.observers {
			if err := e.observers[i].observer.ObserveInit(e.solver.Name(), state, kv); err != nil {
				return nil, err
			}
		}
		state.FuncCounts(e.problem.Counts())
	}

	interrupted := false
	for {
		if ctx.Err() != nil {
			interrupted = true
			break
		}

		// Evaluate stopping criteria only if the state is not terminated
		// yet, so a reason set inside NextIter is not overwritten.
		if !state.Terminated() {
			if status := terminateInternal(e.solver, state); status.Terminated() {
				state = state.TerminateWith(status.Reason)
			}
		}
		if state.Terminated() {
			break
		}

		var iterStart time.Time
		if e.timer {
			iterStart = time.Now()
		}

		kv, err := e.solver.NextIter(ctx, e.problem, state)
		if err != nil {
			return nil, fmt.Errorf("%s iteration %d: %w", e.solver.Name(), state.Iter(), err)
		}

		state.FuncCounts(e.problem.Counts())

		var iterDuration time.Duration
		if e.timer {
			iterDuration = time.Since(iterStart)
		}

		state.Update()

		if len(e.observers) > 0 {
			log := kv
			if e.timer {
				log = log.Merge(KV{slog.Duration("time", iterDuration)})
			}
			for i := range e.observers {
				if !e.observers[i].mode.fires(state.Iter(), state.IsBest()) {
					continue
				}
				if err := e.observers[i].observer.ObserveIter(state, log); err != nil {
					return nil, err
				}
			}
		}

		state.IncrementIter()

		if e.checkpoint != nil && e.checkpoint.Frequency().ShouldSave(state.Iter()) {
			if err := e.checkpoint.Save(e.solver, state); err != nil {
				return nil, fmt.Errorf("saving checkpoint: %w", err)
			}
		}

		if e.timer {
			elapsed := time.Since(runStart)
			state = state.SetTime(&elapsed)
			if e.timeout > 0 && elapsed > e.timeout {
				state = state.TerminateWith(Timeout)
			}
		}

		if state.Terminated() {
			break
		}
	}

	if interrupted {
		state = state.TerminateWith(Interrupt)
	}

	for i := range e.observers {
		if err := e.observers[i].observer.ObserveFinal(state); err != nil {
			return nil, err
		}
	}

	e.state = state
	return &OptimizationResult[O, S]{
		Problem: e.problem,
		Solver:  e.solver,
		State:   state,
	}, nil
}

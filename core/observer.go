package core

// Observer receives the state of a run at initialization, after iterations
// and at the end. Implementations log progress, write parameter vectors to
// disk, stream updates to clients and so on. An error returned from any
// observation aborts the run.
type Observer[S any] interface {
	// ObserveInit is called once after solver initialization with the
	// solver name and a KV describing the solver configuration.
	ObserveInit(name string, state S, kv KV) error

	// ObserveIter is called after an iteration, subject to the
	// ObserverMode the observer was registered with.
	ObserveIter(state S, kv KV) error

	// ObserveFinal is called once with the final state.
	ObserveFinal(state S) error
}

// ObserverMode controls how often a registered observer's ObserveIter
// fires. ObserveInit and ObserveFinal fire regardless of mode. The zero
// value observes every iteration.
type ObserverMode struct {
	kind  observerModeKind
	every uint64
}

type observerModeKind uint8

const (
	observeAlways observerModeKind = iota
	observeNever
	observeEvery
	observeNewBest
)

var (
	// ObserveAlways fires ObserveIter in every iteration.
	ObserveAlways = ObserverMode{kind: observeAlways}

	// ObserveNever suppresses ObserveIter entirely.
	ObserveNever = ObserverMode{kind: observeNever}

	// ObserveNewBest fires ObserveIter in iterations that found a new
	// best iterate.
	ObserveNewBest = ObserverMode{kind: observeNewBest}
)

// ObserveEvery fires ObserveIter in every n-th iteration.
func ObserveEvery(n uint64) ObserverMode {
	return ObserverMode{kind: observeEvery, every: n}
}

func (m ObserverMode) fires(iter uint64, isBest bool) bool {
	switch m.kind {
	case observeAlways:
		return true
	case observeEvery:
		return m.every != 0 && iter%m.every == 0
	case observeNewBest:
		return isBest
	}
	return false
}

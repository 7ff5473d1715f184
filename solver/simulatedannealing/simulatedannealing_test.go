package simulatedannealing

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/descentlab/descent/core"
)

var _ core.Solver[contractingSphere, State[[]float64]] = (*SimulatedAnnealing[contractingSphere, []float64])(nil)

// contractingSphere is f(x) = sum x_i^2 with a move proposal that halves
// the parameter vector, so every proposal improves on the previous cost.
type contractingSphere struct{}

func (contractingSphere) Cost(x []float64) (float64, error) {
	total := 0.0
	for _, v := range x {
		total += v * v
	}
	return total, nil
}

func (contractingSphere) Anneal(x []float64, extent float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v / 2
	}
	return out, nil
}

// stuckSphere is f(x) = sum x_i^2 with a move proposal that always lands
// far outside the basin. The cost increase makes the acceptance
// probability vanish at any reasonable temperature, so no proposal is
// ever accepted.
type stuckSphere struct{}

func (stuckSphere) Cost(x []float64) (float64, error) {
	return contractingSphere{}.Cost(x)
}

func (stuckSphere) Anneal(x []float64, extent float64) ([]float64, error) {
	return []float64{1e100, 1e100}, nil
}

// noisySphere is f(x) = sum x_i^2 with a move proposal that dithers each
// coordinate uniformly within the annealing extent.
type noisySphere struct {
	rng *rand.Rand
}

func (n noisySphere) Cost(x []float64) (float64, error) {
	return contractingSphere{}.Cost(x)
}

func (n noisySphere) Anneal(x []float64, extent float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v + extent*(2*n.rng.Float64()-1)
	}
	return out, nil
}

func newState(param []float64) State[[]float64] {
	state := core.NewIterState[[]float64, struct{}, struct{}, struct{}]()
	return state.SetParam(param)
}

func kvBool(t *testing.T, kv core.KV, key string) bool {
	t.Helper()
	for _, attr := range kv {
		if attr.Key == key {
			return attr.Value.Bool()
		}
	}
	t.Fatalf("Failed to find KV entry %s", key)
	return false
}

func kvFloat(t *testing.T, kv core.KV, key string) float64 {
	t.Helper()
	for _, attr := range kv {
		if attr.Key == key {
			return attr.Value.Float64()
		}
	}
	t.Fatalf("Failed to find KV entry %s", key)
	return 0
}

func TestSimulatedAnnealing_New(t *testing.T) {
	solver, err := NewSimulatedAnnealing[contractingSphere, []float64](100)
	if err != nil {
		t.Fatalf("Failed to construct solver: %v", err)
	}
	if solver.initTemp != 100 || solver.curTemp != 100 {
		t.Errorf("Expected initial and current temperature 100, got %v and %v", solver.initTemp, solver.curTemp)
	}
	if solver.schedule != NewFastSchedule() {
		t.Errorf("Expected the fast schedule by default, got %+v", solver.schedule)
	}
	limits := []struct {
		name string
		got  uint64
	}{
		{"stall accepted limit", solver.stallIterAcceptedLimit},
		{"stall best limit", solver.stallIterBestLimit},
		{"fixed reannealing threshold", solver.reannealFixed},
		{"accepted reannealing threshold", solver.reannealAccepted},
		{"best reannealing threshold", solver.reannealBest},
	}
	for _, l := range limits {
		if l.got != math.MaxUint64 {
			t.Errorf("Expected the %s to default to MaxUint64, got %d", l.name, l.got)
		}
	}
	counters := solver.tempIter + solver.stallIterAccepted + solver.stallIterBest +
		solver.reannealIterFixed + solver.reannealIterAccepted + solver.reannealIterBest
	if counters != 0 {
		t.Errorf("Expected all counters to start at zero, got a sum of %d", counters)
	}

	for _, temp := range []float64{0, -1, -math.SmallestNonzeroFloat64, -100, math.NaN()} {
		if _, err := NewSimulatedAnnealing[contractingSphere, []float64](temp); !errors.Is(err, core.ErrInvalidParameter) {
			t.Errorf("Expected ErrInvalidParameter for initial temperature %v, got %v", temp, err)
		}
	}
}

func TestSimulatedAnnealing_Options(t *testing.T) {
	solver, err := NewSimulatedAnnealing[contractingSphere, []float64](100)
	if err != nil {
		t.Fatalf("Failed to construct solver: %v", err)
	}
	solver.WithSchedule(NewExponentialSchedule(0.9)).
		WithStallAccepted(10).
		WithStallBest(20).
		WithReannealingFixed(30).
		WithReannealingAccepted(40).
		WithReannealingBest(50)

	if solver.schedule != NewExponentialSchedule(0.9) {
		t.Errorf("Expected the exponential schedule, got %+v", solver.schedule)
	}
	if solver.stallIterAcceptedLimit != 10 {
		t.Errorf("Expected stall accepted limit 10, got %d", solver.stallIterAcceptedLimit)
	}
	if solver.stallIterBestLimit != 20 {
		t.Errorf("Expected stall best limit 20, got %d", solver.stallIterBestLimit)
	}
	if solver.reannealFixed != 30 {
		t.Errorf("Expected fixed reannealing threshold 30, got %d", solver.reannealFixed)
	}
	if solver.reannealAccepted != 40 {
		t.Errorf("Expected accepted reannealing threshold 40, got %d", solver.reannealAccepted)
	}
	if solver.reannealBest != 50 {
		t.Errorf("Expected best reannealing threshold 50, got %d", solver.reannealBest)
	}
}

func TestSimulatedAnnealing_Init(t *testing.T) {
	solver, err := NewSimulatedAnnealing[contractingSphere, []float64](100)
	if err != nil {
		t.Fatalf("Failed to construct solver: %v", err)
	}

	problem := core.NewProblem(contractingSphere{})
	kv, err := solver.Init(context.Background(), problem, newState([]float64{1, 2}))
	if err != nil {
		t.Fatalf("Failed to init solver: %v", err)
	}
	wantKeys := []string{
		"initial_temperature",
		"stall_iter_accepted_limit",
		"stall_iter_best_limit",
		"reanneal_fixed",
		"reanneal_accepted",
		"reanneal_best",
	}
	if len(kv) != len(wantKeys) {
		t.Fatalf("Expected %d KV entries, got %d", len(wantKeys), len(kv))
	}
	for i, key := range wantKeys {
		if kv[i].Key != key {
			t.Errorf("Expected KV entry %d to be %s, got %s", i, key, kv[i].Key)
		}
	}
	if temp := kvFloat(t, kv, "initial_temperature"); temp != 100 {
		t.Errorf("Expected initial temperature 100 in KV, got %v", temp)
	}
	if got := problem.Counts()["cost_count"]; got != 1 {
		t.Errorf("Expected one cost evaluation for a state without cost, got %d", got)
	}

	// A finite cost already in the state is trusted as is.
	problem = core.NewProblem(contractingSphere{})
	state := newState([]float64{1, 2}).SetCost(3)
	if _, err := solver.Init(context.Background(), problem, state); err != nil {
		t.Fatalf("Failed to init solver: %v", err)
	}
	if cost := state.Cost(); cost != 3 {
		t.Errorf("Expected the cost 3 to be kept, got %v", cost)
	}
	if got := problem.Counts()["cost_count"]; got != 0 {
		t.Errorf("Expected no cost evaluation for a state with finite cost, got %d", got)
	}
}

func TestSimulatedAnnealing_MissingParameter(t *testing.T) {
	solver, err := NewSimulatedAnnealing[contractingSphere, []float64](100)
	if err != nil {
		t.Fatalf("Failed to construct solver: %v", err)
	}

	_, err = core.NewExecutor[contractingSphere, State[[]float64]](contractingSphere{}, solver).
		Run(context.Background())
	if !errors.Is(err, core.ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized without parameter vector, got %v", err)
	}

	problem := core.NewProblem(contractingSphere{})
	state := core.NewIterState[[]float64, struct{}, struct{}, struct{}]()
	if _, err := solver.NextIter(context.Background(), problem, state); !errors.Is(err, core.ErrPotentialBug) {
		t.Errorf("Expected ErrPotentialBug without parameter vector, got %v", err)
	}
}

func TestSimulatedAnnealing_AcceptsImprovingMoves(t *testing.T) {
	solver, err := NewSimulatedAnnealing[contractingSphere, []float64](100)
	if err != nil {
		t.Fatalf("Failed to construct solver: %v", err)
	}

	res, err := core.NewExecutor[contractingSphere, State[[]float64]](contractingSphere{}, solver).
		Configure(func(s State[[]float64]) State[[]float64] {
			return s.SetParam([]float64{3, 4}).SetMaxIters(30)
		}).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Failed to run solver: %v", err)
	}

	if reason := res.State.TerminationStatus().Reason; reason != core.MaxItersReached {
		t.Errorf("Expected termination reason %v, got %v", core.MaxItersReached, reason)
	}
	// Halving the parameter vector scales the cost by exactly 1/4 per
	// iteration, with every intermediate representable.
	want := 25.0
	for i := 0; i < 30; i++ {
		want /= 4
	}
	if cost := res.State.BestCost(); cost != want {
		t.Errorf("Expected best cost %v, got %v", want, cost)
	}
	if cost := res.State.Cost(); cost != want {
		t.Errorf("Expected current cost %v, got %v", want, cost)
	}
	best := res.State.BestParam()
	if best == nil {
		t.Fatal("Expected a best parameter vector")
	}
	for i, x := range *best {
		if math.Abs(x) > 1e-8 {
			t.Errorf("Expected best parameter component %d near 0, got %v", i, x)
		}
	}
	if got := res.State.Counts()["cost_count"]; got != 31 {
		t.Errorf("Expected 31 cost evaluations, got %d", got)
	}
	if got := res.State.Counts()["anneal_count"]; got != 30 {
		t.Errorf("Expected 30 anneal evaluations, got %d", got)
	}
	if solver.curTemp != 100.0/31 {
		t.Errorf("Expected the fast schedule to cool to %v, got %v", 100.0/31, solver.curTemp)
	}
}

func TestSimulatedAnnealing_RejectsCatastrophicMoves(t *testing.T) {
	solver, err := NewSimulatedAnnealing[stuckSphere, []float64](100)
	if err != nil {
		t.Fatalf("Failed to construct solver: %v", err)
	}

	problem := core.NewProblem(stuckSphere{})
	state := newState([]float64{3, 4}).SetCost(25).SetBestCost(25)
	for i := 0; i < 3; i++ {
		kv, iterErr := solver.NextIter(context.Background(), problem, state)
		if iterErr != nil {
			t.Fatalf("Failed to run iteration %d: %v", i, iterErr)
		}
		if kvBool(t, kv, "acc") {
			t.Errorf("Expected iteration %d to reject the move", i)
		}
		if kvBool(t, kv, "new_be") {
			t.Errorf("Expected iteration %d to find no new best", i)
		}
	}

	param := state.Param()
	if param == nil {
		t.Fatal("Expected the parameter vector to survive rejected moves")
	}
	if (*param)[0] != 3 || (*param)[1] != 4 {
		t.Errorf("Expected the parameter vector to stay at [3 4], got %v", *param)
	}
	if cost := state.Cost(); cost != 25 {
		t.Errorf("Expected the cost to stay at 25, got %v", cost)
	}
	if solver.stallIterAccepted != 3 {
		t.Errorf("Expected 3 iterations without acceptance, got %d", solver.stallIterAccepted)
	}
	if solver.stallIterBest != 3 {
		t.Errorf("Expected 3 iterations without a new best, got %d", solver.stallIterBest)
	}
}

func TestSimulatedAnnealing_StallTermination(t *testing.T) {
	newStuck := func(t *testing.T) *SimulatedAnnealing[stuckSphere, []float64] {
		t.Helper()
		solver, err := NewSimulatedAnnealing[stuckSphere, []float64](100)
		if err != nil {
			t.Fatalf("Failed to construct solver: %v", err)
		}
		return solver
	}
	run := func(t *testing.T, solver *SimulatedAnnealing[stuckSphere, []float64], iters int) State[[]float64] {
		t.Helper()
		problem := core.NewProblem(stuckSphere{})
		state := newState([]float64{3, 4}).SetCost(25).SetBestCost(25)
		for i := 0; i < iters; i++ {
			if status := solver.Terminate(state); status.Terminated() {
				t.Fatalf("Expected no termination after %d iterations, got %v", i, status)
			}
			if _, err := solver.NextIter(context.Background(), problem, state); err != nil {
				t.Fatalf("Failed to run iteration %d: %v", i, err)
			}
		}
		return state
	}

	solver := newStuck(t).WithStallAccepted(2)
	state := run(t, solver, 3)
	if reason := solver.Terminate(state).Reason; reason != core.SolverExit("AcceptedStallIterExceeded") {
		t.Errorf("Expected an accepted stall exit, got %v", reason)
	}

	solver = newStuck(t).WithStallBest(1)
	state = run(t, solver, 2)
	if reason := solver.Terminate(state).Reason; reason != core.SolverExit("BestStallIterExceeded") {
		t.Errorf("Expected a best stall exit, got %v", reason)
	}
}

func TestSimulatedAnnealing_StallStopsExecutorRun(t *testing.T) {
	solver, err := NewSimulatedAnnealing[stuckSphere, []float64](100)
	if err != nil {
		t.Fatalf("Failed to construct solver: %v", err)
	}
	solver.WithStallAccepted(2)

	res, err := core.NewExecutor[stuckSphere, State[[]float64]](stuckSphere{}, solver).
		Configure(func(s State[[]float64]) State[[]float64] {
			return s.SetParam([]float64{3, 4}).SetMaxIters(100)
		}).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Failed to run solver: %v", err)
	}

	if reason := res.State.TerminationStatus().Reason; reason != core.SolverExit("AcceptedStallIterExceeded") {
		t.Errorf("Expected an accepted stall exit, got %v", reason)
	}
	// The stall counter passes the limit of 2 on the third rejected
	// iteration; the check at the top of the next pass stops the run.
	if iter := res.State.Iter(); iter != 3 {
		t.Errorf("Expected the run to stop after 3 iterations, got %d", iter)
	}
}

func TestSimulatedAnnealing_ReannealingResetsTemperature(t *testing.T) {
	solver, err := NewSimulatedAnnealing[stuckSphere, []float64](100)
	if err != nil {
		t.Fatalf("Failed to construct solver: %v", err)
	}
	solver.WithReannealingFixed(3)

	problem := core.NewProblem(stuckSphere{})
	state := newState([]float64{3, 4}).SetCost(25).SetBestCost(25)

	wantTemps := []float64{50, 100.0 / 3, 25, 50}
	wantReannealed := []bool{false, false, false, true}
	for i := range wantTemps {
		kv, iterErr := solver.NextIter(context.Background(), problem, state)
		if iterErr != nil {
			t.Fatalf("Failed to run iteration %d: %v", i, iterErr)
		}
		if temp := kvFloat(t, kv, "t"); temp != wantTemps[i] {
			t.Errorf("Expected temperature %v after iteration %d, got %v", wantTemps[i], i, temp)
		}
		if reannealed := kvBool(t, kv, "ra_fi"); reannealed != wantReannealed[i] {
			t.Errorf("Expected fixed reannealing %v on iteration %d, got %v", wantReannealed[i], i, reannealed)
		}
	}

	// Reannealing restarts the cooling, so the iteration after it runs
	// one step into the schedule again.
	if solver.tempIter != 1 {
		t.Errorf("Expected the cooling to restart, got temperature iteration %d", solver.tempIter)
	}
	if solver.reannealIterFixed != 1 {
		t.Errorf("Expected the fixed reannealing counter to restart, got %d", solver.reannealIterFixed)
	}
}

func TestSimulatedAnnealing_ReannealThresholds(t *testing.T) {
	cases := []struct {
		fixed, accepted, best             uint64
		wantFixed, wantAccepted, wantBest bool
	}{
		{0, 0, 0, false, false, false},
		{10, 0, 0, true, false, false},
		{11, 0, 0, true, false, false},
		{0, 20, 0, false, true, false},
		{0, 21, 0, false, true, false},
		{0, 0, 30, false, false, true},
		{0, 0, 31, false, false, true},
		{10, 20, 0, true, true, false},
		{10, 0, 30, true, false, true},
		{0, 20, 30, false, true, true},
		{10, 20, 30, true, true, true},
	}
	for _, tc := range cases {
		solver, err := NewSimulatedAnnealing[contractingSphere, []float64](100)
		if err != nil {
			t.Fatalf("Failed to construct solver: %v", err)
		}
		solver.WithReannealingFixed(10).WithReannealingAccepted(20).WithReannealingBest(30)
		solver.tempIter = 40
		solver.curTemp = 50
		solver.reannealIterFixed = tc.fixed
		solver.reannealIterAccepted = tc.accepted
		solver.reannealIterBest = tc.best

		fixed, accepted, best := solver.reanneal()
		if fixed != tc.wantFixed || accepted != tc.wantAccepted || best != tc.wantBest {
			t.Errorf("Expected reannealing (%v %v %v) for counters (%d %d %d), got (%v %v %v)",
				tc.wantFixed, tc.wantAccepted, tc.wantBest,
				tc.fixed, tc.accepted, tc.best,
				fixed, accepted, best)
		}
		if !tc.wantFixed && !tc.wantAccepted && !tc.wantBest {
			continue
		}
		if solver.reannealIterFixed != 0 || solver.reannealIterAccepted != 0 || solver.reannealIterBest != 0 {
			t.Errorf("Expected the reannealing counters to reset, got (%d %d %d)",
				solver.reannealIterFixed, solver.reannealIterAccepted, solver.reannealIterBest)
		}
		if solver.tempIter != 0 {
			t.Errorf("Expected the temperature iteration count to reset, got %d", solver.tempIter)
		}
		if solver.curTemp != 100 {
			t.Errorf("Expected the temperature to return to 100, got %v", solver.curTemp)
		}
	}
}

func TestSimulatedAnnealing_StallCounterUpdates(t *testing.T) {
	cases := []struct {
		accepted             bool
		newBest              bool
		wantStallAccepted    uint64
		wantReannealAccepted uint64
		wantStallBest        uint64
		wantReannealBest     uint64
	}{
		{false, false, 11, 21, 31, 41},
		{false, true, 11, 21, 0, 0},
		{true, false, 0, 0, 31, 41},
		{true, true, 0, 0, 0, 0},
	}
	for _, tc := range cases {
		solver, err := NewSimulatedAnnealing[contractingSphere, []float64](100)
		if err != nil {
			t.Fatalf("Failed to construct solver: %v", err)
		}
		solver.stallIterAccepted = 10
		solver.reannealIterAccepted = 20
		solver.stallIterBest = 30
		solver.reannealIterBest = 40

		solver.updateStallAndReannealCounters(tc.accepted, tc.newBest)

		if solver.stallIterAccepted != tc.wantStallAccepted {
			t.Errorf("Expected stall accepted counter %d for (%v %v), got %d",
				tc.wantStallAccepted, tc.accepted, tc.newBest, solver.stallIterAccepted)
		}
		if solver.reannealIterAccepted != tc.wantReannealAccepted {
			t.Errorf("Expected reanneal accepted counter %d for (%v %v), got %d",
				tc.wantReannealAccepted, tc.accepted, tc.newBest, solver.reannealIterAccepted)
		}
		if solver.stallIterBest != tc.wantStallBest {
			t.Errorf("Expected stall best counter %d for (%v %v), got %d",
				tc.wantStallBest, tc.accepted, tc.newBest, solver.stallIterBest)
		}
		if solver.reannealIterBest != tc.wantReannealBest {
			t.Errorf("Expected reanneal best counter %d for (%v %v), got %d",
				tc.wantReannealBest, tc.accepted, tc.newBest, solver.reannealIterBest)
		}
	}
}

func TestSimulatedAnnealing_AnnealsNoisySphere(t *testing.T) {
	solver, err := NewSimulatedAnnealing[noisySphere, []float64](1)
	if err != nil {
		t.Fatalf("Failed to construct solver: %v", err)
	}
	solver.WithRng(rand.New(rand.NewPCG(3, 11)))

	objective := noisySphere{rng: rand.New(rand.NewPCG(29, 31))}
	res, err := core.NewExecutor[noisySphere, State[[]float64]](objective, solver).
		Configure(func(s State[[]float64]) State[[]float64] {
			return s.SetParam([]float64{3, 4}).SetMaxIters(200)
		}).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Failed to run solver: %v", err)
	}

	if reason := res.State.TerminationStatus().Reason; reason != core.MaxItersReached {
		t.Errorf("Expected termination reason %v, got %v", core.MaxItersReached, reason)
	}
	// The walk is free to reject any move, so the bound only relies on
	// the monotone best cost.
	if cost := res.State.BestCost(); cost > 25 {
		t.Errorf("Expected best cost at most 25, got %v", cost)
	}
	if res.State.BestCost() > res.State.Cost() {
		t.Errorf("Expected best cost %v at most the current cost %v", res.State.BestCost(), res.State.Cost())
	}
	param := res.State.Param()
	if param == nil {
		t.Fatal("Expected a parameter vector")
	}
	cost, err := objective.Cost(*param)
	if err != nil {
		t.Fatalf("Failed to evaluate parameter vector: %v", err)
	}
	if cost != res.State.Cost() {
		t.Errorf("Expected cost %v for the final parameter vector, got state cost %v", cost, res.State.Cost())
	}
	if got := res.State.Counts()["anneal_count"]; got != 200 {
		t.Errorf("Expected 200 anneal evaluations, got %d", got)
	}
	if got := res.State.Counts()["cost_count"]; got != 201 {
		t.Errorf("Expected 201 cost evaluations, got %d", got)
	}
}

package costplot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/descentlab/descent/core"
)

type testState = *core.IterState[[]float64, struct{}, struct{}, struct{}]

func TestCollectsFiniteSamplesOnly(t *testing.T) {
	p := New[testState](filepath.Join(t.TempDir(), "cost.png"))

	// Fresh states carry infinite costs; those must not enter the series.
	state := core.NewIterState[[]float64, struct{}, struct{}, struct{}]()
	if err := p.ObserveIter(state, nil); err != nil {
		t.Fatal(err)
	}
	if len(p.costs) != 0 || len(p.bests) != 0 {
		t.Fatalf("non-finite costs were collected: costs=%d bests=%d", len(p.costs), len(p.bests))
	}

	state.SetParam([]float64{1}).SetCost(2.5)
	state.Update()
	state.IncrementIter()
	if err := p.ObserveIter(state, nil); err != nil {
		t.Fatal(err)
	}
	if len(p.costs) != 1 || len(p.bests) != 1 {
		t.Fatalf("finite costs were not collected: costs=%d bests=%d", len(p.costs), len(p.bests))
	}
	if p.costs[0].X != 1 || p.costs[0].Y != 2.5 {
		t.Errorf("sample = %+v, want (1, 2.5)", p.costs[0])
	}
}

func TestObserveFinalWritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cost.png")
	p := New[testState](path)

	state := core.NewIterState[[]float64, struct{}, struct{}, struct{}]()
	if err := p.ObserveInit("TestSolver", state, nil); err != nil {
		t.Fatal(err)
	}
	costs := []float64{4, 1, 2, 0.5}
	for i, c := range costs {
		state.SetParam([]float64{float64(i)}).SetCost(c)
		state.Update()
		if err := p.ObserveIter(state, nil); err != nil {
			t.Fatal(err)
		}
		state.IncrementIter()
	}
	if err := p.ObserveFinal(state); err != nil {
		t.Fatalf("ObserveFinal: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading chart: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Error("chart file does not start with the PNG signature")
	}
}

// Package costplot renders the cost history of an optimization run as a
// PNG chart. The observer collects (iteration, cost, best cost) samples
// during the run and draws the chart once, when the final state arrives.
package costplot

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/descentlab/descent/core"
)

// CostPlot is an observer plotting cost and best cost over iterations.
// Non-finite costs are skipped; a run that never produced a finite cost
// yields a chart with an empty cost series.
type CostPlot[S core.State[S]] struct {
	path  string
	title string
	costs plotter.XYs
	bests plotter.XYs
}

// New creates an observer that writes a PNG to path when the run ends.
func New[S core.State[S]](path string) *CostPlot[S] {
	return &CostPlot[S]{path: path, title: "optimization progress"}
}

// ObserveInit records the solver name for the chart title.
func (p *CostPlot[S]) ObserveInit(name string, state S, kv core.KV) error {
	p.title = name
	return nil
}

// ObserveIter collects one sample.
func (p *CostPlot[S]) ObserveIter(state S, kv core.KV) error {
	iter := float64(state.Iter())
	if cost := state.Cost(); !math.IsInf(cost, 0) && !math.IsNaN(cost) {
		p.costs = append(p.costs, plotter.XY{X: iter, Y: cost})
	}
	if best := state.BestCost(); !math.IsInf(best, 0) && !math.IsNaN(best) {
		p.bests = append(p.bests, plotter.XY{X: iter, Y: best})
	}
	return nil
}

// ObserveFinal renders the chart.
func (p *CostPlot[S]) ObserveFinal(state S) error {
	plt := plot.New()
	plt.Title.Text = p.title
	plt.X.Label.Text = "iteration"
	plt.Y.Label.Text = "cost"
	plt.Legend.Top = true

	if err := plotutil.AddLines(plt, "cost", p.costs, "best cost", p.bests); err != nil {
		return fmt.Errorf("adding cost series: %w", err)
	}
	if err := plt.Save(8*vg.Inch, 5*vg.Inch, p.path); err != nil {
		return fmt.Errorf("saving cost plot: %w", err)
	}
	return nil
}

package core

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// The capability interfaces below are implemented by user objectives.
// Solvers require only the subset they use, expressed as generic bounds,
// so an objective that cannot produce a Hessian simply cannot be handed to
// a solver that needs one.

// CostFunction is implemented by objectives that can compute the cost of a
// parameter vector.
type CostFunction[P any] interface {
	Cost(param P) (float64, error)
}

// Gradient is implemented by objectives that can compute the gradient of
// the cost function at a parameter vector.
type Gradient[P, G any] interface {
	Gradient(param P) (G, error)
}

// Hessian is implemented by objectives that can compute the Hessian of the
// cost function at a parameter vector.
type Hessian[P, H any] interface {
	Hessian(param P) (H, error)
}

// Jacobian is implemented by objectives that can compute the Jacobian at a
// parameter vector.
type Jacobian[P, J any] interface {
	Jacobian(param P) (J, error)
}

// Operator is implemented by objectives that can apply an operator to a
// parameter vector, as used by iterative linear methods.
type Operator[P, U any] interface {
	Apply(param P) (U, error)
}

// Anneal is implemented by objectives that can perturb a parameter vector
// by a given extent, as used by simulated annealing.
type Anneal[P any] interface {
	Anneal(param P, extent float64) (P, error)
}

// LinearProgram provides the data of a linear program: the cost vector c,
// the right hand side b and the constraint matrix A. Embed
// UnimplementedLinearProgram to provide only a subset.
type LinearProgram[P, M any] interface {
	C() (P, error)
	B() (P, error)
	A() (M, error)
}

// UnimplementedLinearProgram returns ErrNotImplemented from every
// LinearProgram method. Embedding it lets an objective override only the
// accessors it can serve.
type UnimplementedLinearProgram[P, M any] struct{}

// C returns ErrNotImplemented.
func (UnimplementedLinearProgram[P, M]) C() (P, error) {
	var zero P
	return zero, fmt.Errorf("%w: c vector", ErrNotImplemented)
}

// B returns ErrNotImplemented.
func (UnimplementedLinearProgram[P, M]) B() (P, error) {
	var zero P
	return zero, fmt.Errorf("%w: b vector", ErrNotImplemented)
}

// A returns ErrNotImplemented.
func (UnimplementedLinearProgram[P, M]) A() (M, error) {
	var zero M
	return zero, fmt.Errorf("%w: A matrix", ErrNotImplemented)
}

// Problem wraps a user objective and counts how often each of its
// capabilities is evaluated. Counts are keyed by name, for example
// "cost_count" or "gradient_count".
//
// A Problem is not safe for concurrent use; the sanctioned concurrency is
// the bulk fan-out below, which touches the counts only from the calling
// goroutine.
type Problem[O any] struct {
	objective *O
	counts    map[string]uint64
	limit     int
}

// NewProblem wraps an objective.
func NewProblem[O any](objective O) *Problem[O] {
	return &Problem[O]{
		objective: &objective,
		counts:    make(map[string]uint64),
	}
}

// WithConcurrency allows bulk evaluations to fan out across up to n
// goroutines. n <= 1 keeps them sequential.
func (p *Problem[O]) WithConcurrency(n int) *Problem[O] {
	p.limit = n
	return p
}

// TakeProblem removes and returns the wrapped objective, leaving the
// counts in place. Evaluations fail with ErrPotentialBug until an
// objective is handed back, typically via ConsumeProblem. Returns nil if
// the objective is already gone.
func (p *Problem[O]) TakeProblem() *O {
	o := p.objective
	p.objective = nil
	return o
}

// ConsumeProblem moves the objective out of other into p and folds other's
// evaluation counts into p's. Used by solvers that run a nested Executor,
// such as gradient descent driving a line search.
func (p *Problem[O]) ConsumeProblem(other *Problem[O]) {
	p.objective = other.TakeProblem()
	p.ConsumeFuncCounts(other.Counts())
}

// ConsumeFuncCounts adds the given evaluation counts onto p's counts.
func (p *Problem[O]) ConsumeFuncCounts(counts map[string]uint64) {
	if p.counts == nil {
		p.counts = make(map[string]uint64, len(counts))
	}
	for k, v := range counts {
		p.counts[k] += v
	}
}

// Counts returns the live evaluation counts. Callers must not mutate the
// returned map.
func (p *Problem[O]) Counts() map[string]uint64 { return p.counts }

// Reset zeroes all evaluation counts, keeping the keys.
func (p *Problem[O]) Reset() *Problem[O] {
	for k := range p.counts {
		p.counts[k] = 0
	}
	return p
}

// Eval runs f against the wrapped objective and adds one to the count
// registered under name. It is the building block for the typed helpers
// below; objectives with custom capabilities can use it directly.
func Eval[O, T any](p *Problem[O], name string, f func(o *O) (T, error)) (T, error) {
	p.count(name, 1)
	if p.objective == nil {
		var zero T
		return zero, fmt.Errorf("%w: objective has been taken out of the problem", ErrPotentialBug)
	}
	return f(p.objective)
}

func (p *Problem[O]) count(name string, n uint64) {
	if p.counts == nil {
		p.counts = make(map[string]uint64)
	}
	p.counts[name] += n
}

// EvalCost evaluates the cost function, counted under "cost_count".
func EvalCost[O CostFunction[P], P any](p *Problem[O], param P) (float64, error) {
	return Eval(p, "cost_count", func(o *O) (float64, error) {
		return (*o).Cost(param)
	})
}

// EvalGradient evaluates the gradient, counted under "gradient_count".
func EvalGradient[O Gradient[P, G], P, G any](p *Problem[O], param P) (G, error) {
	return Eval(p, "gradient_count", func(o *O) (G, error) {
		return (*o).Gradient(param)
	})
}

// EvalHessian evaluates the Hessian, counted under "hessian_count".
func EvalHessian[O Hessian[P, H], P, H any](p *Problem[O], param P) (H, error) {
	return Eval(p, "hessian_count", func(o *O) (H, error) {
		return (*o).Hessian(param)
	})
}

// EvalJacobian evaluates the Jacobian, counted under "jacobian_count".
func EvalJacobian[O Jacobian[P, J], P, J any](p *Problem[O], param P) (J, error) {
	return Eval(p, "jacobian_count", func(o *O) (J, error) {
		return (*o).Jacobian(param)
	})
}

// Apply applies the operator, counted under "operator_count".
func Apply[O Operator[P, U], P, U any](p *Problem[O], param P) (U, error) {
	return Eval(p, "operator_count", func(o *O) (U, error) {
		return (*o).Apply(param)
	})
}

// EvalAnneal perturbs a parameter vector, counted under "anneal_count".
func EvalAnneal[O Anneal[P], P any](p *Problem[O], param P, extent float64) (P, error) {
	return Eval(p, "anneal_count", func(o *O) (P, error) {
		return (*o).Anneal(param, extent)
	})
}

// ProblemC returns the cost vector of a wrapped linear program. The linear
// program accessors are pass-throughs and are not counted.
func ProblemC[O LinearProgram[P, M], P, M any](p *Problem[O]) (P, error) {
	if p.objective == nil {
		var zero P
		return zero, fmt.Errorf("%w: objective has been taken out of the problem", ErrPotentialBug)
	}
	return (*p.objective).C()
}

// ProblemB returns the right hand side of a wrapped linear program.
func ProblemB[O LinearProgram[P, M], P, M any](p *Problem[O]) (P, error) {
	if p.objective == nil {
		var zero P
		return zero, fmt.Errorf("%w: objective has been taken out of the problem", ErrPotentialBug)
	}
	return (*p.objective).B()
}

// ProblemA returns the constraint matrix of a wrapped linear program.
func ProblemA[O LinearProgram[P, M], P, M any](p *Problem[O]) (M, error) {
	if p.objective == nil {
		var zero M
		return zero, fmt.Errorf("%w: objective has been taken out of the problem", ErrPotentialBug)
	}
	return (*p.objective).A()
}

// BulkEval evaluates f once per element of params, counting len(params)
// evaluations under name. When the problem has a concurrency limit above
// one, evaluations fan out on an errgroup bounded by that limit; results
// preserve input order either way. The objective must be safe for
// concurrent reads in that case.
func BulkEval[O, P, T any](ctx context.Context, p *Problem[O], name string, params []P, f func(o *O, param P) (T, error)) ([]T, error) {
	p.count(name, uint64(len(params)))
	if p.objective == nil {
		return nil, fmt.Errorf("%w: objective has been taken out of the problem", ErrPotentialBug)
	}
	out := make([]T, len(params))
	if p.limit <= 1 || len(params) < 2 {
		for i, param := range params {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			t, err := f(p.objective, param)
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for i, param := range params {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := f(p.objective, param)
			if err != nil {
				return err
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// The Bulk* interfaces let an objective take over batch evaluation, for
// example to amortize setup cost across a population. When implemented,
// the corresponding helper dispatches to it instead of the generic
// fan-out; the batch still counts one evaluation per element.

// BulkCostFunction is the batch counterpart of CostFunction.
type BulkCostFunction[P any] interface {
	BulkCost(params []P) ([]float64, error)
}

// BulkGradientFunction is the batch counterpart of Gradient.
type BulkGradientFunction[P, G any] interface {
	BulkGradient(params []P) ([]G, error)
}

// BulkHessianFunction is the batch counterpart of Hessian.
type BulkHessianFunction[P, H any] interface {
	BulkHessian(params []P) ([]H, error)
}

// BulkJacobianFunction is the batch counterpart of Jacobian.
type BulkJacobianFunction[P, J any] interface {
	BulkJacobian(params []P) ([]J, error)
}

// BulkOperator is the batch counterpart of Operator.
type BulkOperator[P, U any] interface {
	BulkApply(params []P) ([]U, error)
}

// BulkCost evaluates the cost of every parameter vector in params.
func BulkCost[O CostFunction[P], P any](ctx context.Context, p *Problem[O], params []P) ([]float64, error) {
	if o, ok := any(p.objective).(BulkCostFunction[P]); ok && p.objective != nil {
		p.count("cost_count", uint64(len(params)))
		return o.BulkCost(params)
	}
	return BulkEval(ctx, p, "cost_count", params, func(o *O, param P) (float64, error) {
		return (*o).Cost(param)
	})
}

// BulkGradient evaluates the gradient at every parameter vector in params.
func BulkGradient[O Gradient[P, G], P, G any](ctx context.Context, p *Problem[O], params []P) ([]G, error) {
	if o, ok := any(p.objective).(BulkGradientFunction[P, G]); ok && p.objective != nil {
		p.count("gradient_count", uint64(len(params)))
		return o.BulkGradient(params)
	}
	return BulkEval(ctx, p, "gradient_count", params, func(o *O, param P) (G, error) {
		return (*o).Gradient(param)
	})
}

// BulkHessian evaluates the Hessian at every parameter vector in params.
func BulkHessian[O Hessian[P, H], P, H any](ctx context.Context, p *Problem[O], params []P) ([]H, error) {
	if o, ok := any(p.objective).(BulkHessianFunction[P, H]); ok && p.objective != nil {
		p.count("hessian_count", uint64(len(params)))
		return o.BulkHessian(params)
	}
	return BulkEval(ctx, p, "hessian_count", params, func(o *O, param P) (H, error) {
		return (*o).Hessian(param)
	})
}

// BulkJacobian evaluates the Jacobian at every parameter vector in params.
func BulkJacobian[O Jacobian[P, J], P, J any](ctx context.Context, p *Problem[O], params []P) ([]J, error) {
	if o, ok := any(p.objective).(BulkJacobianFunction[P, J]); ok && p.objective != nil {
		p.count("jacobian_count", uint64(len(params)))
		return o.BulkJacobian(params)
	}
	return BulkEval(ctx, p, "jacobian_count", params, func(o *O, param P) (J, error) {
		return (*o).Jacobian(param)
	})
}

// BulkApply applies the operator to every parameter vector in params.
func BulkApply[O Operator[P, U], P, U any](ctx context.Context, p *Problem[O], params []P) ([]U, error) {
	if o, ok := any(p.objective).(BulkOperator[P, U]); ok && p.objective != nil {
		p.count("operator_count", uint64(len(params)))
		return o.BulkApply(params)
	}
	return BulkEval(ctx, p, "operator_count", params, func(o *O, param P) (U, error) {
		return (*o).Apply(param)
	})
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package exec evaluates symbolic graphs (see package graph) on concrete tensors.
//
// The main elements are:
//
//   - FeedDict: the concrete values fed to nodes of the graph, checked for compatibility with the nodes'
//     declared shapes and dtypes.
//   - Analyze and PlanCache: the dependency analysis that finds which nodes need evaluation for a set of
//     fetches, in which order, and how many operations consume each of them. Plans are cached, since the same
//     fetches are requested on every training step.
//   - Executor: walks the plan invoking each operation, releasing intermediate values as soon as their last
//     consumer ran (except in training mode, where they are kept for the gradient computation).
//   - Probe: instrumentation of the number of live tensors during an execution.
//
// Example:
//
//	g := graph.NewGraph("example")
//	x := layers.Input(g, "x", shapes.Make(dtypes.Float32, shapes.AnyDim, 2))
//	y := layers.NewDense("dense", 5).Apply(x)
//	feeds := exec.MustNewFeedDict(exec.Feed{Node: x, Value: tensors.Ones(dtypes.Float32, 2, 2)})
//	result, err := exec.ExecuteOne(y, feeds, exec.Options{})
package exec

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/kerasgraph/internal/workerspool"
	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Options for one execution.
type Options struct {
	// Training indicates the execution is part of a training step: intermediate values are not released, since
	// they are needed for the gradient computation. It is also passed along to the operations.
	Training bool

	// Probe, if not nil, records the number of live tensors before each node is evaluated.
	Probe *Probe
}

// Executor evaluates graphs. It owns a PlanCache, and optionally a pool of workers to evaluate independent
// operations in parallel.
//
// It is safe for concurrent use.
type Executor struct {
	cache *PlanCache
	pool  *workerspool.Pool
}

// Option configures an Executor.
type Option func(e *Executor)

// WithPlanCache makes the Executor use the given PlanCache, which can be shared among executors.
func WithPlanCache(cache *PlanCache) Option {
	return func(e *Executor) { e.cache = cache }
}

// WithParallelism sets the maximum number of operations evaluated in parallel.
// Values <= 1 (the default) evaluate one operation at a time, in the order of the plan.
func WithParallelism(parallelism int) Option {
	return func(e *Executor) {
		if parallelism <= 1 {
			e.pool = nil
			return
		}
		e.pool = workerspool.New(parallelism)
	}
}

// NewExecutor creates an Executor with the given options.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewPlanCache(DefaultPlanCacheMaxEntries)
	}
	return e
}

// PlanCache used by the Executor.
func (e *Executor) PlanCache() *PlanCache { return e.cache }

// Parallelism returns the maximum number of operations evaluated in parallel.
func (e *Executor) Parallelism() int {
	if e.pool == nil {
		return 1
	}
	return e.pool.MaxParallelism()
}

// Execute evaluates the fetches, given the values in feeds, and returns one value per fetch, in order.
//
// Fetches that were fed are returned directly without evaluating anything. Intermediate values created during
// the execution are released as soon as they are no longer needed, unless opts.Training is set. Values in feeds
// are never released.
//
// It returns ErrEmptyFetches if fetches is empty, InvalidFetchError for nil fetches or fetches from different
// graphs, MissingFeedError if a placeholder needed is not fed, or the error of any failed operation. No values
// are returned on error, and the intermediate values created are released.
func (e *Executor) Execute(fetches []*graph.Node, feeds *FeedDict, opts Options) ([]*tensors.Tensor, error) {
	if err := validateFetches(fetches); err != nil {
		return nil, err
	}
	if feeds == nil {
		feeds = MustNewFeedDict()
	}
	plan := e.cache.Get(fetches, feeds)
	run := newExecution(fetches, feeds, plan, opts)
	var err error
	if e.pool == nil {
		err = run.sequential()
	} else {
		err = run.parallel(e.pool)
	}
	if err != nil {
		run.discard()
		return nil, err
	}
	outputs, err := run.finish()
	if err != nil {
		run.discard()
		return nil, err
	}
	return outputs, nil
}

// ExecuteOne is like Execute, but for a single fetch.
func (e *Executor) ExecuteOne(fetch *graph.Node, feeds *FeedDict, opts Options) (*tensors.Tensor, error) {
	outputs, err := e.Execute([]*graph.Node{fetch}, feeds, opts)
	if err != nil {
		return nil, err
	}
	return outputs[0], nil
}

// MustExecute is like Execute, but panics on error.
func (e *Executor) MustExecute(fetches []*graph.Node, feeds *FeedDict, opts Options) []*tensors.Tensor {
	outputs, err := e.Execute(fetches, feeds, opts)
	if err != nil {
		panic(err)
	}
	return outputs
}

// MustExecuteOne is like ExecuteOne, but panics on error.
func (e *Executor) MustExecuteOne(fetch *graph.Node, feeds *FeedDict, opts Options) *tensors.Tensor {
	output, err := e.ExecuteOne(fetch, feeds, opts)
	if err != nil {
		panic(err)
	}
	return output
}

var defaultExecutor = NewExecutor()

// DefaultExecutor returns the process-wide Executor used by the package level Execute functions.
func DefaultExecutor() *Executor { return defaultExecutor }

// Execute evaluates fetches with the DefaultExecutor. See Executor.Execute.
func Execute(fetches []*graph.Node, feeds *FeedDict, opts Options) ([]*tensors.Tensor, error) {
	return defaultExecutor.Execute(fetches, feeds, opts)
}

// ExecuteOne evaluates fetch with the DefaultExecutor. See Executor.ExecuteOne.
func ExecuteOne(fetch *graph.Node, feeds *FeedDict, opts Options) (*tensors.Tensor, error) {
	return defaultExecutor.ExecuteOne(fetch, feeds, opts)
}

// MustExecute is like Execute, but panics on error.
func MustExecute(fetches []*graph.Node, feeds *FeedDict, opts Options) []*tensors.Tensor {
	return defaultExecutor.MustExecute(fetches, feeds, opts)
}

// MustExecuteOne is like ExecuteOne, but panics on error.
func MustExecuteOne(fetch *graph.Node, feeds *FeedDict, opts Options) *tensors.Tensor {
	return defaultExecutor.MustExecuteOne(fetch, feeds, opts)
}

func validateFetches(fetches []*graph.Node) error {
	if len(fetches) == 0 {
		return errors.WithStack(ErrEmptyFetches)
	}
	var g *graph.Graph
	for ii, fetch := range fetches {
		if fetch == nil {
			return errors.WithStack(&InvalidFetchError{Index: ii, Reason: "nil node"})
		}
		if g == nil {
			g = fetch.Graph()
		} else if fetch.Graph() != g {
			return errors.WithStack(&InvalidFetchError{Index: ii, Reason: "node " + fetch.Name() +
				" belongs to graph " + fetch.Graph().Name() + ", other fetches belong to graph " + g.Name()})
		}
	}
	return nil
}

// invoke calls the operation, converting any panic to an error.
func invoke(op *graph.Operation, inputs []*tensors.Tensor, callOpts graph.CallOptions) (
	outputs, masks []*tensors.Tensor, err error) {
	exception := exceptions.Try(func() {
		outputs = op.Apply(inputs, callOpts)
		masks = op.ComputeMask(inputs, callOpts)
	})
	if exception == nil {
		return
	}
	var ok bool
	if err, ok = exception.(error); !ok {
		err = errors.Errorf("%v", exception)
	}
	return nil, nil, errors.WithMessagef(err, "failed to evaluate operation %q", op.Name())
}

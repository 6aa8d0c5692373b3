// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package exec

import (
	"github.com/gomlx/kerasgraph/internal/workerspool"
	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
	"github.com/gomlx/kerasgraph/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type opResult struct {
	op             *graph.Operation
	outputs, masks []*tensors.Tensor
	err            error
}

// parallel evaluates the plan running independent operations concurrently in the pool.
//
// Only the operations themselves run in the workers: all the bookkeeping (storing values, recipient counts,
// releasing values) is done by the calling goroutine, as results arrive.
func (e *execution) parallel(pool *workerspool.Pool) error {
	// Operations to evaluate, in plan order, and the number of their (distinct) inputs not yet available.
	var ops []*graph.Operation
	pending := make(map[*graph.Operation]int)
	dependents := make(map[graph.NodeId][]*graph.Operation)
	for _, node := range e.plan.Sorted {
		if e.values.HasKey(node) {
			continue
		}
		if node.IsPlaceholder() {
			return errors.WithStack(&MissingFeedError{Placeholder: node.Name()})
		}
		op := node.Operation()
		if _, found := pending[op]; found {
			continue
		}
		ops = append(ops, op)
		seen := sets.Make[graph.NodeId]()
		count := 0
		for _, input := range op.Inputs() {
			if seen.Has(input.Id()) || e.values.HasKey(input) {
				continue
			}
			seen.Insert(input.Id())
			count++
			dependents[input.Id()] = append(dependents[input.Id()], op)
		}
		pending[op] = count
	}
	if len(ops) == 0 {
		return nil
	}

	// Buffered, so workers never block on sending results.
	results := make(chan opResult, len(ops))
	numRunning := 0
	var firstErr error
	launch := func(op *graph.Operation) {
		e.record()
		inputs, callOpts, err := e.gatherInputs(op)
		if err != nil {
			firstErr = err
			return
		}
		klog.V(2).Infof("scheduling %s", op)
		numRunning++
		pool.WaitToStart(func() {
			outputs, masks, err := invoke(op, inputs, callOpts)
			results <- opResult{op: op, outputs: outputs, masks: masks, err: err}
		})
	}
	for _, op := range ops {
		if pending[op] == 0 {
			launch(op)
		}
	}

	for numRunning > 0 {
		result := <-results
		numRunning--
		if firstErr == nil && result.err != nil {
			firstErr = result.err
		}
		if firstErr != nil {
			// Drain remaining results, dropping whatever they created.
			e.dropUnheld(result.outputs...)
			e.dropMasks(result.masks)
			continue
		}
		if err := e.store(result.op, result.outputs, result.masks); err != nil {
			firstErr = err
			continue
		}
		e.consumed(result.op)
		for _, output := range result.op.Outputs() {
			for _, dependent := range dependents[output.Id()] {
				pending[dependent]--
				if pending[dependent] == 0 && firstErr == nil {
					launch(dependent)
				}
			}
		}
	}
	return firstErr
}

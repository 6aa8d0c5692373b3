// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package exec

import (
	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
	"github.com/gomlx/kerasgraph/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// execution holds the state of one call to Executor.Execute.
//
// Values are reference counted by the number of nodes holding them (an operation may return one of its
// inputs, or the same tensor for two outputs), and a value is only finalized when no node holds it anymore.
// Values given by the caller are never finalized.
type execution struct {
	fetches        []*graph.Node
	fetchPositions map[graph.NodeId][]int
	outputs        []*tensors.Tensor

	callerFeeds *FeedDict
	values      *FeedDict // Caller feeds plus values computed so far.
	plan        *Plan
	opts        Options

	protected    sets.Set[*tensors.Tensor]
	holders      map[*tensors.Tensor]int
	createdMasks sets.Set[*tensors.Tensor]
}

func newExecution(fetches []*graph.Node, feeds *FeedDict, plan *Plan, opts Options) *execution {
	e := &execution{
		fetches:        fetches,
		fetchPositions: make(map[graph.NodeId][]int, len(fetches)),
		outputs:        make([]*tensors.Tensor, len(fetches)),
		callerFeeds:    feeds,
		values:         feeds.Clone(),
		plan:           plan,
		opts:           opts,
		protected:      sets.Make[*tensors.Tensor](),
		holders:        make(map[*tensors.Tensor]int),
		createdMasks:   sets.Make[*tensors.Tensor](),
	}
	for _, entry := range feeds.entries {
		e.protected.Insert(entry.value)
		if entry.mask != nil {
			e.protected.Insert(entry.mask)
		}
	}
	for ii, fetch := range fetches {
		e.fetchPositions[fetch.Id()] = append(e.fetchPositions[fetch.Id()], ii)
		if entry, found := feeds.entries[fetch.Id()]; found {
			e.outputs[ii] = entry.value
		}
	}
	return e
}

func (e *execution) isFetch(node *graph.Node) bool {
	_, found := e.fetchPositions[node.Id()]
	return found
}

func (e *execution) record() {
	if e.opts.Probe != nil {
		e.opts.Probe.Record(tensors.NumLive())
	}
}

// sequential evaluates the plan one operation at a time, in the plan order.
func (e *execution) sequential() error {
	for _, node := range e.plan.Sorted {
		e.record()
		if e.values.HasKey(node) {
			// Computed along with a sibling output of the same operation.
			continue
		}
		if node.IsPlaceholder() {
			return errors.WithStack(&MissingFeedError{Placeholder: node.Name()})
		}
		op := node.Operation()
		inputs, callOpts, err := e.gatherInputs(op)
		if err != nil {
			return err
		}
		klog.V(2).Infof("executing %s", op)
		outputs, masks, err := invoke(op, inputs, callOpts)
		if err != nil {
			return err
		}
		if err = e.store(op, outputs, masks); err != nil {
			return err
		}
		e.consumed(op)
	}
	return nil
}

// gatherInputs collects the values and masks of the operation inputs.
func (e *execution) gatherInputs(op *graph.Operation) ([]*tensors.Tensor, graph.CallOptions, error) {
	opInputs := op.Inputs()
	inputs := make([]*tensors.Tensor, len(opInputs))
	callOpts := graph.CallOptions{Training: e.opts.Training, Masks: make([]*tensors.Tensor, len(opInputs))}
	for ii, input := range opInputs {
		entry, err := e.values.entry(input)
		if err != nil {
			return nil, callOpts, errors.WithMessagef(err, "input #%d of operation %q not available", ii, op.Name())
		}
		inputs[ii] = entry.value
		callOpts.Masks[ii] = entry.mask
	}
	return inputs, callOpts, nil
}

// store checks all outputs of the operation against their nodes, and only if all are compatible it stores them.
// Outputs whose dtype differs from the one declared by their node are converted.
func (e *execution) store(op *graph.Operation, outputs, masks []*tensors.Tensor) error {
	nodes := op.Outputs()
	checked := make([]*tensors.Tensor, len(nodes))
	for ii, node := range nodes {
		if e.values.HasKey(node) {
			// Output was fed: the fed value takes precedence.
			continue
		}
		value, err := checkFeedCompatibility(node, outputs[ii])
		if err != nil {
			for jj := range ii {
				if checked[jj] != nil && checked[jj] != outputs[jj] {
					checked[jj].Finalize()
				}
			}
			e.dropUnheld(outputs...)
			e.dropMasks(masks)
			return errors.WithMessagef(err, "invalid output #%d of operation %q", ii, op.Name())
		}
		checked[ii] = value
	}

	for ii, node := range nodes {
		value := checked[ii]
		if value == nil {
			continue
		}
		var mask *tensors.Tensor
		if ii < len(masks) {
			mask = masks[ii]
		}
		e.values.set(node, value, mask, value != outputs[ii])
		if !e.protected.Has(value) {
			e.holders[value]++
		}
		if mask != nil && !e.protected.Has(mask) {
			e.createdMasks.Insert(mask)
		}
		for _, pos := range e.fetchPositions[node.Id()] {
			e.outputs[pos] = value
		}
	}
	// Raw outputs replaced by a conversion, or not stored because the node was fed.
	for ii, output := range outputs {
		if checked[ii] != output {
			e.dropUnheld(output)
		}
	}

	// Outputs nobody in the plan consumes, and not fetched: sibling outputs of a multi-output operation.
	if !e.opts.Training {
		for ii, node := range nodes {
			if checked[ii] != nil && e.plan.RecipientCounts[node.Id()] <= 0 && !e.isFetch(node) {
				e.release(node)
			}
		}
	}
	return nil
}

// consumed updates the recipient counts of the inputs of an operation that was just evaluated, releasing
// the values no longer needed.
func (e *execution) consumed(op *graph.Operation) {
	seen := sets.Make[graph.NodeId]()
	for _, input := range op.Inputs() {
		if seen.Has(input.Id()) {
			continue
		}
		seen.Insert(input.Id())
		e.plan.RecipientCounts[input.Id()]--
		if e.plan.RecipientCounts[input.Id()] > 0 || e.opts.Training {
			continue
		}
		if e.callerFeeds.HasKey(input) || e.isFetch(input) {
			continue
		}
		e.release(input)
	}
}

// release the value of node: it is finalized if no other node holds it.
func (e *execution) release(node *graph.Node) {
	entry, found := e.values.entries[node.Id()]
	if !found {
		return
	}
	value := entry.value
	if e.protected.Has(value) {
		return
	}
	e.holders[value]--
	if e.holders[value] <= 0 {
		delete(e.holders, value)
		klog.V(3).Infof("releasing value of %q", node.Name())
		value.Finalize()
	}
}

// dropUnheld finalizes values created by an operation that are not held by any node.
func (e *execution) dropUnheld(values ...*tensors.Tensor) {
	for _, value := range values {
		if value == nil || e.protected.Has(value) || e.holders[value] > 0 {
			continue
		}
		value.Finalize()
	}
}

func (e *execution) dropMasks(masks []*tensors.Tensor) {
	for _, mask := range masks {
		if mask != nil && !e.protected.Has(mask) && !e.createdMasks.Has(mask) {
			mask.Finalize()
		}
	}
}

// discard finalizes everything created by the execution, after an error.
func (e *execution) discard() {
	for value := range e.holders {
		value.Finalize()
	}
	clear(e.holders)
	for mask := range e.createdMasks {
		mask.Finalize()
	}
	clear(e.createdMasks)
}

// finish returns the fetched values. Unless training, the masks created are released.
// It fails if any fetch was left without a value.
func (e *execution) finish() ([]*tensors.Tensor, error) {
	for ii, output := range e.outputs {
		if output == nil {
			return nil, errors.Errorf("fetch #%d (%q) was not evaluated", ii, e.fetches[ii].Name())
		}
	}
	if !e.opts.Training {
		fetched := sets.MakeWith(e.outputs...)
		for mask := range e.createdMasks {
			if !fetched.Has(mask) {
				mask.Finalize()
			}
		}
	}
	return e.outputs, nil
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
)

// OpKind distinguishes operations that have to be fed (Placeholder) from those the executor evaluates (Computed).
type OpKind int

const (
	// Placeholder operations have no inputs and no function: their single output must be fed.
	Placeholder OpKind = iota

	// Computed operations are evaluated by calling their ApplyFn on the values of their inputs.
	Computed
)

// String implements fmt.Stringer.
func (k OpKind) String() string {
	switch k {
	case Placeholder:
		return "Placeholder"
	case Computed:
		return "Computed"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// CallOptions are passed to an operation's functions on evaluation.
type CallOptions struct {
	// Training indicates the evaluation is part of a training step.
	Training bool

	// Masks holds the mask of each input, or nil entries for inputs without masks.
	Masks []*tensors.Tensor
}

// ApplyFn evaluates an operation on the concrete values of its inputs, returning one value per output.
// It may "throw" errors with exceptions.Panicf: the executor converts them to errors.
type ApplyFn func(inputs []*tensors.Tensor, opts CallOptions) []*tensors.Tensor

// MaskFn computes the masks of an operation's outputs (nil entries for no mask), given its input values and the
// masks in CallOptions.Masks.
type MaskFn func(inputs []*tensors.Tensor, opts CallOptions) []*tensors.Tensor

// Operation produces one or more nodes. See OpKind.
type Operation struct {
	graph   *Graph
	kind    OpKind
	name    string
	inputs  []*Node
	outputs []*Node
	apply   ApplyFn
	mask    MaskFn

	// data is attached by whoever created the operation, e.g. the layer owning its weights.
	data any
}

// Graph that holds this operation.
func (op *Operation) Graph() *Graph { return op.graph }

// Kind of the operation.
func (op *Operation) Kind() OpKind { return op.kind }

// Name of the operation, unique within its graph.
func (op *Operation) Name() string { return op.name }

// Inputs of the operation.
func (op *Operation) Inputs() []*Node { return op.inputs }

// Outputs of the operation.
func (op *Operation) Outputs() []*Node { return op.outputs }

// Output returns the output node of index i.
func (op *Operation) Output(i int) *Node { return op.outputs[i] }

// NumOutputs of the operation.
func (op *Operation) NumOutputs() int { return len(op.outputs) }

// SetMaskFn sets the function used to compute the masks of the outputs. It returns the operation itself,
// so calls can be cascaded.
func (op *Operation) SetMaskFn(fn MaskFn) *Operation {
	op.mask = fn
	return op
}

// SetData attaches arbitrary information to the operation, typically the layer that created it.
// It returns the operation itself, so calls can be cascaded.
func (op *Operation) SetData(data any) *Operation {
	op.data = data
	return op
}

// Data returns what was attached with SetData, or nil.
func (op *Operation) Data() any { return op.data }

// HasMaskFn returns whether the operation computes output masks.
func (op *Operation) HasMaskFn() bool { return op.mask != nil }

// Apply evaluates the operation on the given input values.
//
// It panics if the operation is a Placeholder, if the number of inputs is wrong, or if the ApplyFn returns
// the wrong number of outputs.
func (op *Operation) Apply(inputs []*tensors.Tensor, opts CallOptions) []*tensors.Tensor {
	if op.kind != Computed {
		exceptions.Panicf("operation %q of kind %s cannot be applied", op.name, op.kind)
	}
	if len(inputs) != len(op.inputs) {
		exceptions.Panicf("operation %q takes %d inputs, %d given", op.name, len(op.inputs), len(inputs))
	}
	outputs := op.apply(inputs, opts)
	if len(outputs) != len(op.outputs) {
		exceptions.Panicf("operation %q declares %d outputs, but its function returned %d",
			op.name, len(op.outputs), len(outputs))
	}
	for ii, output := range outputs {
		if output == nil {
			exceptions.Panicf("operation %q returned a nil value for output #%d", op.name, ii)
		}
	}
	return outputs
}

// ComputeMask returns the masks for the outputs of the operation, or nil if the operation has no MaskFn.
func (op *Operation) ComputeMask(inputs []*tensors.Tensor, opts CallOptions) []*tensors.Tensor {
	if op.mask == nil {
		return nil
	}
	masks := op.mask(inputs, opts)
	if masks != nil && len(masks) != len(op.outputs) {
		exceptions.Panicf("operation %q declares %d outputs, but its mask function returned %d masks",
			op.name, len(op.outputs), len(masks))
	}
	return masks
}

// String implements fmt.Stringer.
func (op *Operation) String() string {
	inputNames := make([]string, len(op.inputs))
	for ii, input := range op.inputs {
		inputNames[ii] = input.name
	}
	outputShapes := make([]string, len(op.outputs))
	for ii, output := range op.outputs {
		outputShapes[ii] = output.shape.String()
	}
	return fmt.Sprintf("%s %q(%s) -> %s", op.kind, op.name, strings.Join(inputNames, ", "),
		strings.Join(outputShapes, ", "))
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers implements Keras-like layers that add operations to a symbolic graph.
//
// Each layer is created with a constructor (e.g. NewDense), configured with its chained methods, and then
// applied to one or more nodes, returning the output node(s):
//
//	g := graph.NewGraph("mlp")
//	x := layers.Input(g, "x", shapes.Make(dtypes.Float32, shapes.AnyDim, 784))
//	h := layers.NewDense("hidden", 128).Activation("relu").Apply(x)
//	h = layers.NewDropout("dropout", 0.3, 42).Apply(h)
//	logits := layers.NewDense("logits", 10).Apply(h)
//
// A layer can be applied more than once, and all its operations share the same weights.
// Layers count how many times their operations are evaluated (NumCalls), and can have a hook called on each
// evaluation (SetCallHook), which is useful for instrumentation and tests.
package layers

import (
	"sync/atomic"

	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
)

// CallHook is called before every evaluation of an operation created by a layer, with the input values.
// It may be called concurrently if the executor runs operations in parallel.
type CallHook func(layerName string, inputs []*tensors.Tensor, opts graph.CallOptions)

// Layer holds what is common to all layers: a name, the call counter and the hook.
type Layer struct {
	name     string
	numCalls atomic.Int64
	hook     atomic.Pointer[CallHook]
}

// Name of the layer. Operations created by the layer are named after it.
func (l *Layer) Name() string { return l.name }

// NumCalls returns how many times operations of this layer were evaluated.
func (l *Layer) NumCalls() int { return int(l.numCalls.Load()) }

// ResetCalls sets the call counter back to 0.
func (l *Layer) ResetCalls() { l.numCalls.Store(0) }

// SetCallHook sets a hook called before every evaluation of the layer's operations. Use nil to remove it.
func (l *Layer) SetCallHook(hook CallHook) {
	if hook == nil {
		l.hook.Store(nil)
		return
	}
	l.hook.Store(&hook)
}

// WithWeights is implemented by layers that hold weights.
type WithWeights interface {
	Name() string
	Weights() []*tensors.Tensor
}

// NumParams returns the total number of scalar values in the layer's weights.
func NumParams(layer WithWeights) int {
	var count int
	for _, w := range layer.Weights() {
		count += w.Size()
	}
	return count
}

// newOperation adds an operation to the graph, named after the layer, that counts the calls and invokes the hook
// before calling apply. The operation's data is set to owner, the concrete layer.
func (l *Layer) newOperation(owner any, inputs []*graph.Node, outputShapes []shapes.Shape, apply graph.ApplyFn) *graph.Operation {
	g := inputs[0].Graph()
	return g.NewOperation(l.name, inputs, outputShapes,
		func(values []*tensors.Tensor, opts graph.CallOptions) []*tensors.Tensor {
			l.numCalls.Add(1)
			if hook := l.hook.Load(); hook != nil {
				(*hook)(l.name, values, opts)
			}
			return apply(values, opts)
		}).SetData(owner)
}

// Input creates a placeholder node: the value for it must be fed on execution.
// Use shapes.AnyDim for dimensions not known in advance, typically the batch size.
func Input(g *graph.Graph, name string, shape shapes.Shape) *graph.Node {
	return g.Placeholder(name, shape)
}

// passThroughMask is the MaskFn of layers that don't change the mask of their first input.
func passThroughMask(_ []*tensors.Tensor, opts graph.CallOptions) []*tensors.Tensor {
	return []*tensors.Tensor{opts.Masks[0]}
}

func fromFloat64s(shape shapes.Shape, values []float64) *tensors.Tensor {
	t, err := tensors.FromFloat64s(shape, values)
	if err != nil {
		panic(err)
	}
	return t
}

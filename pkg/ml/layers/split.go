// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
)

// Split divides its input in equal parts along the last axis. It's a single operation with one output per part.
type Split struct {
	Layer
	numParts int
}

// NewSplit creates a Split layer with numParts outputs.
func NewSplit(name string, numParts int) *Split {
	if numParts < 1 {
		exceptions.Panicf("layers.NewSplit(%q): numParts must be >= 1, got %d", name, numParts)
	}
	if name == "" {
		name = "split"
	}
	s := &Split{numParts: numParts}
	s.name = name
	return s
}

// Apply the layer to x, returning numParts nodes. If the last dimension of x is known, it must be divisible
// by numParts.
func (s *Split) Apply(x *graph.Node) []*graph.Node {
	shape := x.Shape()
	if shape.RankUnknown || shape.Rank() < 1 {
		exceptions.Panicf("layers.Split(%q): input must have a known rank >= 1, got %s", s.name, shape)
	}
	partShape := shape.Clone()
	if last := shape.Dim(-1); last != shapes.AnyDim {
		if last%s.numParts != 0 {
			exceptions.Panicf("layers.Split(%q): last dimension of %s not divisible in %d parts", s.name, shape, s.numParts)
		}
		partShape.Dimensions[shape.Rank()-1] = last / s.numParts
	}
	outputShapes := make([]shapes.Shape, s.numParts)
	for ii := range outputShapes {
		outputShapes[ii] = partShape
	}
	return s.newOperation(s, []*graph.Node{x}, outputShapes, s.call).Outputs()
}

func (s *Split) call(inputs []*tensors.Tensor, _ graph.CallOptions) []*tensors.Tensor {
	x := inputs[0]
	shape := x.Shape()
	last := shape.Dim(-1)
	if last%s.numParts != 0 {
		exceptions.Panicf("layers.Split(%q): last dimension of %s not divisible in %d parts", s.name, shape, s.numParts)
	}
	partSize := last / s.numParts
	values := tensors.ToFloat64s(x)
	numRows := 0
	if last > 0 {
		numRows = len(values) / last
	}
	partShape := shape.Clone()
	partShape.Dimensions[shape.Rank()-1] = partSize
	outputs := make([]*tensors.Tensor, s.numParts)
	for part := range s.numParts {
		partValues := make([]float64, 0, numRows*partSize)
		for row := range numRows {
			start := row*last + part*partSize
			partValues = append(partValues, values[start:start+partSize]...)
		}
		outputs[part] = fromFloat64s(partShape, partValues)
	}
	return outputs
}

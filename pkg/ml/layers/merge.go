// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
)

// Add sums its inputs elementwise. All inputs must have the same shape.
type Add struct {
	Layer
}

// NewAdd creates an Add layer.
func NewAdd(name string) *Add {
	if name == "" {
		name = "add"
	}
	a := &Add{}
	a.name = name
	return a
}

// Apply the layer to two or more inputs. The output mask is the conjunction of the inputs' masks.
func (a *Add) Apply(inputs ...*graph.Node) *graph.Node {
	if len(inputs) < 2 {
		exceptions.Panicf("layers.Add(%q): requires at least 2 inputs, got %d", a.name, len(inputs))
	}
	shape := inputs[0].Shape()
	for ii, input := range inputs[1:] {
		merged, ok := mergeShapes(shape, input.Shape())
		if !ok {
			exceptions.Panicf("layers.Add(%q): input #%d shape %s incompatible with %s",
				a.name, ii+1, input.Shape(), shape)
		}
		shape = merged
	}
	op := a.newOperation(a, inputs, []shapes.Shape{shape}, a.call)
	op.SetMaskFn(andMasks)
	return op.Output(0)
}

func (a *Add) call(inputs []*tensors.Tensor, _ graph.CallOptions) []*tensors.Tensor {
	sum := tensors.ToFloat64s(inputs[0])
	for ii, input := range inputs[1:] {
		if !input.Shape().EqualDimensions(inputs[0].Shape()) {
			exceptions.Panicf("layers.Add(%q): input #%d shape %s differs from %s",
				a.name, ii+1, input.Shape(), inputs[0].Shape())
		}
		for jj, v := range tensors.ToFloat64s(input) {
			sum[jj] += v
		}
	}
	return []*tensors.Tensor{fromFloat64s(inputs[0].Shape(), sum)}
}

// mergeShapes returns the shape compatible with both s1 and s2, filling unknown dimensions of one with the
// known dimensions of the other.
func mergeShapes(s1, s2 shapes.Shape) (shapes.Shape, bool) {
	if s1.RankUnknown {
		return s2, true
	}
	if s2.RankUnknown {
		return s1, true
	}
	if s1.Rank() != s2.Rank() {
		return s1, false
	}
	merged := s1.Clone()
	for axis, dim := range s2.Dimensions {
		switch {
		case merged.Dimensions[axis] == shapes.AnyDim:
			merged.Dimensions[axis] = dim
		case dim != shapes.AnyDim && dim != merged.Dimensions[axis]:
			return s1, false
		}
	}
	return merged, true
}

// andMasks combines the masks of the inputs: an element is kept only if kept by every input with a mask.
func andMasks(_ []*tensors.Tensor, opts graph.CallOptions) []*tensors.Tensor {
	var combined []float64
	var shape shapes.Shape
	for _, mask := range opts.Masks {
		if mask == nil {
			continue
		}
		values := tensors.ToFloat64s(mask)
		if combined == nil {
			combined, shape = values, mask.Shape()
			continue
		}
		if len(values) != len(combined) {
			exceptions.Panicf("cannot combine masks of shapes %s and %s", shape, mask.Shape())
		}
		for ii, v := range values {
			if v == 0 {
				combined[ii] = 0
			}
		}
	}
	if combined == nil {
		return []*tensors.Tensor{nil}
	}
	return []*tensors.Tensor{fromFloat64s(shape, combined)}
}

// Concatenate joins its inputs along an axis. All other dimensions must match.
type Concatenate struct {
	Layer
	axis int
}

// NewConcatenate creates a Concatenate layer for the given axis. Negative axes count from the end, the
// default in Keras is -1.
func NewConcatenate(name string, axis int) *Concatenate {
	if name == "" {
		name = "concatenate"
	}
	c := &Concatenate{axis: axis}
	c.name = name
	return c
}

// Apply the layer to one or more inputs of the same rank.
func (c *Concatenate) Apply(inputs ...*graph.Node) *graph.Node {
	if len(inputs) == 0 {
		exceptions.Panicf("layers.Concatenate(%q): requires at least 1 input", c.name)
	}
	first := inputs[0].Shape()
	if first.RankUnknown || first.Rank() == 0 {
		exceptions.Panicf("layers.Concatenate(%q): inputs must have a known rank >= 1, got %s", c.name, first)
	}
	axis := c.adjustAxis(first.Rank())
	output := first.Clone()
	for ii, input := range inputs[1:] {
		shape := input.Shape()
		if shape.RankUnknown || shape.Rank() != first.Rank() {
			exceptions.Panicf("layers.Concatenate(%q): input #%d shape %s has a different rank than %s",
				c.name, ii+1, shape, first)
		}
		for dimAxis, dim := range shape.Dimensions {
			if dimAxis == axis {
				if output.Dimensions[axis] == shapes.AnyDim || dim == shapes.AnyDim {
					output.Dimensions[axis] = shapes.AnyDim
				} else {
					output.Dimensions[axis] += dim
				}
				continue
			}
			if output.Dimensions[dimAxis] == shapes.AnyDim {
				output.Dimensions[dimAxis] = dim
			} else if dim != shapes.AnyDim && dim != output.Dimensions[dimAxis] {
				exceptions.Panicf("layers.Concatenate(%q): input #%d shape %s incompatible with %s on axis %d",
					c.name, ii+1, shape, first, dimAxis)
			}
		}
	}
	return c.newOperation(c, inputs, []shapes.Shape{output}, c.call).Output(0)
}

func (c *Concatenate) adjustAxis(rank int) int {
	axis := c.axis
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		exceptions.Panicf("layers.Concatenate(%q): axis %d out of bounds for rank %d", c.name, c.axis, rank)
	}
	return axis
}

func (c *Concatenate) call(inputs []*tensors.Tensor, _ graph.CallOptions) []*tensors.Tensor {
	first := inputs[0].Shape()
	axis := c.adjustAxis(first.Rank())
	outerSize := 1
	for _, dim := range first.Dimensions[:axis] {
		outerSize *= dim
	}
	outputDims := slices.Clone(first.Dimensions)
	outputDims[axis] = 0
	chunks := make([][]float64, len(inputs))
	chunkSizes := make([]int, len(inputs))
	for ii, input := range inputs {
		dims := input.Shape().Dimensions
		if len(dims) != len(first.Dimensions) {
			exceptions.Panicf("layers.Concatenate(%q): input #%d shape %s has a different rank than %s",
				c.name, ii, input.Shape(), first)
		}
		for dimAxis, dim := range dims {
			if dimAxis != axis && dim != first.Dimensions[dimAxis] {
				exceptions.Panicf("layers.Concatenate(%q): input #%d shape %s incompatible with %s",
					c.name, ii, input.Shape(), first)
			}
		}
		outputDims[axis] += dims[axis]
		chunks[ii] = tensors.ToFloat64s(input)
		if outerSize > 0 {
			chunkSizes[ii] = len(chunks[ii]) / outerSize
		}
	}
	output := make([]float64, 0, outerSize*slices.Max(chunkSizes)*len(inputs))
	for outer := range outerSize {
		for ii, chunk := range chunks {
			size := chunkSizes[ii]
			output = append(output, chunk[outer*size:(outer+1)*size]...)
		}
	}
	return []*tensors.Tensor{fromFloat64s(shapes.Make(first.DType, outputDims...), output)}
}

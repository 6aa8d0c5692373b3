// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
)

// Masking masks the positions (e.g. timesteps) of its input where all features equal maskValue.
//
// For an input shaped [<batch...>, features], the output has the same values, except the masked positions
// which are zeroed, and its mask is a Uint8 tensor shaped [<batch...>] with 1 for the positions kept.
// Downstream layers receive the mask through graph.CallOptions.Masks.
type Masking struct {
	Layer
	maskValue float64
}

// NewMasking creates a Masking layer for the given mask value.
func NewMasking(name string, maskValue float64) *Masking {
	if name == "" {
		name = "masking"
	}
	m := &Masking{maskValue: maskValue}
	m.name = name
	return m
}

// Apply the layer to x, which must have rank >= 1.
func (m *Masking) Apply(x *graph.Node) *graph.Node {
	shape := x.Shape()
	if shape.RankUnknown || shape.Rank() < 1 {
		exceptions.Panicf("layers.Masking(%q): input must have a known rank >= 1, got %s", m.name, shape)
	}
	op := m.newOperation(m, []*graph.Node{x}, []shapes.Shape{shape}, m.call)
	op.SetMaskFn(m.computeMask)
	return op.Output(0)
}

// keep returns for each position whether it's kept, and the number of features per position.
func (m *Masking) keep(x *tensors.Tensor) (kept []bool, values []float64, features int) {
	values = tensors.ToFloat64s(x)
	dims := x.Shape().Dimensions
	features = dims[len(dims)-1]
	numPositions := 1
	for _, dim := range dims[:len(dims)-1] {
		numPositions *= dim
	}
	kept = make([]bool, numPositions)
	if features == 0 {
		return
	}
	for pos := range kept {
		for _, v := range values[pos*features : (pos+1)*features] {
			if v != m.maskValue {
				kept[pos] = true
				break
			}
		}
	}
	return
}

func (m *Masking) call(inputs []*tensors.Tensor, _ graph.CallOptions) []*tensors.Tensor {
	kept, values, features := m.keep(inputs[0])
	for pos, isKept := range kept {
		if !isKept {
			clear(values[pos*features : (pos+1)*features])
		}
	}
	return []*tensors.Tensor{fromFloat64s(inputs[0].Shape(), values)}
}

func (m *Masking) computeMask(inputs []*tensors.Tensor, _ graph.CallOptions) []*tensors.Tensor {
	x := inputs[0]
	kept, _, _ := m.keep(x)
	mask := make([]float64, len(kept))
	for pos, isKept := range kept {
		if isKept {
			mask[pos] = 1
		}
	}
	dims := x.Shape().Dimensions
	return []*tensors.Tensor{fromFloat64s(shapes.Make(dtypes.Uint8, dims[:len(dims)-1]...), mask)}
}

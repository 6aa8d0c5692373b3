// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math/rand/v2"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
)

// Dropout randomly zeroes a fraction (rate) of its input during training, scaling the remaining values by
// 1/(1-rate). Outside training it returns its input unchanged (the same tensor).
type Dropout struct {
	Layer
	rate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDropout creates a Dropout layer with the given rate, in [0, 1), and random seed.
func NewDropout(name string, rate float64, seed uint64) *Dropout {
	if rate < 0 || rate >= 1 {
		exceptions.Panicf("layers.NewDropout(%q): rate must be in [0, 1), got %g", name, rate)
	}
	if name == "" {
		name = "dropout"
	}
	d := &Dropout{rate: rate, rng: rand.New(rand.NewPCG(seed, seed+1))}
	d.name = name
	return d
}

// Rate of the dropout.
func (d *Dropout) Rate() float64 { return d.rate }

// Apply the layer to x. The mask of x, if any, is passed through.
func (d *Dropout) Apply(x *graph.Node) *graph.Node {
	op := d.newOperation(d, []*graph.Node{x}, []shapes.Shape{x.Shape()}, d.call)
	op.SetMaskFn(passThroughMask)
	return op.Output(0)
}

func (d *Dropout) call(inputs []*tensors.Tensor, opts graph.CallOptions) []*tensors.Tensor {
	x := inputs[0]
	if !opts.Training || d.rate == 0 {
		return []*tensors.Tensor{x}
	}
	values := tensors.ToFloat64s(x)
	scale := 1 / (1 - d.rate)
	d.mu.Lock()
	for ii := range values {
		if d.rng.Float64() < d.rate {
			values[ii] = 0
		} else {
			values[ii] *= scale
		}
	}
	d.mu.Unlock()
	return []*tensors.Tensor{fromFloat64s(x.Shape(), values)}
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
	"github.com/gomlx/kerasgraph/pkg/ml/initializer"
	"github.com/gomlx/kerasgraph/pkg/ml/layers/activations"
	"gonum.org/v1/gonum/mat"
)

// Dense performs a dense (linear) transformation with optional activation:
//
//	y = activation(x @ kernel + bias)
//
// kernel has shape [in_features, units], where in_features is the last dimension of x, which must be known when
// the layer is first applied. The weights are created then, with the configured initializers.
type Dense struct {
	Layer

	units                              int
	activation                         activations.Type
	useBias                            bool
	kernelInitializer, biasInitializer initializer.Initializer

	mu           sync.Mutex
	kernel, bias *tensors.Tensor
	kernelMat    *mat.Dense
	biasValues   []float64
}

// NewDense creates a Dense layer with the given number of output units.
//
// The defaults are: no activation, with bias, GlorotUniform kernel initializer (seed 0) and zero bias.
func NewDense(name string, units int) *Dense {
	if units <= 0 {
		exceptions.Panicf("layers.NewDense(%q): units must be > 0, got %d", name, units)
	}
	if name == "" {
		name = "dense"
	}
	d := &Dense{
		units:             units,
		useBias:           true,
		kernelInitializer: initializer.GlorotUniform(0),
		biasInitializer:   initializer.Zero,
	}
	d.name = name
	return d
}

// Activation sets the activation by name (e.g. "relu", "linear"). It panics on an unknown name.
func (d *Dense) Activation(name string) *Dense {
	d.activation = activations.FromName(name)
	return d
}

// UseBias configures whether to add a bias term. Default is true.
func (d *Dense) UseBias(useBias bool) *Dense {
	d.useBias = useBias
	return d
}

// KernelInitializer sets the initializer of the kernel weights.
func (d *Dense) KernelInitializer(init initializer.Initializer) *Dense {
	d.kernelInitializer = init
	return d
}

// BiasInitializer sets the initializer of the bias weights.
func (d *Dense) BiasInitializer(init initializer.Initializer) *Dense {
	d.biasInitializer = init
	return d
}

// Units returns the number of output units.
func (d *Dense) Units() int { return d.units }

// Kernel returns the kernel weights, or nil if the layer was not applied yet.
func (d *Dense) Kernel() *tensors.Tensor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kernel
}

// Weights implements WithWeights.
func (d *Dense) Weights() []*tensors.Tensor {
	d.mu.Lock()
	defer d.mu.Unlock()
	var weights []*tensors.Tensor
	if d.kernel != nil {
		weights = append(weights, d.kernel)
	}
	if d.bias != nil {
		weights = append(weights, d.bias)
	}
	return weights
}

// build creates the weights, the first time the layer is applied.
func (d *Dense) build(dtype dtypes.DType, inFeatures int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.kernel != nil {
		if got := d.kernel.Shape().Dimensions[0]; got != inFeatures {
			exceptions.Panicf("layers.Dense(%q) was built for %d input features, cannot be applied to %d",
				d.name, got, inFeatures)
		}
		return
	}
	d.kernel = d.kernelInitializer(shapes.Make(dtype, inFeatures, d.units))
	d.kernelMat = mat.NewDense(inFeatures, d.units, tensors.ToFloat64s(d.kernel))
	if d.useBias {
		d.bias = d.biasInitializer(shapes.Make(dtype, d.units))
		d.biasValues = tensors.ToFloat64s(d.bias)
	}
}

// Apply the layer to x, shaped [<batch dimensions...>, in_features]. It returns a node shaped
// [<batch dimensions...>, units]. The mask of x, if any, is passed through.
func (d *Dense) Apply(x *graph.Node) *graph.Node {
	xShape := x.Shape()
	if xShape.RankUnknown || xShape.Rank() < 1 {
		exceptions.Panicf("layers.Dense(%q): input must have a known rank >= 1, got %s", d.name, xShape)
	}
	inFeatures := xShape.Dim(-1)
	if inFeatures <= 0 {
		exceptions.Panicf("layers.Dense(%q): the last dimension of the input must be known, got %s", d.name, xShape)
	}
	dtype := xShape.DType
	if !dtype.IsFloat() {
		dtype = dtypes.Float32
	}
	d.build(dtype, inFeatures)
	outputDims := append(slices.Clone(xShape.Dimensions[:xShape.Rank()-1]), d.units)
	op := d.newOperation(d, []*graph.Node{x}, []shapes.Shape{shapes.Make(dtype, outputDims...)}, d.call)
	op.SetMaskFn(passThroughMask)
	return op.Output(0)
}

func (d *Dense) call(inputs []*tensors.Tensor, _ graph.CallOptions) []*tensors.Tensor {
	x := inputs[0]
	dims := x.Shape().Dimensions
	inFeatures := dims[len(dims)-1]
	d.mu.Lock()
	kernelMat, biasValues, dtype := d.kernelMat, d.biasValues, d.kernel.DType()
	d.mu.Unlock()
	if rows, _ := kernelMat.Dims(); rows != inFeatures {
		exceptions.Panicf("layers.Dense(%q): input %s doesn't match kernel %s", d.name, x.Shape(), d.kernel.Shape())
	}
	outputShape := shapes.Make(dtype, append(slices.Clone(dims[:len(dims)-1]), d.units)...)
	batchSize := x.Size() / inFeatures
	if batchSize == 0 {
		return []*tensors.Tensor{tensors.FromShape(outputShape)}
	}

	xMat := mat.NewDense(batchSize, inFeatures, tensors.ToFloat64s(x))
	var y mat.Dense
	y.Mul(xMat, kernelMat)
	if biasValues != nil {
		for row := range batchSize {
			for col, b := range biasValues {
				y.Set(row, col, y.At(row, col)+b)
			}
		}
	}
	output := fromFloat64s(outputShape, y.RawMatrix().Data)
	activated := activations.Apply(d.activation, output)
	if activated != output {
		output.Finalize()
	}
	return []*tensors.Tensor{activated}
}

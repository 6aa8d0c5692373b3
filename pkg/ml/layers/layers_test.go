// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerasgraph/pkg/core/exec"
	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
	"github.com/gomlx/kerasgraph/pkg/ml/initializer"
	"github.com/gomlx/kerasgraph/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Shape = shapes.Shape

var (
	S   = shapes.Make
	F32 = dtypes.Float32
)

// diamond builds x -> dense1 -> y -> {dense2 -> z1, dense3 -> z2}, with all-ones kernels and zero biases.
func diamond(t *testing.T) (x, y, z1, z2 *graph.Node, dense1 *Dense) {
	g := graph.NewGraph("diamond")
	x = Input(g, "x", S(F32, shapes.AnyDim, 2))
	dense1 = NewDense("dense1", 5).KernelInitializer(initializer.One)
	y = dense1.Apply(x)
	z1 = NewDense("dense2", 3).KernelInitializer(initializer.One).Apply(y)
	z2 = NewDense("dense3", 1).KernelInitializer(initializer.One).Apply(y)
	require.Equal(t, "(Float32)[? 5]", y.Shape().String())
	return
}

func TestDenseOnes(t *testing.T) {
	g := graph.NewGraph("linear")
	x := Input(g, "x", S(F32, shapes.AnyDim, 2))
	dense := NewDense("dense1", 5).KernelInitializer(initializer.One)
	y := dense.Apply(x)

	input := tensors.Ones(F32, 2, 2)
	feeds := exec.MustNewFeedDict(exec.Feed{Node: x, Value: input})
	baseline := tensors.NumLive()
	got, err := exec.ExecuteOne(y, feeds, exec.Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 2, 2, 2, 2}, {2, 2, 2, 2, 2}}, got.Value())
	assert.Equal(t, baseline+1, tensors.NumLive())
	assert.Equal(t, 1, dense.NumCalls())
	assert.Equal(t, 2*5+5, NumParams(dense))
	got.Finalize()
}

func TestDenseMissingFeed(t *testing.T) {
	_, y, _, _, dense1 := diamond(t)
	_, err := exec.ExecuteOne(y, exec.MustNewFeedDict(), exec.Options{})
	var missing *exec.MissingFeedError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "x", missing.Placeholder)
	assert.Equal(t, 0, dense1.NumCalls())
}

func TestDiamondSharedUpstream(t *testing.T) {
	x, _, z1, z2, dense1 := diamond(t)
	var mu sync.Mutex
	var hookCalls []string
	dense1.SetCallHook(func(layerName string, inputs []*tensors.Tensor, _ graph.CallOptions) {
		mu.Lock()
		defer mu.Unlock()
		hookCalls = append(hookCalls, layerName)
	})

	for _, parallelism := range []int{1, 3} {
		dense1.ResetCalls()
		executor := exec.NewExecutor(exec.WithParallelism(parallelism))
		feeds := exec.MustNewFeedDict(exec.Feed{Node: x, Value: tensors.Ones(F32, 2, 2)})
		got, err := executor.Execute([]*graph.Node{z1, z2}, feeds, exec.Options{})
		require.NoError(t, err)
		assert.Equal(t, 1, dense1.NumCalls())
		// Each y = 2, z1 = 5*2, z2 = 5*2.
		assert.Equal(t, [][]float32{{10, 10, 10}, {10, 10, 10}}, got[0].Value())
		assert.Equal(t, [][]float32{{10}, {10}}, got[1].Value())
	}
	assert.Equal(t, []string{"dense1", "dense1"}, hookCalls)
}

func TestDiamondFedIntermediate(t *testing.T) {
	_, y, z1, z2, dense1 := diamond(t)
	yValue := tensors.Full(F32, 0.5, 1, 5)
	feeds := exec.MustNewFeedDict(exec.Feed{Node: y, Value: yValue})
	got, err := exec.Execute([]*graph.Node{z1, z2}, feeds, exec.Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2.5, 2.5, 2.5}}, got[0].Value())
	assert.Equal(t, [][]float32{{2.5}}, got[1].Value())
	assert.Equal(t, 0, dense1.NumCalls())
	assert.False(t, yValue.IsFinalized())

	_, err = feeds.GetValueByName("x")
	var nonexistent *exec.NonexistentKeyError
	require.ErrorAs(t, err, &nonexistent)
}

func TestDenseActivationAndBias(t *testing.T) {
	g := graph.NewGraph("activation")
	x := Input(g, "x", S(F32, shapes.AnyDim, 2))
	dense := NewDense("", 2).
		KernelInitializer(func(shape Shape) *tensors.Tensor {
			return tensors.FromValue([][]float32{{1, -1}, {1, -1}})
		}).
		BiasInitializer(initializer.Constant(0.5)).
		Activation("relu")
	y := dense.Apply(x)
	assert.Equal(t, "dense", y.Name())
	got := exec.MustExecuteOne(y, exec.MustNewFeedDict(exec.Feed{Node: x, Value: tensors.FromValue([][]float32{{1, 2}, {-3, 1}})}), exec.Options{})
	// Row 0: [3.5, -2.5] -> relu -> [3.5, 0]; Row 1: [-1.5, 2.5] -> [0, 2.5]
	assert.Equal(t, [][]float32{{3.5, 0}, {0, 2.5}}, got.Value())

	// Reusing the layer shares the weights, but requires the same number of input features.
	x3 := Input(g, "x3", S(F32, 4, 3))
	assert.Panics(t, func() { dense.Apply(x3) })
	y2 := dense.Apply(x)
	assert.Equal(t, "dense_1", y2.Name())
	assert.Len(t, dense.Weights(), 2)

	noBias := NewDense("no_bias", 3).UseBias(false)
	noBias.Apply(x)
	assert.Equal(t, 6, NumParams(noBias))
	assert.Panics(t, func() { NewDense("bad", 0) })
	assert.Panics(t, func() { NewDense("bad", 1).Activation("bogus") })
}

func TestSplitEvaluatedOnce(t *testing.T) {
	g := graph.NewGraph("split")
	x := Input(g, "x", S(F32, shapes.AnyDim, 4))
	split := NewSplit("split", 2)
	parts := split.Apply(x)
	require.Len(t, parts, 2)
	assert.Equal(t, "(Float32)[? 2]", parts[0].Shape().String())
	assert.Equal(t, "split:1", parts[1].Name())

	input := tensors.FromValue([][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}})
	feeds := exec.MustNewFeedDict(exec.Feed{Node: x, Value: input})
	got := exec.MustExecute(parts, feeds, exec.Options{})
	assert.Equal(t, 1, split.NumCalls())
	assert.Equal(t, [][]float32{{1, 2}, {5, 6}}, got[0].Value())
	assert.Equal(t, [][]float32{{3, 4}, {7, 8}}, got[1].Value())

	// Only one part requested: the other is released.
	baseline := tensors.NumLive()
	second := exec.MustExecuteOne(parts[1], feeds, exec.Options{})
	assert.Equal(t, baseline+1, tensors.NumLive())
	assert.Equal(t, 2, split.NumCalls())
	second.Finalize()

	assert.Panics(t, func() { NewSplit("bad", 3).Apply(x) })
}

func TestAddAndConcatenate(t *testing.T) {
	g := graph.NewGraph("merge")
	a := Input(g, "a", S(F32, shapes.AnyDim, 2))
	b := Input(g, "b", S(F32, 2, shapes.AnyDim))
	sum := NewAdd("").Apply(a, b)
	assert.Equal(t, "(Float32)[2 2]", sum.Shape().String())
	concat := NewConcatenate("", -1).Apply(a, sum)
	assert.Equal(t, "(Float32)[2 4]", concat.Shape().String())
	rows := NewConcatenate("rows", 0).Apply(a, b)
	assert.Equal(t, "(Float32)[? 2]", rows.Shape().String())

	feeds := exec.MustNewFeedDict(
		exec.Feed{Node: a, Value: tensors.FromValue([][]float32{{1, 2}, {3, 4}})},
		exec.Feed{Node: b, Value: tensors.FromValue([][]float32{{10, 20}, {30, 40}})})
	got := exec.MustExecute([]*graph.Node{sum, concat, rows}, feeds, exec.Options{})
	assert.Equal(t, [][]float32{{11, 22}, {33, 44}}, got[0].Value())
	assert.Equal(t, [][]float32{{1, 2, 11, 22}, {3, 4, 33, 44}}, got[1].Value())
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}, {10, 20}, {30, 40}}, got[2].Value())

	assert.Panics(t, func() { NewAdd("").Apply(a) })
	c := Input(g, "c", S(F32, 3))
	assert.Panics(t, func() { NewAdd("").Apply(a, c) })
	assert.Panics(t, func() { NewConcatenate("", 2).Apply(a, b) })
}

func TestDropout(t *testing.T) {
	g := graph.NewGraph("dropout")
	x := Input(g, "x", S(F32, shapes.AnyDim))
	dropout := NewDropout("", 0.5, 42)
	y := dropout.Apply(x)
	input := tensors.Ones(F32, 1000)
	feeds := exec.MustNewFeedDict(exec.Feed{Node: x, Value: input})

	// Inference: the input passes unchanged.
	got := exec.MustExecuteOne(y, feeds, exec.Options{})
	assert.Same(t, input, got)

	// Training: about half the values are dropped, the others scaled.
	got = exec.MustExecuteOne(y, feeds, exec.Options{Training: true})
	zeros := 0
	for _, v := range tensors.CopyFlatData[float32](got) {
		if v == 0 {
			zeros++
		} else {
			assert.Equal(t, float32(2), v)
		}
	}
	assert.Greater(t, zeros, 400)
	assert.Less(t, zeros, 600)
	assert.Equal(t, 2, dropout.NumCalls())
	assert.Panics(t, func() { NewDropout("bad", 1, 0) })
}

func TestMasking(t *testing.T) {
	g := graph.NewGraph("masking")
	x := Input(g, "x", S(F32, shapes.AnyDim, 3, 2))
	masking := NewMasking("", 0)
	masked := masking.Apply(x)
	dense := NewDense("dense", 1).KernelInitializer(initializer.One)
	var gotMask []uint8
	dense.SetCallHook(func(_ string, _ []*tensors.Tensor, opts graph.CallOptions) {
		gotMask = tensors.CopyFlatData[uint8](opts.Masks[0])
	})
	y := dense.Apply(masked)

	input := tensors.FromValue([][][]float32{{{1, 2}, {0, 0}, {3, 0}}})
	feeds := exec.MustNewFeedDict(exec.Feed{Node: x, Value: input})
	baseline := tensors.NumLive()
	got := exec.MustExecuteOne(y, feeds, exec.Options{})
	assert.Equal(t, []uint8{1, 0, 1}, gotMask)
	assert.True(t, xslices.SlicesInDelta([][][]float32{{{3}, {0}, {3}}}, got.Value(), xslices.Epsilon))
	// The mask was released along with the intermediate values.
	assert.Equal(t, baseline+1, tensors.NumLive())
	got.Finalize()
}

func TestAddMasks(t *testing.T) {
	g := graph.NewGraph("add_masks")
	a := Input(g, "a", S(F32, 3, 1))
	b := Input(g, "b", S(F32, 3, 1))
	sum := NewAdd("sum").Apply(NewMasking("mask_a", 0).Apply(a), NewMasking("mask_b", 0).Apply(b))
	var gotMask []uint8
	probe := NewDense("probe", 1).KernelInitializer(initializer.One)
	probe.SetCallHook(func(_ string, _ []*tensors.Tensor, opts graph.CallOptions) {
		gotMask = tensors.CopyFlatData[uint8](opts.Masks[0])
	})
	y := probe.Apply(sum)
	feeds := exec.MustNewFeedDict(
		exec.Feed{Node: a, Value: tensors.FromValue([][]float32{{1}, {0}, {2}})},
		exec.Feed{Node: b, Value: tensors.FromValue([][]float32{{1}, {1}, {0}})})
	got := exec.MustExecuteOne(y, feeds, exec.Options{})
	assert.Equal(t, []uint8{1, 0, 0}, gotMask)
	assert.Equal(t, [][]float32{{2}, {1}, {2}}, got.Value())
}

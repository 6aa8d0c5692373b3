// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerasgraph/pkg/core/exec"
	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
	"github.com/gomlx/kerasgraph/pkg/ml/initializer"
	"github.com/gomlx/kerasgraph/pkg/ml/layers"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMLP returns x -> hidden(relu, 4 units) -> output(1 unit), with all-ones kernels and zero biases.
func buildMLP(t *testing.T, opts ...Option) (*Model, *layers.Dense, *layers.Dense) {
	g := graph.NewGraph("mlp")
	x := layers.Input(g, "x", shapes.Make(dtypes.Float32, shapes.AnyDim, 2))
	hidden := layers.NewDense("hidden", 4).Activation("relu").KernelInitializer(initializer.One)
	output := layers.NewDense("output", 1).KernelInitializer(initializer.One)
	y := output.Apply(hidden.Apply(x))
	m, err := New("mlp", []*graph.Node{x}, []*graph.Node{y}, opts...)
	require.NoError(t, err)
	return m, hidden, output
}

func TestNew(t *testing.T) {
	g := graph.NewGraph("test")
	x := layers.Input(g, "x", shapes.Make(dtypes.Float32, shapes.AnyDim, 2))
	y := layers.NewDense("dense", 3).Apply(x)

	m, err := New("ok", []*graph.Node{x}, []*graph.Node{y})
	require.NoError(t, err)
	assert.Equal(t, "ok", m.Name())
	assert.Equal(t, g, m.Graph())
	assert.NotNil(t, m.Executor())

	_, err = New("no outputs", []*graph.Node{x}, nil)
	assert.Error(t, err)
	_, err = New("not a placeholder", []*graph.Node{y}, []*graph.Node{y})
	assert.ErrorContains(t, err, "not a placeholder")
	_, err = New("duplicate", []*graph.Node{x, x}, []*graph.Node{y})
	assert.ErrorContains(t, err, "more than once")
	_, err = New("nil input", []*graph.Node{nil}, []*graph.Node{y})
	assert.Error(t, err)

	other := graph.NewGraph("other")
	otherX := layers.Input(other, "x", shapes.Make(dtypes.Float32, 2))
	_, err = New("mixed graphs", []*graph.Node{otherX}, []*graph.Node{y})
	assert.ErrorContains(t, err, "belongs to graph")

	z := layers.Input(g, "z", shapes.Make(dtypes.Float32, shapes.AnyDim, 3))
	sum := layers.NewAdd("sum").Apply(y, z)
	_, err = New("disconnected", []*graph.Node{x}, []*graph.Node{sum})
	assert.ErrorContains(t, err, "graph disconnected")
	_, err = New("connected", []*graph.Node{z, x}, []*graph.Node{sum})
	assert.NoError(t, err)

	shared := exec.NewExecutor()
	m, err = New("shared", []*graph.Node{x}, []*graph.Node{y}, WithExecutor(shared))
	require.NoError(t, err)
	assert.Same(t, shared, m.Executor())
}

func TestPredict(t *testing.T) {
	m, hidden, output := buildMLP(t)

	// Go values are converted to tensors, which are released before returning.
	baseline := tensors.NumLive()
	outputs, err := m.Predict([][]float32{{1, 1}, {-1, -2}})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, [][]float32{{8}, {0}}, outputs[0].Value())
	assert.Equal(t, baseline+1, tensors.NumLive())
	assert.Equal(t, 1, hidden.NumCalls())
	assert.Equal(t, 1, output.NumCalls())
	outputs[0].Finalize()

	// Tensors given are not released, and float64 values are converted to the input's dtype.
	input := tensors.FromValue([][]float64{{0.5, 0.5}})
	baseline = tensors.NumLive()
	outputs, err = m.Predict(input)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{4}}, outputs[0].Value())
	assert.True(t, input.Ok())
	assert.Equal(t, baseline+1, tensors.NumLive())
	outputs[0].Finalize()
	input.Finalize()

	// Plans are cached across calls.
	assert.Equal(t, 1, m.Executor().PlanCache().Len())
}

func TestPredictErrors(t *testing.T) {
	m, hidden, _ := buildMLP(t)
	baseline := tensors.NumLive()

	_, err := m.Predict()
	assert.ErrorContains(t, err, "takes 1 inputs, 0 given")

	_, err = m.Predict([][]float32{{1, 2, 3}})
	var dimErr *exec.DimensionMismatchError
	assert.ErrorAs(t, err, &dimErr)

	_, err = m.Predict([][]float32{{1}, {2, 3}})
	assert.Error(t, err)

	assert.Equal(t, baseline, tensors.NumLive())
	assert.Equal(t, 0, hidden.NumCalls())
	assert.Panics(t, func() { _ = m.Call("not a tensor") })
}

func TestTrainStepAndParallelism(t *testing.T) {
	m, _, _ := buildMLP(t, WithParallelism(2))
	assert.Equal(t, 2, m.Executor().Parallelism())
	outputs, err := m.TrainStep([][]float32{{1, 0}})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{4}}, outputs[0].Value())
	outputs[0].Finalize()

	got := m.Call([][]float32{{2, 0}})
	assert.Equal(t, [][]float32{{8}}, got[0].Value())
	got[0].Finalize()
}

func TestExecuteIntermediate(t *testing.T) {
	m, hidden, output := buildMLP(t)
	x := m.Inputs()[0]
	hiddenNode := m.Outputs()[0].Inputs()[0]

	feeds := exec.MustNewFeedDict(exec.Feed{Node: x, Value: tensors.FromValue([][]float32{{1, 2}})})
	got, err := m.Execute([]*graph.Node{hiddenNode}, feeds, false)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 3, 3, 3}}, got[0].Value())
	assert.Equal(t, 1, hidden.NumCalls())
	assert.Equal(t, 0, output.NumCalls())
	got[0].Finalize()
}

func TestSummary(t *testing.T) {
	m, _, _ := buildMLP(t)
	assert.Len(t, m.Layers(), 2)
	assert.Equal(t, (2*4+4)+(4*1+1), m.NumParams())

	summary := m.Summary()
	fmt.Println(summary)
	assert.Contains(t, summary, `Model "mlp"`)
	assert.Contains(t, summary, "(Float32)[? 2]")
	assert.Contains(t, summary, "[12 params, 48 B]")
	assert.Contains(t, summary, "[5 params, 20 B]")
	assert.Contains(t, summary, "Total params: 17 (68 B)")
	assert.Equal(t, 6, len(strings.Split(strings.TrimSpace(summary), "\n")))

	// Weights are only created once the layer is applied, so the summary of an identical model is the same.
	m2 := must.M1(New("mlp", m.Inputs(), m.Outputs()))
	assert.Equal(t, summary, m2.Summary())
}

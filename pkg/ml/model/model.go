// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package model provides a functional Model: a graph with declared inputs and outputs, built with layers, that
// can be executed on concrete values.
//
// Example:
//
//	g := graph.NewGraph("mlp")
//	x := layers.Input(g, "x", shapes.Make(dtypes.Float32, shapes.AnyDim, 2))
//	h := layers.NewDense("hidden", 8).Activation("relu").Apply(x)
//	y := layers.NewDense("output", 1).Apply(h)
//	m := must.M1(model.New("mlp", []*graph.Node{x}, []*graph.Node{y}))
//	outputs, err := m.Predict([][]float32{{1, 2}, {3, 4}})
//	fmt.Println(m.Summary())
package model

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/kerasgraph/pkg/core/exec"
	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
	"github.com/gomlx/kerasgraph/pkg/ml/layers"
	"github.com/gomlx/kerasgraph/pkg/support/sets"
	"github.com/pkg/errors"
)

// Model holds the inputs and outputs of a graph, and the Executor used to evaluate them.
type Model struct {
	name            string
	graph           *graph.Graph
	inputs, outputs []*graph.Node
	executor        *exec.Executor
}

// Option configures a Model.
type Option func(m *Model)

// WithExecutor sets the Executor used by the model. By default, each model has its own Executor.
func WithExecutor(executor *exec.Executor) Option {
	return func(m *Model) { m.executor = executor }
}

// WithParallelism makes the model use its own Executor evaluating up to parallelism operations at a time.
func WithParallelism(parallelism int) Option {
	return func(m *Model) { m.executor = exec.NewExecutor(exec.WithParallelism(parallelism)) }
}

// New creates a model with the given inputs and outputs.
//
// Inputs must be placeholders (see layers.Input), all nodes must belong to the same graph, and the outputs must
// not depend on placeholders other than the inputs.
func New(name string, inputs, outputs []*graph.Node, opts ...Option) (*Model, error) {
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.Errorf("model %q: requires at least one input and one output, got %d inputs and %d outputs",
			name, len(inputs), len(outputs))
	}
	m := &Model{name: name, inputs: inputs, outputs: outputs}
	seen := sets.Make[graph.NodeId]()
	for ii, input := range inputs {
		if input == nil {
			return nil, errors.Errorf("model %q: input #%d is nil", name, ii)
		}
		if !input.IsPlaceholder() {
			return nil, errors.Errorf("model %q: input #%d (%q) is not a placeholder, it's produced by %s",
				name, ii, input.Name(), input.Operation())
		}
		if seen.Has(input.Id()) {
			return nil, errors.Errorf("model %q: input %q given more than once", name, input.Name())
		}
		seen.Insert(input.Id())
		if m.graph == nil {
			m.graph = input.Graph()
		} else if input.Graph() != m.graph {
			return nil, errors.Errorf("model %q: input %q belongs to graph %q, expected %q",
				name, input.Name(), input.Graph().Name(), m.graph.Name())
		}
	}
	for ii, output := range outputs {
		if output == nil {
			return nil, errors.Errorf("model %q: output #%d is nil", name, ii)
		}
		if output.Graph() != m.graph {
			return nil, errors.Errorf("model %q: output %q belongs to graph %q, expected %q",
				name, output.Name(), output.Graph().Name(), m.graph.Name())
		}
		for _, placeholder := range output.Placeholders() {
			if !seen.Has(placeholder.Id()) {
				return nil, errors.Errorf("model %q: graph disconnected, output %q depends on placeholder %q "+
					"which is not one of the model inputs", name, output.Name(), placeholder.Name())
			}
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.executor == nil {
		m.executor = exec.NewExecutor()
	}
	return m, nil
}

// Name of the model.
func (m *Model) Name() string { return m.name }

// Graph of the model.
func (m *Model) Graph() *graph.Graph { return m.graph }

// Inputs of the model.
func (m *Model) Inputs() []*graph.Node { return m.inputs }

// Outputs of the model.
func (m *Model) Outputs() []*graph.Node { return m.outputs }

// Executor used by the model.
func (m *Model) Executor() *exec.Executor { return m.executor }

// Predict evaluates the outputs of the model in inference mode, given one value per input, in order.
//
// Values can be *tensors.Tensor, or Go values (scalars or multidimensional slices) converted to tensors.
// Tensors given are not modified, and tensors created by Predict for its inputs are released before returning.
func (m *Model) Predict(values ...any) ([]*tensors.Tensor, error) {
	return m.execute(false, values)
}

// TrainStep is like Predict, but evaluates the outputs in training mode: layers like Dropout behave
// accordingly, and intermediate values are not released.
func (m *Model) TrainStep(values ...any) ([]*tensors.Tensor, error) {
	return m.execute(true, values)
}

// Call is like Predict, but panics on error.
func (m *Model) Call(values ...any) []*tensors.Tensor {
	outputs, err := m.Predict(values...)
	if err != nil {
		panic(err)
	}
	return outputs
}

func (m *Model) execute(training bool, values []any) ([]*tensors.Tensor, error) {
	if len(values) != len(m.inputs) {
		return nil, errors.Errorf("model %q takes %d inputs, %d given", m.name, len(m.inputs), len(values))
	}
	given := make([]*tensors.Tensor, len(values))
	owned := sets.Make[*tensors.Tensor]()
	releaseOwned := func(keep sets.Set[*tensors.Tensor]) {
		for t := range owned {
			if !keep.Has(t) {
				t.Finalize()
			}
		}
	}
	for ii, value := range values {
		if t, ok := value.(*tensors.Tensor); ok {
			given[ii] = t
			continue
		}
		t, err := tensors.FromAnyValue(value)
		if err != nil {
			releaseOwned(nil)
			return nil, errors.WithMessagef(err, "model %q: converting value for input %q", m.name, m.inputs[ii].Name())
		}
		given[ii] = t
		owned.Insert(t)
	}

	feeds := exec.MustNewFeedDict()
	for ii, input := range m.inputs {
		if err := feeds.Add(input, given[ii]); err != nil {
			feeds.Finalize()
			releaseOwned(nil)
			return nil, errors.WithMessagef(err, "model %q", m.name)
		}
		if stored, _ := feeds.GetValue(input); stored != given[ii] {
			owned.Insert(stored)
		}
	}
	outputs, err := m.executor.Execute(m.outputs, feeds, exec.Options{Training: training})
	if err != nil {
		releaseOwned(nil)
		return nil, errors.WithMessagef(err, "model %q", m.name)
	}
	releaseOwned(sets.MakeWith(outputs...))
	return outputs, nil
}

// Execute evaluates arbitrary fetches of the model's graph, given feeds. See exec.Executor.Execute.
func (m *Model) Execute(fetches []*graph.Node, feeds *exec.FeedDict, training bool) ([]*tensors.Tensor, error) {
	return m.executor.Execute(fetches, feeds, exec.Options{Training: training})
}

// Layers returns the layers with weights used in the model's graph, in the order they were first applied.
func (m *Model) Layers() []layers.WithWeights {
	var result []layers.WithWeights
	seen := sets.Make[layers.WithWeights]()
	for _, op := range m.graph.Operations() {
		layer, ok := op.Data().(layers.WithWeights)
		if !ok || seen.Has(layer) {
			continue
		}
		seen.Insert(layer)
		result = append(result, layer)
	}
	return result
}

// NumParams returns the total number of weights in the model.
func (m *Model) NumParams() int {
	var count int
	for _, layer := range m.Layers() {
		count += layers.NumParams(layer)
	}
	return count
}

// Summary returns a multi-line description of the model: its inputs, operations and number of weights.
func (m *Model) Summary() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Model %q (graph %q):\n", m.name, m.graph.Name())
	for _, input := range m.inputs {
		_, _ = fmt.Fprintf(&sb, "  input  %-20s %s\n", input.Name(), input.Shape())
	}
	var totalMemory uintptr
	seen := sets.Make[layers.WithWeights]()
	for _, op := range m.graph.Operations() {
		if op.Kind() == graph.Placeholder {
			continue
		}
		outputShapes := make([]string, op.NumOutputs())
		for ii, output := range op.Outputs() {
			outputShapes[ii] = output.Shape().String()
		}
		line := fmt.Sprintf("  %-6s %-20s %s", "op", op.Name(), strings.Join(outputShapes, ", "))
		if layer, ok := op.Data().(layers.WithWeights); ok && !seen.Has(layer) {
			seen.Insert(layer)
			var memory uintptr
			for _, w := range layer.Weights() {
				memory += w.Memory()
			}
			totalMemory += memory
			line += fmt.Sprintf("  [%s params, %s]", humanize.Comma(int64(layers.NumParams(layer))),
				humanize.Bytes(uint64(memory)))
		}
		sb.WriteString(line + "\n")
	}
	for _, output := range m.outputs {
		_, _ = fmt.Fprintf(&sb, "  output %-20s %s\n", output.Name(), output.Shape())
	}
	_, _ = fmt.Fprintf(&sb, "Total params: %s (%s)\n", humanize.Comma(int64(m.NumParams())),
		humanize.Bytes(uint64(totalMemory)))
	return sb.String()
}

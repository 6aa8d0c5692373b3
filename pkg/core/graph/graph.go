// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph holds the symbolic computation graph consumed by the executor (see package exec).
//
// The main elements in the package are:
//
//   - Graph owns the nodes and operations created on it, gives them unique names and keeps a version
//     stamp that changes whenever the graph is modified. Caches of execution plans use the version
//     to know when they are stale.
//
//   - Node represents a symbolic value: one tensor-shaped slot with a declared (possibly partial) shape.
//     A Node is created either as a placeholder (an external input that has to be fed) or as one of the
//     outputs of an Operation.
//
//   - Operation is what produces nodes. It has a kind (Placeholder or Computed), a list of input nodes,
//     one or more output nodes and, for Computed operations, the function that evaluates it on concrete
//     tensors.
//
// # Error Handling
//
// Like the rest of graph building, methods in this package "throw" errors with panic (using
// github.com/gomlx/exceptions), with meaningful error messages. Execution of the graph (package exec)
// returns errors instead.
package graph

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/google/uuid"
)

// Graph holds the nodes and operations of a symbolic computation.
//
// It is safe to build a graph concurrently, but nodes are immutable once created.
type Graph struct {
	name string

	mu         sync.Mutex
	operations []*Operation
	nodes      []*Node
	nameToNode map[string]*Node
	nameCounts map[string]int

	version atomic.Uint64
}

// nodeCount is used to give every Node a process-wide unique id.
var nodeCount atomic.Uint64

// NewGraph constructs an empty Graph. If name is empty, a unique name is generated.
func NewGraph(name string) *Graph {
	if name == "" {
		name = fmt.Sprintf("graph_%s", uuid.NewString())
	}
	return &Graph{
		name:       name,
		nameToNode: make(map[string]*Node),
		nameCounts: make(map[string]int),
	}
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// Version returns a stamp that changes every time an operation is added to the graph.
func (g *Graph) Version() uint64 { return g.version.Load() }

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Nodes returns a copy of the list of nodes in the graph, in creation order.
func (g *Graph) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Node(nil), g.nodes...)
}

// Operations returns a copy of the list of operations in the graph, in creation order.
func (g *Graph) Operations() []*Operation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Operation(nil), g.operations...)
}

// NodeByName returns the node with the given name, or nil if there is none.
func (g *Graph) NodeByName(name string) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nameToNode[name]
}

// AssertValid panics if g is nil.
func (g *Graph) AssertValid() {
	if g == nil {
		exceptions.Panicf("Graph is nil")
	}
}

// lockedUniqueName returns name if neither it nor the names of its numOutputs output nodes are used yet, or
// name suffixed with "_<n>" otherwise. The returned name and its output node names are registered as used.
// It must be called with g.mu locked.
func (g *Graph) lockedUniqueName(name string, numOutputs int) string {
	candidate := name
	suffix := g.nameCounts[name]
	for g.lockedIsNameUsed(candidate, numOutputs) {
		suffix = max(suffix, 1)
		candidate = fmt.Sprintf("%s_%d", name, suffix)
		suffix++
	}
	g.nameCounts[name] = max(suffix, 1)
	if candidate != name {
		g.nameCounts[candidate] = max(g.nameCounts[candidate], 1)
	}
	if numOutputs > 1 {
		for ii := range numOutputs {
			g.nameCounts[outputNodeName(candidate, ii)] = 1
		}
	}
	return candidate
}

func (g *Graph) lockedIsNameUsed(name string, numOutputs int) bool {
	if _, found := g.nameCounts[name]; found {
		return true
	}
	if numOutputs > 1 {
		for ii := range numOutputs {
			if _, found := g.nameCounts[outputNodeName(name, ii)]; found {
				return true
			}
		}
	}
	return false
}

func outputNodeName(opName string, outputIndex int) string {
	return fmt.Sprintf("%s:%d", opName, outputIndex)
}

// Placeholder creates an external input to the graph, that has to be fed with a value on execution.
// Its name is made unique within the graph.
func (g *Graph) Placeholder(name string, shape shapes.Shape) *Node {
	g.AssertValid()
	if name == "" {
		name = "input"
	}
	op := g.addOperation(Placeholder, name, nil, []shapes.Shape{shape}, nil)
	return op.outputs[0]
}

// NewOperation creates a Computed operation on the graph, with the given inputs and declared output shapes.
// The name is made unique within the graph. apply is called by the executor with the concrete values of
// inputs, and must return one tensor per output.
//
// Output nodes are named after the operation: "<name>" if there is only one output, or "<name>:<index>"
// otherwise.
//
// It panics if apply is nil, there are no outputs, or any input is nil or belongs to a different graph.
func (g *Graph) NewOperation(name string, inputs []*Node, outputShapes []shapes.Shape, apply ApplyFn) *Operation {
	g.AssertValid()
	if apply == nil {
		exceptions.Panicf("NewOperation(%q): apply function is nil", name)
	}
	if len(outputShapes) == 0 {
		exceptions.Panicf("NewOperation(%q): operations need at least one output", name)
	}
	for ii, input := range inputs {
		if input == nil {
			exceptions.Panicf("NewOperation(%q): input #%d is nil", name, ii)
		}
		if input.graph != g {
			exceptions.Panicf("NewOperation(%q): input #%d (%q) belongs to graph %q, not %q",
				name, ii, input.name, input.graph.name, g.name)
		}
	}
	if name == "" {
		name = "op"
	}
	return g.addOperation(Computed, name, inputs, outputShapes, apply)
}

func (g *Graph) addOperation(kind OpKind, name string, inputs []*Node, outputShapes []shapes.Shape, apply ApplyFn) *Operation {
	g.mu.Lock()
	defer g.mu.Unlock()
	op := &Operation{
		graph:  g,
		kind:   kind,
		name:   g.lockedUniqueName(name, len(outputShapes)),
		inputs: append([]*Node(nil), inputs...),
		apply:  apply,
	}
	op.outputs = make([]*Node, len(outputShapes))
	for ii, shape := range outputShapes {
		nodeName := op.name
		if len(outputShapes) > 1 {
			nodeName = outputNodeName(op.name, ii)
		}
		node := &Node{
			graph:       g,
			id:          NodeId(nodeCount.Add(1)),
			name:        nodeName,
			shape:       shape.Clone(),
			op:          op,
			outputIndex: ii,
		}
		op.outputs[ii] = node
		g.nodes = append(g.nodes, node)
		g.nameToNode[nodeName] = node
	}
	g.operations = append(g.operations, op)
	g.version.Add(1)
	return op
}

// String prints the graph, one operation per line.
func (g *Graph) String() string {
	g.mu.Lock()
	ops := append([]*Operation(nil), g.operations...)
	g.mu.Unlock()
	parts := make([]string, 0, len(ops)+1)
	parts = append(parts, fmt.Sprintf("Graph %q (version %d): %d operations", g.name, g.Version(), len(ops)))
	for _, op := range ops {
		parts = append(parts, "\t"+op.String())
	}
	return strings.Join(parts, "\n")
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
)

// NodeId is the process-wide unique identity of a Node.
type NodeId uint64

// Node represents a symbolic value in the computation graph: either a placeholder, or one of the outputs of an
// Operation.
//
// Nodes are immutable. They are never destroyed by the executor, which only creates and releases the concrete
// values associated with them.
type Node struct {
	graph *Graph
	id    NodeId
	name  string
	shape shapes.Shape

	// op that produced this node, and which of its outputs this node is.
	op          *Operation
	outputIndex int
}

// Graph that holds this Node.
func (n *Node) Graph() *Graph {
	if n == nil {
		return nil
	}
	return n.graph
}

// Id is the unique id of this node in the process.
func (n *Node) Id() NodeId { return n.id }

// Name of the node, unique within its Graph.
func (n *Node) Name() string { return n.name }

// Shape declared for the Node's value. It may be partially defined, see package shapes.
func (n *Node) Shape() shapes.Shape { return n.shape }

// DType returns the DType of the node's shape. It's dtypes.InvalidDType if unknown.
func (n *Node) DType() dtypes.DType { return n.shape.DType }

// Rank returns the rank of the node's shape, or -1 if unknown.
func (n *Node) Rank() int { return n.shape.Rank() }

// Operation that produced this node.
func (n *Node) Operation() *Operation { return n.op }

// OutputIndex is the index of this node among the outputs of its operation.
func (n *Node) OutputIndex() int { return n.outputIndex }

// Inputs are the input nodes of the operation that produced this node.
func (n *Node) Inputs() []*Node { return n.op.inputs }

// IsPlaceholder returns whether the node is an external input, that needs to be fed.
func (n *Node) IsPlaceholder() bool { return n.op.kind == Placeholder }

// AssertValid panics if n is nil.
func (n *Node) AssertValid() {
	if n == nil {
		exceptions.Panicf("Node is nil")
	}
	n.graph.AssertValid()
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	str := fmt.Sprintf("%q %s", n.name, n.shape)
	if n.shape.IsFullyDefined() {
		str = fmt.Sprintf("%s - mem: %s", str, humanize.Bytes(uint64(n.shape.Memory())))
	}
	return str
}

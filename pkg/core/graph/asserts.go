// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
)

// This file implements various asserts (checks) that can be done on the Node.
// They are derived from the asserts in the shapes package, and check the declared (symbolic) shape.

// AssertDims checks whether the declared shape has the given dimensions and rank.
// A value of -1 (shapes.AnyDim) in dimensions means it can take any value and is not checked.
// An axis declared as shapes.AnyDim only matches -1.
//
// If the shape is not what was expected, it panics with an error message.
//
// This often serves as documentation for the code when building a graph: it allows the reader of the code to
// corroborate what is the expected shape of a node.
//
// Example:
//
//	h := layers.NewDense("hidden", 32).Apply(x)
//	h.AssertDims(-1, 32) // Any batch size, 32 features.
func (n *Node) AssertDims(dimensions ...int) {
	n.AssertValid()
	if err := n.shape.CheckDims(dimensions...); err != nil {
		exceptions.Panicf("node %q: AssertDims(%v): %v", n.name, dimensions, err)
	}
}

// AssertRank checks whether the declared shape has the given rank.
// If the rank is not what was expected, or it is unknown, it panics with an error message.
func (n *Node) AssertRank(rank int) {
	n.AssertValid()
	if n.shape.Rank() != rank {
		exceptions.Panicf("node %q: AssertRank(%d): shape %s has rank %d", n.name, rank, n.shape, n.shape.Rank())
	}
}

// AssertScalar checks whether the declared shape is a scalar.
func (n *Node) AssertScalar() {
	n.AssertValid()
	if !n.shape.IsScalar() {
		exceptions.Panicf("node %q: AssertScalar(): shape %s is not a scalar", n.name, n.shape)
	}
}

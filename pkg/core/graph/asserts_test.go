// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	. "github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/stretchr/testify/require"
)

func TestAsserts(t *testing.T) {
	g := NewGraph("TestAssertGraph")
	node := g.Placeholder("node", shapes.Make(dtypes.Float32, 3, 2))
	batch := g.Placeholder("batch", shapes.Make(dtypes.Float32, shapes.AnyDim, 2))
	scalar := g.Placeholder("scalar", shapes.Make(dtypes.Int64))
	unknown := g.Placeholder("unknown", shapes.UnknownRank(dtypes.InvalidDType))

	// Check true asserts.
	require.NotPanics(t, func() { node.AssertDims(3, 2) })
	require.NotPanics(t, func() { node.AssertDims(-1, 2) })
	require.NotPanics(t, func() { node.AssertDims(3, -1) })
	require.NotPanics(t, func() { node.AssertDims(-1, -1) })
	require.NotPanics(t, func() { batch.AssertDims(-1, 2) })
	require.NotPanics(t, func() { node.AssertRank(2) })
	require.NotPanics(t, func() { scalar.AssertScalar() })
	require.NotPanics(t, func() { scalar.AssertRank(0) })

	// Check false asserts.
	require.Panics(t, func() { node.AssertDims(3) })     // Not enough dimensions
	require.Panics(t, func() { node.AssertDims(-1, 1) }) // One dimension is wrong
	require.Panics(t, func() { node.AssertDims(4, 2) })  // One dimension is wrong
	require.Panics(t, func() { batch.AssertDims(5, 2) }) // Declared as any
	require.Panics(t, func() { node.AssertRank(3) })     // Wrong rank
	require.Panics(t, func() { node.AssertScalar() })    // Wrong rank
	require.Panics(t, func() { scalar.AssertRank(1) })   // Wrong rank
	require.Panics(t, func() { unknown.AssertRank(0) })  // Unknown rank
	require.Panics(t, func() { unknown.AssertScalar() }) // Unknown rank
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package exec

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeNames(nodes []*graph.Node) []string {
	names := make([]string, len(nodes))
	for ii, node := range nodes {
		names[ii] = node.Name()
	}
	return names
}

// assertTopological checks that every node in plan.Sorted comes after its inputs, except those fed.
func assertTopological(t *testing.T, plan *Plan, feeds *FeedDict) {
	position := make(map[graph.NodeId]int)
	for ii, node := range plan.Sorted {
		_, duplicate := position[node.Id()]
		require.False(t, duplicate, "node %q listed twice", node.Name())
		position[node.Id()] = ii
	}
	for ii, node := range plan.Sorted {
		for _, input := range node.Inputs() {
			if feeds.HasKey(input) {
				continue
			}
			inputPos, found := position[input.Id()]
			require.True(t, found, "input %q of %q missing from plan", input.Name(), node.Name())
			require.Less(t, inputPos, ii, "input %q listed after %q", input.Name(), node.Name())
		}
	}
}

func TestAnalyze(t *testing.T) {
	g := graph.NewGraph("diamond")
	x := g.Placeholder("x", shapes.Make(dtypes.Float32, 2))
	y := unaryOp(g, "y", x, plusOne, nil)
	z1 := unaryOp(g, "z1", y, double, nil)
	z2 := unaryOp(g, "z2", y, plusOne, nil)
	twice := addOp(g, "twice", z1, z1)
	_ = unaryOp(g, "unused", x, double, nil)

	// Nothing fed: the placeholder is part of the plan.
	empty := MustNewFeedDict()
	plan := Analyze([]*graph.Node{z1, z2}, empty)
	assert.Equal(t, []string{"x", "y", "z1", "z2"}, nodeNames(plan.Sorted))
	assertTopological(t, plan, empty)
	assert.Equal(t, map[graph.NodeId]int{x.Id(): 1, y.Id(): 2}, plan.RecipientCounts)

	// x fed.
	feeds := MustNewFeedDict(Feed{Node: x, Value: tensors.Ones(dtypes.Float32, 2)})
	plan = Analyze([]*graph.Node{z2, twice}, feeds)
	assert.Equal(t, []string{"y", "z2", "z1", "twice"}, nodeNames(plan.Sorted))
	assertTopological(t, plan, feeds)
	// The same input used twice by one operation counts once.
	assert.Equal(t, map[graph.NodeId]int{x.Id(): 1, y.Id(): 2, z1.Id(): 1}, plan.RecipientCounts)

	// y fed: x is not needed anymore.
	feeds = MustNewFeedDict(Feed{Node: y, Value: tensors.Ones(dtypes.Float32, 2)})
	plan = Analyze([]*graph.Node{z1, z2, y}, feeds)
	assert.Equal(t, []string{"z1", "z2"}, nodeNames(plan.Sorted))
	assert.Equal(t, map[graph.NodeId]int{y.Id(): 2}, plan.RecipientCounts)
}

func TestAnalyzeDeepGraph(t *testing.T) {
	// Deep enough that a recursive traversal would be a concern.
	g := graph.NewGraph("deep")
	x := g.Placeholder("x", shapes.Make(dtypes.Float32))
	node := x
	const depth = 10_000
	for ii := range depth {
		node = unaryOp(g, fmt.Sprintf("n%d", ii), node, plusOne, nil)
	}
	feeds := MustNewFeedDict(Feed{Node: x, Value: tensors.FromScalar(float32(0))})
	plan := Analyze([]*graph.Node{node}, feeds)
	require.Len(t, plan.Sorted, depth)
	assertTopological(t, plan, feeds)

	got := MustExecuteOne(node, feeds, Options{})
	assert.Equal(t, float32(depth), tensors.ToScalar[float32](got))
	got.Finalize()
}

func TestPlanCache(t *testing.T) {
	g := graph.NewGraph("cache")
	x := g.Placeholder("x", shapes.Make(dtypes.Float32, 2))
	y := unaryOp(g, "y", x, plusOne, nil)
	z := unaryOp(g, "z", y, double, nil)
	feeds := MustNewFeedDict(Feed{Node: x, Value: tensors.Ones(dtypes.Float32, 2)})
	cache := NewPlanCache(0)
	assert.Equal(t, DefaultPlanCacheMaxEntries, cache.MaxEntries())

	// Plans returned are independent clones.
	first := cache.Get([]*graph.Node{z}, feeds)
	first.RecipientCounts[y.Id()] = -100
	second := cache.Get([]*graph.Node{z}, feeds)
	assert.Equal(t, 1, second.RecipientCounts[y.Id()])
	assert.Equal(t, 1, cache.Misses())
	assert.Equal(t, 1, cache.Hits())
	assert.Equal(t, 1, cache.Len())

	// Different feeds make a different plan.
	yFeeds := MustNewFeedDict(Feed{Node: y, Value: tensors.Ones(dtypes.Float32, 2)})
	plan := cache.Get([]*graph.Node{z}, yFeeds)
	assert.Equal(t, []string{"z"}, nodeNames(plan.Sorted))
	assert.Equal(t, 2, cache.Misses())
	assert.Equal(t, 2, cache.Len())

	// Changing the graph invalidates the plans.
	_ = unaryOp(g, "w", z, double, nil)
	_ = cache.Get([]*graph.Node{z}, feeds)
	assert.Equal(t, 3, cache.Misses())
	assert.Equal(t, 2, cache.Len())
	_ = cache.Get([]*graph.Node{z}, feeds)
	assert.Equal(t, 2, cache.Hits())

	cache.Reset()
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 0, cache.Hits())
	assert.Equal(t, 0, cache.Misses())
}

func TestPlanCacheEviction(t *testing.T) {
	g := graph.NewGraph("eviction")
	x := g.Placeholder("x", shapes.Make(dtypes.Float32, 2))
	var nodes []*graph.Node
	for ii := range 4 {
		nodes = append(nodes, unaryOp(g, fmt.Sprintf("n%d", ii), x, plusOne, nil))
	}
	feeds := MustNewFeedDict(Feed{Node: x, Value: tensors.Ones(dtypes.Float32, 2)})
	cache := NewPlanCache(2)
	for _, node := range nodes[:3] {
		_ = cache.Get([]*graph.Node{node}, feeds)
	}
	assert.Equal(t, 2, cache.Len())

	// nodes[0] was evicted, nodes[2] is still there.
	_ = cache.Get([]*graph.Node{nodes[2]}, feeds)
	assert.Equal(t, 1, cache.Hits())
	_ = cache.Get([]*graph.Node{nodes[0]}, feeds)
	assert.Equal(t, 4, cache.Misses())

	cache.SetMaxEntries(1)
	assert.Equal(t, 1, cache.Len())
	_ = cache.Get([]*graph.Node{nodes[0]}, feeds)
	assert.Equal(t, 2, cache.Hits())
}

func TestExecutorSharedPlanCache(t *testing.T) {
	g := graph.NewGraph("shared")
	x := g.Placeholder("x", shapes.Make(dtypes.Float32, 2))
	y := unaryOp(g, "y", x, plusOne, nil)
	input := tensors.Ones(dtypes.Float32, 2)
	feeds := MustNewFeedDict(Feed{Node: x, Value: input})

	cache := NewPlanCache(10)
	e1 := NewExecutor(WithPlanCache(cache))
	e2 := NewExecutor(WithPlanCache(cache), WithParallelism(2))
	assert.Same(t, cache, e2.PlanCache())
	r1 := e1.MustExecuteOne(y, feeds, Options{})
	r2 := e2.MustExecuteOne(y, feeds, Options{})
	assert.True(t, r1.Equal(r2))
	assert.Equal(t, 1, cache.Misses())
	assert.Equal(t, 1, cache.Hits())
	finalizeAll(r1, r2, input)
}

func TestPlanCacheSeparatorsInNames(t *testing.T) {
	g := graph.NewGraph("separators")
	x := g.Placeholder("x", shapes.Make(dtypes.Float32, 2))
	a := unaryOp(g, "a", x, plusOne, nil)
	b := unaryOp(g, "b", x, double, nil)
	ab := unaryOp(g, "a,b", x, func(v float64) float64 { return v + 10 }, nil)
	input := tensors.Ones(dtypes.Float32, 2)
	feeds := MustNewFeedDict(Feed{Node: x, Value: input})
	executor := NewExecutor()

	pair := executor.MustExecute([]*graph.Node{a, b}, feeds, Options{})
	single := executor.MustExecuteOne(ab, feeds, Options{})
	assert.Equal(t, []float32{11, 11}, tensors.CopyFlatData[float32](single))
	assert.Equal(t, 2, executor.PlanCache().Misses())
	assert.Equal(t, 0, executor.PlanCache().Hits())
	finalizeAll(append(pair, single, input)...)
}

func TestFinishWithMissingFetch(t *testing.T) {
	g := graph.NewGraph("missing")
	x := g.Placeholder("x", shapes.Make(dtypes.Float32, 2))
	y := unaryOp(g, "y", x, plusOne, nil)
	feeds := MustNewFeedDict()
	run := newExecution([]*graph.Node{y}, feeds, &Plan{RecipientCounts: make(map[graph.NodeId]int)}, Options{})
	outputs, err := run.finish()
	require.Error(t, err)
	assert.Nil(t, outputs)
	assert.Contains(t, err.Error(), `"y"`)
}

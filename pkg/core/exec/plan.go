// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package exec

import (
	"maps"

	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/support/sets"
)

// Plan is the result of the dependency analysis for a set of fetches, given the nodes already fed.
type Plan struct {
	// Sorted lists the nodes that need evaluation, in an order where every node comes after its inputs.
	// Fed nodes are leaves, and are not included.
	Sorted []*graph.Node

	// RecipientCounts maps a node id to the number of distinct operations in Sorted that take it as input.
	// The executor decrements the counts as it goes, to know when a value is no longer needed.
	RecipientCounts map[graph.NodeId]int
}

// Clone returns a plan sharing Sorted, but with its own copy of RecipientCounts, which is mutated during execution.
func (p *Plan) Clone() *Plan {
	return &Plan{
		Sorted:          p.Sorted,
		RecipientCounts: maps.Clone(p.RecipientCounts),
	}
}

// Analyze computes the Plan to evaluate fetches given the values available in feeds.
//
// It's a depth-first traversal using an explicit stack, so it works for arbitrarily deep graphs. The traversal
// stops at fed nodes. Sibling outputs of a multi-output operation are all evaluated by one call of the operation,
// so recipients are counted per operation, not per node.
func Analyze(fetches []*graph.Node, feeds *FeedDict) *Plan {
	plan := &Plan{RecipientCounts: make(map[graph.NodeId]int)}
	visited := sets.Make[graph.NodeId]()
	for _, node := range feeds.Nodes() {
		visited.Insert(node.Id())
	}
	recipients := make(map[graph.NodeId]sets.Set[*graph.Operation])

	var stack []*graph.Node
	for _, fetch := range fetches {
		if visited.Has(fetch.Id()) {
			continue
		}
		stack = append(stack[:0], fetch)

		// marks holds the stack positions of nodes whose inputs have been pushed: when such a node is at
		// the top of the stack again, all of its inputs are done.
		var marks []int
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if visited.Has(top.Id()) {
				stack = stack[:len(stack)-1]
				continue
			}
			topIsMarked := len(marks) > 0 && marks[len(marks)-1] == len(stack)-1
			inputs := top.Inputs()
			if len(inputs) == 0 || topIsMarked {
				stack = stack[:len(stack)-1]
				plan.Sorted = append(plan.Sorted, top)
				visited.Insert(top.Id())
				if topIsMarked {
					marks = marks[:len(marks)-1]
				}
				continue
			}
			marks = append(marks, len(stack)-1)
			recipient := top.Operation()
			for _, input := range inputs {
				inputRecipients, found := recipients[input.Id()]
				if !found {
					inputRecipients = sets.Make[*graph.Operation]()
					recipients[input.Id()] = inputRecipients
				}
				inputRecipients.Insert(recipient)
				if !visited.Has(input.Id()) {
					stack = append(stack, input)
				}
			}
		}
	}
	for id, inputRecipients := range recipients {
		plan.RecipientCounts[id] = len(inputRecipients)
	}
	return plan
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

// This file defines methods that allow for introspection of the graph.
//
// The API is limited -- because we want flexibility to change the implementation without concerns on breaking
// compatibility.

// Placeholders returns the placeholders the node depends on, in the order they are first reached by a
// depth-first traversal of the inputs. If n is itself a placeholder, it returns only n.
//
// The traversal uses an explicit stack, so it works for arbitrarily deep graphs.
func (n *Node) Placeholders() []*Node {
	var placeholders []*Node
	visited := make(map[NodeId]bool)
	stack := []*Node{n}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[node.id] {
			continue
		}
		visited[node.id] = true
		if node.IsPlaceholder() {
			placeholders = append(placeholders, node)
			continue
		}
		// Pushed in reverse, so the first input is visited first.
		inputs := node.op.inputs
		for ii := len(inputs) - 1; ii >= 0; ii-- {
			if !visited[inputs[ii].id] {
				stack = append(stack, inputs[ii])
			}
		}
	}
	return placeholders
}

// DependsOn returns whether the value of n depends on the value of other, that is, whether other is n or is
// reachable from n's inputs.
func (n *Node) DependsOn(other *Node) bool {
	if n == other {
		return true
	}
	visited := make(map[NodeId]bool)
	stack := []*Node{n}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == other {
			return true
		}
		if visited[node.id] {
			continue
		}
		visited[node.id] = true
		stack = append(stack, node.op.inputs...)
	}
	return false
}

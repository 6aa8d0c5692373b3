// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package exec

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerasgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ErrEmptyFetches is returned when an execution is requested with no fetches.
var ErrEmptyFetches = errors.New("no fetches requested for execution")

// DuplicateKeyError is returned when feeding a node already present in a FeedDict.
type DuplicateKeyError struct {
	Name string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key: node %q already fed", e.Name)
}

// NonexistentKeyError is returned when looking up a node or name absent from a FeedDict.
type NonexistentKeyError struct {
	Name string
}

func (e *NonexistentKeyError) Error() string {
	return fmt.Sprintf("node %q is not in the feed dict", e.Name)
}

// RankMismatchError is returned when a fed value's rank differs from the node's declared rank.
type RankMismatchError struct {
	Name                  string
	NodeRank, ValueRank   int
	NodeShape, ValueShape shapes.Shape
}

func (e *RankMismatchError) Error() string {
	return fmt.Sprintf("the rank of feed (%d, shape %s) does not match the rank of node %q (%d, shape %s)",
		e.ValueRank, e.ValueShape, e.Name, e.NodeRank, e.NodeShape)
}

// DimensionMismatchError is returned when a fed value's dimension differs from a dimension declared by the node.
type DimensionMismatchError struct {
	Name                  string
	Axis                  int
	NodeDim, ValueDim     int
	NodeShape, ValueShape shapes.Shape
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("axis %d of the feed (dimension %d, shape %s) is incompatible with that of node %q "+
		"(dimension %d, shape %s)", e.Axis, e.ValueDim, e.ValueShape, e.Name, e.NodeDim, e.NodeShape)
}

// TypeCastError is returned when a fed value can't be converted to the node's declared dtype.
type TypeCastError struct {
	Name     string
	From, To dtypes.DType
	Cause    error
}

func (e *TypeCastError) Error() string {
	return fmt.Sprintf("the dtype of the feed (%s) can not be cast to the dtype of node %q (%s): %v",
		e.From, e.Name, e.To, e.Cause)
}

// Unwrap returns the conversion error.
func (e *TypeCastError) Unwrap() error { return e.Cause }

// MissingFeedError is returned when execution requires a placeholder that was not fed.
type MissingFeedError struct {
	Placeholder string
}

func (e *MissingFeedError) Error() string {
	return fmt.Sprintf("missing a feed value for placeholder %q", e.Placeholder)
}

// InvalidFetchError is returned for malformed fetches: nil nodes, or nodes from different graphs.
type InvalidFetchError struct {
	Index  int
	Reason string
}

func (e *InvalidFetchError) Error() string {
	return fmt.Sprintf("invalid fetch #%d: %s", e.Index, e.Reason)
}

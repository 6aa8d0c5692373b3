// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package exec

import (
	"slices"

	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/core/tensors"
	"github.com/gomlx/kerasgraph/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Feed pairs a node with a concrete value (and optionally a mask) for it.
type Feed struct {
	Node  *graph.Node
	Value *tensors.Tensor
	Mask  *tensors.Tensor
}

type feedEntry struct {
	node  *graph.Node
	value *tensors.Tensor
	mask  *tensors.Tensor

	// converted is set if value was created by the FeedDict, by converting the value given to the node's dtype.
	converted bool
}

// FeedDict maps nodes to the concrete values fed for them.
//
// Values are checked for compatibility with the node's declared shape and dtype when added (see Add).
// A FeedDict is not safe for concurrent mutation.
type FeedDict struct {
	entries    map[graph.NodeId]*feedEntry
	nameToNode map[string]*graph.Node
	order      []*graph.Node
}

// NewFeedDict creates a FeedDict with the given feeds.
func NewFeedDict(feeds ...Feed) (*FeedDict, error) {
	fd := &FeedDict{
		entries:    make(map[graph.NodeId]*feedEntry, len(feeds)),
		nameToNode: make(map[string]*graph.Node, len(feeds)),
	}
	for _, feed := range feeds {
		if err := fd.AddFeed(feed); err != nil {
			return nil, err
		}
	}
	return fd, nil
}

// MustNewFeedDict is like NewFeedDict, but panics on error.
func MustNewFeedDict(feeds ...Feed) *FeedDict {
	fd, err := NewFeedDict(feeds...)
	if err != nil {
		panic(err)
	}
	return fd
}

// Clone returns a snapshot of the FeedDict: it holds the same values, but further additions to either one
// don't affect the other. Values are shared, not copied.
func (fd *FeedDict) Clone() *FeedDict {
	clone := &FeedDict{
		entries:    make(map[graph.NodeId]*feedEntry, len(fd.entries)),
		nameToNode: make(map[string]*graph.Node, len(fd.nameToNode)),
		order:      slices.Clone(fd.order),
	}
	for id, entry := range fd.entries {
		clone.entries[id] = entry
	}
	for name, node := range fd.nameToNode {
		clone.nameToNode[name] = node
	}
	return clone
}

// Add feeds value to node.
//
// It fails with DuplicateKeyError if node was already fed, and with RankMismatchError or DimensionMismatchError
// if the value's shape is not compatible with the node's declared shape. If the node declares a dtype different
// from the value's, the value is converted (the FeedDict then holds the converted value), and if the conversion
// fails it returns a TypeCastError.
func (fd *FeedDict) Add(node *graph.Node, value *tensors.Tensor) error {
	_, err := fd.add(node, value, nil)
	return err
}

// AddWithMask is like Add, but also sets a mask for the node.
func (fd *FeedDict) AddWithMask(node *graph.Node, value, mask *tensors.Tensor) error {
	_, err := fd.add(node, value, mask)
	return err
}

// AddFeed adds the given feed. See Add.
func (fd *FeedDict) AddFeed(feed Feed) error {
	_, err := fd.add(feed.Node, feed.Value, feed.Mask)
	return err
}

// MustAdd is like Add, but it panics on error, and returns the FeedDict itself, so calls can be cascaded.
func (fd *FeedDict) MustAdd(node *graph.Node, value *tensors.Tensor) *FeedDict {
	if err := fd.Add(node, value); err != nil {
		panic(err)
	}
	return fd
}

// add checks and inserts the value, returning the value actually stored: it's different from value if a dtype
// conversion was needed.
func (fd *FeedDict) add(node *graph.Node, value, mask *tensors.Tensor) (*tensors.Tensor, error) {
	if node == nil {
		return nil, errors.New("cannot feed a nil node")
	}
	if fd.HasKey(node) {
		return nil, errors.WithStack(&DuplicateKeyError{Name: node.Name()})
	}
	stored, err := checkFeedCompatibility(node, value)
	if err != nil {
		return nil, err
	}
	fd.set(node, stored, mask, stored != value)
	return stored, nil
}

// set inserts a value already checked for compatibility.
func (fd *FeedDict) set(node *graph.Node, value, mask *tensors.Tensor, converted bool) {
	fd.entries[node.Id()] = &feedEntry{node: node, value: value, mask: mask, converted: converted}
	fd.nameToNode[node.Name()] = node
	fd.order = append(fd.order, node)
}

// checkFeedCompatibility verifies value can be fed to node, and returns the value converted to the node's dtype
// if needed.
func checkFeedCompatibility(node *graph.Node, value *tensors.Tensor) (*tensors.Tensor, error) {
	if !value.Ok() {
		return nil, errors.Errorf("invalid value (nil or finalized) fed to node %q", node.Name())
	}
	nodeShape, valueShape := node.Shape(), value.Shape()
	if !nodeShape.RankUnknown {
		if nodeShape.Rank() != valueShape.Rank() {
			return nil, errors.WithStack(&RankMismatchError{
				Name:     node.Name(),
				NodeRank: nodeShape.Rank(), ValueRank: valueShape.Rank(),
				NodeShape: nodeShape, ValueShape: valueShape,
			})
		}
		for axis, nodeDim := range nodeShape.Dimensions {
			valueDim := valueShape.Dimensions[axis]
			if nodeDim >= 0 && nodeDim != valueDim {
				return nil, errors.WithStack(&DimensionMismatchError{
					Name: node.Name(), Axis: axis,
					NodeDim: nodeDim, ValueDim: valueDim,
					NodeShape: nodeShape, ValueShape: valueShape,
				})
			}
		}
	}
	if !nodeShape.HasDType() || nodeShape.DType == value.DType() {
		return value, nil
	}
	converted, err := tensors.ConvertDType(value, nodeShape.DType)
	if err != nil {
		return nil, errors.WithStack(&TypeCastError{
			Name: node.Name(), From: value.DType(), To: nodeShape.DType, Cause: err,
		})
	}
	klog.V(2).Infof("feed for node %q converted from %s to %s", node.Name(), value.DType(), nodeShape.DType)
	return converted, nil
}

// HasKey returns whether node was fed.
func (fd *FeedDict) HasKey(node *graph.Node) bool {
	if node == nil {
		return false
	}
	_, found := fd.entries[node.Id()]
	return found
}

// HasName returns whether a node with the given name was fed.
func (fd *FeedDict) HasName(name string) bool {
	_, found := fd.nameToNode[name]
	return found
}

// GetValue returns the value fed for node, or a NonexistentKeyError.
func (fd *FeedDict) GetValue(node *graph.Node) (*tensors.Tensor, error) {
	entry, err := fd.entry(node)
	if err != nil {
		return nil, err
	}
	return entry.value, nil
}

// GetValueByName returns the value fed for the node with the given name, or a NonexistentKeyError.
func (fd *FeedDict) GetValueByName(name string) (*tensors.Tensor, error) {
	node, found := fd.nameToNode[name]
	if !found {
		return nil, errors.WithStack(&NonexistentKeyError{Name: name})
	}
	return fd.GetValue(node)
}

// GetMask returns the mask fed for node, nil if it has no mask, or a NonexistentKeyError if the node was not fed.
func (fd *FeedDict) GetMask(node *graph.Node) (*tensors.Tensor, error) {
	entry, err := fd.entry(node)
	if err != nil {
		return nil, err
	}
	return entry.mask, nil
}

func (fd *FeedDict) entry(node *graph.Node) (*feedEntry, error) {
	if node == nil {
		return nil, errors.New("cannot look up a nil node")
	}
	entry, found := fd.entries[node.Id()]
	if !found {
		return nil, errors.WithStack(&NonexistentKeyError{Name: node.Name()})
	}
	return entry, nil
}

// Names of the nodes fed, in insertion order.
func (fd *FeedDict) Names() []string {
	return xslices.Map(fd.order, (*graph.Node).Name)
}

// Nodes fed, in insertion order.
func (fd *FeedDict) Nodes() []*graph.Node {
	return slices.Clone(fd.order)
}

// Len returns the number of nodes fed.
func (fd *FeedDict) Len() int { return len(fd.order) }

// DisposeMasks finalizes all masks held.
func (fd *FeedDict) DisposeMasks() {
	for _, entry := range fd.entries {
		entry.mask.Finalize()
	}
}

// Finalize releases the values the FeedDict created itself, when converting fed values to the nodes' dtypes.
// Values given by the caller are not touched.
func (fd *FeedDict) Finalize() {
	for _, entry := range fd.entries {
		if entry.converted {
			entry.value.Finalize()
		}
	}
}

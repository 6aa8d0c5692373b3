// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package exec

import (
	"container/list"
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/kerasgraph/pkg/core/graph"
	"github.com/gomlx/kerasgraph/pkg/support/sets"
	"k8s.io/klog/v2"
)

// DefaultPlanCacheMaxEntries is the default number of plans kept by a PlanCache.
const DefaultPlanCacheMaxEntries = 100

// PlanCache memoizes Plans, since the same combination of fetches and feeds recurs across training steps.
//
// Plans are keyed by graph, the names of the fetches and the names of the nodes fed. Each plan records the
// graph version it was computed for, and is recomputed if the graph changed since.
// The cache holds at most MaxEntries plans, evicting the least recently used.
//
// It is safe for concurrent use, and plans returned are always clones, so the executor can mutate their
// recipient counts.
type PlanCache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[planKey]*list.Element
	lru        *list.List // Front is the most recently used.

	hits, misses int
}

type planKey struct {
	g         *graph.Graph
	signature string
}

type planCacheEntry struct {
	key     planKey
	version uint64
	plan    *Plan
}

// NewPlanCache creates a PlanCache with the given maximum number of entries.
// If maxEntries <= 0, DefaultPlanCacheMaxEntries is used.
func NewPlanCache(maxEntries int) *PlanCache {
	if maxEntries <= 0 {
		maxEntries = DefaultPlanCacheMaxEntries
	}
	return &PlanCache{
		maxEntries: maxEntries,
		entries:    make(map[planKey]*list.Element),
		lru:        list.New(),
	}
}

// SetMaxEntries changes the maximum number of plans kept, evicting plans if needed.
// It returns the cache itself, so calls can be cascaded.
func (c *PlanCache) SetMaxEntries(maxEntries int) *PlanCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	if maxEntries <= 0 {
		maxEntries = DefaultPlanCacheMaxEntries
	}
	c.maxEntries = maxEntries
	c.lockedEvict()
	return c
}

// MaxEntries returns the maximum number of plans kept.
func (c *PlanCache) MaxEntries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxEntries
}

// planSignature builds the key for the fetches and feeds: fetch node ids in request order, and fed node ids sorted.
// Node names are not used, since they may contain any character.
func planSignature(fetches []*graph.Node, feeds *FeedDict) string {
	var sb strings.Builder
	for ii, fetch := range fetches {
		if ii > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(fetch.Id()), 10))
	}
	sb.WriteByte('|')
	fedIds := sets.Make[graph.NodeId](feeds.Len())
	for _, node := range feeds.Nodes() {
		fedIds.Insert(node.Id())
	}
	for ii, id := range sets.Sorted(fedIds) {
		if ii > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	return sb.String()
}

// Get returns a clone of the plan for fetches given feeds, computing it with Analyze if not cached yet, or if the
// graph changed since it was computed.
//
// All fetches must belong to the same graph, and there must be at least one.
func (c *PlanCache) Get(fetches []*graph.Node, feeds *FeedDict) *Plan {
	g := fetches[0].Graph()
	key := planKey{g: g, signature: planSignature(fetches, feeds)}
	version := g.Version()

	c.mu.Lock()
	defer c.mu.Unlock()
	if element, found := c.entries[key]; found {
		entry := element.Value.(*planCacheEntry)
		if entry.version == version {
			c.hits++
			c.lru.MoveToFront(element)
			return entry.plan.Clone()
		}
		klog.V(1).Infof("PlanCache: graph %q changed (version %d -> %d), recomputing plan for %q",
			g.Name(), entry.version, version, key.signature)
		c.lru.Remove(element)
		delete(c.entries, key)
	}

	c.misses++
	plan := Analyze(fetches, feeds)
	klog.V(1).Infof("PlanCache: computed plan for %q on graph %q: %d nodes", key.signature, g.Name(), len(plan.Sorted))
	c.entries[key] = c.lru.PushFront(&planCacheEntry{key: key, version: version, plan: plan})
	c.lockedEvict()
	return plan.Clone()
}

// lockedEvict removes the least recently used entries beyond maxEntries. It must be called with c.mu locked.
func (c *PlanCache) lockedEvict() {
	for c.lru.Len() > c.maxEntries {
		oldest := c.lru.Back()
		entry := oldest.Value.(*planCacheEntry)
		klog.V(1).Infof("PlanCache: evicting plan for %q", entry.key.signature)
		c.lru.Remove(oldest)
		delete(c.entries, entry.key)
	}
}

// Len returns the number of plans cached.
func (c *PlanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Hits returns the number of Get calls served from the cache.
func (c *PlanCache) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// Misses returns the number of Get calls that required an analysis.
func (c *PlanCache) Misses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.misses
}

// Reset removes all plans, and resets the statistics.
func (c *PlanCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[planKey]*list.Element)
	c.lru.Init()
	c.hits, c.misses = 0, 0
}

// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package unpacking implements the reader-side unpacking cache: a
// bounded LRU from (source, target, exclude class, version) to a
// precomputed shortest-path annotation, so repeated route queries
// between the same node pair don't re-unpack the contraction hierarchy.
package unpacking

import (
	"sync"
	"unsafe"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
)

var (
	mHits = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "unpacking_cache",
		Name:      "hits_total",
		Help:      "number of Get calls that found a cached annotation",
	})
	mMisses = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "unpacking_cache",
		Name:      "misses_total",
		Help:      "number of Get calls that fell back to the maximal sentinel",
	})
)

// Key identifies one cached shortest-path annotation. Version ties an
// entry to the dataset generation it was computed against; entries from
// a retired version simply stop being requested as readers move to the
// new one and age out under normal LRU pressure (see spec's design note
// on the unpacking cache -- there is no explicit invalidation).
type Key struct {
	Source, Target core.NodeID
	ExcludeClass   core.ExcludeClass
	Version        uint32
}

// Annotation is the cached result: the shortest path's total duration
// and distance between Key.Source and Key.Target.
type Annotation struct {
	Duration core.EdgeDuration
	Distance core.EdgeDistance
}

// maximal is the sentinel annotation returned on a cache miss -- the
// caller is expected to recognize MaxEdgeDuration/MaxEdgeDistance as
// "not cached, fall back to full unpacking" rather than a real route.
var maximal = Annotation{Duration: core.MaxEdgeDuration, Distance: core.MaxEdgeDistance}

// perEntryOverhead approximates the LRU container's own bookkeeping cost
// per entry (list node + map slot) on top of the raw Key/Annotation
// payload, so NewCache's capacity derivation isn't just
// sizeof(Key)+sizeof(Annotation).
const perEntryOverhead = 48

// Cache is a bounded, thread-safe LRU. Get/Contains take the shared
// (read) lock; Put takes the exclusive (write) lock, matching spec
// §4.G's concurrency requirement for a cache read by many worker
// threads but written by comparatively few population events.
type Cache struct {
	mu  sync.RWMutex
	lru *lru.Cache[Key, Annotation]
}

// NewCache builds a cache sized to fit within memoryBudgetBytes, given a
// measured perEntryCost (typically unsafe.Sizeof(Key{})+unsafe.Sizeof(Annotation{})
// plus perEntryOverhead). This replaces the hardcoded entry-count
// constants in the original implementation with a derived capacity, per
// spec's own flagged open question. Capacity is never less than 1.
func NewCache(memoryBudgetBytes, perEntryCost uint64) *Cache {
	if perEntryCost == 0 {
		perEntryCost = uint64(unsafe.Sizeof(Key{})) + uint64(unsafe.Sizeof(Annotation{})) + perEntryOverhead
	}
	capacity := int(memoryBudgetBytes / perEntryCost)
	if capacity < 1 {
		capacity = 1
	}
	c, err := lru.New[Key, Annotation](capacity)
	if err != nil {
		// Only possible if capacity <= 0, which we've already guarded against.
		panic(err)
	}
	return &Cache{lru: c}
}

// Get returns the cached annotation for k, or the maximal sentinel if
// k isn't cached.
func (c *Cache) Get(k Key) Annotation {
	c.mu.RLock()
	v, ok := c.lru.Get(k)
	c.mu.RUnlock()
	if !ok {
		mMisses.Inc()
		return maximal
	}
	mHits.Inc()
	return v
}

// Contains reports whether k is cached, without affecting its recency.
func (c *Cache) Contains(k Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Contains(k)
}

// Put inserts or updates k's cached annotation, possibly evicting the
// least recently used entry.
func (c *Cache) Put(k Key, v Annotation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(k, v)
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

import "time"

// Global constants that several components need to agree on are defined here.
// If a constant is only needed for a single component, probably it should not
// be placed here.
const (
	// MaxKeys is the fixed capacity of the shared region register: the
	// number of distinct 8-bit shared memory keys that can be live at once.
	MaxKeys = 128

	// InvalidRegionID distinguishes "not registered" from any valid index
	// into the register's entry array.
	InvalidRegionID = -1

	// MaxBlockNameLen is the fixed width of a block/entry name as stored in
	// a cross-process struct (the register entry, the layout header). Names
	// longer than this are rejected; this is generous for the deepest
	// hierarchical block paths this format uses (e.g.
	// "/mld/metrics/<metric>").
	MaxBlockNameLen = 64

	// DefaultPublishTimeout is used by the CLI front-end when the caller
	// doesn't override max_wait.
	DefaultPublishTimeout = 30 * time.Second

	// DefaultCacheMemoryBudget is the default memory budget for the
	// unpacking cache when none is configured.
	DefaultCacheMemoryBudget = 500 * 1024 * 1024
)

// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package register implements the shared region register: a fixed
// capacity table of (dataset name -> shm key, version) entries that lives
// inside the control segment (see internal/monitor) and is therefore
// shared, bit-identical, across every process that attaches it. Every
// field is fixed size and pointer-free; a Go string header would embed a
// pointer into this process's heap, which is meaningless to another
// process, so names are fixed-length byte arrays.
package register

import (
	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
)

// Entry is one (name -> shm_key, timestamp) binding. timestamp is a
// monotonically increasing version counter local to this entry,
// incremented every time Publish swaps in a new region under this name.
type Entry struct {
	name      [core.MaxBlockNameLen]byte
	nameLen   uint8
	present   bool
	ShmKey    uint8
	Timestamp uint64
}

// Name returns the entry's dataset name, or "" if the slot is empty.
func (e *Entry) Name() string {
	if !e.present {
		return ""
	}
	return string(e.name[:e.nameLen])
}

func (e *Entry) setName(name string) core.Error {
	if len(name) == 0 || len(name) > core.MaxBlockNameLen {
		return core.ErrInvalidArgument
	}
	copy(e.name[:], name)
	e.nameLen = uint8(len(name))
	e.present = true
	return core.NoError
}

// Register is the fixed-capacity register. Its zero value is a valid,
// fully empty register (every key free, every entry slot empty), which is
// exactly the value a newly zeroed control segment starts out as -- the
// first publisher to attach an empty segment doesn't need a separate
// initialization step.
type Register struct {
	keyBitmap [core.MaxKeys]bool
	entries   [core.MaxKeys]Entry
}

// ReserveKey allocates and returns the lowest-numbered free key. Fails
// with core.ErrKeysExhausted if every key is in use.
func (r *Register) ReserveKey() (uint8, core.Error) {
	for i := range r.keyBitmap {
		if !r.keyBitmap[i] {
			r.keyBitmap[i] = true
			return uint8(i), core.NoError
		}
	}
	return 0, core.ErrKeysExhausted
}

// ReleaseKey returns key to the free pool. Releasing an already-free key
// is a no-op.
func (r *Register) ReleaseKey(key uint8) {
	r.keyBitmap[key] = false
}

// Find returns the region id (an index suitable for GetRegion) of the
// live entry named name, or core.InvalidRegionID if no such entry exists.
func (r *Register) Find(name string) int {
	for i := range r.entries {
		if r.entries[i].present && r.entries[i].Name() == name {
			return i
		}
	}
	return core.InvalidRegionID
}

// Register creates a new entry named name bound to key, with
// timestamp 0, and returns its region id. Fails with core.ErrKeysExhausted
// if every entry slot is occupied (distinct from the key pool being
// exhausted: a caller that already holds a reserved key can still fail
// here if every slot is full, though in practice the two capacities are
// sized identically).
func (r *Register) Register(name string, key uint8) (int, core.Error) {
	for i := range r.entries {
		if !r.entries[i].present {
			if cerr := r.entries[i].setName(name); cerr != core.NoError {
				return core.InvalidRegionID, cerr
			}
			r.entries[i].ShmKey = key
			r.entries[i].Timestamp = 0
			return i, core.NoError
		}
	}
	return core.InvalidRegionID, core.ErrKeysExhausted
}

// GetRegion returns a pointer to the entry at id for direct mutation
// (callers are expected to hold the monitor's lock for the duration of
// any read or write). Returns nil if id is out of range.
func (r *Register) GetRegion(id int) *Entry {
	if id < 0 || id >= len(r.entries) {
		return nil
	}
	return &r.entries[id]
}

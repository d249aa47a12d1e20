// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package shm wraps the SysV shared memory syscalls that back every
// published region: a publisher creates a segment, readers attach to it by
// key, and retirement is a mark-for-removal that only completes once the
// last attacher has detached.
package shm

import (
	"context"
	"time"

	log "github.com/golang/glog"
	"golang.org/x/sys/unix"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
	"github.com/westerndigitalcorporation/osrm-datastore/pkg/retry"
)

// perm is the mode bits new segments are created with: owner and group
// read/write, matching the publisher/reader-group trust model described by
// the control segment (internal/monitor shares the same posture).
const perm = 0o660

// Segment is an attached SysV shared memory region.
type Segment struct {
	Key  uint8
	id   int
	Base []byte
}

// Create allocates and attaches a new segment of size bytes at key. Fails
// with core.ErrAlreadyExists if a segment at key is already live; the
// caller is expected to Remove and retry (see the publisher's step 4b
// stale-segment recovery).
func Create(key uint8, size uint64) (*Segment, core.Error) {
	id, err := unix.SysvShmGet(shmKey(key), int(size), unix.IPC_CREAT|unix.IPC_EXCL|perm)
	if err != nil {
		if err == unix.EEXIST {
			return nil, core.ErrAlreadyExists
		}
		log.Errorf("shm: shmget(key=%d, size=%d) failed: %v", key, size, err)
		return nil, core.ErrSharedMemoryError
	}
	return attachID(key, id)
}

// Attach attaches to an existing segment at key, read/write. Fails with
// core.ErrNotFound if no segment is live at key.
func Attach(key uint8) (*Segment, core.Error) {
	id, err := unix.SysvShmGet(shmKey(key), 0, perm)
	if err != nil {
		if err == unix.ENOENT {
			return nil, core.ErrNotFound
		}
		log.Errorf("shm: shmget(key=%d) failed: %v", key, err)
		return nil, core.ErrSharedMemoryError
	}
	return attachID(key, id)
}

func attachID(key uint8, id int) (*Segment, core.Error) {
	addr, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		log.Errorf("shm: shmat(id=%d) failed: %v", id, err)
		return nil, core.ErrSharedMemoryError
	}
	return &Segment{Key: key, id: id, Base: addr}, core.NoError
}

// RegionExists reports whether a segment is currently live at key (not
// yet fully destroyed, i.e. not yet IPC_RMID-reaped down to zero
// attachers).
func RegionExists(key uint8) bool {
	id, err := unix.SysvShmGet(shmKey(key), 0, perm)
	if err != nil {
		return false
	}
	var desc unix.SysvShmDesc
	if _, err := unix.SysvShmCtl(id, unix.IPC_STAT, &desc); err != nil {
		return false
	}
	return true
}

// Remove marks the segment at key for destruction. It returns
// immediately; the segment's memory remains valid for any process still
// attached until the last one detaches.
func Remove(key uint8) core.Error {
	id, err := unix.SysvShmGet(shmKey(key), 0, perm)
	if err != nil {
		if err == unix.ENOENT {
			return core.NoError
		}
		log.Errorf("shm: shmget(key=%d) for remove failed: %v", key, err)
		return core.ErrSharedMemoryError
	}
	if _, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil); err != nil {
		log.Errorf("shm: shmctl(IPC_RMID, key=%d) failed: %v", key, err)
		return core.ErrSharedMemoryError
	}
	return core.NoError
}

// Detach detaches the calling process from the segment. The caller's
// Segment value must not be used afterward.
func (s *Segment) Detach() core.Error {
	if err := unix.SysvShmDetach(s.Base); err != nil {
		log.Errorf("shm: shmdt(key=%d) failed: %v", s.Key, err)
		return core.ErrSharedMemoryError
	}
	return core.NoError
}

// waitForDetachRetrier bounds how aggressively the publisher polls nattch;
// readers are expected to detach in well under a second, but the loop
// backs off in case of a slow or wedged reader.
var waitForDetachRetrier = retry.Retrier{
	MinSleep: 10 * time.Millisecond,
	MaxSleep: 2 * time.Second,
}

// WaitForDetach blocks until key's attach count drops to threshold or
// below (the publisher always passes 0, since it has already detached
// itself before calling this), or until ctx is cancelled. A key that no
// longer exists counts as fully detached.
func WaitForDetach(ctx context.Context, key uint8, threshold int) core.Error {
	_, cancelled := waitForDetachRetrier.Do(ctx, func(int) bool {
		id, err := unix.SysvShmGet(shmKey(key), 0, perm)
		if err != nil {
			return true // segment is gone; nothing left to wait for.
		}
		var desc unix.SysvShmDesc
		if _, err := unix.SysvShmCtl(id, unix.IPC_STAT, &desc); err != nil {
			return true
		}
		return int(desc.Nattch) <= threshold
	})
	if cancelled {
		return core.ErrPublishTimedOut
	}
	return core.NoError
}

// shmKey maps our 8-bit key space onto a SysV key_t. IPC_PRIVATE is 0 and
// cannot name a shared segment, so keys are offset by one: register key 0
// maps to SysV key 1.
func shmKey(key uint8) int {
	return int(key) + 1
}

// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package monitor implements the interprocess monitor: a single
// well-known control segment holding the shared region register plus a
// robust mutex and condition variable, so every process on the host that
// talks to the register agrees on one instance of it.
//
// The mutex is "robust" in the POSIX sense: if the process holding it
// dies without unlocking, the next locker detects that via a liveness
// check (unix.Kill(pid, 0)) and recovers the lock rather than deadlocking
// forever. No pack dependency offers a robust interprocess mutex for Go,
// so this is hand-built on a shared memory header plus atomic CAS, the
// same posture internal/shm takes toward raw SysV syscalls.
package monitor

import (
	"context"
	"sync/atomic"
	"time"
	"unsafe"

	log "github.com/golang/glog"
	"golang.org/x/sys/unix"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/register"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/shm"
	"github.com/westerndigitalcorporation/osrm-datastore/pkg/retry"
)

// ControlKey is the well-known SysV key the control segment lives at. It
// is reserved out of the dataset key space register.ReserveKey hands
// out, so a data region can never collide with it.
const ControlKey uint8 = 255

// DefaultSnapshotPath is where the register's crash-recovery snapshot is
// durably kept. SysV shared memory (and with it the control segment)
// does not survive a host reboot, but this file does, so a restarted
// publisher can recognize which keys and names were live just before
// the reboot instead of starting from a register that looks empty.
const DefaultSnapshotPath = "/tmp/osrm-datastore-register.db"

const (
	unlocked int32 = 0
	locked   int32 = 1
)

// header is the fixed, pointer-free struct placed at the start of the
// control segment. lockState/holderPID form the robust mutex; generation
// is the condition variable's wakeup counter.
type header struct {
	lockState  int32
	holderPID  int32
	generation uint64
}

var headerSize = int(unsafe.Sizeof(header{}))
var registerSize = int(unsafe.Sizeof(register.Register{}))

// Size is the total control segment size the monitor needs.
var Size = uint64(headerSize + registerSize)

// lockRetrier backs off between failed lock attempts; short minimum sleep
// because the critical section is bounded and brief (see
// internal/publisher), so contention is expected to clear quickly.
var lockRetrier = retry.Retrier{
	MinSleep: time.Millisecond,
	MaxSleep: 50 * time.Millisecond,
}

// Monitor is an attached control segment.
type Monitor struct {
	seg  *shm.Segment
	hdr  *header
	reg  *register.Register
	snap *register.Snapshotter
}

// Attach creates-or-attaches the control segment. A brand new segment is
// zero-filled by the kernel, which is already a valid empty Monitor: lock
// unlocked, generation 0, register with every key free and every entry
// slot empty. Concurrent first-attach across processes is safe only
// because the caller is expected to hold the global writer file lock
// (internal/publisher step 1) before calling this.
//
// When this call is the one that creates a brand new control segment --
// i.e. nothing was attached, which is exactly what happens right after a
// host reboot wipes out the previous boot's shared memory -- the
// register is additionally repopulated from the durable snapshot at
// DefaultSnapshotPath, if one exists, so abandoned keys and dataset
// names survive the reboot.
func Attach() (*Monitor, core.Error) {
	return AttachWithSnapshot(DefaultSnapshotPath)
}

// AttachWithSnapshot is Attach with an explicit snapshot path, exposed
// for tests and for callers that keep per-dataset snapshot files.
func AttachWithSnapshot(snapshotPath string) (*Monitor, core.Error) {
	seg, cerr := shm.Attach(ControlKey)
	fresh := false
	if cerr == core.ErrNotFound {
		seg, cerr = shm.Create(ControlKey, Size)
		fresh = true
	}
	if cerr != core.NoError {
		return nil, cerr
	}
	m := fromSegment(seg)

	snap, cerr := register.OpenSnapshotter(snapshotPath)
	if cerr != core.NoError {
		log.Warningf("monitor: snapshot unavailable at %s, continuing without crash recovery: %s", snapshotPath, cerr)
		return m, core.NoError
	}
	m.snap = snap

	if fresh {
		if restored, cerr := snap.Restore(); cerr == core.NoError {
			*m.reg = *restored
		} else {
			log.Warningf("monitor: failed to restore register snapshot: %s", cerr)
		}
	}
	return m, core.NoError
}

func fromSegment(seg *shm.Segment) *Monitor {
	m := &Monitor{seg: seg}
	m.hdr = (*header)(unsafe.Pointer(&seg.Base[0]))
	m.reg = (*register.Register)(unsafe.Pointer(&seg.Base[headerSize]))
	return m
}

// Register returns the register embedded in this control segment.
// Callers must hold the monitor's lock before reading or writing through
// it.
func (m *Monitor) Register() *register.Register {
	return m.reg
}

// Detach detaches this process from the control segment and closes its
// handle on the durable snapshot, if one was opened.
func (m *Monitor) Detach() core.Error {
	if m.snap != nil {
		if cerr := m.snap.Close(); cerr != core.NoError {
			log.Warningf("monitor: failed to close register snapshot: %s", cerr)
		}
	}
	return m.seg.Detach()
}

// Snapshot durably records region id's current (name, key, timestamp)
// binding, if a snapshot file was opened. The caller must hold either the
// monitor's lock or the global writer file lock, so that no publisher can
// change the region at id during the read. A no-op when no snapshot file
// is available.
func (m *Monitor) Snapshot(id int) core.Error {
	if m.snap == nil {
		return core.NoError
	}
	entry := m.reg.GetRegion(id)
	if entry == nil {
		return core.ErrInvalidArgument
	}
	return m.snap.Save(id, entry)
}

// Lock blocks until the mutex is acquired, recovering it from a dead
// holder if necessary. ctx cancellation unblocks the wait with
// core.ErrPublishTimedOut.
func (m *Monitor) Lock(ctx context.Context) core.Error {
	ok, cancelled := lockRetrier.Do(ctx, func(int) bool {
		return m.tryAcquire()
	})
	if cancelled {
		return core.ErrPublishTimedOut
	}
	if !ok {
		return core.ErrPublishTimedOut
	}
	return core.NoError
}

// TryLockUntil attempts to acquire the mutex, giving up at deadline.
// Returns core.ErrPublishTimedOut if the deadline passes first.
func (m *Monitor) TryLockUntil(deadline time.Time) core.Error {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	return m.Lock(ctx)
}

// tryAcquire makes one attempt at the lock: a straight CAS, or, if
// already held, a liveness check on the recorded holder followed by a
// recovery CAS if the holder is dead.
func (m *Monitor) tryAcquire() bool {
	if atomic.CompareAndSwapInt32(&m.hdr.lockState, unlocked, locked) {
		atomic.StoreInt32(&m.hdr.holderPID, int32(unix.Getpid()))
		return true
	}

	holder := atomic.LoadInt32(&m.hdr.holderPID)
	if holder == 0 {
		return false
	}
	if err := unix.Kill(int(holder), 0); err != unix.ESRCH {
		return false // holder is alive (or we can't tell), keep waiting.
	}

	log.Warningf("monitor: recovering lock held by dead pid %d", holder)
	if !atomic.CompareAndSwapInt32(&m.hdr.holderPID, holder, int32(unix.Getpid())) {
		return false // someone else recovered it first.
	}
	return true
}

// Unlock releases the mutex. The caller must currently hold it.
func (m *Monitor) Unlock() {
	atomic.StoreInt32(&m.hdr.holderPID, 0)
	atomic.StoreInt32(&m.hdr.lockState, unlocked)
}

// NotifyAll wakes every waiter blocked in Wait by advancing the
// generation counter. Conventionally called just after Unlock, per the
// publisher's swap protocol.
func (m *Monitor) NotifyAll() {
	atomic.AddUint64(&m.hdr.generation, 1)
}

// waitRetrier backs off between predicate polls in Wait; readers calling
// this are not on the publisher's critical path, so a slower cadence than
// lockRetrier is fine.
var waitRetrier = retry.Retrier{
	MinSleep: 5 * time.Millisecond,
	MaxSleep: 200 * time.Millisecond,
}

// Wait blocks, re-locking and re-checking predicate each time
// NotifyAll advances the generation counter (or on a bounded poll
// cadence, since there is no true interprocess futex wait here), until
// predicate returns true or ctx is cancelled. The caller must hold the
// lock on entry and holds it again on return with core.NoError; on
// cancellation the lock is released before returning.
func (m *Monitor) Wait(ctx context.Context, predicate func() bool) core.Error {
	for {
		if predicate() {
			return core.NoError
		}
		gen := atomic.LoadUint64(&m.hdr.generation)
		m.Unlock()

		_, cancelled := waitRetrier.Do(ctx, func(int) bool {
			return atomic.LoadUint64(&m.hdr.generation) != gen
		})
		if cancelled {
			return core.ErrPublishTimedOut
		}

		if cerr := m.Lock(ctx); cerr != core.NoError {
			return cerr
		}
	}
}

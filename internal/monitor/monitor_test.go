// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package monitor

import (
	"context"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/shm"
)

func cleanupControlSegment(t *testing.T) {
	t.Helper()
	shm.Remove(ControlKey)
}

// attachIsolated is AttachWithSnapshot pointed at a fresh per-test
// snapshot file, so tests don't see crash-recovery state another test
// (or another run) left behind at DefaultSnapshotPath.
func attachIsolated(t *testing.T) (*Monitor, core.Error) {
	t.Helper()
	return AttachWithSnapshot(t.TempDir() + "/register.db")
}

func TestAttachInitializesEmptyRegister(t *testing.T) {
	cleanupControlSegment(t)
	defer cleanupControlSegment(t)

	m, cerr := attachIsolated(t)
	if cerr != core.NoError {
		t.Fatalf("Attach: %s", cerr)
	}
	defer m.Detach()

	if id := m.Register().Find("static"); id != core.InvalidRegionID {
		t.Fatalf("expected empty register, found id %d", id)
	}
}

func TestLockUnlockRoundTrips(t *testing.T) {
	cleanupControlSegment(t)
	defer cleanupControlSegment(t)

	m, cerr := attachIsolated(t)
	if cerr != core.NoError {
		t.Fatalf("Attach: %s", cerr)
	}
	defer m.Detach()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if cerr := m.Lock(ctx); cerr != core.NoError {
		t.Fatalf("Lock: %s", cerr)
	}

	key, cerr := m.Register().ReserveKey()
	if cerr != core.NoError {
		t.Fatalf("ReserveKey under lock: %s", cerr)
	}
	if _, cerr := m.Register().Register("static", key); cerr != core.NoError {
		t.Fatalf("Register under lock: %s", cerr)
	}
	m.Unlock()
	m.NotifyAll()

	if m.Register().Find("static") == core.InvalidRegionID {
		t.Fatal("expected registered entry to persist across unlock")
	}
}

func TestTryLockUntilTimesOutWhenHeld(t *testing.T) {
	cleanupControlSegment(t)
	defer cleanupControlSegment(t)

	m, cerr := attachIsolated(t)
	if cerr != core.NoError {
		t.Fatalf("Attach: %s", cerr)
	}
	defer m.Detach()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if cerr := m.Lock(ctx); cerr != core.NoError {
		t.Fatalf("Lock: %s", cerr)
	}
	defer m.Unlock()

	if cerr := m.TryLockUntil(time.Now().Add(20 * time.Millisecond)); cerr != core.ErrPublishTimedOut {
		t.Fatalf("expected ErrPublishTimedOut, got %s", cerr)
	}
}

func TestWaitUnblocksOnNotify(t *testing.T) {
	cleanupControlSegment(t)
	defer cleanupControlSegment(t)

	m, cerr := attachIsolated(t)
	if cerr != core.NoError {
		t.Fatalf("Attach: %s", cerr)
	}
	defer m.Detach()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if cerr := m.Lock(ctx); cerr != core.NoError {
		t.Fatalf("Lock: %s", cerr)
	}

	ready := false
	done := make(chan core.Error, 1)
	go func() {
		done <- m.Wait(ctx, func() bool { return ready })
	}()

	time.Sleep(30 * time.Millisecond)
	m2, cerr := attachIsolated(t)
	if cerr != core.NoError {
		t.Fatalf("second Attach: %s", cerr)
	}
	defer m2.Detach()
	if cerr := m2.Lock(ctx); cerr != core.NoError {
		t.Fatalf("Lock from second attach: %s", cerr)
	}
	ready = true
	m2.Unlock()
	m2.NotifyAll()

	if cerr := <-done; cerr != core.NoError {
		t.Fatalf("Wait: %s", cerr)
	}
	m.Unlock()
}

// TestLockRecoversFromDeadHolder simulates a holder that crashed without
// unlocking: lockState is forced to locked and holderPID is pointed at a
// process that has already exited, so Lock must detect the dead holder
// via the liveness check and take over the mutex rather than deadlock.
func TestLockRecoversFromDeadHolder(t *testing.T) {
	cleanupControlSegment(t)
	defer cleanupControlSegment(t)

	m, cerr := attachIsolated(t)
	if cerr != core.NoError {
		t.Fatalf("Attach: %s", cerr)
	}
	defer m.Detach()

	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("exec true: %v", err)
	}
	deadPID := cmd.Process.Pid

	atomic.StoreInt32(&m.hdr.lockState, locked)
	atomic.StoreInt32(&m.hdr.holderPID, int32(deadPID))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if cerr := m.Lock(ctx); cerr != core.NoError {
		t.Fatalf("Lock did not recover from dead holder: %s", cerr)
	}
	defer m.Unlock()

	if got := atomic.LoadInt32(&m.hdr.holderPID); got != int32(unix.Getpid()) {
		t.Fatalf("expected holderPID to be this process's pid after recovery, got %d", got)
	}
}

// TestSnapshotSurvivesControlSegmentLoss simulates a host reboot: the
// control segment (shared memory) is gone, but the durable snapshot
// file on disk is not, so the next AttachWithSnapshot at the same path
// should repopulate the register from it instead of starting empty.
func TestSnapshotSurvivesControlSegmentLoss(t *testing.T) {
	cleanupControlSegment(t)
	defer cleanupControlSegment(t)

	snapPath := t.TempDir() + "/register.db"

	m, cerr := AttachWithSnapshot(snapPath)
	if cerr != core.NoError {
		t.Fatalf("Attach: %s", cerr)
	}
	key, cerr := m.Register().ReserveKey()
	if cerr != core.NoError {
		t.Fatalf("ReserveKey: %s", cerr)
	}
	id, cerr := m.Register().Register("alpha/static", key)
	if cerr != core.NoError {
		t.Fatalf("Register: %s", cerr)
	}
	m.Register().GetRegion(id).Timestamp = 3
	if cerr := m.Snapshot(id); cerr != core.NoError {
		t.Fatalf("Snapshot: %s", cerr)
	}
	if cerr := m.Detach(); cerr != core.NoError {
		t.Fatalf("Detach: %s", cerr)
	}

	// "Reboot": the control segment disappears, the snapshot file does
	// not.
	cleanupControlSegment(t)

	m2, cerr := AttachWithSnapshot(snapPath)
	if cerr != core.NoError {
		t.Fatalf("Attach after reboot: %s", cerr)
	}
	defer m2.Detach()

	restoredID := m2.Register().Find("alpha/static")
	if restoredID == core.InvalidRegionID {
		t.Fatal("expected alpha/static to survive reboot via snapshot")
	}
	entry := m2.Register().GetRegion(restoredID)
	if entry.ShmKey != key || entry.Timestamp != 3 {
		t.Fatalf("unexpected restored entry: %+v", entry)
	}
}

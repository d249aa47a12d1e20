// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package flock provides the OS advisory exclusive file lock that
// serializes every publisher on a host, one level below the interprocess
// monitor. It is the Go equivalent of the
// boost::interprocess::file_lock the original source takes before ever
// touching shared memory.
package flock

import (
	"os"

	log "github.com/golang/glog"
	"golang.org/x/sys/unix"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
)

// Lock is a held advisory file lock. Releasing it (Release) closes the
// underlying file descriptor, which also drops the OS lock even if the
// holding process dies -- the mechanism the publisher's crash-recovery
// story at spec step 4b relies on.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if necessary) path and blocks until an
// exclusive lock on it is granted. If the lock is already held
// elsewhere, contention is logged once as a warning before blocking.
func Acquire(path string) (*Lock, core.Error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		log.Errorf("flock: failed to open %s: %v", path, err)
		return nil, core.ErrIoError
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		log.Warningf("flock: %s contended, blocking for exclusive access", path)
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
			f.Close()
			log.Errorf("flock: failed to lock %s: %v", path, err)
			return nil, core.ErrIoError
		}
	}
	return &Lock{f: f}, core.NoError
}

// Release drops the lock and closes the underlying file.
func (l *Lock) Release() core.Error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		log.Errorf("flock: failed to unlock: %v", err)
	}
	if err := l.f.Close(); err != nil {
		return core.ErrIoError
	}
	return core.NoError
}

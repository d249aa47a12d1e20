// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

//go:build linux

package publisher

import (
	log "github.com/golang/glog"
	"golang.org/x/sys/unix"
)

// lockAll best-effort locks all of the calling process's current and
// future memory pages into RAM, so the hot published dataset doesn't get
// paged out. mlockall is Linux-only; failure is logged, never fatal, per
// the publisher's own posture toward this call.
func lockAll() {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		log.Warningf("publisher: mlockall failed, continuing without it: %v", err)
	}
}

// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package register

import (
	"encoding/binary"
	"os"

	"github.com/boltdb/bolt"
	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
)

// snapshotBucket holds one key per region id, so a snapshot can be
// written incrementally without rewriting the whole register on every
// swap.
var snapshotBucket = []byte("entries")

const snapshotMode os.FileMode = 0600

// Snapshotter durably persists the register next to the control segment,
// so a host reboot (which destroys SysV shared memory) doesn't also erase
// the record of which keys and names were live -- the publisher consults
// it on monitor attach to recognize abandoned keys from a previous boot
// that the OS never reclaimed.
type Snapshotter struct {
	db *bolt.DB
}

// OpenSnapshotter opens (creating if necessary) the snapshot database at
// path.
func OpenSnapshotter(path string) (*Snapshotter, core.Error) {
	db, err := bolt.Open(path, snapshotMode, nil)
	if err != nil {
		log.Errorf("register: failed to open snapshot db %s: %v", path, err)
		return nil, core.ErrIoError
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	}); err != nil {
		db.Close()
		log.Errorf("register: failed to create snapshot bucket: %v", err)
		return nil, core.ErrIoError
	}
	return &Snapshotter{db: db}, core.NoError
}

// Close closes the underlying database.
func (s *Snapshotter) Close() core.Error {
	if err := s.db.Close(); err != nil {
		return core.ErrIoError
	}
	return core.NoError
}

// entryKey is the fixed 4-byte big-endian region id this entry is
// recorded under.
func entryKey(id int) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(id))
	return k[:]
}

// Save durably records that region id is bound to (name, key, timestamp).
func (s *Snapshotter) Save(id int, e *Entry) core.Error {
	val := make([]byte, 1+core.MaxBlockNameLen+1+8)
	nameBytes := []byte(e.Name())
	val[0] = byte(len(nameBytes))
	copy(val[1:], nameBytes)
	val[1+core.MaxBlockNameLen] = e.ShmKey
	binary.BigEndian.PutUint64(val[1+core.MaxBlockNameLen+1:], e.Timestamp)

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put(entryKey(id), val)
	})
	if err != nil {
		log.Errorf("register: failed to save snapshot entry %d: %v", id, err)
		return core.ErrIoError
	}
	return core.NoError
}

// Restore reconstructs a Register from the last durable snapshot,
// re-reserving every recorded key and re-occupying every recorded entry
// slot. Used after a host reboot wipes the control segment's shared
// memory but the snapshot file on disk survives, so step 4b of a
// publish ("is a segment at key unexpectedly still live from a crash")
// has something to reconcile against.
func (s *Snapshotter) Restore() (*Register, core.Error) {
	r := &Register{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).ForEach(func(k, v []byte) error {
			id := int(binary.BigEndian.Uint32(k))
			if id < 0 || id >= core.MaxKeys || len(v) < 1+core.MaxBlockNameLen+1+8 {
				log.Warningf("register: ignoring malformed snapshot record for id %d", id)
				return nil
			}
			nameLen := int(v[0])
			name := string(v[1 : 1+nameLen])
			key := v[1+core.MaxBlockNameLen]
			ts := binary.BigEndian.Uint64(v[1+core.MaxBlockNameLen+1:])

			if cerr := r.entries[id].setName(name); cerr != core.NoError {
				log.Warningf("register: ignoring snapshot record with bad name for id %d: %s", id, cerr)
				return nil
			}
			r.entries[id].ShmKey = key
			r.entries[id].Timestamp = ts
			r.keyBitmap[key] = true
			return nil
		})
	})
	if err != nil {
		log.Errorf("register: failed to restore snapshot: %v", err)
		return nil, core.ErrIoError
	}
	return r, core.NoError
}

// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
)

func readAll(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return data
}

func writeAll(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func writeFixture(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "fixture.osrm.names")
	w, cerr := Create(path)
	if cerr != core.NoError {
		t.Fatalf("Create: %s", cerr)
	}
	if cerr := w.WriteEntry("/common/names", []byte("hello world")); cerr != core.NoError {
		t.Fatalf("WriteEntry: %s", cerr)
	}
	if cerr := w.WriteElementCount("/common/names", 2); cerr != core.NoError {
		t.Fatalf("WriteElementCount: %s", cerr)
	}
	if cerr := w.WriteEntry("/common/properties", []byte{1, 2, 3, 4}); cerr != core.NoError {
		t.Fatalf("WriteEntry: %s", cerr)
	}
	if cerr := w.Close(); cerr != core.NoError {
		t.Fatalf("Close: %s", cerr)
	}
	return path
}

func TestReadIndexExcludesMetaEntriesAndRecordsElementCount(t *testing.T) {
	path := writeFixture(t, t.TempDir())

	entries, cerr := ReadIndex(path)
	if cerr != core.NoError {
		t.Fatalf("ReadIndex: %s", cerr)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}

	byName := make(map[string]Entry)
	for _, e := range entries {
		byName[e.Name] = e
	}

	names, ok := byName["/common/names"]
	if !ok {
		t.Fatal("missing /common/names entry")
	}
	if names.ElementCount != 2 {
		t.Fatalf("expected element count 2, got %d", names.ElementCount)
	}
	if names.ByteSize != uint64(len("hello world")) {
		t.Fatalf("unexpected byte size %d", names.ByteSize)
	}

	props, ok := byName["/common/properties"]
	if !ok {
		t.Fatal("missing /common/properties entry")
	}
	if props.ElementCount != 0 {
		t.Fatalf("expected no element count sidecar, got %d", props.ElementCount)
	}
}

func TestReadEntryRoundTrips(t *testing.T) {
	path := writeFixture(t, t.TempDir())

	a, cerr := Open(path)
	if cerr != core.NoError {
		t.Fatalf("Open: %s", cerr)
	}

	payload, cerr := a.ReadEntry("/common/properties")
	if cerr != core.NoError {
		t.Fatalf("ReadEntry: %s", cerr)
	}
	if string(payload) != "\x01\x02\x03\x04" {
		t.Fatalf("unexpected payload %v", payload)
	}

	if _, cerr := a.ReadEntry("/does/not/exist"); cerr != core.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %s", cerr)
	}
}

func TestOpenRejectsBadFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.osrm.names")
	w, cerr := Create(path)
	if cerr != core.NoError {
		t.Fatalf("Create: %s", cerr)
	}
	w.Close()

	// Corrupt the fingerprint.
	data := readAll(t, path)
	data[0] = 'X'
	writeAll(t, path, data)

	if _, cerr := Open(path); cerr != core.ErrCorruptArchive {
		t.Fatalf("expected ErrCorruptArchive, got %s", cerr)
	}
}

func TestReadEntryDetectsCorruption(t *testing.T) {
	path := writeFixture(t, t.TempDir())

	data := readAll(t, path)
	// Flip a byte somewhere in the middle of the payload region, well past
	// the header, to corrupt one entry's checksum.
	data[len(data)/2] ^= 0xFF
	writeAll(t, path, data)

	a, cerr := Open(path)
	if cerr != core.NoError {
		// Corruption landed in the header/index region; either failure mode
		// demonstrates detection.
		return
	}
	for _, e := range a.Entries() {
		if _, cerr := a.ReadEntry(e.Name); cerr == core.ErrCorruptArchive {
			return
		}
	}
	t.Fatal("expected corruption to be detected somewhere")
}

// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package archive reads and writes the fingerprinted, entry-indexed
// container format that on-disk artifacts (names, geometry, turn penalty
// tables, graphs, ...) are shipped in. It enumerates named entries with
// their element counts and byte sizes without caring what the entries
// actually mean -- that is the job of internal/datasetio.
package archive

import (
	"encoding/binary"
	"hash/crc64"
	"io"
	"os"
	"strings"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
)

// On-disk layout (all values little endian):
//
//	magic (4 bytes) | format version (4 bytes)
//	entry* :
//	  nameLen (2 bytes) | name (nameLen bytes)
//	  byteSize (8 bytes) | payload (byteSize bytes) | crc64 (8 bytes)
//
// The checksum covers the entry's name and payload, so a truncated or
// bit-flipped entry is caught without trusting the declared byteSize.

var fingerprint = [4]byte{'O', 'S', 'R', 'M'}

const formatVersion uint32 = 1

const maxNameLen = 1 << 16

var crcTable = crc64.MakeTable(crc64.ECMA)

// metaSuffix marks an entry as the element-count sidecar for its sibling.
const metaSuffix = ".meta"

// Entry describes one named block inside an archive, excluding any
// ".meta" sidecar entries (those are folded into the sibling's
// ElementCount and never surfaced directly).
type Entry struct {
	Name         string
	ByteSize     uint64
	ElementCount uint64
}

// Archive is an opened, index-verified container. The index is read
// entirely up front; entry payloads are read on demand via ReadEntry.
type Archive struct {
	path    string
	entries []Entry
	offsets map[string]int64 // name -> payload start offset
	sizes   map[string]uint64
}

// Open verifies the archive's fingerprint and builds its entry index.
// Fails with core.ErrCorruptArchive on fingerprint/checksum mismatch,
// core.ErrIoError on underlying read failure.
func Open(path string) (*Archive, core.Error) {
	f, err := os.Open(path)
	if err != nil {
		log.Errorf("archive: failed to open %s: %v", path, err)
		return nil, core.ErrIoError
	}
	defer f.Close()

	var head [8]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		log.Errorf("archive: failed to read header of %s: %v", path, err)
		return nil, core.ErrCorruptArchive
	}
	if [4]byte(head[0:4]) != fingerprint {
		log.Errorf("archive: bad fingerprint in %s", path)
		return nil, core.ErrCorruptArchive
	}
	if binary.LittleEndian.Uint32(head[4:8]) != formatVersion {
		log.Errorf("archive: unsupported format version in %s", path)
		return nil, core.ErrCorruptArchive
	}

	a := &Archive{
		path:    path,
		offsets: make(map[string]int64),
		sizes:   make(map[string]uint64),
	}

	metaCounts := make(map[string]uint64)
	var rawEntries []Entry

	offset := int64(8)
	for {
		name, payloadOff, size, ok, cerr := readEntryHeader(f, offset)
		if cerr != core.NoError {
			return nil, cerr
		}
		if !ok {
			break
		}

		if strings.HasSuffix(name, metaSuffix) {
			buf, cerr := readPayload(f, name, payloadOff, size)
			if cerr != core.NoError {
				return nil, cerr
			}
			if len(buf) != 8 {
				log.Errorf("archive: malformed .meta entry %s in %s", name, path)
				return nil, core.ErrCorruptArchive
			}
			sibling := strings.TrimSuffix(name, metaSuffix)
			metaCounts[sibling] = binary.LittleEndian.Uint64(buf)
		} else {
			rawEntries = append(rawEntries, Entry{Name: name, ByteSize: size})
			a.offsets[name] = payloadOff
			a.sizes[name] = size
		}

		offset = payloadOff + int64(size) + 8 // payload + trailing crc64
	}

	for _, e := range rawEntries {
		if cnt, ok := metaCounts[e.Name]; ok {
			e.ElementCount = cnt
		}
		a.entries = append(a.entries, e)
	}

	return a, core.NoError
}

// readEntryHeader reads one entry's name/size header starting at offset
// and returns the entry name, the payload's starting offset, its size, and
// whether an entry was present (false at clean end of file). It does not
// verify the entry's trailing checksum; readPayload does that.
func readEntryHeader(f *os.File, offset int64) (name string, payloadOff int64, size uint64, ok bool, cerr core.Error) {
	var lenBuf [2]byte
	n, err := f.ReadAt(lenBuf[:], offset)
	if err == io.EOF && n == 0 {
		return "", 0, 0, false, core.NoError
	}
	if err != nil && err != io.EOF {
		log.Errorf("archive: read failed at offset %d: %v", offset, err)
		return "", 0, 0, false, core.ErrIoError
	}
	nameLen := int(binary.LittleEndian.Uint16(lenBuf[:]))
	if nameLen == 0 || nameLen > maxNameLen {
		log.Errorf("archive: implausible name length %d at offset %d", nameLen, offset)
		return "", 0, 0, false, core.ErrCorruptArchive
	}

	nameBuf := make([]byte, nameLen)
	if _, err := f.ReadAt(nameBuf, offset+2); err != nil {
		log.Errorf("archive: failed reading entry name: %v", err)
		return "", 0, 0, false, core.ErrIoError
	}

	var sizeBuf [8]byte
	if _, err := f.ReadAt(sizeBuf[:], offset+2+int64(nameLen)); err != nil {
		log.Errorf("archive: failed reading entry size: %v", err)
		return "", 0, 0, false, core.ErrIoError
	}
	size = binary.LittleEndian.Uint64(sizeBuf[:])

	payloadOff = offset + 2 + int64(nameLen) + 8
	return string(nameBuf), payloadOff, size, true, core.NoError
}

// readPayload reads and checksum-verifies the payload of entry name at the
// given offset/size, whose trailing 8-byte crc64 (over name and payload)
// immediately follows.
func readPayload(f *os.File, name string, payloadOff int64, size uint64) ([]byte, core.Error) {
	buf := make([]byte, size+8)
	if _, err := f.ReadAt(buf, payloadOff); err != nil {
		log.Errorf("archive: failed reading payload: %v", err)
		return nil, core.ErrIoError
	}
	payload := buf[:size]
	wantCsum := binary.LittleEndian.Uint64(buf[size:])
	if entryChecksum(name, payload) != wantCsum {
		log.Errorf("archive: checksum mismatch in payload at offset %d", payloadOff)
		return nil, core.ErrCorruptArchive
	}
	return payload, core.NoError
}

// entryChecksum is the crc64 stored after each entry, covering the entry's
// name followed by its payload.
func entryChecksum(name string, payload []byte) uint64 {
	return crc64.Update(crc64.Checksum([]byte(name), crcTable), crcTable, payload)
}

// Entries returns the archive's index: one Entry per non-".meta" entry,
// in file order.
func (a *Archive) Entries() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// ReadEntry reads and checksum-verifies one entry's payload by name.
// Fails with core.ErrNotFound if no such entry exists.
func (a *Archive) ReadEntry(name string) ([]byte, core.Error) {
	off, ok := a.offsets[name]
	if !ok {
		return nil, core.ErrNotFound
	}
	f, err := os.Open(a.path)
	if err != nil {
		return nil, core.ErrIoError
	}
	defer f.Close()
	return readPayload(f, name, off, a.sizes[name])
}

// ReadIndex opens path just long enough to build its entry index, then
// closes it. Equivalent to Open(path).Entries() for callers that don't
// intend to read any payloads themselves.
func ReadIndex(path string) ([]Entry, core.Error) {
	a, cerr := Open(path)
	if cerr != core.NoError {
		return nil, cerr
	}
	return a.Entries(), core.NoError
}

// Writer builds an archive file, used by tests and by tooling that
// produces fixture artifacts.
type Writer struct {
	f *os.File
}

// Create truncates or creates path and returns a Writer positioned right
// after the fingerprint header.
func Create(path string) (*Writer, core.Error) {
	f, err := os.Create(path)
	if err != nil {
		log.Errorf("archive: failed to create %s: %v", path, err)
		return nil, core.ErrIoError
	}
	var head [8]byte
	copy(head[0:4], fingerprint[:])
	binary.LittleEndian.PutUint32(head[4:8], formatVersion)
	if _, err := f.Write(head[:]); err != nil {
		f.Close()
		return nil, core.ErrIoError
	}
	return &Writer{f: f}, core.NoError
}

// WriteEntry appends a named entry with the given payload.
func (w *Writer) WriteEntry(name string, payload []byte) core.Error {
	if len(name) == 0 || len(name) > maxNameLen {
		return core.ErrInvalidArgument
	}
	var head [2]byte
	binary.LittleEndian.PutUint16(head[:], uint16(len(name)))
	if _, err := w.f.Write(head[:]); err != nil {
		return core.ErrIoError
	}
	if _, err := w.f.Write([]byte(name)); err != nil {
		return core.ErrIoError
	}
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(len(payload)))
	if _, err := w.f.Write(sizeBuf[:]); err != nil {
		return core.ErrIoError
	}
	if _, err := w.f.Write(payload); err != nil {
		return core.ErrIoError
	}
	var csumBuf [8]byte
	binary.LittleEndian.PutUint64(csumBuf[:], entryChecksum(name, payload))
	if _, err := w.f.Write(csumBuf[:]); err != nil {
		return core.ErrIoError
	}
	return core.NoError
}

// WriteElementCount appends the ".meta" sidecar entry declaring name's
// element count.
func (w *Writer) WriteElementCount(name string, elementCount uint64) core.Error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], elementCount)
	return w.WriteEntry(name+metaSuffix, buf[:])
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() core.Error {
	if err := w.f.Close(); err != nil {
		return core.ErrIoError
	}
	return core.NoError
}

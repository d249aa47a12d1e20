// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package datasetio

import (
	"encoding/binary"
	"testing"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
)

func TestReadNamesSplitsOnNulTerminators(t *testing.T) {
	payload := []byte("Main St\x00Elm St\x00")
	names, cerr := ReadNames(payload, 2)
	if cerr != core.NoError {
		t.Fatalf("ReadNames: %s", cerr)
	}
	if len(names) != 2 || names[0] != "Main St" || names[1] != "Elm St" {
		t.Fatalf("unexpected names: %+v", names)
	}
}

func TestReadNodeDataFillsCoordinates(t *testing.T) {
	want := []Coordinate{{Lon: 1, Lat: 2}, {Lon: 3, Lat: 4}}
	payload := make([]byte, 0, len(want)*8)
	for _, c := range want {
		var buf [8]byte
		binary.LittleEndian.PutUint32(buf[0:4], uint32(c.Lon))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(c.Lat))
		payload = append(payload, buf[:]...)
	}

	got := make([]Coordinate, len(want))
	if cerr := ReadNodeData(payload, got); cerr != core.NoError {
		t.Fatalf("ReadNodeData: %s", cerr)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("coordinate %d mismatch: want %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestReadNodeDataRejectsShortPayload(t *testing.T) {
	got := make([]Coordinate, 2)
	if cerr := ReadNodeData([]byte{1, 2, 3}, got); cerr != core.ErrCorruptArchive {
		t.Fatalf("expected ErrCorruptArchive, got %s", cerr)
	}
}

func TestReadTurnDataExtractsChecksum(t *testing.T) {
	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], 0xDEADBEEF)
	payload := append(header[:], make([]byte, 8)...) // one zeroed TurnPenalty

	dst := make([]TurnPenalty, 1)
	checksum, cerr := ReadTurnData(payload, dst)
	if cerr != core.NoError {
		t.Fatalf("ReadTurnData: %s", cerr)
	}
	if checksum != 0xDEADBEEF {
		t.Fatalf("expected checksum 0xDEADBEEF, got %x", checksum)
	}
}

func TestReadGraphAndReadTurnDataAgreeOnChecksum(t *testing.T) {
	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], 42)

	edgesPayload := append(append([]byte{}, header[:]...), make([]byte, 8)...)
	graphPayload := append(append([]byte{}, header[:]...), make([]byte, 16)...)

	_, cerr := ReadTurnData(edgesPayload, make([]TurnPenalty, 1))
	if cerr != core.NoError {
		t.Fatalf("ReadTurnData: %s", cerr)
	}
	edgesChecksum, _ := ReadTurnData(edgesPayload, make([]TurnPenalty, 1))
	graphChecksum, cerr := ReadGraph(graphPayload, make([]GraphEdge, 1))
	if cerr != core.NoError {
		t.Fatalf("ReadGraph: %s", cerr)
	}
	if edgesChecksum != graphChecksum {
		t.Fatalf("expected matching checksums, got %d vs %d", edgesChecksum, graphChecksum)
	}
}

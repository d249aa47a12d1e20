// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package datasetio holds the thin, per-artifact "decode this archive
// entry's bytes into a typed view" collaborators spec.md treats as an
// external, out-of-scope parser. This is deliberately not a full
// implementation of any on-disk format -- each function does just enough
// fixed-width struct decoding (reinterpreting the payload bytes in place
// with unsafe.Slice, plus encoding/binary for the checksum header) to let
// internal/publisher populate a region with real bytes in tests.
package datasetio

import (
	"encoding/binary"
	"strings"
	"unsafe"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
)

// fillFixed reinterprets payload as a []T and copies it into dst. Fails
// with core.ErrCorruptArchive if payload's length doesn't exactly match
// len(dst) fixed-size elements.
func fillFixed[T any](payload []byte, dst []T) core.Error {
	if len(dst) == 0 {
		return core.NoError
	}
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	if elemSize*len(dst) != len(payload) {
		return core.ErrCorruptArchive
	}
	src := unsafe.Slice((*T)(unsafe.Pointer(&payload[0])), len(dst))
	copy(dst, src)
	return core.NoError
}

// withChecksumHeader splits off the leading 8-byte little-endian
// connectivity checksum that the edges/hsgr/mldgr artifacts embed, per
// spec §4.F step 5's cross-artifact consistency check.
func withChecksumHeader(payload []byte) (checksum uint64, rest []byte, cerr core.Error) {
	if len(payload) < 8 {
		return 0, nil, core.ErrCorruptArchive
	}
	return binary.LittleEndian.Uint64(payload[:8]), payload[8:], core.NoError
}

// Coordinate is a fixed-point (1e-6 degree) lon/lat pair, used for both
// compressed node coordinates (nbg_nodes) and segment geometry.
type Coordinate struct {
	Lon, Lat int32
}

// EdgeBasedNode carries the per-edge-based-node metadata (ebg_nodes).
type EdgeBasedNode struct {
	ComponentID uint32
	Flags       uint8
	_           [3]uint8 // padding to keep the struct's natural size stable
}

// TurnPenalty is a single turn cost record (weight or duration units,
// caller-specified).
type TurnPenalty struct {
	Duration core.EdgeDuration
	Distance core.EdgeDistance
}

// Intersection describes one intersection classification data record
// (icd).
type Intersection struct {
	InBearing, OutBearing uint16
	EntryFlags            uint8
	_                      [3]uint8
}

// GraphEdge is one contraction-hierarchy (or MLD) edge.
type GraphEdge struct {
	Target   core.NodeID
	Duration core.EdgeDuration
	Distance core.EdgeDistance
	Flags    uint8
	_        [3]uint8
}

// RamIndexEntry maps an MLD cell to its offset within the cell storage.
type RamIndexEntry struct {
	CellID uint32
	Offset uint32
}

// ProfileProperties is the single-element properties record.
type ProfileProperties struct {
	TrafficSignalPenalty uint32
	UTurnPenalty         uint32
	UseTurnRestrictions  uint8
	_                    [3]uint8
}

// PartitionLevel is one node's cell id at one MLD partition level.
type PartitionLevel uint32

// CellEntry identifies one MLD cell.
type CellEntry struct {
	ID    uint32
	Level uint32
}

// CellMetric is one cell's aggregate duration/distance metric.
type CellMetric struct {
	Duration core.EdgeDuration
	Distance core.EdgeDistance
}

// ManeuverOverride attaches a forced maneuver type to a node.
type ManeuverOverride struct {
	NodeID core.NodeID
	Type   uint8
	_      [3]uint8
}

// readStrings splits payload into count NUL-terminated strings, the
// layout ReadNames and ReadDatasources share.
func readStrings(payload []byte, count uint64) ([]string, core.Error) {
	out := make([]string, 0, count)
	rest := payload
	for i := uint64(0); i < count; i++ {
		idx := strings.IndexByte(string(rest), 0)
		if idx < 0 {
			return nil, core.ErrCorruptArchive
		}
		out = append(out, string(rest[:idx]))
		rest = rest[idx+1:]
	}
	return out, core.NoError
}

// ReadNames decodes the .osrm.names artifact: count NUL-terminated
// street names.
func ReadNames(payload []byte, count uint64) ([]string, core.Error) {
	return readStrings(payload, count)
}

// ReadDatasources decodes the .osrm.datasource_names artifact: count
// NUL-terminated datasource labels.
func ReadDatasources(payload []byte, count uint64) ([]string, core.Error) {
	return readStrings(payload, count)
}

// ReadTurnLaneData decodes the .osrm.tld artifact into a turn-lane
// bitmask per entry.
func ReadTurnLaneData(payload []byte, dst []uint16) core.Error {
	return fillFixed(payload, dst)
}

// ReadNodeData decodes the .osrm.nbg_nodes artifact into compressed node
// coordinates.
func ReadNodeData(payload []byte, dst []Coordinate) core.Error {
	return fillFixed(payload, dst)
}

// ReadNodes decodes the .osrm.ebg_nodes artifact into edge-based node
// metadata.
func ReadNodes(payload []byte, dst []EdgeBasedNode) core.Error {
	return fillFixed(payload, dst)
}

// ReadTurnWeightPenalty decodes the .osrm.turn_weight_penalties artifact.
func ReadTurnWeightPenalty(payload []byte, dst []core.EdgeDuration) core.Error {
	return fillFixed(payload, dst)
}

// ReadTurnDurationPenalty decodes the .osrm.turn_duration_penalties
// artifact.
func ReadTurnDurationPenalty(payload []byte, dst []core.EdgeDuration) core.Error {
	return fillFixed(payload, dst)
}

// ReadRamIndex decodes the .osrm.ramIndex artifact.
func ReadRamIndex(payload []byte, dst []RamIndexEntry) core.Error {
	return fillFixed(payload, dst)
}

// ReadProfileProperties decodes the single-element .osrm.properties
// artifact.
func ReadProfileProperties(payload []byte, dst *ProfileProperties) core.Error {
	return fillFixed(payload, unsafe.Slice(dst, 1))
}

// ReadIntersections decodes the .osrm.icd artifact.
func ReadIntersections(payload []byte, dst []Intersection) core.Error {
	return fillFixed(payload, dst)
}

// ReadPartition decodes the .osrm.partition artifact.
func ReadPartition(payload []byte, dst []PartitionLevel) core.Error {
	return fillFixed(payload, dst)
}

// ReadCells decodes the .osrm.cells artifact.
func ReadCells(payload []byte, dst []CellEntry) core.Error {
	return fillFixed(payload, dst)
}

// ReadCellMetrics decodes the .osrm.cell_metrics artifact.
func ReadCellMetrics(payload []byte, dst []CellMetric) core.Error {
	return fillFixed(payload, dst)
}

// ReadManeuverOverrides decodes the .osrm.maneuver_overrides artifact.
func ReadManeuverOverrides(payload []byte, dst []ManeuverOverride) core.Error {
	return fillFixed(payload, dst)
}

// ReadSegmentData decodes the .osrm.geometry artifact into per-edge
// coordinate sequences, flattened to one Coordinate slice.
func ReadSegmentData(payload []byte, dst []Coordinate) core.Error {
	return fillFixed(payload, dst)
}

// ReadTurnData decodes the .osrm.edges artifact into per-turn penalties
// and returns the embedded connectivity checksum, which must equal the
// one ReadGraph returns for the matching hsgr/mldgr artifact.
func ReadTurnData(payload []byte, dst []TurnPenalty) (uint64, core.Error) {
	checksum, rest, cerr := withChecksumHeader(payload)
	if cerr != core.NoError {
		return 0, cerr
	}
	return checksum, fillFixed(rest, dst)
}

// ReadGraph decodes the .osrm.hsgr or .osrm.mldgr artifact into graph
// edges and returns its embedded connectivity checksum.
func ReadGraph(payload []byte, dst []GraphEdge) (uint64, core.Error) {
	checksum, rest, cerr := withChecksumHeader(payload)
	if cerr != core.NoError {
		return 0, cerr
	}
	return checksum, fillFixed(rest, dst)
}

// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package publisher

import (
	"unsafe"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/archive"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/datasetio"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/layout"
)

// elementSize returns the byte size of one semantic element for a
// configured artifact suffix, mirroring the per-artifact view factories
// (make_name_table_view, make_ebn_data_view, make_turn_data_view, ...) that
// _examples/original_source/src/storage/storage.cpp dispatches through.
//
// Suffixes not named here (.osrm.names, .osrm.datasource_names, .osrm.tls,
// .osrm.fileIndex) have no fixed-width record: their semantic type genuinely
// is a raw byte/char table, the same treatment storage.cpp gives
// "/common/rtree/file_index_path" (a GetBlockPtr<char> block holding a
// path string). elementSize of 1 for those is the correct inferred type,
// not a fallback.
func elementSize(suffix string) uint32 {
	switch suffix {
	case ".osrm.nbg_nodes", ".osrm.geometry":
		return uint32(unsafe.Sizeof(datasetio.Coordinate{}))
	case ".osrm.ebg_nodes":
		return uint32(unsafe.Sizeof(datasetio.EdgeBasedNode{}))
	case ".osrm.icd":
		return uint32(unsafe.Sizeof(datasetio.Intersection{}))
	case ".osrm.properties":
		return uint32(unsafe.Sizeof(datasetio.ProfileProperties{}))
	case ".osrm.ramIndex":
		return uint32(unsafe.Sizeof(datasetio.RamIndexEntry{}))
	case ".osrm.maneuver_overrides":
		return uint32(unsafe.Sizeof(datasetio.ManeuverOverride{}))
	case ".osrm.tld":
		return 2 // uint16 turn lane bitmask, one per entry.
	case ".osrm.turn_weight_penalties", ".osrm.turn_duration_penalties":
		return uint32(unsafe.Sizeof(core.EdgeDuration(0)))
	case ".osrm.partition":
		return uint32(unsafe.Sizeof(datasetio.PartitionLevel(0)))
	case ".osrm.cells":
		return uint32(unsafe.Sizeof(datasetio.CellEntry{}))
	case ".osrm.cell_metrics":
		return uint32(unsafe.Sizeof(datasetio.CellMetric{}))
	case ".osrm.edges":
		return uint32(unsafe.Sizeof(datasetio.TurnPenalty{}))
	case ".osrm.hsgr", ".osrm.mldgr":
		return uint32(unsafe.Sizeof(datasetio.GraphEdge{}))
	default:
		return 1
	}
}

// naturalAlignment returns the Go compiler's natural alignment for a
// struct built entirely out of uint8/uint16/uint32/int32 fields (true of
// every type in internal/datasetio) -- the largest field width, capped to
// 4 since nothing here uses a 64-bit field.
func naturalAlignment(size uint32) uint32 {
	switch {
	case size >= 4:
		return 4
	case size == 2:
		return 2
	default:
		return 1
	}
}

// blockDims computes one archive entry's (elementCount, elementSize,
// alignment) for the layout block that will hold it, deriving elementSize
// from the artifact suffix's semantic type instead of always reporting a
// single opaque byte, per spec's "element_size inferred from the block's
// semantic type". checksumArtifactSuffixes entries carry an 8-byte
// connectivity checksum ahead of their element array (see
// datasetio.withChecksumHeader) that is not itself part of the block.
func blockDims(suffix string, e archive.Entry) (elementCount uint64, size, alignment uint32, cerr core.Error) {
	size = elementSize(suffix)
	alignment = naturalAlignment(size)

	payloadBytes := e.ByteSize
	if checksumArtifactSuffixes[suffix] {
		if payloadBytes < 8 {
			log.Errorf("publisher: artifact %s entry %s is too short to carry a connectivity checksum", suffix, e.Name)
			return 0, 0, 0, core.ErrCorruptArchive
		}
		payloadBytes -= 8
	}
	if payloadBytes%uint64(size) != 0 {
		log.Errorf("publisher: artifact %s entry %s size %d does not divide evenly by its element size %d",
			suffix, e.Name, payloadBytes, size)
		return 0, 0, 0, core.ErrCorruptArchive
	}
	return payloadBytes / uint64(size), size, alignment, core.NoError
}

// populateBlock decodes one archive entry's payload through
// internal/datasetio into its block's typed view in shared memory,
// dispatching on the same suffix table blockDims used to size the block.
// It returns the artifact's embedded connectivity checksum for the
// suffixes that carry one, and 0 otherwise.
//
// .osrm.names and .osrm.datasource_names are decoded with
// datasetio.ReadNames/ReadDatasources purely to validate that the payload
// actually holds metaCount NUL-terminated strings (metaCount comes from the
// archive's optional ".meta" element-count sidecar, archive.Entry.ElementCount);
// the region's stored bytes are still the original packed char table, which
// is the format a reader expects, not the decoded []string.
func populateBlock(dataBase []byte, l *layout.DataLayout, suffix, blockName string, payload []byte, metaCount uint64) (uint64, core.Error) {
	switch suffix {
	case ".osrm.nbg_nodes":
		view, cerr := layout.View[datasetio.Coordinate](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		return 0, datasetio.ReadNodeData(payload, view)
	case ".osrm.geometry":
		view, cerr := layout.View[datasetio.Coordinate](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		return 0, datasetio.ReadSegmentData(payload, view)
	case ".osrm.ebg_nodes":
		view, cerr := layout.View[datasetio.EdgeBasedNode](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		return 0, datasetio.ReadNodes(payload, view)
	case ".osrm.icd":
		view, cerr := layout.View[datasetio.Intersection](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		return 0, datasetio.ReadIntersections(payload, view)
	case ".osrm.properties":
		view, cerr := layout.View[datasetio.ProfileProperties](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		if len(view) == 0 {
			return 0, core.ErrCorruptArchive
		}
		return 0, datasetio.ReadProfileProperties(payload, &view[0])
	case ".osrm.ramIndex":
		view, cerr := layout.View[datasetio.RamIndexEntry](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		return 0, datasetio.ReadRamIndex(payload, view)
	case ".osrm.maneuver_overrides":
		view, cerr := layout.View[datasetio.ManeuverOverride](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		return 0, datasetio.ReadManeuverOverrides(payload, view)
	case ".osrm.tld":
		view, cerr := layout.View[uint16](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		return 0, datasetio.ReadTurnLaneData(payload, view)
	case ".osrm.turn_weight_penalties":
		view, cerr := layout.View[core.EdgeDuration](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		return 0, datasetio.ReadTurnWeightPenalty(payload, view)
	case ".osrm.turn_duration_penalties":
		view, cerr := layout.View[core.EdgeDuration](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		return 0, datasetio.ReadTurnDurationPenalty(payload, view)
	case ".osrm.partition":
		view, cerr := layout.View[datasetio.PartitionLevel](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		return 0, datasetio.ReadPartition(payload, view)
	case ".osrm.cells":
		view, cerr := layout.View[datasetio.CellEntry](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		return 0, datasetio.ReadCells(payload, view)
	case ".osrm.cell_metrics":
		view, cerr := layout.View[datasetio.CellMetric](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		return 0, datasetio.ReadCellMetrics(payload, view)
	case ".osrm.edges":
		view, cerr := layout.View[datasetio.TurnPenalty](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		return datasetio.ReadTurnData(payload, view)
	case ".osrm.hsgr", ".osrm.mldgr":
		view, cerr := layout.View[datasetio.GraphEdge](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		return datasetio.ReadGraph(payload, view)
	case ".osrm.names":
		view, cerr := layout.View[byte](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		if metaCount > 0 {
			if _, cerr := datasetio.ReadNames(payload, metaCount); cerr != core.NoError {
				return 0, cerr
			}
		}
		copy(view, payload)
		return 0, core.NoError
	case ".osrm.datasource_names":
		view, cerr := layout.View[byte](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		if metaCount > 0 {
			if _, cerr := datasetio.ReadDatasources(payload, metaCount); cerr != core.NoError {
				return 0, cerr
			}
		}
		copy(view, payload)
		return 0, core.NoError
	default:
		// .osrm.tls and .osrm.fileIndex: opaque byte blobs, see the
		// elementSize doc comment above.
		view, cerr := layout.View[byte](dataBase, l, blockName)
		if cerr != core.NoError {
			return 0, cerr
		}
		copy(view, payload)
		return 0, core.NoError
	}
}

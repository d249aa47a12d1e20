// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package publisher

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/archive"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/config"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/datasetio"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/layout"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/monitor"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/shm"
)

// cleanupPublisherState resets every piece of process-wide state a
// Publish call touches: the control segment, every data key, and the
// default durable snapshot file. Publisher always attaches the monitor
// through the package-level monitor.Attach (DefaultSnapshotPath), so
// without clearing that file too, a later test's "fresh" control segment
// would come back pre-populated with the previous test's entries.
func cleanupPublisherState(t *testing.T) {
	t.Helper()
	shm.Remove(monitor.ControlKey)
	for key := 0; key < core.MaxKeys; key++ {
		shm.Remove(uint8(key))
	}
	os.Remove(monitor.DefaultSnapshotPath)
}

// namesPayload is the .osrm.names fixture content: two NUL-terminated
// street names, exactly the shape datasetio.ReadNames expects.
var namesPayload = []byte("Main St\x00Elm St\x00")

// fixtureCoords is the .osrm.nbg_nodes fixture content: two fixed-point
// coordinates, the shape datasetio.ReadNodeData expects.
var fixtureCoords = []datasetio.Coordinate{{Lon: 10, Lat: 20}, {Lon: 30, Lat: 40}}

func encodeCoords(cs []datasetio.Coordinate) []byte {
	buf := make([]byte, 0, len(cs)*8)
	for _, c := range cs {
		var b [8]byte
		binary.LittleEndian.PutUint32(b[0:4], uint32(c.Lon))
		binary.LittleEndian.PutUint32(b[4:8], uint32(c.Lat))
		buf = append(buf, b[:]...)
	}
	return buf
}

// writeArchive creates a single-entry archive file at path with the
// given entry name and payload.
func writeArchive(t *testing.T, path, entryName string, payload []byte) {
	t.Helper()
	w, cerr := archive.Create(path)
	if cerr != core.NoError {
		t.Fatalf("archive.Create(%s): %s", path, cerr)
	}
	if cerr := w.WriteEntry(entryName, payload); cerr != core.NoError {
		t.Fatalf("WriteEntry: %s", cerr)
	}
	if cerr := w.Close(); cerr != core.NoError {
		t.Fatalf("Close: %s", cerr)
	}
}

// writeArchiveWithCount is writeArchive plus the ".meta" element-count
// sidecar, the mechanism populateBlock uses to learn how many
// NUL-terminated strings a names/datasource_names payload holds.
func writeArchiveWithCount(t *testing.T, path, entryName string, payload []byte, count uint64) {
	t.Helper()
	w, cerr := archive.Create(path)
	if cerr != core.NoError {
		t.Fatalf("archive.Create(%s): %s", path, cerr)
	}
	if cerr := w.WriteEntry(entryName, payload); cerr != core.NoError {
		t.Fatalf("WriteEntry: %s", cerr)
	}
	if cerr := w.WriteElementCount(entryName, count); cerr != core.NoError {
		t.Fatalf("WriteElementCount: %s", cerr)
	}
	if cerr := w.Close(); cerr != core.NoError {
		t.Fatalf("Close: %s", cerr)
	}
}

// staticRequiredSuffixes/updatableRequiredSuffixes mirror
// internal/config's own fixed lists; duplicated here (rather than
// exported from internal/config) because the fixture writer needs to
// iterate them by name, and the two packages would otherwise have to
// agree on an exported symbol neither production code needs.
var fixtureStaticRequired = []string{
	".osrm.fileIndex", ".osrm.icd", ".osrm.properties", ".osrm.nbg_nodes",
	".osrm.ebg_nodes", ".osrm.tls", ".osrm.tld", ".osrm.maneuver_overrides",
	".osrm.edges", ".osrm.names", ".osrm.ramIndex",
}
var fixtureUpdatableRequired = []string{
	".osrm.datasource_names", ".osrm.geometry",
	".osrm.turn_weight_penalties", ".osrm.turn_duration_penalties",
}

// writeFixtureDataset writes a complete, valid dataset at stem: every
// required static/updatable artifact plus the optional hsgr artifact,
// with edges/hsgr sharing edgesChecksum. .osrm.names and .osrm.nbg_nodes
// get recognizable payloads so a test can decode them back with
// internal/datasetio after Publish.
func writeFixtureDataset(t *testing.T, stem string, edgesChecksum, hsgrChecksum uint64) {
	t.Helper()
	for _, suffix := range fixtureStaticRequired {
		switch suffix {
		case ".osrm.names":
			writeArchiveWithCount(t, stem+suffix, "data", namesPayload, 2)
		case ".osrm.nbg_nodes":
			writeArchive(t, stem+suffix, "data", encodeCoords(fixtureCoords))
		case ".osrm.edges":
			writeArchive(t, stem+suffix, checksumEntryName, encodeChecksumEntry(edgesChecksum))
		case ".osrm.icd", ".osrm.ebg_nodes", ".osrm.maneuver_overrides", ".osrm.ramIndex":
			// One fixed-width record each: Intersection, EdgeBasedNode,
			// ManeuverOverride and RamIndexEntry are all 8 bytes.
			writeArchive(t, stem+suffix, "data", make([]byte, 8))
		case ".osrm.properties":
			// One ProfileProperties record, 12 bytes.
			writeArchive(t, stem+suffix, "data", make([]byte, 12))
		default:
			writeArchive(t, stem+suffix, "data", []byte{1, 2, 3, 4})
		}
	}
	writeArchive(t, stem+".osrm.hsgr", checksumEntryName, encodeChecksumEntry(hsgrChecksum))
	for _, suffix := range fixtureUpdatableRequired {
		switch suffix {
		case ".osrm.geometry":
			// One Coordinate record, 8 bytes.
			writeArchive(t, stem+suffix, "data", encodeCoords([]datasetio.Coordinate{{Lon: 1, Lat: 1}}))
		default:
			writeArchive(t, stem+suffix, "data", []byte{5, 6, 7, 8})
		}
	}
}

// encodeChecksumEntry produces the 8-byte little-endian connectivity
// checksum that datasetio.ReadTurnData/ReadGraph read from the start of
// an edges/hsgr entry.
func encodeChecksumEntry(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:]
}

func buildFixtureConfig(t *testing.T, edgesChecksum, hsgrChecksum uint64) config.Config {
	t.Helper()
	dir := t.TempDir()
	stem := filepath.Join(dir, "region")
	writeFixtureDataset(t, stem, edgesChecksum, hsgrChecksum)

	cfg := config.FromStem(stem)
	cfg.LockPath = filepath.Join(dir, "osrm-datastore.lock")
	return cfg
}

func TestPublishEndToEndRegistersBothRegions(t *testing.T) {
	cleanupPublisherState(t)
	defer cleanupPublisherState(t)

	cfg := buildFixtureConfig(t, 0xAABBCCDD, 0xAABBCCDD)
	p := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, cerr := p.Publish(ctx, "alpha", -1)
	if cerr != core.NoError {
		t.Fatalf("Publish: %s", cerr)
	}
	if result.Dataset != "alpha" {
		t.Fatalf("expected dataset alpha, got %s", result.Dataset)
	}
	if result.StaticTimestamp != 1 || result.UpdatableTimestamp != 1 {
		t.Fatalf("expected both timestamps at 1 after first publish, got static=%d updatable=%d",
			result.StaticTimestamp, result.UpdatableTimestamp)
	}

	mon, cerr := monitor.Attach()
	if cerr != core.NoError {
		t.Fatalf("Attach: %s", cerr)
	}
	defer mon.Detach()

	staticID := mon.Register().Find("alpha/static")
	if staticID == core.InvalidRegionID {
		t.Fatal("expected alpha/static to be registered")
	}
	if mon.Register().GetRegion(staticID).ShmKey != result.StaticKey {
		t.Fatal("register's key doesn't match PublishResult's key")
	}

	namesBack, nodesBack := readBackNamesAndNodes(t, result.StaticKey)
	if len(namesBack) != 2 || namesBack[0] != "Main St" || namesBack[1] != "Elm St" {
		t.Fatalf("unexpected decoded names: %+v", namesBack)
	}
	if len(nodesBack) != len(fixtureCoords) || nodesBack[0] != fixtureCoords[0] || nodesBack[1] != fixtureCoords[1] {
		t.Fatalf("unexpected decoded nodes: %+v", nodesBack)
	}
}

// readBackNamesAndNodes attaches the static region at key, reconstructs
// its layout from the serialized header, and decodes the .osrm.names
// and .osrm.nbg_nodes blocks with internal/datasetio -- exercising the
// reader-side decode path against bytes the publisher actually wrote.
func readBackNamesAndNodes(t *testing.T, key uint8) ([]string, []datasetio.Coordinate) {
	t.Helper()
	seg, cerr := shm.Attach(key)
	if cerr != core.NoError {
		t.Fatalf("shm.Attach(%d): %s", key, cerr)
	}
	defer seg.Detach()

	l, cerr := layout.Deserialize(seg.Base)
	if cerr != core.NoError {
		t.Fatalf("Deserialize: %s", cerr)
	}
	hdr, cerr := l.Serialize()
	if cerr != core.NoError {
		t.Fatalf("re-Serialize: %s", cerr)
	}
	dataBase := seg.Base[len(hdr):]

	namesRaw, cerr := layout.View[byte](dataBase, l, ".osrm.names:data")
	if cerr != core.NoError {
		t.Fatalf("View(names): %s", cerr)
	}
	names, cerr := datasetio.ReadNames(namesRaw, 2)
	if cerr != core.NoError {
		t.Fatalf("ReadNames: %s", cerr)
	}

	// The nbg_nodes block is typed (element size = sizeof(Coordinate)), so
	// take its raw bytes by offset rather than through View[byte].
	nodesOff, cerr := l.BlockOffset(".osrm.nbg_nodes:data")
	if cerr != core.NoError {
		t.Fatalf("BlockOffset(nodes): %s", cerr)
	}
	nodesRaw := dataBase[nodesOff : nodesOff+uint64(len(fixtureCoords))*8]
	nodes := make([]datasetio.Coordinate, len(fixtureCoords))
	if cerr := datasetio.ReadNodeData(nodesRaw, nodes); cerr != core.NoError {
		t.Fatalf("ReadNodeData: %s", cerr)
	}
	return names, nodes
}

func TestPublishTwiceBumpsTimestampAndFreesOldKey(t *testing.T) {
	cleanupPublisherState(t)
	defer cleanupPublisherState(t)

	cfg := buildFixtureConfig(t, 1, 1)
	p := New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, cerr := p.Publish(ctx, "alpha", -1)
	if cerr != core.NoError {
		t.Fatalf("first Publish: %s", cerr)
	}

	second, cerr := p.Publish(ctx, "alpha", -1)
	if cerr != core.NoError {
		t.Fatalf("second Publish: %s", cerr)
	}

	if second.StaticTimestamp != first.StaticTimestamp+1 {
		t.Fatalf("expected static timestamp to advance by 1, got %d -> %d", first.StaticTimestamp, second.StaticTimestamp)
	}
	if second.StaticKey == first.StaticKey {
		t.Fatal("expected the second publish to use a different static key")
	}
	if shm.RegionExists(first.StaticKey) {
		t.Fatalf("expected first publish's static key %d to be freed after the second publish retires it", first.StaticKey)
	}
}

func TestPublishFailsOnChecksumMismatch(t *testing.T) {
	cleanupPublisherState(t)
	defer cleanupPublisherState(t)

	cfg := buildFixtureConfig(t, 0x1111, 0x2222) // edges and hsgr disagree
	p := New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, cerr := p.Publish(ctx, "alpha", -1); cerr != core.ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %s", cerr)
	}

	mon, cerr := monitor.Attach()
	if cerr != core.NoError {
		t.Fatalf("Attach: %s", cerr)
	}
	defer mon.Detach()
	if mon.Register().Find("alpha/static") != core.InvalidRegionID {
		t.Fatal("expected no register mutation after a checksum-mismatch failure")
	}
}

func TestPublishFailsWhenRequiredArtifactMissing(t *testing.T) {
	cleanupPublisherState(t)
	defer cleanupPublisherState(t)

	dir := t.TempDir()
	stem := filepath.Join(dir, "region")
	// Deliberately skip writing any artifacts at all.
	cfg := config.FromStem(stem)
	cfg.LockPath = filepath.Join(dir, "osrm-datastore.lock")

	p := New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, cerr := p.Publish(ctx, "alpha", -1); cerr != core.ErrMissingRequired {
		t.Fatalf("expected ErrMissingRequired, got %s", cerr)
	}
}

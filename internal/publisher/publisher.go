// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package publisher implements the central orchestrator: the state
// machine that plans a dataset's layouts, allocates shared memory for
// them, populates their payloads from on-disk artifacts, and atomically
// swaps them into the shared register under the interprocess monitor,
// retiring whatever regions they replace.
package publisher

import (
	"context"
	"time"

	sigar "github.com/cloudfoundry/gosigar"
	log "github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/archive"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/config"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/layout"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/monitor"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/register"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/shm"
	"github.com/westerndigitalcorporation/osrm-datastore/pkg/flock"
)

var (
	mPublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Subsystem: "publisher",
		Name:      "publish_duration_seconds",
		Help:      "time spent in a single Publish call",
	})
	mPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "publisher",
		Name:      "publish_failures_total",
		Help:      "publish attempts that failed, by reason",
	}, []string{"reason"})
	mRegisterKeysInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "publisher",
		Name:      "register_keys_in_use",
		Help:      "number of shared region keys currently registered",
	})
	mHostFreeMemBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "publisher",
		Name:      "host_free_memory_bytes",
		Help:      "host memory free just before allocating new regions",
	})
)

// HostMemory reports the host's free and total memory, the same
// cloudfoundry/gosigar call internal/tractserver/status.go and
// internal/master/status.go use for their status pages. Errors are
// logged and reported as zero, never fatal -- this is an informational
// report, not a gate on publishing.
func HostMemory() (free, total uint64) {
	mem := sigar.Mem{}
	if err := mem.Get(); err != nil {
		log.Errorf("publisher: failed to get host memory info: %s", err)
		return 0, 0
	}
	return mem.ActualFree, mem.Total
}

// regionNames are the two logical regions spec.md fixes: static data
// (contraction hierarchy, geometry, names, ...) and updatable data
// (turn penalties, traffic-affected metrics). Order matters only for
// determinism of iteration, not semantics.
var regionNames = []string{"static", "updatable"}

// checksumEntryName is the conventional name of an edges/hsgr/mldgr
// archive entry whose payload is only the 8-byte little-endian
// connectivity checksum. Population does not look entries up by this
// name: datasetio.ReadTurnData/ReadGraph read the checksum from the first
// 8 bytes of every entry of those artifacts.
const checksumEntryName = "/connectivity_checksum"

// checksumArtifactSuffixes names which configured artifacts, if
// present, contribute a connectivity checksum to cross-validate.
var checksumArtifactSuffixes = map[string]bool{
	".osrm.edges": true,
	".osrm.hsgr":  true,
	".osrm.mldgr": true,
}

// PublishResult describes a successful publish: the keys and new
// versions of both regions.
type PublishResult struct {
	Dataset                             string
	StaticKey, UpdatableKey             uint8
	StaticTimestamp, UpdatableTimestamp uint64
}

// Publisher orchestrates Publish calls against a fixed configuration.
type Publisher struct {
	cfg config.Config
}

// New returns a Publisher for cfg.
func New(cfg config.Config) *Publisher {
	return &Publisher{cfg: cfg}
}

// artifactHandle pairs a configured artifact with its opened archive, so
// planLayout's single open is reused by populate instead of reopening
// every file a second time.
type artifactHandle struct {
	spec config.ArtifactSpec
	a    *archive.Archive
}

// regionHandle is the bookkeeping the publisher keeps for one allocated
// region across the steps of a single Publish call.
type regionHandle struct {
	region    string // "static" or "updatable"
	name      string // "<dataset>/<region>", the register entry name
	key       uint8
	seg       *shm.Segment
	layout    *layout.DataLayout
	headerLen uint64
	artifacts []artifactHandle
}

// Publish runs the full protocol: acquire the writer lock, attach the
// monitor, plan and allocate the static and updatable regions, populate
// them, swap them into the register, and retire whatever they replace.
// maxWait bounds only the monitor acquisition step (spec §5); a negative
// maxWait waits forever.
func (p *Publisher) Publish(ctx context.Context, datasetName string, maxWait time.Duration) (PublishResult, core.Error) {
	start := time.Now()
	defer func() { mPublishDuration.Observe(time.Since(start).Seconds()) }()

	result, cerr := p.publish(ctx, datasetName, maxWait)
	if cerr != core.NoError {
		mPublishFailures.WithLabelValues(cerr.String()).Inc()
	}
	return result, cerr
}

func (p *Publisher) publish(ctx context.Context, datasetName string, maxWait time.Duration) (PublishResult, core.Error) {
	if cerr := p.cfg.Validate(); cerr != core.NoError {
		return PublishResult{}, cerr
	}

	// Step 1: global writer mutex.
	log.Infof("publisher: acquiring writer lock at %s", p.cfg.LockPath)
	lock, cerr := flock.Acquire(p.cfg.LockPath)
	if cerr != core.NoError {
		return PublishResult{}, cerr
	}
	defer lock.Release()

	// Step 2: attach the control segment.
	mon, cerr := monitor.Attach()
	if cerr != core.NoError {
		return PublishResult{}, cerr
	}
	defer mon.Detach()

	// Step 3: plan layouts.
	handles := make(map[string]*regionHandle, len(regionNames))
	for _, region := range regionNames {
		h := &regionHandle{region: region, name: datasetName + "/" + region}
		l, artifacts, cerr := planLayout(p.cfg.Dataset[region])
		if cerr != core.NoError {
			return PublishResult{}, cerr
		}
		h.layout, h.artifacts = l, artifacts
		handles[region] = h
	}

	var allocated []*regionHandle
	rollback := func() {
		for _, h := range allocated {
			if h.seg != nil {
				h.seg.Detach()
				shm.Remove(h.key)
			}
			mon.Lock(context.Background())
			mon.Register().ReleaseKey(h.key)
			mon.Unlock()
		}
	}

	// Step 4: allocate regions. Report free host memory first so an
	// operator watching logs can correlate a slow or failed allocation
	// with memory pressure.
	free, total := HostMemory()
	mHostFreeMemBytes.Set(float64(free))
	log.Infof("publisher: host memory: %d/%d bytes free before allocating regions", free, total)
	for _, region := range regionNames {
		h := handles[region]
		if cerr := p.allocateRegion(ctx, mon, h); cerr != core.NoError {
			rollback()
			return PublishResult{}, cerr
		}
		allocated = append(allocated, h)
	}

	// Best-effort: pin the newly allocated regions (and anything this
	// process maps from here on) into RAM before the populate loop
	// touches every byte of them. Never fatal.
	lockAll()

	// Step 5: populate payloads, then verify the edges/hsgr/mldgr
	// cross-artifact connectivity checksum.
	checksums := make(map[string]uint64)
	for _, h := range allocated {
		cs, cerr := populateRegion(h)
		if cerr != core.NoError {
			rollback()
			return PublishResult{}, cerr
		}
		for suffix, v := range cs {
			checksums[suffix] = v
		}
	}
	if cerr := checkConnectivityChecksums(checksums); cerr != core.NoError {
		rollback()
		return PublishResult{}, cerr
	}

	// Step 6: swap under the monitor.
	var lockCerr core.Error
	if maxWait < 0 {
		lockCerr = mon.Lock(ctx)
	} else {
		lockCerr = mon.TryLockUntil(time.Now().Add(maxWait))
	}
	if lockCerr != core.NoError {
		rollback()
		return PublishResult{}, core.ErrPublishTimedOut
	}

	type retiredHandle struct {
		name string
		key  uint8
	}
	var retired []retiredHandle
	var swapped []int
	result := PublishResult{Dataset: datasetName}

	for _, h := range allocated {
		id := mon.Register().Find(h.name)
		if id == core.InvalidRegionID {
			newID, cerr := mon.Register().Register(h.name, h.key)
			if cerr != core.NoError {
				mon.Unlock()
				rollback()
				return PublishResult{}, cerr
			}
			id = newID
		} else {
			entry := mon.Register().GetRegion(id)
			retired = append(retired, retiredHandle{name: h.name, key: entry.ShmKey})
			entry.ShmKey = h.key
		}
		// Every successful swap -- first publish of a name or a
		// replacement of an existing one -- bumps the timestamp, so a
		// freshly registered entry is visible at timestamp 1 rather
		// than 0 (spec.md §8 scenario 1/2: "timestamps = 1" after the
		// first publish, "= 2" after the second).
		mon.Register().GetRegion(id).Timestamp++
		swapped = append(swapped, id)
		entry := mon.Register().GetRegion(id)
		if h.region == "static" {
			result.StaticKey, result.StaticTimestamp = entry.ShmKey, entry.Timestamp
		} else {
			result.UpdatableKey, result.UpdatableTimestamp = entry.ShmKey, entry.Timestamp
		}
	}
	mRegisterKeysInUse.Set(float64(countLiveKeys(mon.Register())))
	mon.Unlock()
	mon.NotifyAll()

	// Durably snapshot the swapped entries only now, so the critical
	// section above does no I/O. The writer file lock still keeps every
	// other publisher from changing these entries.
	for _, id := range swapped {
		if cerr := mon.Snapshot(id); cerr != core.NoError {
			log.Warningf("publisher: failed to durably snapshot register entry %d: %s", id, cerr)
		}
	}

	// The publisher has no further use for its own mapping of the regions
	// it just populated -- readers attach independently -- and a later
	// republish's WaitForDetach on these same keys would otherwise never
	// see the attach count drop, since this process would still be one of
	// the attachers.
	for _, h := range allocated {
		if cerr := h.seg.Detach(); cerr != core.NoError {
			log.Warningf("publisher: failed to detach newly published region %s: %s", h.name, cerr)
		}
	}

	// Step 7: retire old regions.
	for _, r := range retired {
		log.Infof("publisher: retiring key %d previously bound to %s", r.key, r.name)
		shm.Remove(r.key)
		if cerr := shm.WaitForDetach(ctx, r.key, 0); cerr != core.NoError {
			log.Warningf("publisher: WaitForDetach for key %d did not complete: %s", r.key, cerr)
			continue
		}
		mon.Lock(context.Background())
		mon.Register().ReleaseKey(r.key)
		mon.Unlock()
	}

	// Step 8: release writer lock (deferred).
	return result, core.NoError
}

// planLayout opens every configured artifact for one region, adding one
// block per archive entry (named "<suffix>:<entry name>" so population
// can address it again by recombining the same two pieces), and returns
// the opened archives for populateRegion to reuse. Missing required
// artifacts fail with core.ErrMissingRequired; missing optional ones
// simply contribute no blocks. Each block's element size and alignment
// are inferred from its artifact suffix's semantic type via blockDims,
// mirroring storage.cpp's per-artifact view factory dispatch.
func planLayout(rc config.RegionConfig) (*layout.DataLayout, []artifactHandle, core.Error) {
	l := layout.New(false)
	var artifacts []artifactHandle

	for _, spec := range rc.Required {
		a, cerr := archive.Open(spec.Path)
		if cerr != core.NoError {
			log.Errorf("publisher: required artifact %s unreadable: %s", spec.Path, cerr)
			return nil, nil, core.ErrMissingRequired
		}
		for _, e := range a.Entries() {
			count, size, alignment, cerr := blockDims(spec.Suffix, e)
			if cerr != core.NoError {
				return nil, nil, cerr
			}
			if cerr := l.SetBlock(spec.Suffix+":"+e.Name, count, size, alignment); cerr != core.NoError {
				return nil, nil, cerr
			}
		}
		artifacts = append(artifacts, artifactHandle{spec: spec, a: a})
	}
	for _, spec := range rc.Optional {
		a, cerr := archive.Open(spec.Path)
		if cerr != core.NoError {
			continue // optional artifact absent; contributes no blocks.
		}
		for _, e := range a.Entries() {
			count, size, alignment, cerr := blockDims(spec.Suffix, e)
			if cerr != core.NoError {
				return nil, nil, cerr
			}
			if cerr := l.SetBlock(spec.Suffix+":"+e.Name, count, size, alignment); cerr != core.NoError {
				return nil, nil, cerr
			}
		}
		artifacts = append(artifacts, artifactHandle{spec: spec, a: a})
	}
	return l, artifacts, core.NoError
}

// allocateRegion reserves a key, reclaiming a stale leftover segment if
// one is unexpectedly still live, then creates the segment and writes
// the serialized layout header at its start.
func (p *Publisher) allocateRegion(ctx context.Context, mon *monitor.Monitor, h *regionHandle) core.Error {
	mon.Lock(ctx)
	key, cerr := mon.Register().ReserveKey()
	mon.Unlock()
	if cerr != core.NoError {
		return cerr
	}
	h.key = key

	for shm.RegionExists(key) {
		log.Warningf("publisher: stale segment at key %d, removing before reuse", key)
		shm.Remove(key)
		if cerr := shm.WaitForDetach(ctx, key, 0); cerr != core.NoError {
			return cerr
		}
	}

	header, cerr := h.layout.Serialize()
	if cerr != core.NoError {
		return cerr
	}
	size := uint64(len(header)) + h.layout.TotalSize()

	seg, cerr := shm.Create(key, size)
	if cerr != core.NoError {
		return cerr
	}
	copy(seg.Base, header)
	h.seg = seg
	h.headerLen = uint64(len(header))
	return core.NoError
}

// populateRegion decodes every artifact's entries into their block's typed
// view in the region's data area through internal/datasetio (mirrors
// Storage::PopulateStaticData / PopulateUpdatableData in the source, which
// dispatches each block through its own typed view). Artifacts in
// checksumArtifactSuffixes have their embedded connectivity checksum
// returned keyed by artifact suffix, for the cross-artifact check.
func populateRegion(h *regionHandle) (map[string]uint64, core.Error) {
	dataBase := h.seg.Base[h.headerLen:]
	checksums := make(map[string]uint64)

	for _, ah := range h.artifacts {
		for _, e := range ah.a.Entries() {
			payload, cerr := ah.a.ReadEntry(e.Name)
			if cerr != core.NoError {
				return nil, cerr
			}
			checksum, cerr := populateBlock(dataBase, h.layout, ah.spec.Suffix, ah.spec.Suffix+":"+e.Name, payload, e.ElementCount)
			if cerr != core.NoError {
				return nil, cerr
			}
			if checksumArtifactSuffixes[ah.spec.Suffix] {
				checksums[ah.spec.Suffix] = checksum
			}
		}
	}
	return checksums, core.NoError
}

// checkConnectivityChecksums verifies that the edges artifact's
// connectivity checksum, when present, agrees with whichever of
// hsgr/mldgr is also present. Either side missing its checksum entry
// (e.g. a dataset with no edges/hsgr/mldgr at all) is not an error: the
// check only applies when there's something to compare.
func checkConnectivityChecksums(checksums map[string]uint64) core.Error {
	edges, haveEdges := checksums[".osrm.edges"]
	if !haveEdges {
		return core.NoError
	}
	for _, graphSuffix := range []string{".osrm.hsgr", ".osrm.mldgr"} {
		if graph, ok := checksums[graphSuffix]; ok && graph != edges {
			log.Errorf("publisher: connectivity checksum mismatch between edges (%d) and %s (%d)", edges, graphSuffix, graph)
			return core.ErrChecksumMismatch
		}
	}
	return core.NoError
}

// countLiveKeys reports how many register entries are currently
// occupied, for the register_keys_in_use gauge.
func countLiveKeys(r *register.Register) int {
	n := 0
	for i := 0; i < core.MaxKeys; i++ {
		if r.GetRegion(i).Name() != "" {
			n++
		}
	}
	return n
}

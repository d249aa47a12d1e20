// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package config describes where a dataset's on-disk artifacts live and
// classifies each as REQUIRED or OPTIONAL per the suffix table in §6 of
// the datastore's external interfaces. internal/publisher consults this
// to plan the static and updatable layouts and to validate a config
// before touching shared memory.
package config

import (
	"encoding/json"
	"os"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
)

// staticRequiredSuffixes and staticOptionalSuffixes classify the
// artifacts that make up the "static" region.
var staticRequiredSuffixes = []string{
	".osrm.fileIndex",
	".osrm.icd",
	".osrm.properties",
	".osrm.nbg_nodes",
	".osrm.ebg_nodes",
	".osrm.tls",
	".osrm.tld",
	".osrm.maneuver_overrides",
	".osrm.edges",
	".osrm.names",
	".osrm.ramIndex",
}

var staticOptionalSuffixes = []string{
	".osrm.cells",
	".osrm.partition",
}

// updatableRequiredSuffixes and updatableOptionalSuffixes classify the
// artifacts that make up the "updatable" region.
var updatableRequiredSuffixes = []string{
	".osrm.datasource_names",
	".osrm.geometry",
	".osrm.turn_weight_penalties",
	".osrm.turn_duration_penalties",
}

var updatableOptionalSuffixes = []string{
	".osrm.hsgr",
	".osrm.mldgr",
	".osrm.cell_metrics",
}

// ArtifactSpec names one configured artifact: the fixed suffix that
// classifies it, and the file path it was found (or expected) at.
type ArtifactSpec struct {
	Suffix string
	Path   string
}

// RegionConfig is the set of artifacts that feed one logical region
// ("static" or "updatable").
type RegionConfig struct {
	Required []ArtifactSpec
	Optional []ArtifactSpec
}

// Config is a fully resolved dataset configuration: every region's
// artifacts with their paths, the writer lock path, and the unpacking
// cache memory budget. FromStem derives every artifact path as
// "<stem><suffix>".
type Config struct {
	Dataset     map[string]RegionConfig // keyed by "static", "updatable"
	LockPath    string
	CacheMemoryBudgetBytes uint64
}

const defaultLockPath = "/tmp/osrm-datastore.lock"

// FromStem builds a Config for a dataset whose artifacts all share the
// path prefix stem (e.g. "/data/region" -> "/data/region.osrm.edges").
// It does not touch the filesystem; call Validate to check presence.
func FromStem(stem string) Config {
	build := func(required, optional []string) RegionConfig {
		rc := RegionConfig{}
		for _, s := range required {
			rc.Required = append(rc.Required, ArtifactSpec{Suffix: s, Path: stem + s})
		}
		for _, s := range optional {
			rc.Optional = append(rc.Optional, ArtifactSpec{Suffix: s, Path: stem + s})
		}
		return rc
	}
	return Config{
		Dataset: map[string]RegionConfig{
			"static":    build(staticRequiredSuffixes, staticOptionalSuffixes),
			"updatable": build(updatableRequiredSuffixes, updatableOptionalSuffixes),
		},
		LockPath:               defaultLockPath,
		CacheMemoryBudgetBytes: core.DefaultCacheMemoryBudget,
	}
}

// fileOverrides is the on-disk JSON shape for a config file, following
// the teacher's "JSON config file, flags override" two-layer discipline
// (cmd/master/master.go).
type fileOverrides struct {
	Stem                   string `json:"stem"`
	LockPath               string `json:"lock_path"`
	CacheMemoryBudgetBytes uint64 `json:"cache_memory_budget_bytes"`
}

// Load reads a JSON config file and builds a Config from it. A missing
// stem fails with core.ErrInvalidConfig; other fields left zero in the
// file fall back to FromStem's defaults.
func Load(path string) (Config, core.Error) {
	f, err := os.Open(path)
	if err != nil {
		log.Errorf("config: failed to open %s: %v", path, err)
		return Config{}, core.ErrIoError
	}
	defer f.Close()

	var fo fileOverrides
	if err := json.NewDecoder(f).Decode(&fo); err != nil {
		log.Errorf("config: failed to parse %s: %v", path, err)
		return Config{}, core.ErrInvalidConfig
	}
	if fo.Stem == "" {
		return Config{}, core.ErrInvalidConfig
	}

	cfg := FromStem(fo.Stem)
	if fo.LockPath != "" {
		cfg.LockPath = fo.LockPath
	}
	if fo.CacheMemoryBudgetBytes != 0 {
		cfg.CacheMemoryBudgetBytes = fo.CacheMemoryBudgetBytes
	}
	return cfg, core.NoError
}

// Validate checks the config's own shape (matching core.ErrInvalidConfig
// in spec §7) and that every REQUIRED artifact's file exists. OPTIONAL
// artifacts are allowed to be absent. Missing required files fail with
// core.ErrMissingRequired.
func (c Config) Validate() core.Error {
	if len(c.Dataset) == 0 || c.LockPath == "" {
		return core.ErrInvalidConfig
	}
	for region, rc := range c.Dataset {
		for _, spec := range rc.Required {
			if _, err := os.Stat(spec.Path); err != nil {
				log.Errorf("config: required artifact %s (%s region) missing at %s", spec.Suffix, region, spec.Path)
				return core.ErrMissingRequired
			}
		}
	}
	return core.NoError
}

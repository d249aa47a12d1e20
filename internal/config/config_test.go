// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
)

func writeStemFiles(t *testing.T, stem string, suffixes []string) {
	t.Helper()
	for _, s := range suffixes {
		if err := os.WriteFile(stem+s, []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
}

func TestValidateSucceedsWithAllRequiredPresent(t *testing.T) {
	dir := t.TempDir()
	stem := filepath.Join(dir, "region")
	writeStemFiles(t, stem, staticRequiredSuffixes)
	writeStemFiles(t, stem, updatableRequiredSuffixes)

	cfg := FromStem(stem)
	if cerr := cfg.Validate(); cerr != core.NoError {
		t.Fatalf("Validate: %s", cerr)
	}
}

func TestValidateFailsWhenRequiredMissing(t *testing.T) {
	dir := t.TempDir()
	stem := filepath.Join(dir, "region")
	writeStemFiles(t, stem, staticRequiredSuffixes[1:])
	writeStemFiles(t, stem, updatableRequiredSuffixes)

	cfg := FromStem(stem)
	if cerr := cfg.Validate(); cerr != core.ErrMissingRequired {
		t.Fatalf("expected ErrMissingRequired, got %s", cerr)
	}
}

func TestValidateIgnoresMissingOptional(t *testing.T) {
	dir := t.TempDir()
	stem := filepath.Join(dir, "region")
	writeStemFiles(t, stem, staticRequiredSuffixes)
	writeStemFiles(t, stem, updatableRequiredSuffixes)
	// Deliberately not writing any optional (.osrm.cells, .osrm.hsgr, ...) files.

	cfg := FromStem(stem)
	if cerr := cfg.Validate(); cerr != core.NoError {
		t.Fatalf("Validate: %s", cerr)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	stem := filepath.Join(dir, "region")
	cfgPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"stem":"`+stem+`","lock_path":"/tmp/custom.lock","cache_memory_budget_bytes":1048576}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, cerr := Load(cfgPath)
	if cerr != core.NoError {
		t.Fatalf("Load: %s", cerr)
	}
	if cfg.LockPath != "/tmp/custom.lock" {
		t.Fatalf("expected overridden lock path, got %s", cfg.LockPath)
	}
	if cfg.CacheMemoryBudgetBytes != 1048576 {
		t.Fatalf("expected overridden cache budget, got %d", cfg.CacheMemoryBudgetBytes)
	}
}

func TestLoadRejectsMissingStem(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	os.WriteFile(cfgPath, []byte(`{}`), 0o644)

	if _, cerr := Load(cfgPath); cerr != core.ErrInvalidConfig {
		t.Fatalf("expected ErrInvalidConfig, got %s", cerr)
	}
}

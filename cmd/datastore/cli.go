// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"os"
	"time"

	"github.com/codegangsta/cli"
	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/config"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/monitor"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/publisher"
)

var usage = `
	datastore loads a routing dataset's on-disk artifacts into shared
	memory and publishes it under a dataset name, atomically swapping any
	previous version and retiring it once every reader has detached.

	Publish a dataset:

		datastore publish --dataset <name> --config <path> [--max-wait <secs>]

	Inspect the shared region register without publishing anything:

		datastore status
	`

// newDatastoreCli builds the single codegangsta/cli app exposing the
// publish/status subcommands described in spec.md §6 ("boundary of the
// collaborator layer, included for testability").
func newDatastoreCli() *cli.App {
	app := cli.NewApp()
	app.Name = "datastore"
	app.Usage = usage

	app.Commands = []cli.Command{
		{
			Name:  "publish",
			Usage: "Load artifacts and publish a dataset version into shared memory.",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "dataset",
					Usage: "logical dataset name the register entries are published under",
				},
				cli.StringFlag{
					Name:  "config",
					Usage: "path to a JSON config file (see internal/config); if unset, use --stem instead",
				},
				cli.StringFlag{
					Name:  "stem",
					Usage: "artifact path stem, e.g. /data/region, used when --config is not given",
				},
				cli.IntFlag{
					Name:  "max-wait",
					Usage: "seconds to wait for the monitor lock; negative waits forever",
					Value: int(core.DefaultPublishTimeout / time.Second),
				},
			},
			Action: cmdPublish,
		},
		{
			Name:   "status",
			Usage:  "Print every live entry in the shared region register.",
			Action: cmdStatus,
		},
	}
	return app
}

// loadConfig resolves a Config from either --config or --stem, matching
// the precedence cmd/master.go gives a config file over flags.
func loadConfig(c *cli.Context) (config.Config, core.Error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	stem := c.String("stem")
	if stem == "" {
		log.Errorf("datastore: one of --config or --stem is required")
		return config.Config{}, core.ErrInvalidConfig
	}
	return config.FromStem(stem), core.NoError
}

// cmdPublish implements the "publish" subcommand.
func cmdPublish(c *cli.Context) {
	dataset := c.String("dataset")
	if dataset == "" {
		log.Errorf("datastore: --dataset is required")
		os.Exit(core.ErrInvalidConfig.ExitCode())
	}

	cfg, cerr := loadConfig(c)
	if cerr != core.NoError {
		os.Exit(cerr.ExitCode())
	}

	maxWaitSecs := c.Int("max-wait")
	maxWait := time.Duration(maxWaitSecs) * time.Second
	if maxWaitSecs < 0 {
		maxWait = -1
	}

	result, cerr := publisher.New(cfg).Publish(context.Background(), dataset, maxWait)
	if cerr != core.NoError {
		log.Errorf("datastore: publish failed: %s", cerr)
		os.Exit(cerr.ExitCode())
	}

	log.Infof("datastore: published %s: static=(key=%d,ts=%d) updatable=(key=%d,ts=%d)",
		result.Dataset, result.StaticKey, result.StaticTimestamp, result.UpdatableKey, result.UpdatableTimestamp)
}

// cmdStatus implements the "status" subcommand: attach the monitor
// read-only and print every occupied register slot. Never mutates the
// register, so it is safe to run alongside a publisher.
func cmdStatus(c *cli.Context) {
	mon, cerr := monitor.Attach()
	if cerr != core.NoError {
		log.Errorf("datastore: failed to attach monitor: %s", cerr)
		os.Exit(cerr.ExitCode())
	}
	defer mon.Detach()

	if cerr := mon.Lock(context.Background()); cerr != core.NoError {
		log.Errorf("datastore: failed to lock monitor: %s", cerr)
		os.Exit(cerr.ExitCode())
	}
	defer mon.Unlock()

	free, total := publisher.HostMemory()
	log.Infof("datastore: host memory: %d/%d bytes free", free, total)

	reg := mon.Register()
	found := false
	for i := 0; i < core.MaxKeys; i++ {
		entry := reg.GetRegion(i)
		if entry == nil || entry.Name() == "" {
			continue
		}
		found = true
		log.Infof("datastore: %s -> key=%d timestamp=%d", entry.Name(), entry.ShmKey, entry.Timestamp)
	}
	if !found {
		log.Infof("datastore: register is empty")
	}
}

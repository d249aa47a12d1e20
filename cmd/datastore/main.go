// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"flag"
	"os"

	log "github.com/golang/glog"
)

func main() {
	// We should send our own log output to stderr.
	flag.Set("logtostderr", "true")
	flag.Parse()

	app := newDatastoreCli()
	if err := app.Run(os.Args); err != nil {
		log.Errorf("datastore: %s", err)
		os.Exit(1)
	}
}

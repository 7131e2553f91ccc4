// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors
//
// Nephostat - ACOEM nephelometer data acquisition
//
// A CLI tool for querying ACOEM Aurora and NE-series nephelometers and
// archiving their logged data.

package main

import (
	"os"

	"github.com/mkndaq/nephostat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// iox - Remote I/O expander
//
// Runs an I/O expander for a supported board and provides the host tools
// that configure and monitor it.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/iox/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

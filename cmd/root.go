// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/iox/pkg/exio"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Bus flags
	busAddress string
	logLevel   string

	logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
)

var rootCmd = &cobra.Command{
	Use:   "iox",
	Short: "Remote I/O expander and host tools",
	Long: `iox - A remote I/O expander and the host tools that drive it.

The serve command runs the expander itself: it answers framed commands for a
board's pins, animates outputs and samples inputs. The remaining commands are
host tools that talk to an expander over the same link.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the IOX_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "0.0.4",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return errors.Wrapf(err, "--log-level")
		}
		logger.SetLevel(level)
		return nil
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&busAddress, "address", "a", "0x65", "Bus address of the expander (hex)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// parseAddress reads a bus address in hex, with or without the 0x prefix.
func parseAddress(s string) (uint8, error) {
	v, err := strconv.ParseUint(trimHex(s), 16, 8)
	if err != nil {
		return 0, errors.Errorf("invalid bus address %q", s)
	}
	if v < exio.MinAddress || v > exio.MaxAddress {
		return 0, errors.Errorf("bus address 0x%02X outside 0x%02X..0x%02X", v, exio.MinAddress, exio.MaxAddress)
	}
	return uint8(v), nil
}

func trimHex(s string) string {
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func busAddressString(addr uint8) string {
	return fmt.Sprintf("0x%02X", addr)
}

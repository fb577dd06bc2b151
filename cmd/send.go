// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/iox/pkg/animation"
	"github.com/Thermoquad/iox/pkg/exio"
)

var sendCmd = &cobra.Command{
	Use:   "send <command> [args...]",
	Short: "Send one command to an expander and print the response",
	Long: `Send a single command frame to the expander at --address, poll for the
response and print both in human-readable form.

Commands:
  init <pins> <firstVpin>            configure the expander (INIT)
  inita                              read the analogue pin map
  ver                                read the firmware version
  caps                               read the capability table
  dpup <pin> <0|1>                   digital input, pullup off/on
  wrd <pin> <0|1>                    write a digital output
  rdd                                read the digital snapshot
  enan <pin>                         enable an analogue input
  rdan                               read the analogue snapshot
  wran <pin> <value> [profile] [ds]  animate an output; profile is a name
                                     such as "slow" or "fast+dimmer"

Examples:
  iox send --port /dev/ttyUSB0 init 16 800
  iox send --url ws://bridge.local/iox wran 9 4095 medium`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	frame, err := buildCommand(args[0], args[1:])
	if err != nil {
		return err
	}

	client, connInfo, err := OpenClient()
	if err != nil {
		return err
	}
	defer client.Close()

	logger.Debug("sending", "connection", connInfo, "address", fmt.Sprintf("0x%02X", client.Address()))
	fmt.Print(exio.FormatCommand(frame))

	resp, err := client.Transact(context.Background(), frame)
	if err != nil {
		return err
	}
	fmt.Print(exio.FormatResponse(frame[0], resp))
	return nil
}

// buildCommand turns a command name and its arguments into a command frame.
func buildCommand(name string, args []string) ([]byte, error) {
	want := map[string][2]int{
		"init": {2, 2}, "inita": {0, 0}, "ver": {0, 0}, "caps": {0, 0},
		"dpup": {2, 2}, "wrd": {2, 2}, "rdd": {0, 0}, "enan": {1, 1},
		"rdan": {0, 0}, "wran": {2, 4},
	}
	name = strings.ToLower(name)
	n, ok := want[name]
	if !ok {
		return nil, errors.Errorf("unknown command %q", name)
	}
	if len(args) < n[0] || len(args) > n[1] {
		return nil, errors.Errorf("%s takes %d..%d arguments, got %d", name, n[0], n[1], len(args))
	}

	var perr error
	num := func(i, bits int) uint64 {
		if perr != nil {
			return 0
		}
		v, err := strconv.ParseUint(args[i], 0, bits)
		if err != nil {
			perr = errors.Wrapf(err, "%s argument %d", name, i+1)
		}
		return v
	}

	var frame []byte
	switch name {
	case "init":
		frame = exio.NewInit(uint8(num(0, 8)), uint16(num(1, 16)))
	case "inita":
		frame = exio.NewInitAnalogueMap()
	case "ver":
		frame = exio.NewReadVersion()
	case "caps":
		frame = exio.NewReadCaps()
	case "dpup":
		frame = exio.NewSetPullup(uint8(num(0, 8)), num(1, 1) == 1)
	case "wrd":
		frame = exio.NewWriteDigital(uint8(num(0, 8)), num(1, 1) == 1)
	case "rdd":
		frame = exio.NewReadDigital()
	case "enan":
		frame = exio.NewEnableAnalogue(uint8(num(0, 8)))
	case "rdan":
		frame = exio.NewReadAnalogue()
	case "wran":
		profile := animation.Profile{Kind: animation.Instant}
		if len(args) > 2 {
			p, err := animation.ParseProfileName(args[2])
			if err != nil {
				return nil, err
			}
			profile = p
		}
		var duration uint16
		if len(args) > 3 {
			duration = uint16(num(3, 16))
		}
		frame = exio.NewWriteAnimated(uint8(num(0, 8)), uint16(num(1, 16)), profile.Byte(), duration)
	}
	if perr != nil {
		return nil, perr
	}
	return frame, nil
}

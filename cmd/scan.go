// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/iox/pkg/board"
)

var (
	scanTimeout int
	scanFrom    string
	scanTo      string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find expanders by probing bus addresses",
	Long: `Send READ_VERSION to every bus address in range and list the expanders that answer.

Each responding expander is also asked for its capability table so the pin
count can be shown.

Examples:
  iox scan --port /dev/ttyUSB0
  iox scan --url ws://bridge.local/iox --from 0x60 --to 0x6F

Exit codes:
  0 - At least one expander found
  1 - No expander answered
  2 - Connection error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 100, "Timeout in milliseconds per address")
	scanCmd.Flags().StringVar(&scanFrom, "from", "0x08", "First address to probe (hex)")
	scanCmd.Flags().StringVar(&scanTo, "to", "0x77", "Last address to probe (hex)")
}

func runScan(cmd *cobra.Command, args []string) error {
	from, err := parseAddress(scanFrom)
	if err != nil {
		return err
	}
	to, err := parseAddress(scanTo)
	if err != nil {
		return err
	}

	client, connInfo, err := OpenClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer client.Close()
	client.SetTimeout(time.Duration(scanTimeout) * time.Millisecond)

	fmt.Printf("iox - Bus Scan\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Range: 0x%02X..0x%02X\n\n", from, to)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	found := 0
	for addr := int(from); addr <= int(to); addr++ {
		select {
		case <-client.Done():
			fmt.Fprintf(os.Stderr, "Connection closed\n")
			os.Exit(2)
		default:
		}

		version, err := client.Probe(ctx, uint8(addr))
		if err != nil {
			logger.Debug("no answer", "address", fmt.Sprintf("0x%02X", addr), "err", err)
			continue
		}
		found++
		fmt.Printf("Expander at 0x%02X: version %s", addr, version)

		client.SetAddress(uint8(addr))
		caps, err := client.Capabilities(ctx)
		if err == nil {
			fmt.Printf(", %d pins (%s)", len(caps), capsSummary(caps))
		}
		fmt.Println()
	}

	fmt.Printf("\n--- Scan summary ---\n")
	fmt.Printf("Expanders found: %d\n", found)
	if found == 0 {
		fmt.Printf("No expanders answered. Check connection and device power.\n")
		os.Exit(1)
	}
	return nil
}

// capsSummary counts the analogue and PWM pins in a capability table.
func capsSummary(caps []byte) string {
	var analogue, pwm int
	for _, c := range caps {
		if board.Capability(c).Has(board.AnalogueInput) {
			analogue++
		}
		if board.Capability(c).Has(board.PWMOutput) {
			pwm++
		}
	}
	return fmt.Sprintf("%d analogue, %d PWM", analogue, pwm)
}


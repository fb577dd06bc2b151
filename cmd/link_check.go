// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	linkCheckDuration int
	linkCheckInterval int
)

var linkCheckCmd = &cobra.Command{
	Use:   "link_check",
	Short: "Test link stability with periodic version polls",
	Long: `Keep the connection open and poll the expander's version at a fixed interval.

Every poll and every connection error is logged with a timestamp. Useful for
debugging flaky serial cables and WebSocket bridges that drop idle sessions.

Exit codes:
  0 - Test completed with every poll answered
  1 - Connection lost or polls failed
  2 - Connection error`,
	RunE: runLinkCheck,
}

func init() {
	rootCmd.AddCommand(linkCheckCmd)
	linkCheckCmd.Flags().IntVar(&linkCheckDuration, "duration", 30, "Test duration in seconds")
	linkCheckCmd.Flags().IntVar(&linkCheckInterval, "interval", 1000, "Poll interval in milliseconds")
}

func runLinkCheck(cmd *cobra.Command, args []string) error {
	client, connInfo, err := OpenClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer client.Close()

	fmt.Printf("Link Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", linkCheckDuration)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(linkCheckDuration)*time.Second)
	defer cancel()

	ticker := time.NewTicker(time.Duration(linkCheckInterval) * time.Millisecond)
	defer ticker.Stop()

	start := time.Now()
	answered, failed := 0, 0
	report := func(result string) {
		fmt.Printf("\n--- Test Results ---\n")
		fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("Polls answered: %d\n", answered)
		fmt.Printf("Polls failed: %d\n", failed)
		fmt.Printf("Result: %s\n", result)
	}

	for {
		select {
		case <-ctx.Done():
			if failed > 0 {
				report("FAILED (polls lost)")
				os.Exit(1)
			}
			report("PASSED (connection stable)")
			return nil

		case <-client.Done():
			fmt.Printf("\n[%s] Connection lost\n", time.Now().Format("15:04:05.000"))
			report("FAILED (connection error)")
			os.Exit(1)

		case <-ticker.C:
			t := time.Now()
			version, err := client.Version(ctx)
			stamp := t.Format("15:04:05.000")
			switch {
			case ctx.Err() != nil:
				// Test ended mid-poll
			case err != nil:
				failed++
				fmt.Printf("[%s] Poll failed: %v\n", stamp, err)
			default:
				answered++
				fmt.Printf("[%s] Version %s in %v\n", stamp, version, time.Since(t).Round(time.Microsecond))
			}
		}
	}
}

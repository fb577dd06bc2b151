// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/iox/pkg/exio"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var linkStatsCmd = &cobra.Command{
	Use:   "link_stats",
	Short: "Detect and analyze malformed frames and errors",
	Long: `Track link errors, malformed commands and NAK responses with statistics.

This command validates each frame on the link and detects:
  - CRC errors and framing failures
  - Unknown opcodes and commands of the wrong length
  - Out-of-range values (WRITE_ANIMATED position above 4095, unknown profiles)
  - Frames for addresses outside 0x08..0x77, READ polls carrying a payload
  - Statistics and trends (frame rate, error rate, NAK count)

By default, only errors are displayed. Use --show-all to display valid frames too.

Frames are validated in real-time, with errors highlighted immediately and
periodic statistics summaries displayed at configurable intervals.`,
	RunE: runLinkStats,
}

func init() {
	rootCmd.AddCommand(linkStatsCmd)
	linkStatsCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	linkStatsCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	linkStatsCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runLinkStats(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	if useTUI {
		return runTUIMode(conn, connInfo)
	}
	return runTextMode(conn, connInfo)
}

// linkEvent is one decoded frame or decode failure.
type linkEvent struct {
	frame            *exio.Frame
	decodeErr        error
	validationErrors []exio.ValidationError
}

// syncEvent reports the first valid frame.
type syncEvent struct {
	invalidBytes int
}

// readLink decodes conn until it fails. Decode errors before the first valid
// frame only count as skipped bytes.
func readLink(conn io.Reader, emit func(any)) error {
	decoder := exio.NewDecoder()
	synchronized := false
	invalidBytes := 0
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			frame, decodeErr := decoder.DecodeByte(buf[i])
			switch {
			case decodeErr != nil:
				if synchronized {
					emit(linkEvent{decodeErr: decodeErr})
				} else {
					invalidBytes++
				}
			case frame != nil:
				if !synchronized {
					synchronized = true
					emit(syncEvent{invalidBytes: invalidBytes})
				}
				emit(linkEvent{frame: frame, validationErrors: exio.ValidateFrame(frame)})
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				return nil
			}
			return errors.Wrap(err, "read")
		}
	}
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> DECODE FAILED <<<\n\n")
}

// printNak prints a NAK response
func printNak(frame *exio.Frame) {
	timestamp := frame.Timestamp().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mNAK:\033[0m expander 0x%02X rejected the last command\n\n", timestamp, frame.Address())
}

// printValidationErrors prints validation errors for a frame
func printValidationErrors(frame *exio.Frame, errs []exio.ValidationError) {
	timestamp := frame.Timestamp().Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s addr=0x%02X\n", timestamp, frame.Kind(), frame.Address())
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")

	for i, err := range errs {
		switch err.Type {
		case exio.AnomalyLengthMismatch:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
			if received, ok := err.Details["received"].(int); ok {
				if expected, ok := err.Details["expected"].(int); ok {
					fmt.Printf("    Length: received=%d, expected=%d\n", received, expected)
				}
			}

		case exio.AnomalyUnknownOpcode:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)

		case exio.AnomalyInvalidValue, exio.AnomalyInvalidAddress:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	if frame.Kind() == exio.KindWrite {
		fmt.Print(exio.FormatCommand(frame.Payload()))
	}
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// runTUIMode runs link statistics in TUI mode
func runTUIMode(conn Connection, connInfo string) error {
	m := initialModel(connInfo, statsInterval, showAll)
	p := tea.NewProgram(m)

	go func() {
		if err := readLink(conn, func(ev any) { p.Send(ev) }); err != nil {
			p.Send(linkClosedMsg{err: err})
			return
		}
		p.Send(linkClosedMsg{})
	}()

	if _, err := p.Run(); err != nil {
		return errors.Wrap(err, "TUI error")
	}
	return nil
}

// runTextMode runs link statistics in text mode
func runTextMode(conn Connection, connInfo string) error {
	fmt.Printf("iox - Link Statistics\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := exio.NewStatistics()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	events := make(chan any, 16)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readLink(conn, func(ev any) { events <- ev })
	}()

	for {
		select {
		case ev := <-events:
			switch ev := ev.(type) {
			case syncEvent:
				if ev.invalidBytes > 0 {
					fmt.Printf("[SYNC] Synchronized after skipping %d invalid bytes\n\n", ev.invalidBytes)
				} else {
					fmt.Printf("[SYNC] Synchronized\n\n")
				}

			case linkEvent:
				stats.Update(ev.frame, ev.decodeErr, ev.validationErrors)
				switch {
				case ev.decodeErr != nil:
					printDecodeError(ev.decodeErr)
				case len(ev.validationErrors) > 0:
					printValidationErrors(ev.frame, ev.validationErrors)
				case isNak(ev.frame):
					// Always print rejections
					printNak(ev.frame)
				case showAll:
					fmt.Print(exio.FormatFrame(ev.frame))
				}
			}

		case err := <-readErr:
			fmt.Println()
			fmt.Print(stats.String())
			if err != nil {
				return err
			}
			logger.Info("connection closed")
			return nil

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}

func isNak(f *exio.Frame) bool {
	p := f.Payload()
	return f.Kind() == exio.KindData && len(p) == 1 && p[0] == exio.RespNak
}

// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var controlRefreshMs int

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for driving an expander",
	Long: `Drive an I/O expander via an interactive terminal UI.

The TUI reads the capability table once, then polls the digital and
analogue snapshots and shows every pin with its current state. Commands
typed into the command line use the same syntax as "iox send".

Features:
  - Live pin table (capabilities, digital level, analogue value)
  - Output toggling from the pin list
  - Command line for any link command
  - Event logging
  - Automatic reconnection on connection loss

Tab switches between the pin list and the command line. Enter on a pin
toggles its digital output.

Supports both serial and WebSocket connections.`,
	RunE: runControl,
}

func init() {
	controlCmd.Flags().IntVar(&controlRefreshMs, "refresh", 500, "Snapshot poll interval in milliseconds")
	rootCmd.AddCommand(controlCmd)
}

// connectionManager handles client lifecycle and reconnection
type connectionManager struct {
	client   *linkClient
	connInfo string
	mu       sync.RWMutex
	p        *tea.Program
	ctx      context.Context
	done     chan struct{}
}

func (cm *connectionManager) getClient() *linkClient {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.client
}

func (cm *connectionManager) setClient(client *linkClient, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.client = client
	cm.connInfo = connInfo
}

func runControl(cmd *cobra.Command, args []string) error {
	if controlRefreshMs <= 0 {
		return fmt.Errorf("refresh must be positive")
	}

	client, connInfo, err := OpenClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cm := &connectionManager{
		client:   client,
		connInfo: connInfo,
		ctx:      ctx,
		done:     make(chan struct{}),
	}

	m := initialControlModel(cm, connInfo, client.Address())

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	cm.p = p

	go cm.superviseLoop()
	go cm.pollLoop(time.Duration(controlRefreshMs) * time.Millisecond)

	_, runErr := p.Run()
	close(cm.done)
	cancel()
	if c := cm.getClient(); c != nil {
		c.Close()
	}
	if runErr != nil {
		return fmt.Errorf("TUI error: %v", runErr)
	}
	return nil
}

// superviseLoop waits for the link to drop and reconnects.
func (cm *connectionManager) superviseLoop() {
	for {
		client := cm.getClient()
		select {
		case <-cm.done:
			return
		case <-client.Done():
		}

		cm.p.Send(connectionLostMsg{})
		if !cm.reconnect() {
			return
		}
	}
}

// pollLoop reads the device snapshots at a fixed rate. The capability table
// and analogue map are read again after every reconnect.
func (cm *connectionManager) pollLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var layout *pinLayoutMsg
	var polled *linkClient
	for {
		select {
		case <-cm.done:
			return
		case <-ticker.C:
		}

		client := cm.getClient()
		if client != polled {
			layout, polled = nil, client
		}
		select {
		case <-client.Done():
			continue
		default:
		}

		if layout == nil {
			l, err := readLayout(cm.ctx, client)
			if err != nil {
				cm.p.Send(pollErrorMsg{err: err})
				continue
			}
			layout = &l
			cm.p.Send(l)
		}

		snap, err := readSnapshot(cm.ctx, client)
		if err != nil {
			cm.p.Send(pollErrorMsg{err: err})
			continue
		}
		cm.p.Send(snap)
	}
}

func readLayout(ctx context.Context, client *linkClient) (pinLayoutMsg, error) {
	caps, err := client.Capabilities(ctx)
	if err != nil {
		return pinLayoutMsg{}, err
	}
	analogueMap, err := client.AnalogueMap(ctx)
	if err != nil {
		return pinLayoutMsg{}, err
	}
	version, err := client.Version(ctx)
	if err != nil {
		return pinLayoutMsg{}, err
	}
	return pinLayoutMsg{caps: caps, analogueMap: analogueMap, version: version.String()}, nil
}

func readSnapshot(ctx context.Context, client *linkClient) (snapshotMsg, error) {
	digital, err := client.ReadDigital(ctx)
	if err != nil {
		return snapshotMsg{}, err
	}
	analogue, err := client.ReadAnalogue(ctx)
	if err != nil {
		return snapshotMsg{}, err
	}
	return snapshotMsg{at: time.Now(), digital: digital, analogue: analogue}, nil
}

// transact sends cmd on the current client.
func (cm *connectionManager) transact(cmd []byte) ([]byte, error) {
	client := cm.getClient()
	select {
	case <-client.Done():
		return nil, fmt.Errorf("connection lost")
	default:
	}
	return client.Transact(cm.ctx, cmd)
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (cm *connectionManager) reconnect() bool {
	if c := cm.getClient(); c != nil {
		c.Close()
	}

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		client, connInfo, err := OpenClient()
		if err == nil {
			cm.setClient(client, connInfo)
			cm.p.Send(reconnectedMsg{connInfo: connInfo})
			return true
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

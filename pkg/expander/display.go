// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package expander

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/iox/pkg/console"
	"github.com/Thermoquad/iox/pkg/pinstate"
)

// vpinsPerLine is the number of Vpin map entries printed per line.
const vpinsPerLine = 10

func (d *Device) displayTick() {
	if !d.diag.Load() {
		return
	}
	now := d.clock.Now()
	if now.Sub(d.lastDisplay.Load()) < d.displayDelay.Load() {
		return
	}
	d.lastDisplay.Store(now)
	if d.TestMode() == console.TestOutput {
		d.toggleOutputs()
	}
	d.DisplayPins()
}

// DisplayPins prints one line per pin describing its mode and state.
func (d *Device) DisplayPins() {
	var sb strings.Builder
	for i, s := range d.store.States() {
		pin := uint8(i)
		physical := d.board.Physical(pin)
		switch s.Mode {
		case pinstate.ModeUnused:
			fmt.Fprintf(&sb, "Pin %s not in use\n", physical)
		case pinstate.ModeDigital:
			fmt.Fprintf(&sb, "Digital Pin|Direction|Pullup|State:%s|%s|%d|%d\n",
				physical, s.Direction, bit(s.Pullup), bit(d.store.Digital(pin)))
		case pinstate.ModeAnalogue:
			v, _ := d.store.Analogue(pin)
			fmt.Fprintf(&sb, "Analogue Pin|Value|LSB|MSB:%s|%d|%d|%d\n",
				physical, v, v&0xFF, v>>8)
		case pinstate.ModePWM:
			a, _ := d.engine.State(pin)
			fmt.Fprintf(&sb, "PWM Output Pin|Position|Target:%s|%d|%d\n", physical, a.Current, a.To)
		case pinstate.ModePWMDimmed:
			a, _ := d.engine.State(pin)
			p, _ := d.dimmer.Pattern(pin)
			level, _ := d.dimmer.Level(pin)
			fmt.Fprintf(&sb, "PWM Output Pin|Position|Target|On|Off|Level:%s|%d|%d|%d|%d|%d\n",
				physical, a.Current, a.To, p.On, p.Off, bit(level))
		}
	}
	if n := d.engine.WriteErrors(); n > 0 {
		fmt.Fprintf(&sb, "Animation write errors:%d\n", n)
	}
	d.printf("%s", sb.String())
}

// VpinMap prints the host Vpin of every pin, starting at the first Vpin the
// host assigned.
func (d *Device) VpinMap() {
	var sb strings.Builder
	sb.WriteString("Vpin to physical pin mappings (Vpin => physical pin):\n")
	vpin := int(d.dispatcher.FirstVpin())
	n := d.board.NumPins()
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "%d => %s", vpin+i, d.board.Physical(uint8(i)))
		if i == n-1 || (i+1)%vpinsPerLine == 0 {
			sb.WriteString("\n")
		} else {
			sb.WriteString(",")
		}
	}
	d.printf("%s", sb.String())
}

// StartupBanner prints the version, board and bus address.
func (d *Device) StartupBanner() {
	d.printf("iox version %s\n", d.dispatcher.Version())
	d.printf("Board %s, %d pins (%d digital, %d analogue, %d PWM)\n",
		d.board.Name, d.board.NumPins(), d.board.NumDigital(), d.board.NumAnalogue(), d.board.NumPWM())
	d.printf("Bus address 0x%02X\n", d.Address())
}

func bit(b bool) int {
	if b {
		return 1
	}
	return 0
}

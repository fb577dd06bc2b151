// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package board holds the pin capability tables of the supported boards.
//
// Each table maps a logical pin index (the host's Vpin offset) to a physical
// pin name and a 4-bit capability mask. Tables are read-only.
package board

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Capability is the per-pin function mask.
type Capability uint8

// Capability bits
const (
	DigitalInput Capability = 1 << iota
	DigitalOutput
	AnalogueInput
	PWMOutput
)

// Composite masks used by the tables
const (
	DIO    = DigitalInput | DigitalOutput
	DIOP   = DIO | PWMOutput
	AIDIO  = DIO | AnalogueInput
	AIDIOP = AIDIO | PWMOutput
	AI     = AnalogueInput
)

// Has reports whether every bit in bits is set.
func (c Capability) Has(bits Capability) bool {
	return bits != 0 && c&bits == bits
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	if c.Has(DigitalInput) {
		parts = append(parts, "DI")
	}
	if c.Has(DigitalOutput) {
		parts = append(parts, "DO")
	}
	if c.Has(AnalogueInput) {
		parts = append(parts, "AI")
	}
	if c.Has(PWMOutput) {
		parts = append(parts, "PWM")
	}
	return strings.Join(parts, "|")
}

// Pin is one entry of a capability table.
type Pin struct {
	Physical string
	Caps     Capability
}

// Board describes a supported target.
type Board struct {
	Name string
	Pins []Pin

	// Output channel pool sizes
	ServoChannels  int
	DimmerChannels int
}

// NumPins returns the number of logical pins.
func (b *Board) NumPins() int {
	return len(b.Pins)
}

// Pin returns the table entry for a logical pin.
func (b *Board) Pin(pin uint8) (Pin, bool) {
	if int(pin) >= len(b.Pins) {
		return Pin{}, false
	}
	return b.Pins[pin], true
}

// Caps returns the capability mask of a logical pin, zero if absent.
func (b *Board) Caps(pin uint8) Capability {
	p, _ := b.Pin(pin)
	return p.Caps
}

// Physical returns the physical name of a logical pin, "?" if absent.
func (b *Board) Physical(pin uint8) string {
	p, ok := b.Pin(pin)
	if !ok {
		return "?"
	}
	return p.Physical
}

// NumDigital counts pins with digital input or output capability.
func (b *Board) NumDigital() int {
	n := 0
	for _, p := range b.Pins {
		if p.Caps&DIO != 0 {
			n++
		}
	}
	return n
}

// NumAnalogue counts pins with analogue input capability.
func (b *Board) NumAnalogue() int {
	n := 0
	for _, p := range b.Pins {
		if p.Caps.Has(AnalogueInput) {
			n++
		}
	}
	return n
}

// NumPWM counts pins with hardware PWM capability.
func (b *Board) NumPWM() int {
	n := 0
	for _, p := range b.Pins {
		if p.Caps.Has(PWMOutput) {
			n++
		}
	}
	return n
}

// AnalogueMap returns the logical index of every analogue-capable pin in
// index order.
func (b *Board) AnalogueMap() []uint8 {
	m := make([]uint8, 0, b.NumAnalogue())
	for i, p := range b.Pins {
		if p.Caps.Has(AnalogueInput) {
			m = append(m, uint8(i))
		}
	}
	return m
}

// CapabilityTable returns one capability byte per logical pin.
func (b *Board) CapabilityTable() []byte {
	t := make([]byte, len(b.Pins))
	for i, p := range b.Pins {
		t[i] = byte(p.Caps)
	}
	return t
}

var registry = map[string]*Board{}

func register(b *Board) {
	registry[b.Name] = b
}

// Lookup returns the board registered under name.
func Lookup(name string) (*Board, error) {
	b, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf("unknown board %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return b, nil
}

// Names lists the registered boards.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

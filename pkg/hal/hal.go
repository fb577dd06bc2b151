// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hal abstracts the pin hardware behind the expander.
//
// Drivers address pins by logical index and resolve the physical pin through
// the board table they were created with. Output values are 12-bit.
package hal

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/Thermoquad/iox/pkg/board"
)

// MaxValue is the largest output value a driver accepts.
const MaxValue = 4095

// Driver is a pin backend.
type Driver interface {
	Name() string
	ConfigureInput(pin uint8, pullup bool) error
	ConfigureOutput(pin uint8) error
	DigitalWrite(pin uint8, high bool) error
	DigitalRead(pin uint8) (bool, error)
	AnalogueRead(pin uint8) (uint16, error)
	// PWMWrite sets a hardware PWM duty cycle from 0 to MaxValue.
	PWMWrite(pin uint8, value uint16) error
	// ServoWrite sets a servo position from 0 to MaxValue.
	ServoWrite(pin uint8, value uint16) error
	Close() error
}

// Open creates the named driver for b.
func Open(name string, b *board.Board) (Driver, error) {
	switch strings.ToLower(name) {
	case "sim", "":
		return NewSim(b), nil
	case "periph":
		return NewPeriph(b)
	default:
		return nil, errors.Errorf("unknown driver %q (use sim or periph)", name)
	}
}

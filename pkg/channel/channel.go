// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package channel assigns output pins to one of the fixed-size output
// channel pools.
package channel

import (
	"fmt"
	"sync"

	"github.com/Thermoquad/iox/pkg/board"
	"github.com/Thermoquad/iox/pkg/errcode"
	"github.com/pkg/errors"
)

// Backend is the output technology behind a channel.
type Backend uint8

// Output backends
const (
	BackendNone Backend = iota
	BackendHardwarePWM
	BackendServo
	BackendDimmer
)

func (b Backend) String() string {
	switch b {
	case BackendHardwarePWM:
		return "pwm"
	case BackendServo:
		return "servo"
	case BackendDimmer:
		return "dimmer"
	default:
		return "none"
	}
}

// Channel is a slot in one of the pools.
type Channel struct {
	Backend Backend
	Slot    int // index within the backend's pool
}

// Handle flattens the channel into a single index: hardware slots first,
// then dimmer slots.
func (c Channel) Handle(servoPool int) int {
	if c.Backend == BackendDimmer {
		return servoPool + c.Slot
	}
	return c.Slot
}

func (c Channel) String() string {
	return fmt.Sprintf("%s#%d", c.Backend, c.Slot)
}

// Allocator hands out channels on first use. Slots are never released
// individually; Reset empties both pools.
type Allocator struct {
	board *board.Board

	mu     sync.Mutex
	servo  []uint8 // pin bound to each hardware slot
	dimmer []uint8 // pin bound to each dimmer slot
	byPin  []Channel
}

// New sizes the pools from the board description.
func New(b *board.Board) *Allocator {
	return NewWithPools(b, b.ServoChannels, b.DimmerChannels)
}

// NewWithPools creates an allocator with explicit pool capacities.
func NewWithPools(b *board.Board, servoSlots, dimmerSlots int) *Allocator {
	return &Allocator{
		board:  b,
		servo:  make([]uint8, 0, servoSlots),
		dimmer: make([]uint8, 0, dimmerSlots),
		byPin:  make([]Channel, b.NumPins()),
	}
}

// Validate returns the channel Allocate(pin, useDimmer) would bind without
// binding it.
func (a *Allocator) Validate(pin uint8, useDimmer bool) (Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.choose(pin, useDimmer)
}

// Allocate returns the channel of pin, binding a new one when needed.
func (a *Allocator) Allocate(pin uint8, useDimmer bool) (Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, err := a.choose(pin, useDimmer)
	if err != nil {
		return Channel{}, err
	}
	if a.byPin[pin].Backend != BackendNone {
		return ch, nil
	}
	switch ch.Backend {
	case BackendDimmer:
		a.dimmer = append(a.dimmer, pin)
	default:
		a.servo = append(a.servo, pin)
	}
	a.byPin[pin] = ch
	return ch, nil
}

func (a *Allocator) choose(pin uint8, useDimmer bool) (Channel, error) {
	if int(pin) >= len(a.byPin) {
		return Channel{}, errors.Wrapf(errcode.CapabilityMismatch, "pin %d out of range", pin)
	}
	if ch := a.byPin[pin]; ch.Backend != BackendNone {
		return ch, nil
	}
	caps := a.board.Pins[pin].Caps
	if !caps.Has(board.DigitalOutput) {
		return Channel{}, errors.Wrapf(errcode.CapabilityMismatch, "pin %d (%s) lacks DO", pin, a.board.Pins[pin].Physical)
	}
	if useDimmer && len(a.dimmer) < cap(a.dimmer) {
		return Channel{Backend: BackendDimmer, Slot: len(a.dimmer)}, nil
	}
	if len(a.servo) < cap(a.servo) {
		backend := BackendServo
		if caps.Has(board.PWMOutput) {
			backend = BackendHardwarePWM
		}
		return Channel{Backend: backend, Slot: len(a.servo)}, nil
	}
	return Channel{}, errors.Wrapf(errcode.PoolExhausted, "pin %d (%s)", pin, a.board.Pins[pin].Physical)
}

// Lookup returns the channel bound to pin.
func (a *Allocator) Lookup(pin uint8) (Channel, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(pin) >= len(a.byPin) || a.byPin[pin].Backend == BackendNone {
		return Channel{}, false
	}
	return a.byPin[pin], true
}

// Free returns the number of unused hardware and dimmer slots.
func (a *Allocator) Free() (servo, dimmer int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cap(a.servo) - len(a.servo), cap(a.dimmer) - len(a.dimmer)
}

// ServoPool is the hardware pool capacity.
func (a *Allocator) ServoPool() int {
	return cap(a.servo)
}

// Reset unbinds every channel.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.servo = a.servo[:0]
	a.dimmer = a.dimmer[:0]
	clear(a.byPin)
}

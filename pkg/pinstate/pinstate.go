// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package pinstate tracks the runtime state of every logical pin and the
// snapshot buffers served to the host.
package pinstate

import (
	"sync"

	"github.com/Thermoquad/iox/pkg/board"
	"github.com/Thermoquad/iox/pkg/errcode"
	"github.com/Thermoquad/iox/pkg/mathx"
	"github.com/pkg/errors"
)

// Mode is what a claimed pin is used for.
type Mode uint8

// Pin modes
const (
	ModeUnused Mode = iota
	ModeDigital
	ModeAnalogue
	ModePWM
	ModePWMDimmed
)

func (m Mode) String() string {
	switch m {
	case ModeUnused:
		return "unused"
	case ModeDigital:
		return "digital"
	case ModeAnalogue:
		return "analogue"
	case ModePWM:
		return "pwm"
	case ModePWMDimmed:
		return "pwm-dimmed"
	default:
		return "unknown"
	}
}

// Direction of a pin.
type Direction uint8

// Pin directions
const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// NoChannel marks a pin without an output channel.
const NoChannel = -1

// State is the runtime state of one logical pin.
type State struct {
	Mode      Mode
	Direction Direction
	Pullup    bool
	Enabled   bool
	Channel   int
}

// RequiredCapability returns the capability bit a claim needs, or zero when
// the mode/direction pair is not claimable.
func RequiredCapability(mode Mode, dir Direction) board.Capability {
	switch mode {
	case ModeDigital:
		if dir == Output {
			return board.DigitalOutput
		}
		return board.DigitalInput
	case ModeAnalogue:
		if dir == Input {
			return board.AnalogueInput
		}
	case ModePWM, ModePWMDimmed:
		if dir == Output {
			return board.DigitalOutput
		}
	}
	return 0
}

// Store owns the per-pin state and the snapshot buffers.
//
// The pin table is only mutated by the dispatcher path; the snapshot buffers
// are written by the input sampler and the animation busy bit and read when a
// response is armed, so they sit behind their own lock.
type Store struct {
	board *board.Board

	mu   sync.RWMutex
	pins []State

	snapMu         sync.Mutex
	digital        []byte
	analogue       []byte
	analogueOffset []int
}

// New creates a store for b with every pin reset.
func New(b *board.Board) *Store {
	s := &Store{
		board:          b,
		pins:           make([]State, b.NumPins()),
		digital:        make([]byte, mathx.CeilDiv(b.NumPins(), 8)),
		analogue:       make([]byte, 2*b.NumAnalogue()),
		analogueOffset: make([]int, b.NumPins()),
	}
	off := 0
	for i, p := range b.Pins {
		s.analogueOffset[i] = -1
		if p.Caps.Has(board.AnalogueInput) {
			s.analogueOffset[i] = off
			off += 2
		}
	}
	s.Reset()
	return s
}

// Board returns the capability table backing the store.
func (s *Store) Board() *board.Board {
	return s.board
}

// Reset returns every pin to its initial form and zeroes the snapshots.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.board.Pins {
		dir := Output
		if p.Caps&(board.DigitalInput|board.AnalogueInput) != 0 {
			dir = Input
		}
		s.pins[i] = State{Mode: ModeUnused, Direction: dir, Channel: NoChannel}
	}

	// Cleared under mu so a concurrent sample either lands before the clear
	// or sees the pin released.
	s.snapMu.Lock()
	clear(s.digital)
	clear(s.analogue)
	s.snapMu.Unlock()
}

// Validate reports whether Claim(pin, mode, dir) would succeed without
// changing anything.
func (s *Store) Validate(pin uint8, mode Mode, dir Direction) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validate(pin, mode, dir)
}

func (s *Store) validate(pin uint8, mode Mode, dir Direction) error {
	if int(pin) >= len(s.pins) {
		return errors.Wrapf(errcode.CapabilityMismatch, "pin %d out of range", pin)
	}
	need := RequiredCapability(mode, dir)
	if need == 0 {
		return errors.Wrapf(errcode.CapabilityMismatch, "mode %s cannot be %s", mode, dir)
	}
	if !s.board.Pins[pin].Caps.Has(need) {
		return errors.Wrapf(errcode.CapabilityMismatch, "pin %d (%s) lacks %s", pin, s.board.Pins[pin].Physical, need)
	}
	st := s.pins[pin]
	if st.Enabled && (st.Mode != mode || st.Direction != dir) {
		return errors.Wrapf(errcode.AlreadyInUse, "pin %d (%s) claimed as %s %s", pin, s.board.Pins[pin].Physical, st.Mode, st.Direction)
	}
	return nil
}

// Claim enables pin in mode/dir. Re-claiming with the same mode and
// direction is a no-op.
func (s *Store) Claim(pin uint8, mode Mode, dir Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validate(pin, mode, dir); err != nil {
		return err
	}
	st := &s.pins[pin]
	if st.Enabled {
		return nil
	}
	st.Enabled = true
	st.Mode = mode
	st.Direction = dir
	st.Pullup = false
	return nil
}

// SetPullup claims pin as a digital input and records its pullup setting.
func (s *Store) SetPullup(pin uint8, pullup bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validate(pin, ModeDigital, Input); err != nil {
		return err
	}
	st := &s.pins[pin]
	st.Enabled = true
	st.Mode = ModeDigital
	st.Direction = Input
	st.Pullup = pullup
	return nil
}

// SetChannel records the output channel of an enabled pin.
func (s *Store) SetChannel(pin uint8, ch int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(pin) < len(s.pins) && s.pins[pin].Enabled {
		s.pins[pin].Channel = ch
	}
}

// Get returns the state of pin.
func (s *Store) Get(pin uint8) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(pin) >= len(s.pins) {
		return State{}, false
	}
	return s.pins[pin], true
}

// States returns a copy of every pin state.
func (s *Store) States() []State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]State, len(s.pins))
	copy(out, s.pins)
	return out
}

// NumPins returns the number of logical pins.
func (s *Store) NumPins() int {
	return len(s.pins)
}

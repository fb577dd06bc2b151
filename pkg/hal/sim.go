// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hal

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/Thermoquad/iox/pkg/board"
	"github.com/Thermoquad/iox/pkg/errcode"
)

// SimPin is the observable state of one simulated pin.
type SimPin struct {
	Configured bool
	Output     bool
	Pullup     bool
	Level      bool
	Analogue   uint16
	PWM        uint16
	Servo      uint16
	Writes     []uint16 // PWM and servo values in write order
}

// Sim is an in-memory driver for desktop runs and tests.
type Sim struct {
	board *board.Board

	mu   sync.Mutex
	pins []SimPin
}

// NewSim creates a simulated driver for b.
func NewSim(b *board.Board) *Sim {
	return &Sim{
		board: b,
		pins:  make([]SimPin, b.NumPins()),
	}
}

func (s *Sim) Name() string { return "sim" }

func (s *Sim) pin(pin uint8) (*SimPin, error) {
	if int(pin) >= len(s.pins) {
		return nil, errors.Wrapf(errcode.CapabilityMismatch, "sim: pin %d out of range", pin)
	}
	return &s.pins[pin], nil
}

func (s *Sim) ConfigureInput(pin uint8, pullup bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.pin(pin)
	if err != nil {
		return err
	}
	p.Configured = true
	p.Output = false
	p.Pullup = pullup
	if pullup {
		p.Level = true
	}
	return nil
}

func (s *Sim) ConfigureOutput(pin uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.pin(pin)
	if err != nil {
		return err
	}
	p.Configured = true
	p.Output = true
	p.Pullup = false
	return nil
}

func (s *Sim) DigitalWrite(pin uint8, high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.pin(pin)
	if err != nil {
		return err
	}
	p.Level = high
	return nil
}

func (s *Sim) DigitalRead(pin uint8) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.pin(pin)
	if err != nil {
		return false, err
	}
	return p.Level, nil
}

func (s *Sim) AnalogueRead(pin uint8) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.pin(pin)
	if err != nil {
		return 0, err
	}
	if !s.board.Pins[pin].Caps.Has(board.AnalogueInput) {
		return 0, errors.Wrapf(errcode.CapabilityMismatch, "sim: pin %d has no ADC", pin)
	}
	return p.Analogue, nil
}

func (s *Sim) PWMWrite(pin uint8, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.pin(pin)
	if err != nil {
		return err
	}
	p.PWM = value
	p.Writes = append(p.Writes, value)
	return nil
}

func (s *Sim) ServoWrite(pin uint8, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.pin(pin)
	if err != nil {
		return err
	}
	p.Servo = value
	p.Writes = append(p.Writes, value)
	return nil
}

func (s *Sim) Close() error { return nil }

// SetInput drives a simulated input level.
func (s *Sim) SetInput(pin uint8, high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, err := s.pin(pin); err == nil {
		p.Level = high
	}
}

// SetAnalogueInput sets the value returned by AnalogueRead.
func (s *Sim) SetAnalogueInput(pin uint8, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, err := s.pin(pin); err == nil {
		p.Analogue = value
	}
}

// Pin returns a copy of the simulated pin state.
func (s *Sim) Pin(pin uint8) SimPin {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.pin(pin)
	if err != nil {
		return SimPin{}
	}
	out := *p
	out.Writes = append([]uint16(nil), p.Writes...)
	return out
}

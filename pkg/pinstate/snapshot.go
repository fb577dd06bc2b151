// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pinstate

import "encoding/binary"

// SetDigital sets the snapshot bit of pin.
func (s *Store) SetDigital(pin uint8, high bool) {
	if int(pin) >= len(s.pins) {
		return
	}
	idx, bit := pin/8, pin%8
	s.snapMu.Lock()
	if high {
		s.digital[idx] |= 1 << bit
	} else {
		s.digital[idx] &^= 1 << bit
	}
	s.snapMu.Unlock()
}

// SampleDigital records a sampled level for pin only while it is still
// claimed as a digital input. It reports whether the bit was written.
func (s *Store) SampleDigital(pin uint8, high bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.sampling(pin, ModeDigital) {
		return false
	}
	s.SetDigital(pin, high)
	return true
}

// SampleAnalogue is SampleDigital for analogue inputs.
func (s *Store) SampleAnalogue(pin uint8, value uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.sampling(pin, ModeAnalogue) || s.analogueOffset[pin] < 0 {
		return false
	}
	s.SetAnalogue(pin, value)
	return true
}

// sampling requires s.mu.
func (s *Store) sampling(pin uint8, mode Mode) bool {
	if int(pin) >= len(s.pins) {
		return false
	}
	st := s.pins[pin]
	return st.Enabled && st.Mode == mode && st.Direction == Input
}

// SetBusy marks an output pin as animating. It shares the digital bit.
func (s *Store) SetBusy(pin uint8, busy bool) {
	s.SetDigital(pin, busy)
}

// Digital returns the snapshot bit of pin.
func (s *Store) Digital(pin uint8) bool {
	if int(pin) >= len(s.pins) {
		return false
	}
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.digital[pin/8]&(1<<(pin%8)) != 0
}

// SetAnalogue stores a sampled value for an analogue-capable pin.
func (s *Store) SetAnalogue(pin uint8, value uint16) {
	if int(pin) >= len(s.pins) || s.analogueOffset[pin] < 0 {
		return
	}
	off := s.analogueOffset[pin]
	s.snapMu.Lock()
	binary.LittleEndian.PutUint16(s.analogue[off:], value)
	s.snapMu.Unlock()
}

// Analogue returns the sampled value of pin and its offset in the analogue
// snapshot, or -1 for pins without analogue capability.
func (s *Store) Analogue(pin uint8) (uint16, int) {
	if int(pin) >= len(s.pins) || s.analogueOffset[pin] < 0 {
		return 0, -1
	}
	off := s.analogueOffset[pin]
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return binary.LittleEndian.Uint16(s.analogue[off:]), off
}

// DigitalSnapshot returns a copy of the digital bitset.
func (s *Store) DigitalSnapshot() []byte {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return append([]byte(nil), s.digital...)
}

// AnalogueSnapshot returns a copy of the analogue buffer.
func (s *Store) AnalogueSnapshot() []byte {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return append([]byte(nil), s.analogue...)
}

// DigitalBytes is the length of the digital snapshot.
func (s *Store) DigitalBytes() int {
	return len(s.digital)
}

// AnalogueBytes is the length of the analogue snapshot.
func (s *Store) AnalogueBytes() int {
	return len(s.analogue)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dimmer generates software PWM on pins without a hardware timer.
//
// Each slot repeats an on/off pattern counted in dimmer ticks. Patterns are
// published as a single packed word so the tick never observes a torn
// on/off pair; the tick alone owns the running counter and output level.
package dimmer

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/Thermoquad/iox/pkg/errcode"
	"github.com/Thermoquad/iox/pkg/mathx"
)

// MaxCount is the longest phase of a pattern in ticks.
const MaxCount = 255

// PinWriter drives an output pin.
type PinWriter interface {
	DigitalWrite(pin uint8, high bool) error
}

// Pattern is an on/off duty pattern in ticks.
type Pattern struct {
	On  uint8
	Off uint8
}

// Locked reports whether the pattern holds a constant level.
func (p Pattern) Locked() bool {
	return p.On == 0 || p.Off == 0
}

// FromValue converts a 12-bit output value into a pattern with a period of
// MaxCount ticks. 0 locks the pin low, 4095 locks it high.
func FromValue(value uint16) Pattern {
	on := uint8(mathx.MapU16(value, 0, 4095, 0, MaxCount))
	return Pattern{On: on, Off: MaxCount - on}
}

func pack(pin uint8, gen uint16, p Pattern) uint64 {
	return uint64(pin)<<32 | uint64(gen)<<16 | uint64(p.On)<<8 | uint64(p.Off)
}

func unpack(w uint64) (pin uint8, gen uint16, p Pattern) {
	return uint8(w >> 32), uint16(w >> 16), Pattern{On: uint8(w >> 8), Off: uint8(w)}
}

type slot struct {
	// pin, generation and pattern in one word
	word atomic.Uint64

	// owned by Tick
	seen    uint16
	counter uint8
	level   atomic.Bool
}

// Dimmer is a fixed pool of software PWM generators.
type Dimmer struct {
	out PinWriter

	mu    sync.Mutex // serialises slot creation and pattern updates
	slots []slot
	count atomic.Int32
}

// New creates a dimmer with capacity slots writing through out.
func New(out PinWriter, capacity int) *Dimmer {
	return &Dimmer{
		out:   out,
		slots: make([]slot, capacity),
	}
}

// Capacity is the pool size.
func (d *Dimmer) Capacity() int {
	return len(d.slots)
}

// Active is the number of slots in use.
func (d *Dimmer) Active() int {
	return int(d.count.Load())
}

func (d *Dimmer) find(pin uint8) *slot {
	n := int(d.count.Load())
	for i := 0; i < n; i++ {
		if p, _, _ := unpack(d.slots[i].word.Load()); p == pin {
			return &d.slots[i]
		}
	}
	return nil
}

// SetPattern sets the pattern of pin, creating its slot on first use.
// Setting the pattern a slot already runs leaves it undisturbed.
func (d *Dimmer) SetPattern(pin uint8, on, off uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	created := false
	s := d.find(pin)
	if s == nil {
		n := int(d.count.Load())
		if n >= len(d.slots) {
			return errors.Wrapf(errcode.PoolExhausted, "dimmer: no slot for pin %d", pin)
		}
		s = &d.slots[n]
		_, gen, _ := unpack(s.word.Load())
		s.word.Store(pack(pin, gen, Pattern{}))
		d.count.Store(int32(n + 1))
		created = true
	}

	_, gen, cur := unpack(s.word.Load())
	next := Pattern{On: on, Off: off}
	if !created && cur == next {
		return nil
	}
	gen++
	if gen == 0 {
		gen = 1
	}
	s.word.Store(pack(pin, gen, next))
	return nil
}

// Set locks pin high or low.
func (d *Dimmer) Set(pin uint8, high bool) error {
	if high {
		return d.SetPattern(pin, MaxCount, 0)
	}
	return d.SetPattern(pin, 0, MaxCount)
}

// Tick advances every active slot by one tick in allocation order.
func (d *Dimmer) Tick() {
	n := int(d.count.Load())
	for i := 0; i < n; i++ {
		d.tick(&d.slots[i])
	}
}

func (d *Dimmer) tick(s *slot) {
	pin, gen, p := unpack(s.word.Load())
	if gen == 0 {
		return
	}
	if gen != s.seen {
		s.seen = gen
		s.counter = 0
		if s.level.Load() || p.On == 0 {
			s.level.Store(false)
			d.drive(pin, false)
		}
	}
	if s.counter > 0 {
		s.counter--
		return
	}
	if s.level.Load() {
		if p.Off == 0 {
			s.counter = p.On
			return
		}
		s.counter = p.Off
		s.level.Store(false)
	} else {
		if p.On == 0 {
			s.counter = p.Off
			return
		}
		s.counter = p.On
		s.level.Store(true)
	}
	d.drive(pin, s.level.Load())
	s.counter--
}

func (d *Dimmer) drive(pin uint8, high bool) {
	// Write errors have nowhere to go from the tick; the level is still
	// tracked so diagnostics show the intended output.
	_ = d.out.DigitalWrite(pin, high)
}

// Level returns the current output level of pin.
func (d *Dimmer) Level(pin uint8) (bool, bool) {
	s := d.find(pin)
	if s == nil {
		return false, false
	}
	return s.level.Load(), true
}

// Pattern returns the pattern of pin.
func (d *Dimmer) Pattern(pin uint8) (Pattern, bool) {
	s := d.find(pin)
	if s == nil {
		return Pattern{}, false
	}
	_, _, p := unpack(s.word.Load())
	return p, true
}

// Reset empties the pool. A tick already in flight finishes its pass.
func (d *Dimmer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count.Store(0)
}

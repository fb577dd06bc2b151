// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package animation moves outputs between positions on a fixed tick,
// independently of host traffic.
package animation

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/Thermoquad/iox/pkg/errcode"
	"github.com/Thermoquad/iox/pkg/mathx"
)

// TickPeriod is the engine's step interval. Step counts below are derived
// from it, so changing it rescales every profile.
const TickPeriod = 50 * time.Millisecond

// StepsPerDecisecond converts a duration in tenths of a second into steps.
const StepsPerDecisecond = int(100 * time.Millisecond / TickPeriod)

// CatchupSteps is how long a finished output is held before going idle.
const CatchupSteps = 5

// MaxPosition is the full-scale output value.
const MaxPosition = 4095

// Fixed profile lengths in steps.
var (
	FastSteps   = int(500 * time.Millisecond / TickPeriod)
	MediumSteps = int(time.Second / TickPeriod)
	SlowSteps   = int(2 * time.Second / TickPeriod)
)

// BounceProfile holds the bounce positions in percent. Entry 0 is unused.
var BounceProfile = [30]uint8{
	0, 2, 3, 7, 13, 33, 50, 83, 100, 83,
	75, 70, 65, 60, 60, 65, 74, 84, 100, 83,
	75, 70, 70, 72, 75, 80, 87, 92, 97, 100,
}

// StepCount returns the number of steps a transition takes.
func StepCount(p Profile, durationDs uint16) int {
	switch p.Kind {
	case Fast:
		return FastSteps
	case Medium:
		return MediumSteps
	case Slow:
		return SlowSteps
	case Bounce:
		return len(BounceProfile) - 1
	default:
		return int(durationDs)*StepsPerDecisecond + 1
	}
}

// Output receives each new position of an animated pin.
type Output interface {
	WritePosition(pin uint8, value uint16) error
}

// BusyMarker exposes whether a pin is still moving.
type BusyMarker interface {
	SetBusy(pin uint8, busy bool)
}

// State is the animation state of one pin.
type State struct {
	Current  uint16
	From     uint16
	To       uint16
	Active   uint16
	Inactive uint16
	Profile  Profile
	Step     int
	NumSteps int
}

// Idle reports whether no transition is in progress.
func (s State) Idle() bool {
	return s.NumSteps == 0
}

// Settling reports whether the target was reached and the output is being
// held for the catchup steps.
func (s State) Settling() bool {
	return s.NumSteps > 0 && s.Step >= s.NumSteps
}

// Engine advances every live pin by one step per Tick.
type Engine struct {
	out    Output
	busy   BusyMarker
	logger *log.Logger

	mu     sync.Mutex
	states []State // one slot per logical pin
	live   []bool
	failed []bool // a write failed during the current transition
	errs   int
}

// NewEngine preallocates state for numPins pins.
func NewEngine(numPins int, out Output, busy BusyMarker) *Engine {
	return &Engine{
		out:    out,
		busy:   busy,
		logger: log.Default(),
		states: make([]State, numPins),
		live:   make([]bool, numPins),
		failed: make([]bool, numPins),
	}
}

// SetLogger replaces the logger used to report failed output writes.
func (e *Engine) SetLogger(l *log.Logger) {
	e.mu.Lock()
	e.logger = l
	e.mu.Unlock()
}

// Start begins a transition of pin from its current position to target.
func (e *Engine) Start(pin uint8, target uint16, p Profile, durationDs uint16) error {
	if target > MaxPosition {
		return errors.Wrapf(errcode.MalformedFrame, "position %d above %d", target, MaxPosition)
	}
	if !p.Kind.Valid() {
		return errors.Wrapf(errcode.MalformedFrame, "unknown profile %d", p.Kind)
	}

	e.mu.Lock()
	if int(pin) >= len(e.states) {
		e.mu.Unlock()
		return errors.Wrapf(errcode.CapabilityMismatch, "pin %d out of range", pin)
	}
	s := &e.states[pin]
	if target != s.Active {
		s.Inactive = s.Active
		s.Active = target
	}
	s.From = s.Current
	s.To = target
	s.Step = 0
	s.Profile = p
	s.NumSteps = StepCount(p, durationDs)
	e.live[pin] = true
	e.failed[pin] = false
	e.mu.Unlock()

	if e.busy != nil {
		e.busy.SetBusy(pin, true)
	}
	return nil
}

// Tick advances every live pin by one step.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for pin := range e.states {
		if e.live[pin] {
			e.step(uint8(pin), &e.states[pin])
		}
	}
}

func (e *Engine) step(pin uint8, s *State) {
	if s.NumSteps == 0 {
		return
	}
	if s.Step == 0 && s.From == s.To {
		s.Step = s.NumSteps - 1
	}
	switch {
	case s.Step < s.NumSteps:
		s.Step++
		s.Current = position(s)
		if err := e.out.WritePosition(pin, s.Current); err != nil {
			e.errs++
			// once per transition
			if !e.failed[pin] {
				e.failed[pin] = true
				e.logger.Warn("animation write failed", "pin", pin, "position", s.Current, "err", err)
			}
		}
	case s.Step < s.NumSteps+CatchupSteps:
		s.Step++
	}
	if s.Step >= s.NumSteps+CatchupSteps {
		s.NumSteps = 0
		s.Step = 0
		if e.busy != nil {
			e.busy.SetBusy(pin, false)
		}
	}
}

func position(s *State) uint16 {
	if s.Profile.Kind == Bounce {
		return mathx.Interpolate(int(BounceProfile[s.Step]), 0, 100, s.From, s.To)
	}
	return mathx.Interpolate(s.Step, 0, s.NumSteps, s.From, s.To)
}

// State returns the animation state of pin and whether it was ever animated.
func (e *Engine) State(pin uint8) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if int(pin) >= len(e.states) {
		return State{}, false
	}
	return e.states[pin], e.live[pin]
}

// Busy reports whether pin has a transition in progress.
func (e *Engine) Busy(pin uint8) bool {
	s, _ := e.State(pin)
	return !s.Idle()
}

// WriteErrors counts output writes that failed during ticks.
func (e *Engine) WriteErrors() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errs
}

// Reset forgets every transition. Busy bits are cleared by the caller's
// snapshot reset.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.states)
	clear(e.live)
	clear(e.failed)
	e.errs = 0
}

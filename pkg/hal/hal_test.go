// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hal

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"periph.io/x/conn/v3/gpio"

	"github.com/Thermoquad/iox/pkg/board"
	"github.com/Thermoquad/iox/pkg/errcode"
)

func TestSimOutputs(t *testing.T) {
	c := qt.New(t)
	b, _ := board.Lookup("uno")
	s := NewSim(b)

	c.Assert(s.ConfigureOutput(1), qt.IsNil)
	c.Assert(s.DigitalWrite(1, true), qt.IsNil)
	c.Assert(s.PWMWrite(1, 100), qt.IsNil)
	c.Assert(s.ServoWrite(1, 200), qt.IsNil)

	p := s.Pin(1)
	c.Assert(p.Output, qt.IsTrue)
	c.Assert(p.Level, qt.IsTrue)
	c.Assert(p.PWM, qt.Equals, uint16(100))
	c.Assert(p.Servo, qt.Equals, uint16(200))
	c.Assert(p.Writes, qt.DeepEquals, []uint16{100, 200})
}

func TestSimInputs(t *testing.T) {
	c := qt.New(t)
	b, _ := board.Lookup("uno")
	s := NewSim(b)

	c.Assert(s.ConfigureInput(0, true), qt.IsNil)
	high, err := s.DigitalRead(0)
	c.Assert(err, qt.IsNil)
	c.Assert(high, qt.IsTrue)

	s.SetInput(0, false)
	high, _ = s.DigitalRead(0)
	c.Assert(high, qt.IsFalse)

	s.SetAnalogueInput(12, 512)
	v, err := s.AnalogueRead(12)
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, uint16(512))

	_, err = s.AnalogueRead(0)
	c.Assert(errcode.Of(err), qt.Equals, errcode.CapabilityMismatch)
	_, err = s.DigitalRead(99)
	c.Assert(err, qt.IsNotNil)
}

func TestOpen(t *testing.T) {
	b, _ := board.Lookup("uno")
	d, err := Open("sim", b)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, d.Name(), qt.Equals, "sim")

	_, err = Open("bogus", b)
	qt.Assert(t, err, qt.ErrorMatches, `unknown driver "bogus".*`)
}

func TestDutyConversions(t *testing.T) {
	c := qt.New(t)
	c.Assert(DutyFromValue(0), qt.Equals, gpio.Duty(0))
	c.Assert(DutyFromValue(MaxValue), qt.Equals, gpio.DutyMax)
	c.Assert(DutyFromValue(9999), qt.Equals, gpio.DutyMax)

	c.Assert(ServoPulse(0), qt.Equals, ServoMinPulse)
	c.Assert(ServoPulse(MaxValue), qt.Equals, ServoMaxPulse)
	c.Assert(ServoPulse(2048) > 1400*time.Microsecond, qt.IsTrue)

	// 2.4ms of 20ms is 12%
	c.Assert(ServoDuty(MaxValue), qt.Equals, gpio.Duty(int64(gpio.DutyMax)*12/100))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hal

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/Thermoquad/iox/pkg/board"
	"github.com/Thermoquad/iox/pkg/errcode"
)

// PWM and servo timing
const (
	PWMFrequency   = 1000 * physic.Hertz
	ServoFrequency = 50 * physic.Hertz
	ServoPeriod    = 20 * time.Millisecond
	ServoMinPulse  = 544 * time.Microsecond
	ServoMaxPulse  = 2400 * time.Microsecond
)

// Periph drives real GPIO through periph.io. Pins are resolved by their
// physical name, so it pairs with boards that use periph names (rpi).
type Periph struct {
	board *board.Board

	mu   sync.Mutex
	pins []gpio.PinIO
}

// NewPeriph initialises the periph host and resolves every pin of b.
func NewPeriph(b *board.Board) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init")
	}
	p := &Periph{board: b, pins: make([]gpio.PinIO, b.NumPins())}
	for i, pin := range b.Pins {
		io := gpioreg.ByName(pin.Physical)
		if io == nil {
			return nil, errors.Errorf("pin %d (%s) not found in hardware", i, pin.Physical)
		}
		p.pins[i] = io
	}
	return p, nil
}

func (p *Periph) Name() string { return "periph" }

func (p *Periph) resolve(pin uint8) (gpio.PinIO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(pin) >= len(p.pins) {
		return nil, errors.Wrapf(errcode.CapabilityMismatch, "periph: pin %d out of range", pin)
	}
	return p.pins[pin], nil
}

func (p *Periph) ConfigureInput(pin uint8, pullup bool) error {
	io, err := p.resolve(pin)
	if err != nil {
		return err
	}
	pull := gpio.Float
	if pullup {
		pull = gpio.PullUp
	}
	return errors.Wrapf(io.In(pull, gpio.NoEdge), "configure %s as input", io.Name())
}

func (p *Periph) ConfigureOutput(pin uint8) error {
	io, err := p.resolve(pin)
	if err != nil {
		return err
	}
	return errors.Wrapf(io.Out(gpio.Low), "configure %s as output", io.Name())
}

func (p *Periph) DigitalWrite(pin uint8, high bool) error {
	io, err := p.resolve(pin)
	if err != nil {
		return err
	}
	return io.Out(gpio.Level(high))
}

func (p *Periph) DigitalRead(pin uint8) (bool, error) {
	io, err := p.resolve(pin)
	if err != nil {
		return false, err
	}
	return io.Read() == gpio.High, nil
}

// AnalogueRead is not available on periph GPIO.
func (p *Periph) AnalogueRead(pin uint8) (uint16, error) {
	return 0, errors.Wrapf(errcode.Unsupported, "periph: analogue read on pin %d", pin)
}

func (p *Periph) PWMWrite(pin uint8, value uint16) error {
	io, err := p.resolve(pin)
	if err != nil {
		return err
	}
	return io.PWM(DutyFromValue(value), PWMFrequency)
}

func (p *Periph) ServoWrite(pin uint8, value uint16) error {
	io, err := p.resolve(pin)
	if err != nil {
		return err
	}
	return io.PWM(ServoDuty(value), ServoFrequency)
}

// Close halts every pin.
func (p *Periph) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for _, io := range p.pins {
		if err := io.Halt(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// DutyFromValue converts a 12-bit value into a periph duty cycle.
func DutyFromValue(value uint16) gpio.Duty {
	if value > MaxValue {
		value = MaxValue
	}
	return gpio.Duty(int64(value) * int64(gpio.DutyMax) / MaxValue)
}

// ServoPulse converts a 12-bit position into a pulse width.
func ServoPulse(value uint16) time.Duration {
	if value > MaxValue {
		value = MaxValue
	}
	span := ServoMaxPulse - ServoMinPulse
	return ServoMinPulse + span*time.Duration(value)/MaxValue
}

// ServoDuty is the duty cycle of the servo pulse for value at ServoPeriod.
func ServoDuty(value uint16) gpio.Duty {
	return gpio.Duty(int64(ServoPulse(value)) * int64(gpio.DutyMax) / int64(ServoPeriod))
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dispatch turns command frames into pin state changes and arms the
// response collected by the next poll.
package dispatch

import (
	"encoding/binary"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/Thermoquad/iox/pkg/animation"
	"github.com/Thermoquad/iox/pkg/channel"
	"github.com/Thermoquad/iox/pkg/errcode"
	"github.com/Thermoquad/iox/pkg/exio"
	"github.com/Thermoquad/iox/pkg/pinstate"
)

// Version is the firmware version reported by READ_VERSION.
const Version = "0.0.4"

// Phase is the position of the dispatcher in a bus transaction.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseFrameReceived
	PhaseValidated
	PhaseApplied
	PhaseResponseArmed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFrameReceived:
		return "frame-received"
	case PhaseValidated:
		return "validated"
	case PhaseApplied:
		return "applied"
	case PhaseResponseArmed:
		return "response-armed"
	default:
		return "unknown"
	}
}

// Hardware is the pin side effect of a successful command.
type Hardware interface {
	ConfigureInput(pin uint8, pullup bool) error
	ConfigureOutput(pin uint8) error
	DigitalWrite(pin uint8, high bool) error
}

// Config wires a Dispatcher to the runtime.
type Config struct {
	Store    *pinstate.Store
	Alloc    *channel.Allocator
	Engine   *animation.Engine
	Hardware Hardware
	Logger   *log.Logger
	// Version overrides the reported firmware version.
	Version string
	// Reset returns the runtime to its initial form. INIT calls it. Defaults
	// to resetting Store, Alloc and Engine.
	Reset func()
}

// Dispatcher handles command frames one at a time.
type Dispatcher struct {
	store   *pinstate.Store
	alloc   *channel.Allocator
	engine  *animation.Engine
	hw      Hardware
	logger  *log.Logger
	version *semver.Version
	reset   func()

	mu            sync.Mutex
	phase         Phase
	setupComplete bool
	firstVpin     uint16
	armed         []byte
}

// New creates a dispatcher. Store, Alloc, Engine and Hardware are required.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Store == nil || cfg.Alloc == nil || cfg.Engine == nil || cfg.Hardware == nil {
		return nil, errors.New("dispatch: store, allocator, engine and hardware are required")
	}
	version := cfg.Version
	if version == "" {
		version = Version
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, errors.Wrapf(err, "parse version %q", version)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	d := &Dispatcher{
		store:   cfg.Store,
		alloc:   cfg.Alloc,
		engine:  cfg.Engine,
		hw:      cfg.Hardware,
		logger:  logger,
		version: v,
		reset:   cfg.Reset,
	}
	if d.reset == nil {
		d.reset = func() {
			d.store.Reset()
			d.alloc.Reset()
			d.engine.Reset()
		}
	}
	return d, nil
}

// Version returns the reported firmware version.
func (d *Dispatcher) Version() *semver.Version {
	return d.version
}

// Phase returns the current transaction phase.
func (d *Dispatcher) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// SetupComplete reports whether the host has sent a matching INIT.
func (d *Dispatcher) SetupComplete() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setupComplete
}

// FirstVpin returns the first Vpin the host assigned with INIT.
func (d *Dispatcher) FirstVpin() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.firstVpin
}

// ForceSetup marks setup complete without an INIT. Test modes use it so the
// snapshots are served while the host is not driving the device.
func (d *Dispatcher) ForceSetup(complete bool) {
	d.mu.Lock()
	d.setupComplete = complete
	d.mu.Unlock()
}

// Takeover resets the runtime and runs configure under the dispatch lock,
// then marks setup complete. Local test modes claim pins through it so no
// host command interleaves with the reset. configure must not call back into
// the dispatcher.
func (d *Dispatcher) Takeover(configure func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
	if configure != nil {
		configure()
	}
	d.setupComplete = true
	d.armed = nil
	d.phase = PhaseIdle
}

// Request returns the armed response. The response stays armed until the next
// command, so repeated polls see the same bytes.
func (d *Dispatcher) Request() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.phase == PhaseResponseArmed {
		d.phase = PhaseIdle
	}
	return append([]byte(nil), d.armed...)
}

// Receive handles one command frame, arms the response and returns the
// rejection reason, if any.
func (d *Dispatcher) Receive(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.phase = PhaseFrameReceived
	resp, err := d.handle(frame)
	if err != nil && resp == nil {
		resp = exio.Nak()
	}
	d.armed = resp
	d.phase = PhaseResponseArmed

	if err != nil {
		d.logReject(frame, err)
	}
	return err
}

func (d *Dispatcher) handle(frame []byte) ([]byte, error) {
	if !exio.CheckArity(frame) {
		if len(frame) == 0 {
			return nil, errors.Wrap(errcode.MalformedFrame, "empty frame")
		}
		if _, ok := exio.FrameLength(frame[0]); !ok {
			return nil, errors.Wrapf(errcode.MalformedFrame, "unknown opcode 0x%02X", frame[0])
		}
		return nil, errors.Wrapf(errcode.MalformedFrame, "%s with %d bytes", exio.FormatOpcode(frame[0]), len(frame))
	}

	switch frame[0] {
	case exio.OpInit:
		return d.handleInit(frame)
	case exio.OpSetPullup:
		return d.handleSetPullup(frame[1], frame[2] != 0)
	case exio.OpWriteDigital:
		return d.handleWriteDigital(frame[1], frame[2] != 0)
	case exio.OpEnableAnalogue:
		return d.handleEnableAnalogue(frame[1])
	case exio.OpWriteAnimated:
		return d.handleWriteAnimated(frame)
	default:
		return d.handleRead(frame[0]), nil
	}
}

func (d *Dispatcher) handleInit(frame []byte) ([]byte, error) {
	d.phase = PhaseValidated
	d.reset()
	d.firstVpin = binary.LittleEndian.Uint16(frame[2:])
	d.phase = PhaseApplied

	b := d.store.Board()
	if int(frame[1]) != b.NumPins() {
		d.setupComplete = false
		return exio.InitResponse(exio.InitReply{}, false),
			errors.Wrapf(errcode.ConfigMismatch, "host sent %d pins, %s has %d", frame[1], b.Name, b.NumPins())
	}
	d.setupComplete = true
	d.logger.Info("received correct pin count", "pins", frame[1], "firstVpin", d.firstVpin)
	return exio.InitResponse(exio.InitReply{
		NumDigital:  uint8(b.NumDigital()),
		NumAnalogue: uint8(b.NumAnalogue()),
	}, true), nil
}

func (d *Dispatcher) handleSetPullup(pin uint8, pullup bool) ([]byte, error) {
	if err := d.store.Validate(pin, pinstate.ModeDigital, pinstate.Input); err != nil {
		return nil, err
	}
	d.phase = PhaseValidated
	if err := d.hw.ConfigureInput(pin, pullup); err != nil {
		return nil, err
	}
	if err := d.store.SetPullup(pin, pullup); err != nil {
		return nil, err
	}
	d.phase = PhaseApplied
	return exio.Ack(), nil
}

func (d *Dispatcher) handleWriteDigital(pin uint8, high bool) ([]byte, error) {
	if err := d.store.Validate(pin, pinstate.ModeDigital, pinstate.Output); err != nil {
		return nil, err
	}
	d.phase = PhaseValidated
	if st, _ := d.store.Get(pin); !st.Enabled {
		if err := d.hw.ConfigureOutput(pin); err != nil {
			return nil, err
		}
	}
	if err := d.hw.DigitalWrite(pin, high); err != nil {
		return nil, err
	}
	if err := d.store.Claim(pin, pinstate.ModeDigital, pinstate.Output); err != nil {
		return nil, err
	}
	d.store.SetDigital(pin, high)
	d.phase = PhaseApplied
	return exio.Ack(), nil
}

func (d *Dispatcher) handleEnableAnalogue(pin uint8) ([]byte, error) {
	if err := d.store.Validate(pin, pinstate.ModeAnalogue, pinstate.Input); err != nil {
		return nil, err
	}
	d.phase = PhaseValidated
	if err := d.hw.ConfigureInput(pin, false); err != nil {
		return nil, err
	}
	if err := d.store.Claim(pin, pinstate.ModeAnalogue, pinstate.Input); err != nil {
		return nil, err
	}
	d.phase = PhaseApplied
	return exio.Ack(), nil
}

func (d *Dispatcher) handleWriteAnimated(frame []byte) ([]byte, error) {
	pin := frame[1]
	value := binary.LittleEndian.Uint16(frame[2:])
	duration := binary.LittleEndian.Uint16(frame[5:])
	if value > exio.MaxAnalogueValue {
		return nil, errors.Wrapf(errcode.MalformedFrame, "value %d above %d", value, exio.MaxAnalogueValue)
	}
	profile, err := animation.ParseProfile(frame[4])
	if err != nil {
		return nil, err
	}

	// The mode follows the backend actually bound: a full dimmer pool falls
	// back to a hardware slot.
	planned, err := d.alloc.Validate(pin, profile.UseDimmer)
	if err != nil {
		return nil, err
	}
	mode := pinstate.ModePWM
	if planned.Backend == channel.BackendDimmer {
		mode = pinstate.ModePWMDimmed
	}
	if err := d.store.Validate(pin, mode, pinstate.Output); err != nil {
		return nil, err
	}
	d.phase = PhaseValidated

	if st, _ := d.store.Get(pin); !st.Enabled {
		if err := d.hw.ConfigureOutput(pin); err != nil {
			return nil, err
		}
	}
	if err := d.store.Claim(pin, mode, pinstate.Output); err != nil {
		return nil, err
	}
	ch, err := d.alloc.Allocate(pin, profile.UseDimmer)
	if err != nil {
		return nil, err
	}
	d.store.SetChannel(pin, ch.Handle(d.alloc.ServoPool()))
	if err := d.engine.Start(pin, value, profile, duration); err != nil {
		return nil, err
	}
	d.phase = PhaseApplied
	d.logger.Debug("animating", "pin", pin, "value", value, "profile", profile, "channel", ch)
	return exio.Ack(), nil
}

func (d *Dispatcher) handleRead(op byte) []byte {
	d.phase = PhaseValidated
	b := d.store.Board()

	switch op {
	case exio.OpReadVersion:
		return exio.VersionResponse(d.version)
	case exio.OpReadCaps:
		return b.CapabilityTable()
	}

	if !d.setupComplete {
		d.logger.Debug("setup incomplete, arming placeholder", "op", exio.FormatOpcode(op))
		switch op {
		case exio.OpReadDigital:
			return make([]byte, d.store.DigitalBytes())
		case exio.OpReadAnalogue:
			return make([]byte, d.store.AnalogueBytes())
		default:
			return make([]byte, b.NumAnalogue())
		}
	}

	switch op {
	case exio.OpReadDigital:
		return d.store.DigitalSnapshot()
	case exio.OpReadAnalogue:
		return d.store.AnalogueSnapshot()
	default:
		return b.AnalogueMap()
	}
}

func (d *Dispatcher) logReject(frame []byte, err error) {
	if len(frame) == 0 {
		d.logger.Warn("command rejected", "err", err)
		return
	}
	op := exio.FormatOpcode(frame[0])
	if len(frame) < 2 || frame[0] == exio.OpInit {
		d.logger.Warn("command rejected", "op", op, "err", err)
		return
	}
	pin := frame[1]
	d.logger.Warn("command rejected", "op", op, "pin", pin, "physical", d.store.Board().Physical(pin), "err", err)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package expander wires the pin store, output channels, animation engine,
// dimmer and dispatcher into a running device.
package expander

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/Thermoquad/iox/pkg/animation"
	"github.com/Thermoquad/iox/pkg/board"
	"github.com/Thermoquad/iox/pkg/channel"
	"github.com/Thermoquad/iox/pkg/console"
	"github.com/Thermoquad/iox/pkg/dimmer"
	"github.com/Thermoquad/iox/pkg/dispatch"
	"github.com/Thermoquad/iox/pkg/eeprom"
	"github.com/Thermoquad/iox/pkg/errcode"
	"github.com/Thermoquad/iox/pkg/exio"
	"github.com/Thermoquad/iox/pkg/hal"
	"github.com/Thermoquad/iox/pkg/pinstate"
)

// Defaults for Config fields left zero.
const (
	DefaultDimmerPeriod   = time.Millisecond
	DefaultSampleInterval = 10 * time.Millisecond
	DefaultDisplayDelay   = 5 * time.Second
)

// Config describes a device.
type Config struct {
	Board  *board.Board
	Driver hal.Driver

	// Address is the bus address used when Storage holds none.
	Address uint8
	// Storage persists the bus address. Optional.
	Storage *eeprom.Store

	// Pool sizes, zero uses the board defaults.
	ServoChannels  int
	DimmerChannels int

	DimmerPeriod   time.Duration
	SampleInterval time.Duration
	DisplayDelay   time.Duration
	// Diag starts with the diagnostic display enabled.
	Diag bool

	Clock  clock.Clock
	Logger *log.Logger
	// Output receives console replies and the diagnostic display.
	Output io.Writer
}

// Device is a running expander.
type Device struct {
	cfg    Config
	board  *board.Board
	driver hal.Driver
	clock  clock.Clock
	logger *log.Logger

	store      *pinstate.Store
	alloc      *channel.Allocator
	dimmer     *dimmer.Dimmer
	engine     *animation.Engine
	dispatcher *dispatch.Dispatcher

	address      atomic.Uint32
	listening    atomic.Bool
	diag         atomic.Bool
	displayDelay atomic.Duration
	lastDisplay  atomic.Time
	testMode     atomic.Uint32

	testMu sync.Mutex // serialises test mode changes
	outMu  sync.Mutex
	out    io.Writer
}

// New builds a device from cfg.
func New(cfg Config) (*Device, error) {
	if cfg.Board == nil {
		return nil, errors.New("expander: board is required")
	}
	if cfg.Driver == nil {
		cfg.Driver = hal.NewSim(cfg.Board)
	}
	if cfg.ServoChannels == 0 {
		cfg.ServoChannels = cfg.Board.ServoChannels
	}
	if cfg.DimmerChannels == 0 {
		cfg.DimmerChannels = cfg.Board.DimmerChannels
	}
	if cfg.DimmerPeriod == 0 {
		cfg.DimmerPeriod = DefaultDimmerPeriod
	}
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.DisplayDelay == 0 {
		cfg.DisplayDelay = DefaultDisplayDelay
	}
	if cfg.Address == 0 {
		cfg.Address = exio.DefaultAddress
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	d := &Device{
		cfg:    cfg,
		board:  cfg.Board,
		driver: cfg.Driver,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("board", cfg.Board.Name),
		out:    cfg.Output,
	}
	d.store = pinstate.New(d.board)
	d.alloc = channel.NewWithPools(d.board, cfg.ServoChannels, cfg.DimmerChannels)
	d.dimmer = dimmer.New(d.driver, cfg.DimmerChannels)
	d.engine = animation.NewEngine(d.board.NumPins(), d, d.store)
	d.engine.SetLogger(d.logger.WithPrefix("animation"))

	var err error
	d.dispatcher, err = dispatch.New(dispatch.Config{
		Store:    d.store,
		Alloc:    d.alloc,
		Engine:   d.engine,
		Hardware: d.driver,
		Logger:   d.logger.WithPrefix("dispatch"),
		Reset:    d.Reset,
	})
	if err != nil {
		return nil, err
	}

	d.displayDelay.Store(cfg.DisplayDelay)
	d.restart()
	return d, nil
}

// restart returns the device to its power-on state.
func (d *Device) restart() {
	d.testMu.Lock()
	defer d.testMu.Unlock()

	d.Reset()
	d.dispatcher.ForceSetup(false)
	d.testMode.Store(uint32(console.TestNone))
	d.diag.Store(d.cfg.Diag)
	d.listening.Store(true)
	d.address.Store(uint32(d.loadAddress()))
}

func (d *Device) loadAddress() uint8 {
	if d.cfg.Storage == nil {
		return d.cfg.Address
	}
	addr, ok, err := d.cfg.Storage.Address()
	if err != nil {
		d.logger.Warn("reading stored address", "err", err)
		return d.cfg.Address
	}
	if !ok {
		d.logger.Debug("bus address not stored", "address", fmt.Sprintf("0x%02X", d.cfg.Address))
		return d.cfg.Address
	}
	d.logger.Info("bus address from storage", "address", fmt.Sprintf("0x%02X", addr))
	return addr
}

// Reset is the single reset routine behind INIT, test modes and restart.
func (d *Device) Reset() {
	d.engine.Reset()
	d.dimmer.Reset()
	d.alloc.Reset()
	d.store.Reset()
	for i, p := range d.board.Pins {
		if p.Caps&(board.DigitalInput|board.AnalogueInput) == 0 {
			continue
		}
		if err := d.driver.ConfigureInput(uint8(i), false); err != nil {
			d.logger.Debug("reset pin", "pin", i, "physical", p.Physical, "err", err)
		}
	}
}

// WritePosition routes an animation step to the channel bound to pin.
func (d *Device) WritePosition(pin uint8, value uint16) error {
	ch, ok := d.alloc.Lookup(pin)
	if !ok {
		return errors.Wrapf(errcode.NotReady, "pin %d has no output channel", pin)
	}
	var err error
	switch ch.Backend {
	case channel.BackendHardwarePWM:
		err = d.driver.PWMWrite(pin, value)
	case channel.BackendServo:
		err = d.driver.ServoWrite(pin, value)
	case channel.BackendDimmer:
		p := dimmer.FromValue(value)
		err = d.dimmer.SetPattern(pin, p.On, p.Off)
	default:
		err = errors.Wrapf(errcode.Unsupported, "backend %s", ch.Backend)
	}
	return errors.Wrapf(err, "pin %d (%s)", pin, d.board.Physical(pin))
}

// Address returns the bus address the device answers.
func (d *Device) Address() uint8 {
	return uint8(d.address.Load())
}

// Board returns the board description.
func (d *Device) Board() *board.Board {
	return d.board
}

// Store returns the pin state store.
func (d *Device) Store() *pinstate.Store {
	return d.store
}

// Dispatcher returns the command dispatcher.
func (d *Device) Dispatcher() *dispatch.Dispatcher {
	return d.dispatcher
}

// Engine returns the animation engine.
func (d *Device) Engine() *animation.Engine {
	return d.engine
}

// Dimmer returns the software dimmer.
func (d *Device) Dimmer() *dimmer.Dimmer {
	return d.dimmer
}

// Listening reports whether link frames are dispatched.
func (d *Device) Listening() bool {
	return d.listening.Load()
}

// TestMode returns the active test mode.
func (d *Device) TestMode() console.TestMode {
	return console.TestMode(d.testMode.Load())
}

// Diag reports whether the diagnostic display is enabled.
func (d *Device) Diag() bool {
	return d.diag.Load()
}

// Close releases the driver.
func (d *Device) Close() error {
	return d.driver.Close()
}

func (d *Device) printf(format string, args ...any) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	fmt.Fprintf(d.out, format, args...)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package expander

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/Thermoquad/iox/pkg/board"
	"github.com/Thermoquad/iox/pkg/console"
	"github.com/Thermoquad/iox/pkg/exio"
	"github.com/Thermoquad/iox/pkg/pinstate"
)

// ServeConsole executes console commands read from r until EOF or ctx is
// done. Lines that fail to parse are reported and skipped.
func (d *Device) ServeConsole(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := console.NewScanner(r)
		for {
			line, err := sc.Next()
			if err != nil {
				errc <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "console read")
		case line := <-lines:
			cmd, err := console.Parse(line)
			if err != nil {
				d.logger.Debug("console", "line", line, "err", err)
				continue
			}
			d.Exec(cmd)
		}
	}
}

// Exec runs one console command.
func (d *Device) Exec(cmd console.Command) {
	switch cmd.Op {
	case console.OpDiag:
		d.setDiag(cmd.Seconds)
	case console.OpErase:
		d.eraseAddress()
	case console.OpRead:
		d.reportAddress()
	case console.OpTest:
		switch cmd.Test {
		case console.TestNone:
			d.reportTestMode()
		case console.TestServo:
			d.testServo(cmd.Vpin, cmd.Value, cmd.Profile)
		default:
			d.toggleTestMode(cmd.Test)
		}
	case console.OpVpinMap:
		d.StartupBanner()
		d.VpinMap()
	case console.OpWrite:
		d.storeAddress(cmd.Address)
	case console.OpReboot:
		d.printf("Restarting\n")
		d.restart()
	}
}

func (d *Device) setDiag(seconds uint32) {
	if d.diag.Load() && seconds == 0 {
		d.diag.Store(false)
		d.printf("Diagnostics disabled\n")
		return
	}
	if seconds > 0 {
		d.displayDelay.Store(time.Duration(seconds) * time.Second)
	}
	d.diag.Store(true)
	d.printf("Diagnostics enabled, delay set to %d\n", d.displayDelay.Load().Milliseconds())
}

func (d *Device) reportAddress() {
	if d.cfg.Storage == nil {
		d.printf("No address storage, using configured address\n")
		return
	}
	addr, ok, err := d.cfg.Storage.Address()
	switch {
	case err != nil:
		d.printf("Reading stored address failed: %v\n", err)
	case !ok:
		d.printf("Bus address not stored, using configured address\n")
	default:
		d.printf("Bus address stored is 0x%02X\n", addr)
	}
}

func (d *Device) storeAddress(addr uint8) {
	if d.cfg.Storage == nil {
		d.printf("No address storage, using configured address\n")
		return
	}
	if addr < exio.MinAddress || addr > exio.MaxAddress {
		d.printf("Invalid bus address, must be between 0x%02X and 0x%02X\n", exio.MinAddress, exio.MaxAddress)
		return
	}
	if err := d.cfg.Storage.Write(addr); err != nil {
		d.printf("Saving address failed: %v\n", err)
		return
	}
	d.printf("Saving address 0x%02X, restart to activate\n", addr)
}

func (d *Device) eraseAddress() {
	if d.cfg.Storage == nil {
		d.printf("No address storage, using configured address\n")
		return
	}
	if err := d.cfg.Storage.Erase(); err != nil {
		d.printf("Erasing address failed: %v\n", err)
		return
	}
	d.printf("Erased stored address, restart to revert to configured address\n")
}

var testModeNames = map[console.TestMode]string{
	console.TestAnalogue: "Analogue input testing",
	console.TestInput:    "Input testing (no pullups)",
	console.TestOutput:   "Output testing",
	console.TestPullup:   "Pullup input testing",
}

func (d *Device) reportTestMode() {
	mode := d.TestMode()
	if mode == console.TestNone {
		d.printf("No testing in progress\n")
		return
	}
	d.printf("%s <%c> enabled\n", testModeNames[mode], byte(mode))
}

// toggleTestMode enters mode, or leaves it when it is already active.
func (d *Device) toggleTestMode(mode console.TestMode) {
	if _, ok := testModeNames[mode]; !ok {
		return
	}
	d.testMu.Lock()
	defer d.testMu.Unlock()

	if d.TestMode() == mode {
		d.testMode.Store(uint32(console.TestNone))
		d.diag.Store(false)
		d.dispatcher.Takeover(nil)
		d.printf("%s disabled\n", testModeNames[mode])
		return
	}

	d.listening.Store(false)
	d.dispatcher.Takeover(func() {
		for i, p := range d.board.Pins {
			if err := d.claimForTest(uint8(i), p.Caps, mode); err != nil {
				d.logger.Debug("test claim", "pin", i, "physical", p.Physical, "err", err)
			}
		}
	})
	d.diag.Store(true)
	d.testMode.Store(uint32(mode))
	d.printf("%s enabled, link disabled, diags enabled, restart once testing complete\n", testModeNames[mode])
}

func (d *Device) claimForTest(pin uint8, caps board.Capability, mode console.TestMode) error {
	switch mode {
	case console.TestAnalogue:
		if !caps.Has(board.AnalogueInput) {
			return nil
		}
		if err := d.driver.ConfigureInput(pin, false); err != nil {
			return err
		}
		return d.store.Claim(pin, pinstate.ModeAnalogue, pinstate.Input)
	case console.TestInput, console.TestPullup:
		if !caps.Has(board.DigitalInput) {
			return nil
		}
		pullup := mode == console.TestPullup
		if err := d.driver.ConfigureInput(pin, pullup); err != nil {
			return err
		}
		if err := d.store.Claim(pin, pinstate.ModeDigital, pinstate.Input); err != nil {
			return err
		}
		return d.store.SetPullup(pin, pullup)
	case console.TestOutput:
		if !caps.Has(board.DigitalOutput) {
			return nil
		}
		if err := d.driver.ConfigureOutput(pin); err != nil {
			return err
		}
		return d.store.Claim(pin, pinstate.ModeDigital, pinstate.Output)
	}
	return nil
}

// toggleOutputs flips every claimed digital output. Output test mode calls it
// once per display interval.
func (d *Device) toggleOutputs() {
	for i, s := range d.store.States() {
		if !s.Enabled || s.Mode != pinstate.ModeDigital || s.Direction != pinstate.Output {
			continue
		}
		pin := uint8(i)
		high := !d.store.Digital(pin)
		if err := d.driver.DigitalWrite(pin, high); err != nil {
			d.logger.Debug("test toggle", "pin", pin, "err", err)
			continue
		}
		d.store.SetDigital(pin, high)
	}
}

// testServo moves one pin through the WRITE_ANIMATED path. vpin is the
// logical pin index.
func (d *Device) testServo(vpin, value uint16, profile uint8) {
	if d.dispatcher.FirstVpin() > 0 {
		d.printf("Device has been configured by a host, disconnect it and restart\n")
		return
	}
	if d.TestMode() != console.TestNone {
		d.printf("Please disable all other testing first\n")
		return
	}
	if int(vpin) >= d.board.NumPins() {
		d.printf("Invalid vpin %d, board has %d pins\n", vpin, d.board.NumPins())
		return
	}
	pin := uint8(vpin)
	d.printf("Test move servo or dim LED - vpin|physicalPin|value|profile:%d|%s|%d|%d\n",
		vpin, d.board.Physical(pin), value, profile)

	d.dispatcher.ForceSetup(true)
	d.listening.Store(false)
	if err := d.dispatcher.Receive(exio.NewWriteAnimated(pin, value, profile, 0)); err != nil {
		d.printf("Test move rejected: %v\n", err)
	}
}

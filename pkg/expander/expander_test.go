// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package expander

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp"

	"github.com/Thermoquad/iox/pkg/animation"
	"github.com/Thermoquad/iox/pkg/board"
	"github.com/Thermoquad/iox/pkg/console"
	"github.com/Thermoquad/iox/pkg/dimmer"
	"github.com/Thermoquad/iox/pkg/eeprom"
	"github.com/Thermoquad/iox/pkg/errcode"
	"github.com/Thermoquad/iox/pkg/exio"
	"github.com/Thermoquad/iox/pkg/hal"
	"github.com/Thermoquad/iox/pkg/pinstate"
)

type testDevice struct {
	*Device
	sim   *hal.Sim
	clock *clock.Mock
	out   *bytes.Buffer
}

func newTestDevice(c *qt.C, mutate ...func(*Config)) *testDevice {
	b, err := board.Lookup("uno")
	c.Assert(err, qt.IsNil)

	td := &testDevice{
		sim:   hal.NewSim(b),
		clock: clock.NewMock(),
		out:   &bytes.Buffer{},
	}
	cfg := Config{
		Board:  b,
		Driver: td.sim,
		Clock:  td.clock,
		Logger: log.New(io.Discard),
		Output: td.out,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	td.Device, err = New(cfg)
	c.Assert(err, qt.IsNil)
	return td
}

// output returns and clears everything printed so far.
func (td *testDevice) output() string {
	td.outMu.Lock()
	defer td.outMu.Unlock()
	s := td.out.String()
	td.out.Reset()
	return s
}

func (td *testDevice) receive(c *qt.C, cmd []byte) {
	c.Helper()
	c.Assert(td.Dispatcher().Receive(cmd), qt.IsNil)
}

func (td *testDevice) ticks(n int) {
	for range n {
		td.Engine().Tick()
	}
}

func serveOverPipe(c *qt.C, d *Device) *exio.Client {
	host, dev := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, dev) }()
	c.Cleanup(func() {
		cancel()
		c.Check(<-done, qt.IsNil)
		host.Close()
	})
	client := exio.NewClient(host, exio.DefaultAddress, log.New(io.Discard))
	client.SetTimeout(time.Second)
	return client
}

func TestNewRequiresBoard(t *testing.T) {
	c := qt.New(t)
	_, err := New(Config{})
	c.Assert(err, qt.ErrorMatches, "expander: board is required")
}

func TestAnimatedMoveOverLink(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)
	client := serveOverPipe(c, td.Device)
	ctx := context.Background()

	reply, ok, err := client.Init(ctx, 16, 100)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(reply, qt.Equals, exio.InitReply{NumDigital: 16, NumAnalogue: 4})

	medium := animation.Profile{Kind: animation.Medium}.Byte()
	c.Assert(client.WriteAnimated(ctx, 9, 4095, medium, 0), qt.IsNil)

	td.ticks(animation.MediumSteps)
	pin := td.sim.Pin(9)
	c.Assert(pin.PWM, qt.Equals, uint16(4095))
	c.Assert(pin.Writes, qt.HasLen, animation.MediumSteps)

	snap, err := client.ReadDigital(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(exio.DigitalBit(snap, 9), qt.IsTrue)

	td.ticks(animation.CatchupSteps)
	snap, err = client.ReadDigital(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(exio.DigitalBit(snap, 9), qt.IsFalse)
}

func TestServeIgnoresOtherAddresses(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)
	client := serveOverPipe(c, td.Device)
	client.SetTimeout(50 * time.Millisecond)

	_, err := client.Probe(context.Background(), 0x20)
	c.Assert(err, qt.ErrorIs, exio.ErrTimeout)

	v, err := client.Probe(context.Background(), exio.DefaultAddress)
	c.Assert(err, qt.IsNil)
	c.Assert(v.String(), qt.Equals, "0.0.4")
}

func TestServeReturnsOnEOF(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)

	var in bytes.Buffer
	in.Write(exio.MustEncodeFrame(exio.DefaultAddress, exio.KindWrite, exio.NewWriteDigital(2, true)))
	in.Write(exio.MustEncodeFrame(exio.DefaultAddress, exio.KindRead, nil))
	var out bytes.Buffer
	rw := struct {
		io.Reader
		io.Writer
	}{&in, &out}

	c.Assert(td.Serve(context.Background(), rw), qt.IsNil)
	c.Assert(td.Store().Digital(2), qt.IsTrue)

	d := exio.NewDecoder()
	var frames []*exio.Frame
	for _, b := range out.Bytes() {
		if f, _ := d.DecodeByte(b); f != nil {
			frames = append(frames, f)
		}
	}
	c.Assert(frames, qt.HasLen, 1)
	c.Assert(frames[0].Kind(), qt.Equals, exio.KindData)
	c.Assert(frames[0].Payload(), qt.DeepEquals, exio.Ack())
}

func TestWritePositionRouting(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)
	td.receive(c, exio.NewInit(16, 0))

	instant := animation.Profile{Kind: animation.Instant}
	dimmed := animation.Profile{Kind: animation.Instant, UseDimmer: true}
	td.receive(c, exio.NewWriteAnimated(9, 1000, instant.Byte(), 0))
	td.receive(c, exio.NewWriteAnimated(5, 2000, instant.Byte(), 0))
	td.receive(c, exio.NewWriteAnimated(0, 3000, dimmed.Byte(), 0))
	td.ticks(1 + animation.CatchupSteps)

	c.Assert(td.sim.Pin(9).PWM, qt.Equals, uint16(1000))
	c.Assert(td.sim.Pin(5).Servo, qt.Equals, uint16(2000))
	p, ok := td.Dimmer().Pattern(0)
	c.Assert(ok, qt.IsTrue)
	c.Assert(p, qt.Equals, dimmer.FromValue(3000))

	err := td.WritePosition(2, 100)
	c.Assert(errcode.Of(err), qt.Equals, errcode.NotReady)
}

func TestSample(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)
	td.receive(c, exio.NewInit(16, 0))
	td.receive(c, exio.NewSetPullup(13, false))
	td.receive(c, exio.NewEnableAnalogue(12))

	td.sim.SetInput(13, true)
	td.sim.SetAnalogueInput(12, 1023)
	td.sim.SetAnalogueInput(14, 55) // not enabled
	td.Sample()

	c.Assert(td.Store().Digital(13), qt.IsTrue)
	v, _ := td.Store().Analogue(12)
	c.Assert(v, qt.Equals, uint16(1023))
	v, _ = td.Store().Analogue(14)
	c.Assert(v, qt.Equals, uint16(0))
}

// interruptingDriver runs onRead in the middle of every digital read.
type interruptingDriver struct {
	*hal.Sim
	onRead func()
}

func (d *interruptingDriver) DigitalRead(pin uint8) (bool, error) {
	high, err := d.Sim.DigitalRead(pin)
	if d.onRead != nil {
		d.onRead()
	}
	return high, err
}

func TestSampleDoesNotOutliveInit(t *testing.T) {
	c := qt.New(t)
	b, err := board.Lookup("uno")
	c.Assert(err, qt.IsNil)
	drv := &interruptingDriver{Sim: hal.NewSim(b)}
	td := newTestDevice(c, func(cfg *Config) { cfg.Driver = drv })

	td.receive(c, exio.NewInit(16, 0))
	td.receive(c, exio.NewSetPullup(4, true))
	drv.SetInput(4, true)

	fired := false
	drv.onRead = func() {
		if !fired {
			fired = true
			td.receive(c, exio.NewInit(16, 0))
		}
	}
	td.Sample()

	c.Assert(fired, qt.IsTrue)
	st, _ := td.Store().Get(4)
	c.Assert(st.Enabled, qt.IsFalse)
	c.Assert(td.Store().DigitalSnapshot(), qt.DeepEquals, []byte{0, 0})
}

func TestRunSchedules(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)
	td.receive(c, exio.NewInit(16, 0))
	td.receive(c, exio.NewSetPullup(13, false))
	td.sim.SetInput(13, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- td.Run(ctx) }()

	// Tickers are registered asynchronously; keep advancing until the
	// sampler has run.
	deadline := time.Now().Add(5 * time.Second)
	for !td.Store().Digital(13) && time.Now().Before(deadline) {
		td.clock.Add(DefaultSampleInterval)
		time.Sleep(time.Millisecond)
	}
	cancel()
	c.Assert(<-done, qt.IsNil)
	c.Assert(td.Store().Digital(13), qt.IsTrue)
}

func TestStoredAddress(t *testing.T) {
	c := qt.New(t)
	st := eeprom.Open(filepath.Join(c.TempDir(), "address.cbor"))

	td := newTestDevice(c, func(cfg *Config) { cfg.Storage = st })
	c.Assert(td.Address(), qt.Equals, uint8(exio.DefaultAddress))

	td.Exec(console.Command{Op: console.OpRead})
	c.Assert(td.output(), qt.Equals, "Bus address not stored, using configured address\n")

	td.Exec(console.Command{Op: console.OpWrite, Address: 0x78})
	c.Assert(td.output(), qt.Matches, "Invalid bus address.*\n")

	td.Exec(console.Command{Op: console.OpWrite, Address: 0x30})
	c.Assert(td.output(), qt.Equals, "Saving address 0x30, restart to activate\n")
	c.Assert(td.Address(), qt.Equals, uint8(exio.DefaultAddress))

	td.Exec(console.Command{Op: console.OpReboot})
	c.Assert(td.Address(), qt.Equals, uint8(0x30))

	td.Exec(console.Command{Op: console.OpErase})
	td.Exec(console.Command{Op: console.OpRead})
	c.Assert(td.output(), qt.Contains, "Bus address not stored")
}

func TestDiagCommand(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)

	td.Exec(console.Command{Op: console.OpDiag})
	c.Assert(td.output(), qt.Equals, "Diagnostics enabled, delay set to 5000\n")
	c.Assert(td.Diag(), qt.IsTrue)

	td.Exec(console.Command{Op: console.OpDiag, Seconds: 2})
	c.Assert(td.output(), qt.Equals, "Diagnostics enabled, delay set to 2000\n")

	td.Exec(console.Command{Op: console.OpDiag})
	c.Assert(td.output(), qt.Equals, "Diagnostics disabled\n")
	c.Assert(td.Diag(), qt.IsFalse)
}

func TestDisplayPins(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)
	td.receive(c, exio.NewInit(16, 0))
	td.receive(c, exio.NewWriteDigital(0, true))
	td.receive(c, exio.NewSetPullup(1, true))
	td.receive(c, exio.NewEnableAnalogue(12))
	td.receive(c, exio.NewWriteAnimated(9, 0, 0, 0))
	td.Store().SetAnalogue(12, 0x1FF)

	td.DisplayPins()
	lines := strings.Split(strings.TrimSpace(td.output()), "\n")
	c.Assert(lines, qt.HasLen, td.Board().NumPins())
	c.Assert(lines[0], qt.Equals, "Digital Pin|Direction|Pullup|State:D2|output|0|1")
	c.Assert(lines[1], qt.Equals, "Digital Pin|Direction|Pullup|State:D3|input|1|0")
	c.Assert(lines[2], qt.Equals, "Pin D4 not in use")
	c.Assert(lines[9], qt.Equals, "PWM Output Pin|Position|Target:D11|0|0")
	c.Assert(lines[12], qt.Equals, "Analogue Pin|Value|LSB|MSB:A0|511|255|1")
}

func TestDisplayPinsShowsOutputs(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)
	td.receive(c, exio.NewInit(16, 0))
	dimmed := animation.Profile{Kind: animation.Instant, UseDimmer: true}
	td.receive(c, exio.NewWriteAnimated(0, 4095, dimmed.Byte(), 0))
	td.ticks(1)

	// a move on a pin without a channel fails every write
	c.Assert(td.Engine().Start(2, 100, animation.Profile{Kind: animation.Instant}, 0), qt.IsNil)
	td.ticks(1)

	td.DisplayPins()
	lines := strings.Split(strings.TrimSpace(td.output()), "\n")
	c.Assert(lines, qt.HasLen, td.Board().NumPins()+1)
	p := dimmer.FromValue(4095)
	c.Assert(lines[0], qt.Equals, fmt.Sprintf("PWM Output Pin|Position|Target|On|Off|Level:D2|4095|4095|%d|%d|0", p.On, p.Off))
	c.Assert(lines[2], qt.Equals, "Pin D4 not in use")
	c.Assert(lines[len(lines)-1], qt.Equals, "Animation write errors:1")
}

func TestDisplayTickHonoursDelay(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)

	td.displayTick()
	c.Assert(td.output(), qt.Equals, "")

	td.Exec(console.Command{Op: console.OpDiag, Seconds: 1})
	td.output()
	td.displayTick()
	c.Assert(td.output(), qt.Contains, "Pin D2 not in use")

	td.clock.Add(500 * time.Millisecond)
	td.displayTick()
	c.Assert(td.output(), qt.Equals, "")

	td.clock.Add(500 * time.Millisecond)
	td.displayTick()
	c.Assert(td.output(), qt.Not(qt.Equals), "")
}

func TestVpinMap(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)
	td.receive(c, exio.NewInit(16, 800))

	td.VpinMap()
	want := "Vpin to physical pin mappings (Vpin => physical pin):\n" +
		"800 => D2,801 => D3,802 => D4,803 => D5,804 => D6,805 => D7,806 => D8,807 => D9,808 => D10,809 => D11\n" +
		"810 => D12,811 => D13,812 => A0,813 => A1,814 => A2,815 => A3\n"
	if diff := cmp.Diff(want, td.output()); diff != "" {
		c.Fatalf("vpin map mismatch (-want +got):\n%s", diff)
	}
}

func TestTestModes(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)

	td.Exec(console.Command{Op: console.OpTest})
	c.Assert(td.output(), qt.Equals, "No testing in progress\n")

	td.Exec(console.Command{Op: console.OpTest, Test: console.TestPullup})
	c.Assert(td.output(), qt.Contains, "Pullup input testing enabled")
	c.Assert(td.TestMode(), qt.Equals, console.TestPullup)
	c.Assert(td.Listening(), qt.IsFalse)
	c.Assert(td.Diag(), qt.IsTrue)
	c.Assert(td.Dispatcher().SetupComplete(), qt.IsTrue)
	st, _ := td.Store().Get(0)
	c.Assert(st, qt.Equals, pinstate.State{
		Mode: pinstate.ModeDigital, Direction: pinstate.Input, Pullup: true,
		Enabled: true, Channel: pinstate.NoChannel,
	})
	c.Assert(td.sim.Pin(0).Pullup, qt.IsTrue)

	// Switching modes replaces the claims.
	td.Exec(console.Command{Op: console.OpTest, Test: console.TestAnalogue})
	c.Assert(td.TestMode(), qt.Equals, console.TestAnalogue)
	st, _ = td.Store().Get(0)
	c.Assert(st.Enabled, qt.IsFalse)
	st, _ = td.Store().Get(12)
	c.Assert(st.Mode, qt.Equals, pinstate.ModeAnalogue)

	td.output()
	td.Exec(console.Command{Op: console.OpTest})
	c.Assert(td.output(), qt.Equals, "Analogue input testing <A> enabled\n")

	td.Exec(console.Command{Op: console.OpTest, Test: console.TestAnalogue})
	c.Assert(td.output(), qt.Equals, "Analogue input testing disabled\n")
	c.Assert(td.TestMode(), qt.Equals, console.TestNone)
	c.Assert(td.Diag(), qt.IsFalse)
	st, _ = td.Store().Get(12)
	c.Assert(st.Enabled, qt.IsFalse)

	// The link stays down until restart.
	c.Assert(td.Listening(), qt.IsFalse)
	td.Exec(console.Command{Op: console.OpReboot})
	c.Assert(td.Listening(), qt.IsTrue)
	c.Assert(td.Dispatcher().SetupComplete(), qt.IsFalse)
}

func TestOutputTestToggles(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)
	td.Exec(console.Command{Op: console.OpTest, Test: console.TestOutput})

	td.displayTick()
	c.Assert(td.sim.Pin(0).Level, qt.IsTrue)
	c.Assert(td.Store().Digital(0), qt.IsTrue)

	td.clock.Add(DefaultDisplayDelay)
	td.displayTick()
	c.Assert(td.sim.Pin(0).Level, qt.IsFalse)
}

func TestServoTest(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)

	td.Exec(console.Command{Op: console.OpTest, Test: console.TestServo, Vpin: 9, Value: 2048, Profile: 0})
	c.Assert(td.output(), qt.Equals, "Test move servo or dim LED - vpin|physicalPin|value|profile:9|D11|2048|0\n")
	c.Assert(td.Listening(), qt.IsFalse)
	td.ticks(1)
	c.Assert(td.sim.Pin(9).PWM, qt.Equals, uint16(2048))

	td.Exec(console.Command{Op: console.OpTest, Test: console.TestServo, Vpin: 40})
	c.Assert(td.output(), qt.Matches, "Invalid vpin 40.*\n")

	td.Exec(console.Command{Op: console.OpTest, Test: console.TestInput})
	td.output()
	td.Exec(console.Command{Op: console.OpTest, Test: console.TestServo, Vpin: 9})
	c.Assert(td.output(), qt.Equals, "Please disable all other testing first\n")
}

func TestServoTestRefusedAfterHostSetup(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)
	td.receive(c, exio.NewInit(16, 100))

	td.Exec(console.Command{Op: console.OpTest, Test: console.TestServo, Vpin: 9, Value: 10})
	c.Assert(td.output(), qt.Contains, "configured by a host")
	c.Assert(td.Listening(), qt.IsTrue)
}

func TestServeConsole(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)

	in := strings.NewReader("noise <D 3> <Q> <T>")
	c.Assert(td.ServeConsole(context.Background(), in), qt.IsNil)
	c.Assert(td.output(), qt.Equals, "Diagnostics enabled, delay set to 3000\nNo testing in progress\n")
}

func TestStartupBanner(t *testing.T) {
	c := qt.New(t)
	td := newTestDevice(c)
	td.StartupBanner()
	c.Assert(td.output(), qt.Equals, "iox version 0.0.4\n"+
		"Board uno, 16 pins (16 digital, 4 analogue, 6 PWM)\n"+
		"Bus address 0x65\n")
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dispatch

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp"

	"github.com/Thermoquad/iox/pkg/animation"
	"github.com/Thermoquad/iox/pkg/board"
	"github.com/Thermoquad/iox/pkg/channel"
	"github.com/Thermoquad/iox/pkg/errcode"
	"github.com/Thermoquad/iox/pkg/exio"
	"github.com/Thermoquad/iox/pkg/hal"
	"github.com/Thermoquad/iox/pkg/pinstate"
)

type recorder struct {
	writes map[uint8][]uint16
}

func (r *recorder) WritePosition(pin uint8, value uint16) error {
	r.writes[pin] = append(r.writes[pin], value)
	return nil
}

type harness struct {
	board  *board.Board
	store  *pinstate.Store
	alloc  *channel.Allocator
	engine *animation.Engine
	sim    *hal.Sim
	out    *recorder
	d      *Dispatcher
}

func newHarness(c *qt.C, servo, dimmer int) *harness {
	b, err := board.Lookup("uno")
	c.Assert(err, qt.IsNil)

	h := &harness{
		board: b,
		store: pinstate.New(b),
		alloc: channel.NewWithPools(b, servo, dimmer),
		sim:   hal.NewSim(b),
		out:   &recorder{writes: map[uint8][]uint16{}},
	}
	h.engine = animation.NewEngine(b.NumPins(), h.out, h.store)
	h.d, err = New(Config{
		Store:    h.store,
		Alloc:    h.alloc,
		Engine:   h.engine,
		Hardware: h.sim,
		Logger:   log.New(io.Discard),
	})
	c.Assert(err, qt.IsNil)
	return h
}

// send handles cmd and returns the armed response
func (h *harness) send(cmd []byte) ([]byte, error) {
	err := h.d.Receive(cmd)
	return h.d.Request(), err
}

func (h *harness) init(c *qt.C) {
	resp, err := h.send(exio.NewInit(uint8(h.board.NumPins()), 800))
	c.Assert(err, qt.IsNil)
	c.Assert(resp, qt.DeepEquals, []byte{exio.RespPins, 16, 4})
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(Config{})
	qt.Assert(t, err, qt.IsNotNil)
}

func TestInitScenario(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)
	h.init(c)

	c.Assert(h.d.SetupComplete(), qt.IsTrue)
	c.Assert(h.d.FirstVpin(), qt.Equals, uint16(800))

	resp, err := h.send(exio.NewReadDigital())
	c.Assert(err, qt.IsNil)
	c.Assert(resp, qt.DeepEquals, []byte{0, 0})
}

func TestInitMismatch(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)

	resp, err := h.send(exio.NewInit(20, 800))
	c.Assert(errcode.Of(err), qt.Equals, errcode.ConfigMismatch)
	c.Assert(resp, qt.DeepEquals, []byte{0, 0, 0})
	c.Assert(h.d.SetupComplete(), qt.IsFalse)

	// writes still apply but reads return placeholders
	resp, err = h.send(exio.NewWriteDigital(2, true))
	c.Assert(err, qt.IsNil)
	c.Assert(resp, qt.DeepEquals, exio.Ack())
	c.Assert(h.store.Digital(2), qt.IsTrue)

	resp, _ = h.send(exio.NewReadDigital())
	c.Assert(resp, qt.DeepEquals, []byte{0, 0})
	resp, _ = h.send(exio.NewReadAnalogue())
	c.Assert(resp, qt.DeepEquals, make([]byte, 8))
	resp, _ = h.send(exio.NewInitAnalogueMap())
	c.Assert(resp, qt.DeepEquals, make([]byte, 4))
}

func TestAlwaysServed(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)

	resp, err := h.send(exio.NewReadVersion())
	c.Assert(err, qt.IsNil)
	c.Assert(resp, qt.DeepEquals, []byte{0, 0, 4})

	resp, err = h.send(exio.NewReadCaps())
	c.Assert(err, qt.IsNil)
	c.Assert(resp, qt.DeepEquals, h.board.CapabilityTable())
	c.Assert(resp[1], qt.Equals, byte(board.DIOP))
}

func TestWriteDigitalScenario(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)
	h.init(c)

	resp, err := h.send(exio.NewWriteDigital(2, true))
	c.Assert(err, qt.IsNil)
	c.Assert(resp, qt.DeepEquals, exio.Ack())

	resp, _ = h.send(exio.NewReadDigital())
	c.Assert(exio.DigitalBit(resp, 2), qt.IsTrue)
	c.Assert(resp, qt.DeepEquals, []byte{0x04, 0x00})

	sim := h.sim.Pin(2)
	c.Assert(sim.Output, qt.IsTrue)
	c.Assert(sim.Level, qt.IsTrue)

	// repeated writes to the same output are idempotent claims
	resp, err = h.send(exio.NewWriteDigital(2, false))
	c.Assert(err, qt.IsNil)
	c.Assert(resp, qt.DeepEquals, exio.Ack())
	c.Assert(h.store.Digital(2), qt.IsFalse)
	c.Assert(h.sim.Pin(2).Level, qt.IsFalse)
}

func TestWriteAnimatedScenario(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)
	h.init(c)

	profile := animation.Profile{Kind: animation.Medium}
	resp, err := h.send(exio.NewWriteAnimated(9, 4095, profile.Byte(), 0))
	c.Assert(err, qt.IsNil)
	c.Assert(resp, qt.DeepEquals, exio.Ack())

	st, _ := h.store.Get(9)
	c.Assert(st.Mode, qt.Equals, pinstate.ModePWM)
	c.Assert(st.Direction, qt.Equals, pinstate.Output)
	c.Assert(st.Channel, qt.Equals, 0)
	ch, ok := h.alloc.Lookup(9)
	c.Assert(ok, qt.IsTrue)
	c.Assert(ch.Backend, qt.Equals, channel.BackendHardwarePWM)

	for i := 0; i < 20; i++ {
		h.engine.Tick()
	}
	writes := h.out.writes[9]
	c.Assert(writes, qt.HasLen, 20)
	c.Assert(writes[19], qt.Equals, uint16(4095))
	c.Assert(h.store.Digital(9), qt.IsTrue)

	for i := 0; i < animation.CatchupSteps; i++ {
		h.engine.Tick()
	}
	c.Assert(h.store.Digital(9), qt.IsFalse)
}

func TestWriteAnimatedDimmer(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)
	h.init(c)

	profile := animation.Profile{Kind: animation.Fast, UseDimmer: true}
	resp, err := h.send(exio.NewWriteAnimated(0, 2048, profile.Byte(), 0))
	c.Assert(err, qt.IsNil)
	c.Assert(resp, qt.DeepEquals, exio.Ack())

	st, _ := h.store.Get(0)
	c.Assert(st.Mode, qt.Equals, pinstate.ModePWMDimmed)
	c.Assert(st.Channel, qt.Equals, h.alloc.ServoPool())
	c.Assert(h.sim.Pin(0).Output, qt.IsTrue)

	// once bound, the dimmer flag no longer picks the channel
	_, err = h.send(exio.NewWriteAnimated(0, 10, animation.Profile{Kind: animation.Fast}.Byte(), 0))
	c.Assert(err, qt.IsNil)
	st, _ = h.store.Get(0)
	c.Assert(st.Mode, qt.Equals, pinstate.ModePWMDimmed)
	c.Assert(st.Channel, qt.Equals, h.alloc.ServoPool())
}

func TestWriteAnimatedDimmerFallback(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 1)
	h.init(c)

	dimmed := animation.Profile{Kind: animation.Fast, UseDimmer: true}.Byte()
	_, err := h.send(exio.NewWriteAnimated(1, 4095, dimmed, 0))
	c.Assert(err, qt.IsNil)

	// the dimmer pool is full, so D5 lands on a hardware slot
	_, err = h.send(exio.NewWriteAnimated(3, 4095, dimmed, 0))
	c.Assert(err, qt.IsNil)
	ch, ok := h.alloc.Lookup(3)
	c.Assert(ok, qt.IsTrue)
	c.Assert(ch.Backend, qt.Equals, channel.BackendHardwarePWM)
	st, _ := h.store.Get(3)
	c.Assert(st.Mode, qt.Equals, pinstate.ModePWM)

	resp, err := h.send(exio.NewWriteAnimated(3, 0, animation.Profile{Kind: animation.Fast}.Byte(), 0))
	c.Assert(err, qt.IsNil)
	c.Assert(resp, qt.DeepEquals, exio.Ack())
}

func TestEnableAnalogue(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)
	h.init(c)

	// D2 has no ADC
	resp, err := h.send(exio.NewEnableAnalogue(0))
	c.Assert(errcode.Of(err), qt.Equals, errcode.CapabilityMismatch)
	c.Assert(resp, qt.DeepEquals, exio.Nak())
	st, _ := h.store.Get(0)
	c.Assert(st.Mode, qt.Equals, pinstate.ModeUnused)
	c.Assert(st.Enabled, qt.IsFalse)

	resp, err = h.send(exio.NewEnableAnalogue(12))
	c.Assert(err, qt.IsNil)
	c.Assert(resp, qt.DeepEquals, exio.Ack())

	h.store.SetAnalogue(12, 1023)
	resp, _ = h.send(exio.NewReadAnalogue())
	c.Assert(resp, qt.DeepEquals, []byte{0xFF, 0x03, 0, 0, 0, 0, 0, 0})

	resp, _ = h.send(exio.NewInitAnalogueMap())
	c.Assert(resp, qt.DeepEquals, []byte{12, 13, 14, 15})
}

func TestSetPullup(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)
	h.init(c)

	resp, err := h.send(exio.NewSetPullup(13, true))
	c.Assert(err, qt.IsNil)
	c.Assert(resp, qt.DeepEquals, exio.Ack())
	st, _ := h.store.Get(13)
	c.Assert(st.Pullup, qt.IsTrue)
	c.Assert(h.sim.Pin(13).Pullup, qt.IsTrue)

	_, err = h.send(exio.NewSetPullup(13, false))
	c.Assert(err, qt.IsNil)
	st, _ = h.store.Get(13)
	c.Assert(st.Pullup, qt.IsFalse)
}

func TestConflicts(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)
	h.init(c)

	_, err := h.send(exio.NewWriteDigital(1, true))
	c.Assert(err, qt.IsNil)
	before := h.store.States()

	tests := []struct {
		name string
		cmd  []byte
	}{
		{"pullup on output", exio.NewSetPullup(1, true)},
		{"animate digital output", exio.NewWriteAnimated(1, 100, 0, 0)},
	}
	for _, tt := range tests {
		c.Run(tt.name, func(c *qt.C) {
			resp, err := h.send(tt.cmd)
			c.Assert(errcode.Of(err), qt.Equals, errcode.AlreadyInUse)
			c.Assert(resp, qt.DeepEquals, exio.Nak())
			c.Assert(h.store.States(), qt.DeepEquals, before)
		})
	}
}

func TestWriteAnimatedRejects(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)
	h.init(c)
	before := h.store.States()

	tests := []struct {
		name string
		cmd  []byte
		want errcode.Code
	}{
		{"value above range", exio.NewWriteAnimated(1, 4096, 0, 0), errcode.MalformedFrame},
		{"unknown profile", exio.NewWriteAnimated(1, 100, 0x07, 0), errcode.MalformedFrame},
		{"unknown dimmed profile", exio.NewWriteAnimated(1, 100, 0x85, 0), errcode.MalformedFrame},
		{"pin out of range", exio.NewWriteAnimated(16, 100, 0, 0), errcode.CapabilityMismatch},
	}
	for _, tt := range tests {
		c.Run(tt.name, func(c *qt.C) {
			resp, err := h.send(tt.cmd)
			c.Assert(errcode.Of(err), qt.Equals, tt.want)
			c.Assert(resp, qt.DeepEquals, exio.Nak())
		})
	}
	c.Assert(h.store.States(), qt.DeepEquals, before)
	servo, dimmer := h.alloc.Free()
	c.Assert(servo, qt.Equals, 12)
	c.Assert(dimmer, qt.Equals, 16)
}

func TestPoolExhaustion(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 1, 0)
	h.init(c)

	_, err := h.send(exio.NewWriteAnimated(1, 100, 0, 0))
	c.Assert(err, qt.IsNil)

	resp, err := h.send(exio.NewWriteAnimated(3, 100, 0, 0))
	c.Assert(errcode.Of(err), qt.Equals, errcode.PoolExhausted)
	c.Assert(resp, qt.DeepEquals, exio.Nak())

	st, _ := h.store.Get(3)
	c.Assert(st.Enabled, qt.IsFalse)
	c.Assert(st.Channel, qt.Equals, pinstate.NoChannel)
	c.Assert(h.sim.Pin(3).Configured, qt.IsFalse)

	// the existing channel keeps working
	_, err = h.send(exio.NewWriteAnimated(1, 200, 0, 0))
	c.Assert(err, qt.IsNil)
}

func TestFrameArity(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)
	h.init(c)
	_, err := h.send(exio.NewWriteDigital(2, true))
	c.Assert(err, qt.IsNil)

	valid := [][]byte{
		exio.NewInit(16, 0),
		exio.NewSetPullup(3, true),
		exio.NewReadVersion(),
		exio.NewReadAnalogue(),
		exio.NewWriteDigital(4, true),
		exio.NewReadDigital(),
		exio.NewEnableAnalogue(12),
		exio.NewInitAnalogueMap(),
		exio.NewWriteAnimated(1, 100, 0, 0),
		exio.NewReadCaps(),
	}

	for _, cmd := range valid {
		c.Run(exio.FormatOpcode(cmd[0]), func(c *qt.C) {
			before := h.store.States()
			snap := h.store.DigitalSnapshot()

			bad := [][]byte{cmd[:len(cmd)-1], append(append([]byte{}, cmd...), 0)}
			for _, frame := range bad {
				if len(frame) == 0 {
					continue
				}
				resp, err := h.send(frame)
				c.Assert(errcode.Of(err), qt.Equals, errcode.MalformedFrame, qt.Commentf("% X", frame))
				c.Assert(resp, qt.DeepEquals, exio.Nak())
				if diff := cmp.Diff(before, h.store.States()); diff != "" {
					c.Errorf("state changed (-before +after):\n%s", diff)
				}
				c.Assert(h.store.DigitalSnapshot(), qt.DeepEquals, snap)
				c.Assert(h.d.SetupComplete(), qt.IsTrue)
			}
		})
	}
}

func TestUnknownOpcode(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)

	for _, frame := range [][]byte{{}, {0x00}, {exio.RespAck}, {exio.RespPins, 1, 2}, {0xFF, 0x01}} {
		resp, err := h.send(frame)
		c.Assert(errcode.Of(err), qt.Equals, errcode.MalformedFrame)
		c.Assert(resp, qt.DeepEquals, exio.Nak())
	}
}

func TestInitResets(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)
	h.init(c)

	_, err := h.send(exio.NewWriteDigital(2, true))
	c.Assert(err, qt.IsNil)
	_, err = h.send(exio.NewWriteAnimated(1, 100, 0, 0))
	c.Assert(err, qt.IsNil)

	h.init(c)
	st, _ := h.store.Get(2)
	c.Assert(st.Enabled, qt.IsFalse)
	c.Assert(h.store.DigitalSnapshot(), qt.DeepEquals, []byte{0, 0})
	_, ok := h.alloc.Lookup(1)
	c.Assert(ok, qt.IsFalse)
	_, live := h.engine.State(1)
	c.Assert(live, qt.IsFalse)
}

func TestPhasesAndArming(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)
	c.Assert(h.d.Phase(), qt.Equals, PhaseIdle)

	c.Assert(h.d.Receive(exio.NewReadVersion()), qt.IsNil)
	c.Assert(h.d.Phase(), qt.Equals, PhaseResponseArmed)

	first := h.d.Request()
	c.Assert(h.d.Phase(), qt.Equals, PhaseIdle)
	c.Assert(h.d.Request(), qt.DeepEquals, first)
	c.Assert(PhaseApplied.String(), qt.Equals, "applied")
}

func TestCustomResetAndVersion(t *testing.T) {
	c := qt.New(t)
	b, err := board.Lookup("uno")
	c.Assert(err, qt.IsNil)
	store := pinstate.New(b)
	resets := 0
	d, err := New(Config{
		Store:    store,
		Alloc:    channel.New(b),
		Engine:   animation.NewEngine(b.NumPins(), &recorder{writes: map[uint8][]uint16{}}, store),
		Hardware: hal.NewSim(b),
		Logger:   log.New(io.Discard),
		Version:  "1.2.3",
		Reset:    func() { resets++ },
	})
	c.Assert(err, qt.IsNil)

	c.Assert(d.Receive(exio.NewInit(16, 0)), qt.IsNil)
	c.Assert(resets, qt.Equals, 1)
	c.Assert(d.Receive(exio.NewReadVersion()), qt.IsNil)
	c.Assert(d.Request(), qt.DeepEquals, []byte{1, 2, 3})

	_, err = New(Config{
		Store:    store,
		Alloc:    channel.New(b),
		Engine:   animation.NewEngine(b.NumPins(), nil, nil),
		Hardware: hal.NewSim(b),
		Version:  "not-a-version",
	})
	c.Assert(err, qt.ErrorMatches, `parse version "not-a-version".*`)
}

func TestTakeoverHoldsDispatch(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, 12, 16)
	h.init(c)
	_, err := h.send(exio.NewWriteDigital(0, true))
	c.Assert(err, qt.IsNil)

	done := make(chan struct{})
	h.d.Takeover(func() {
		st, _ := h.store.Get(0)
		c.Check(st.Enabled, qt.IsFalse)

		go func() {
			h.d.Receive(exio.NewWriteDigital(1, true))
			close(done)
		}()
		time.Sleep(20 * time.Millisecond)
		select {
		case <-done:
			c.Errorf("command handled while the runtime was being reconfigured")
		default:
		}
		c.Check(h.store.Claim(2, pinstate.ModeDigital, pinstate.Input), qt.IsNil)
	})
	<-done

	c.Assert(h.d.SetupComplete(), qt.IsTrue)
	st, _ := h.store.Get(2)
	c.Assert(st.Enabled, qt.IsTrue)
	st, _ = h.store.Get(1)
	c.Assert(st.Mode, qt.Equals, pinstate.ModeDigital)
	c.Assert(st.Direction, qt.Equals, pinstate.Output)
}

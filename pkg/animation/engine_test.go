// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package animation

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp"

	"github.com/Thermoquad/iox/pkg/errcode"
)

type fakeOutput struct {
	writes map[uint8][]uint16
}

func (f *fakeOutput) WritePosition(pin uint8, value uint16) error {
	f.writes[pin] = append(f.writes[pin], value)
	return nil
}

type fakeBusy map[uint8]bool

func (f fakeBusy) SetBusy(pin uint8, busy bool) { f[pin] = busy }

func newEngine() (*Engine, *fakeOutput, fakeBusy) {
	out := &fakeOutput{writes: map[uint8][]uint16{}}
	busy := fakeBusy{}
	return NewEngine(16, out, busy), out, busy
}

type failingOutput struct{ calls int }

func (f *failingOutput) WritePosition(pin uint8, value uint16) error {
	f.calls++
	return errcode.Unsupported
}

func TestWriteFailuresReported(t *testing.T) {
	c := qt.New(t)
	var logs bytes.Buffer
	out := &failingOutput{}
	busy := fakeBusy{}
	e := NewEngine(16, out, busy)
	e.SetLogger(log.New(&logs))

	c.Assert(e.Start(7, 2000, Profile{Kind: Fast}, 0), qt.IsNil)
	for range FastSteps + CatchupSteps {
		e.Tick()
	}
	c.Assert(out.calls, qt.Equals, FastSteps)
	c.Assert(e.WriteErrors(), qt.Equals, FastSteps)
	c.Assert(strings.Count(logs.String(), "animation write failed"), qt.Equals, 1)
	c.Assert(logs.String(), qt.Contains, "pin=7")
	c.Assert(busy[7], qt.IsFalse)

	// a new transition reports again
	c.Assert(e.Start(7, 0, Profile{Kind: Fast}, 0), qt.IsNil)
	e.Tick()
	c.Assert(strings.Count(logs.String(), "animation write failed"), qt.Equals, 2)

	e.Reset()
	c.Assert(e.WriteErrors(), qt.Equals, 0)
}

func TestDerivedStepCounts(t *testing.T) {
	c := qt.New(t)
	c.Assert(StepsPerDecisecond, qt.Equals, 2)
	c.Assert(StepCount(Profile{Kind: Fast}, 0), qt.Equals, 10)
	c.Assert(StepCount(Profile{Kind: Medium}, 0), qt.Equals, 20)
	c.Assert(StepCount(Profile{Kind: Slow, UseDimmer: true}, 0), qt.Equals, 40)
	c.Assert(StepCount(Profile{Kind: Bounce}, 0), qt.Equals, 29)
	c.Assert(StepCount(Profile{Kind: Instant}, 0), qt.Equals, 1)
	c.Assert(StepCount(Profile{Kind: Instant}, 15), qt.Equals, 31)
}

func TestConvergence(t *testing.T) {
	for _, kind := range []Kind{Instant, Fast, Medium, Slow} {
		for _, dur := range []uint16{0, 3} {
			t.Run(kind.String(), func(t *testing.T) {
				c := qt.New(t)
				e, out, busy := newEngine()
				c.Assert(e.Start(4, 1000, Profile{Kind: kind}, 0), qt.IsNil)
				c.Assert(e.Start(4, 3000, Profile{Kind: kind}, dur), qt.IsNil)
				s, _ := e.State(4)
				ticks := s.NumSteps + CatchupSteps
				for i := 0; i < ticks; i++ {
					c.Assert(busy[4], qt.IsTrue, qt.Commentf("tick %d", i))
					e.Tick()
				}
				s, _ = e.State(4)
				c.Assert(s.Current, qt.Equals, uint16(3000))
				c.Assert(s.Idle(), qt.IsTrue)
				c.Assert(busy[4], qt.IsFalse)
				c.Assert(out.writes[4][len(out.writes[4])-1], qt.Equals, uint16(3000))
			})
		}
	}
}

func TestMediumScenario(t *testing.T) {
	c := qt.New(t)
	e, out, busy := newEngine()
	c.Assert(e.Start(9, 4095, Profile{Kind: Medium}, 0), qt.IsNil)

	for i := 0; i < 20; i++ {
		e.Tick()
	}
	c.Assert(out.writes[9], qt.HasLen, 20)
	c.Assert(out.writes[9][19], qt.Equals, uint16(4095))
	c.Assert(busy[9], qt.IsTrue)
	s, _ := e.State(9)
	c.Assert(s.Settling(), qt.IsTrue)

	for i := 0; i < 4; i++ {
		e.Tick()
	}
	c.Assert(busy[9], qt.IsTrue)
	e.Tick()
	c.Assert(busy[9], qt.IsFalse)
	c.Assert(out.writes[9], qt.HasLen, 20)
}

func TestLinearSteps(t *testing.T) {
	e, out, _ := newEngine()
	qt.Assert(t, e.Start(0, 100, Profile{Kind: Fast}, 0), qt.IsNil)
	for i := 0; i < 10; i++ {
		e.Tick()
	}
	want := []uint16{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	if diff := cmp.Diff(want, out.writes[0]); diff != "" {
		t.Errorf("positions mismatch (-want +got):\n%s", diff)
	}
}

func TestBounceShape(t *testing.T) {
	e, out, _ := newEngine()
	qt.Assert(t, e.Start(2, 100, Profile{Kind: Bounce}, 0), qt.IsNil)
	for i := 0; i < 29; i++ {
		e.Tick()
	}
	want := make([]uint16, 0, 29)
	for _, pct := range BounceProfile[1:] {
		want = append(want, uint16(pct))
	}
	if diff := cmp.Diff(want, out.writes[2]); diff != "" {
		t.Errorf("bounce positions mismatch (-want +got):\n%s", diff)
	}
}

func TestBounceScaled(t *testing.T) {
	e, out, _ := newEngine()
	qt.Assert(t, e.Start(2, 4000, Profile{Kind: Bounce}, 0), qt.IsNil)
	for i := 0; i < 29; i++ {
		e.Tick()
	}
	for i, pct := range BounceProfile[1:] {
		qt.Assert(t, out.writes[2][i], qt.Equals, uint16(int(pct)*40))
	}
}

func TestZeroLengthAnimation(t *testing.T) {
	c := qt.New(t)
	e, out, busy := newEngine()
	// current position starts at 0
	c.Assert(e.Start(3, 0, Profile{Kind: Slow}, 0), qt.IsNil)
	e.Tick()
	c.Assert(out.writes[3], qt.DeepEquals, []uint16{0})
	s, _ := e.State(3)
	c.Assert(s.Step, qt.Equals, s.NumSteps)

	for i := 0; i < CatchupSteps; i++ {
		e.Tick()
	}
	c.Assert(busy[3], qt.IsFalse)
	c.Assert(out.writes[3], qt.HasLen, 1)
}

func TestRetargetMidFlight(t *testing.T) {
	c := qt.New(t)
	e, _, _ := newEngine()
	c.Assert(e.Start(1, 4000, Profile{Kind: Fast}, 0), qt.IsNil)
	for i := 0; i < 5; i++ {
		e.Tick()
	}
	mid, _ := e.State(1)
	c.Assert(mid.Current, qt.Equals, uint16(2000))

	c.Assert(e.Start(1, 0, Profile{Kind: Fast}, 0), qt.IsNil)
	s, _ := e.State(1)
	c.Assert(s.From, qt.Equals, uint16(2000))
	c.Assert(s.To, qt.Equals, uint16(0))
	c.Assert(s.Step, qt.Equals, 0)
	c.Assert(s.Active, qt.Equals, uint16(0))
	c.Assert(s.Inactive, qt.Equals, uint16(4000))
}

func TestStartRejects(t *testing.T) {
	c := qt.New(t)
	e, _, busy := newEngine()
	c.Assert(errcode.Of(e.Start(1, 4096, Profile{}, 0)), qt.Equals, errcode.MalformedFrame)
	c.Assert(errcode.Of(e.Start(1, 10, Profile{Kind: 9}, 0)), qt.Equals, errcode.MalformedFrame)
	c.Assert(errcode.Of(e.Start(16, 10, Profile{}, 0)), qt.Equals, errcode.CapabilityMismatch)
	c.Assert(busy, qt.HasLen, 0)
}

func TestReset(t *testing.T) {
	c := qt.New(t)
	e, out, _ := newEngine()
	c.Assert(e.Start(1, 4000, Profile{Kind: Slow}, 0), qt.IsNil)
	e.Tick()
	e.Reset()
	e.Tick()
	c.Assert(out.writes[1], qt.HasLen, 1)
	c.Assert(e.Busy(1), qt.IsFalse)
	_, live := e.State(1)
	c.Assert(live, qt.IsFalse)
}

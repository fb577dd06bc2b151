// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package expander

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/iox/pkg/animation"
	"github.com/Thermoquad/iox/pkg/board"
	"github.com/Thermoquad/iox/pkg/exio"
	"github.com/Thermoquad/iox/pkg/pinstate"
)

// Run drives the animation, dimmer, sampler and display schedules until ctx
// is done.
func (d *Device) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.every(ctx, animation.TickPeriod, d.engine.Tick) })
	g.Go(func() error { return d.every(ctx, d.cfg.DimmerPeriod, d.dimmer.Tick) })
	g.Go(func() error { return d.every(ctx, d.cfg.SampleInterval, d.Sample) })
	g.Go(func() error { return d.every(ctx, 100*time.Millisecond, d.displayTick) })
	return g.Wait()
}

func (d *Device) every(ctx context.Context, period time.Duration, fn func()) error {
	t := d.clock.Ticker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fn()
		}
	}
}

// Sample reads every enabled input pin into the snapshots.
func (d *Device) Sample() {
	for i, s := range d.store.States() {
		if !s.Enabled || s.Direction != pinstate.Input {
			continue
		}
		pin := uint8(i)
		switch s.Mode {
		case pinstate.ModeDigital:
			high, err := d.driver.DigitalRead(pin)
			if err != nil {
				d.logger.Debug("digital read", "pin", pin, "err", err)
				continue
			}
			d.store.SampleDigital(pin, high)
		case pinstate.ModeAnalogue:
			if !d.board.Caps(pin).Has(board.AnalogueInput) {
				continue
			}
			v, err := d.driver.AnalogueRead(pin)
			if err != nil {
				d.logger.Debug("analogue read", "pin", pin, "err", err)
				continue
			}
			d.store.SampleAnalogue(pin, v)
		}
	}
}

// Serve answers link frames on conn until it reaches EOF or ctx is done.
//
// WRITE frames go to the dispatcher, READ frames are answered with a DATA
// frame carrying the armed response. Frames for other addresses and every
// frame received while a test mode holds the link are ignored.
func (d *Device) Serve(ctx context.Context, conn io.ReadWriter) error {
	if c, ok := conn.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	decoder := exio.NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		for _, b := range buf[:n] {
			frame, derr := decoder.DecodeByte(b)
			if derr != nil {
				d.logger.Debug("link decode", "err", derr)
				continue
			}
			if frame == nil {
				continue
			}
			if werr := d.handleFrame(conn, frame); werr != nil {
				return werr
			}
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "link read")
		}
	}
}

func (d *Device) handleFrame(w io.Writer, frame *exio.Frame) error {
	if frame.Address() != d.Address() {
		return nil
	}
	if !d.listening.Load() {
		d.logger.Debug("link disabled, frame ignored", "kind", frame.Kind())
		return nil
	}

	switch frame.Kind() {
	case exio.KindWrite:
		// Rejections are logged by the dispatcher and answered with NAK.
		_ = d.dispatcher.Receive(frame.Payload())
	case exio.KindRead:
		data, err := exio.EncodeFrame(d.Address(), exio.KindData, d.dispatcher.Request())
		if err != nil {
			d.logger.Error("encode response", "err", err)
			return nil
		}
		if _, err := w.Write(data); err != nil {
			return errors.Wrap(err, "link write")
		}
	}
	return nil
}

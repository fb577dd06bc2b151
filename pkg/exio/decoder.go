// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package exio

import (
	"time"

	"github.com/pkg/errors"
)

// Decode errors. Wrapped with context by the decoder; test with errors.Is.
var (
	ErrCRCMismatch = errors.New("CRC mismatch")
	ErrFraming     = errors.New("framing error")
)

// Decoder implements the link frame decoder state machine
type Decoder struct {
	state       int
	buffer      []byte
	bufferIndex int
	escapeNext  bool
	length      int
	frame       *Frame
	rawBuffer   []byte // raw bytes including framing
}

// NewDecoder creates a new link frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, MaxFrameSize),
		rawBuffer: make([]byte, 0, MaxFrameSize*2),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.bufferIndex = 0
	d.length = 0
	d.escapeNext = false
	d.frame = nil
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the accumulated raw bytes since the last frame
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single byte through the decoder state machine.
// It returns a completed frame, or nil while the frame is incomplete.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	if d.state == stateIdle && len(d.rawBuffer) >= cap(d.rawBuffer) {
		d.rawBuffer = d.rawBuffer[:0]
	}
	d.rawBuffer = append(d.rawBuffer, b)

	switch b {
	case StartByte:
		d.Reset()
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = stateLength
		return nil, nil
	case EndByte:
		return d.finish()
	case EscByte:
		if d.state != stateIdle {
			d.escapeNext = true
		}
		return nil, nil
	}

	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}

	switch d.state {
	case stateIdle:
		// waiting for START
		return nil, nil

	case stateLength:
		if int(b) > MaxPayloadSize {
			d.Reset()
			return nil, errors.Wrapf(ErrFraming, "invalid length %d (max %d)", b, MaxPayloadSize)
		}
		d.length = int(b)
		d.frame = &Frame{payload: make([]byte, 0, b)}
		d.push(b)
		d.state = stateAddress

	case stateAddress:
		d.frame.address = b
		d.push(b)
		d.state = stateKind

	case stateKind:
		kind := Kind(b)
		if !kind.Valid() {
			d.Reset()
			return nil, errors.Wrapf(ErrFraming, "invalid frame kind 0x%02X", b)
		}
		d.frame.kind = kind
		d.push(b)
		if d.length == 0 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}

	case statePayload:
		d.frame.payload = append(d.frame.payload, b)
		d.push(b)
		if len(d.frame.payload) >= d.length {
			d.state = stateCRC1
		}

	case stateCRC1:
		d.frame.crc = uint16(b) << 8
		d.state = stateCRC2

	case stateCRC2:
		d.frame.crc |= uint16(b)
		d.state = stateEnd

	default:
		d.Reset()
		return nil, errors.Wrap(ErrFraming, "data after CRC")
	}
	return nil, nil
}

func (d *Decoder) push(b byte) {
	d.buffer[d.bufferIndex] = b
	d.bufferIndex++
}

func (d *Decoder) finish() (*Frame, error) {
	if d.state != stateEnd {
		state := d.state
		d.Reset()
		if state == stateIdle {
			return nil, nil
		}
		return nil, errors.Wrapf(ErrFraming, "unexpected END byte in state %d", state)
	}

	frame := d.frame
	calculated := CalculateCRC(d.buffer[:d.bufferIndex])
	d.Reset()
	if frame.crc != calculated {
		return nil, errors.Wrapf(ErrCRCMismatch, "expected 0x%04X, got 0x%04X", calculated, frame.crc)
	}
	frame.timestamp = time.Now()
	return frame, nil
}

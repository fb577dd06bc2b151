// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package exio

import "time"

// Frame represents a decoded link frame
type Frame struct {
	address   uint8
	kind      Kind
	payload   []byte
	crc       uint16
	timestamp time.Time
}

// NewFrame creates a frame ready for encoding
func NewFrame(address uint8, kind Kind, payload []byte) *Frame {
	return &Frame{
		address:   address,
		kind:      kind,
		payload:   payload,
		timestamp: time.Now(),
	}
}

// Address returns the bus address the frame is for (or from)
func (f *Frame) Address() uint8 {
	return f.address
}

// Kind returns the frame kind
func (f *Frame) Kind() Kind {
	return f.kind
}

// Payload returns the frame payload (command or response bytes)
func (f *Frame) Payload() []byte {
	return f.payload
}

// Length returns the payload length
func (f *Frame) Length() int {
	return len(f.payload)
}

// CRC returns the CRC carried by a decoded frame
func (f *Frame) CRC() uint16 {
	return f.crc
}

// Timestamp returns the decode timestamp
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// Opcode returns the command opcode of a WRITE frame.
func (f *Frame) Opcode() (byte, bool) {
	if f.kind != KindWrite || len(f.payload) == 0 {
		return 0, false
	}
	return f.payload[0], true
}

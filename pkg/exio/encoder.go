// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package exio

import (
	"github.com/pkg/errors"
)

// Encode encodes a Frame to wire format.
func Encode(f *Frame) ([]byte, error) {
	return EncodeFrame(f.address, f.kind, f.payload)
}

// EncodeFrame creates a complete wire-formatted link frame, including framing
// and byte stuffing.
func EncodeFrame(address uint8, kind Kind, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, errors.Errorf("payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize)
	}
	if !kind.Valid() {
		return nil, errors.Errorf("invalid frame kind 0x%02X", uint8(kind))
	}

	data := make([]byte, 0, 5+len(payload))
	data = append(data, uint8(len(payload)), address, uint8(kind))
	data = append(data, payload...)

	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	stuffed := stuffBytes(data)

	frame := make([]byte, 0, len(stuffed)+2)
	frame = append(frame, StartByte)
	frame = append(frame, stuffed...)
	frame = append(frame, EndByte)
	return frame, nil
}

// MustEncodeFrame is EncodeFrame for payloads known to fit.
// Panics on encoding error.
func MustEncodeFrame(address uint8, kind Kind, payload []byte) []byte {
	data, err := EncodeFrame(address, kind, payload)
	if err != nil {
		panic("exio: " + err.Error())
	}
	return data
}

// stuffBytes escapes START, END and ESC as ESC + (byte XOR EscXor).
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}
	return result
}

// UnstuffBytes removes byte stuffing from escaped data.
func UnstuffBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			result = append(result, b^EscXor)
			escapeNext = false
		} else if b == EscByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, errors.New("incomplete escape sequence at end of data")
	}
	return result, nil
}

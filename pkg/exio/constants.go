// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package exio implements the iox expander protocol.
//
// A host drives the expander with short register-style command frames
// (opcode followed by fixed-length arguments) and collects the response armed
// by the last command with a poll. Both travel inside link frames that add a
// bus address, a frame kind, byte stuffing and a CRC-16-CCITT so the protocol
// can run over a serial port or a WebSocket.
package exio

// Link framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Link frame size limits
const (
	MaxPayloadSize = 64
	MaxFrameSize   = 5 + MaxPayloadSize // len + addr + kind + payload + crc
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Bus addresses
const (
	DefaultAddress = 0x65
	MinAddress     = 0x08
	MaxAddress     = 0x77
)

// Kind identifies what a link frame carries.
type Kind uint8

// Link frame kinds
const (
	KindWrite Kind = 0x01 // host command bytes
	KindRead  Kind = 0x02 // host poll for the armed response
	KindData  Kind = 0x03 // device response to a poll
)

func (k Kind) String() string {
	switch k {
	case KindWrite:
		return "WRITE"
	case KindRead:
		return "READ"
	case KindData:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether k is a known frame kind.
func (k Kind) Valid() bool {
	return k >= KindWrite && k <= KindData
}

// Command opcodes (host -> device)
const (
	OpInit            = 0xE0 // INIT(pinCount, vpinLSB, vpinMSB)
	OpSetPullup       = 0xE2 // SET_PULLUP(pin, pullup)
	OpReadVersion     = 0xE3
	OpReadAnalogue    = 0xE4
	OpWriteDigital    = 0xE5 // WRITE_DIGITAL(pin, state)
	OpReadDigital     = 0xE6
	OpEnableAnalogue  = 0xE7 // ENABLE_ANALOGUE(pin)
	OpInitAnalogueMap = 0xE8
	OpWriteAnimated   = 0xEA // WRITE_ANIMATED(pin, valLSB, valMSB, profile, durLSB, durMSB)
	OpReadCaps        = 0xEB
)

// Response markers (device -> host)
const (
	RespAck  = 0xE1
	RespPins = 0xE9
	RespNak  = 0xEF
)

// MaxAnalogueValue is the largest value WRITE_ANIMATED accepts.
const MaxAnalogueValue = 4095

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	stateAddress
	stateKind
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)

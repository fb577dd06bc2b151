// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package exio

// Command builder functions create command frames ready to be carried in a
// WRITE link frame. Multi-byte arguments are little-endian.

var frameLengths = map[byte]int{
	OpInit:            4,
	OpSetPullup:       3,
	OpReadVersion:     1,
	OpReadAnalogue:    1,
	OpWriteDigital:    3,
	OpReadDigital:     1,
	OpEnableAnalogue:  2,
	OpInitAnalogueMap: 1,
	OpWriteAnimated:   7,
	OpReadCaps:        1,
}

// FrameLength returns the exact command frame length for op, including the
// opcode byte. ok is false for unknown opcodes.
func FrameLength(op byte) (n int, ok bool) {
	n, ok = frameLengths[op]
	return n, ok
}

// CheckArity reports whether cmd is a known opcode with the right length.
func CheckArity(cmd []byte) bool {
	if len(cmd) == 0 {
		return false
	}
	n, ok := frameLengths[cmd[0]]
	return ok && n == len(cmd)
}

// NewInit creates an INIT command (0xE0).
func NewInit(pinCount uint8, firstVpin uint16) []byte {
	return []byte{OpInit, pinCount, byte(firstVpin), byte(firstVpin >> 8)}
}

// NewSetPullup creates a SET_PULLUP command (0xE2). Claims the pin as a
// digital input.
func NewSetPullup(pin uint8, pullup bool) []byte {
	return []byte{OpSetPullup, pin, boolByte(pullup)}
}

// NewReadVersion creates a READ_VERSION command (0xE3).
func NewReadVersion() []byte {
	return []byte{OpReadVersion}
}

// NewReadAnalogue creates a READ_ANALOGUE_SNAPSHOT command (0xE4).
func NewReadAnalogue() []byte {
	return []byte{OpReadAnalogue}
}

// NewWriteDigital creates a WRITE_DIGITAL command (0xE5).
func NewWriteDigital(pin uint8, high bool) []byte {
	return []byte{OpWriteDigital, pin, boolByte(high)}
}

// NewReadDigital creates a READ_DIGITAL_SNAPSHOT command (0xE6).
func NewReadDigital() []byte {
	return []byte{OpReadDigital}
}

// NewEnableAnalogue creates an ENABLE_ANALOGUE command (0xE7).
func NewEnableAnalogue(pin uint8) []byte {
	return []byte{OpEnableAnalogue, pin}
}

// NewInitAnalogueMap creates an INIT_ANALOGUE_MAP command (0xE8).
func NewInitAnalogueMap() []byte {
	return []byte{OpInitAnalogueMap}
}

// NewWriteAnimated creates a WRITE_ANIMATED command (0xEA).
// profile is the wire profile byte (bit 7 selects the dimmer) and duration is
// in deciseconds for the instant profile.
func NewWriteAnimated(pin uint8, value uint16, profile byte, duration uint16) []byte {
	return []byte{
		OpWriteAnimated, pin,
		byte(value), byte(value >> 8),
		profile,
		byte(duration), byte(duration >> 8),
	}
}

// NewReadCaps creates a READ_CAPABILITY_TABLE command (0xEB).
func NewReadCaps() []byte {
	return []byte{OpReadCaps}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

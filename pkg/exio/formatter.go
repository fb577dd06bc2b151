// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package exio

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// FormatFrame formats a link frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s addr=0x%02X len=%d\n", timestamp, f.kind, f.address, len(f.payload))

	switch f.kind {
	case KindWrite:
		result += FormatCommand(f.payload)
	case KindData:
		if len(f.payload) == 0 {
			result += "  (nothing armed)\n"
		} else {
			result += fmt.Sprintf("  % X\n", f.payload)
		}
	}
	return result
}

// FormatOpcode returns the human-readable name for an opcode or response marker
func FormatOpcode(op byte) string {
	switch op {
	case OpInit:
		return "INIT"
	case RespAck:
		return "ACK"
	case OpSetPullup:
		return "SET_PULLUP"
	case OpReadVersion:
		return "READ_VERSION"
	case OpReadAnalogue:
		return "READ_ANALOGUE_SNAPSHOT"
	case OpWriteDigital:
		return "WRITE_DIGITAL"
	case OpReadDigital:
		return "READ_DIGITAL_SNAPSHOT"
	case OpEnableAnalogue:
		return "ENABLE_ANALOGUE"
	case OpInitAnalogueMap:
		return "INIT_ANALOGUE_MAP"
	case RespPins:
		return "PINS"
	case OpWriteAnimated:
		return "WRITE_ANIMATED"
	case OpReadCaps:
		return "READ_CAPABILITY_TABLE"
	case RespNak:
		return "NAK"
	default:
		return "UNKNOWN"
	}
}

// FormatCommand formats a command frame with its decoded arguments
func FormatCommand(cmd []byte) string {
	if len(cmd) == 0 {
		return "  (empty command)\n"
	}
	op := cmd[0]
	result := fmt.Sprintf("  %s (0x%02X)", FormatOpcode(op), op)
	if !CheckArity(cmd) {
		return result + fmt.Sprintf(" malformed: % X\n", cmd)
	}

	switch op {
	case OpInit:
		result += fmt.Sprintf(" pins=%d firstVpin=%d", cmd[1], binary.LittleEndian.Uint16(cmd[2:]))
	case OpSetPullup:
		result += fmt.Sprintf(" pin=%d pullup=%t", cmd[1], cmd[2] != 0)
	case OpWriteDigital:
		result += fmt.Sprintf(" pin=%d state=%s", cmd[1], formatLevel(cmd[2] != 0))
	case OpEnableAnalogue:
		result += fmt.Sprintf(" pin=%d", cmd[1])
	case OpWriteAnimated:
		result += fmt.Sprintf(" pin=%d value=%d profile=%s duration=%s",
			cmd[1], binary.LittleEndian.Uint16(cmd[2:]), formatProfile(cmd[4]),
			formatDeciseconds(binary.LittleEndian.Uint16(cmd[5:])))
	}
	return result + "\n"
}

// FormatResponse formats the response to the command with opcode op
func FormatResponse(op byte, resp []byte) string {
	if len(resp) == 0 {
		return "  (no response)\n"
	}

	switch op {
	case OpInit:
		r, ok, err := ParseInitReply(resp)
		if err != nil {
			return fmt.Sprintf("  %v\n", err)
		}
		if !ok {
			return "  pin count mismatch\n"
		}
		return fmt.Sprintf("  digital=%d analogue=%d\n", r.NumDigital, r.NumAnalogue)

	case OpReadVersion:
		v, err := ParseVersion(resp)
		if err != nil {
			return fmt.Sprintf("  %v\n", err)
		}
		return fmt.Sprintf("  version %s\n", v)

	case OpReadDigital:
		var sb strings.Builder
		sb.WriteString("  digital:")
		for pin := 0; pin < len(resp)*8; pin++ {
			if pin%8 == 0 {
				sb.WriteString(" ")
			}
			if DigitalBit(resp, pin) {
				sb.WriteString("1")
			} else {
				sb.WriteString("0")
			}
		}
		return sb.String() + "\n"

	case OpReadAnalogue:
		return fmt.Sprintf("  analogue: %v\n", AnalogueValues(resp))

	case OpInitAnalogueMap:
		return fmt.Sprintf("  analogue map: %v\n", resp)

	case OpReadCaps:
		return fmt.Sprintf("  capabilities: % X\n", resp)

	default:
		if err := ParseAck(resp); err != nil {
			return fmt.Sprintf("  %v\n", err)
		}
		return "  ACK\n"
	}
}

func formatLevel(high bool) string {
	if high {
		return "HIGH"
	}
	return "LOW"
}

func formatProfile(b byte) string {
	names := []string{"instant", "fast", "medium", "slow", "bounce"}
	kind := int(b & 0x7F)
	name := fmt.Sprintf("kind(%d)", kind)
	if kind < len(names) {
		name = names[kind]
	}
	if b&0x80 != 0 {
		name += "+dimmer"
	}
	return name
}

func formatDeciseconds(ds uint16) string {
	if ds == 0 {
		return "0s"
	}
	return fmt.Sprintf("%d.%ds", ds/10, ds%10)
}

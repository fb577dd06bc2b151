// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package exio

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyUnknownOpcode AnomalyType = iota
	AnomalyLengthMismatch
	AnomalyInvalidValue
	AnomalyInvalidAddress
	AnomalyUnexpectedPayload
)

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame validates frame structure and detects anomalies.
// Returns a slice of validation errors (empty if the frame is valid).
func ValidateFrame(f *Frame) []ValidationError {
	errors := []ValidationError{}

	if f.address < MinAddress || f.address > MaxAddress {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidAddress,
			Message: fmt.Sprintf("Address 0x%02X outside 0x%02X..0x%02X", f.address, MinAddress, MaxAddress),
			Details: map[string]interface{}{"address": f.address},
		})
	}

	switch f.kind {
	case KindWrite:
		errors = append(errors, validateCommand(f.payload)...)
	case KindRead:
		if len(f.payload) != 0 {
			errors = append(errors, ValidationError{
				Type:    AnomalyUnexpectedPayload,
				Message: fmt.Sprintf("READ frame carries %d payload bytes", len(f.payload)),
				Details: map[string]interface{}{"length": len(f.payload)},
			})
		}
	}

	return errors
}

// validateCommand validates a command frame carried by a WRITE frame
func validateCommand(cmd []byte) []ValidationError {
	if len(cmd) == 0 {
		return []ValidationError{{
			Type:    AnomalyLengthMismatch,
			Message: "Empty command frame",
			Details: map[string]interface{}{"length": 0},
		}}
	}

	op := cmd[0]
	expected, ok := FrameLength(op)
	if !ok {
		return []ValidationError{{
			Type:    AnomalyUnknownOpcode,
			Message: fmt.Sprintf("Unknown opcode 0x%02X", op),
			Details: map[string]interface{}{"opcode": op},
		}}
	}
	if len(cmd) != expected {
		return []ValidationError{{
			Type: AnomalyLengthMismatch,
			Message: fmt.Sprintf("%s length mismatch: received=%d, expected=%d",
				FormatOpcode(op), len(cmd), expected),
			Details: map[string]interface{}{"received": len(cmd), "expected": expected},
		}}
	}

	errors := []ValidationError{}
	if op == OpWriteAnimated {
		value := uint16(cmd[2]) | uint16(cmd[3])<<8
		if value > MaxAnalogueValue {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("WRITE_ANIMATED value %d > %d", value, MaxAnalogueValue),
				Details: map[string]interface{}{"value": value, "max": MaxAnalogueValue},
			})
		}
		if kind := cmd[4] & 0x7F; kind > 4 {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("WRITE_ANIMATED unknown profile kind %d", kind),
				Details: map[string]interface{}{"profile": cmd[4]},
			})
		}
	}
	return errors
}

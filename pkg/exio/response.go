// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package exio

import (
	"encoding/binary"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// ErrNak is returned when the device answers a command with NAK.
var ErrNak = errors.New("device returned NAK")

// Ack returns the single-byte ACK response.
func Ack() []byte { return []byte{RespAck} }

// Nak returns the single-byte NAK response.
func Nak() []byte { return []byte{RespNak} }

// ParseAck checks a response to a command that answers ACK or NAK.
func ParseAck(resp []byte) error {
	if len(resp) != 1 {
		return errors.Errorf("expected 1-byte ACK/NAK, got %d bytes", len(resp))
	}
	switch resp[0] {
	case RespAck:
		return nil
	case RespNak:
		return ErrNak
	default:
		return errors.Errorf("unexpected response byte 0x%02X", resp[0])
	}
}

// InitReply is the device answer to INIT.
type InitReply struct {
	NumDigital  uint8
	NumAnalogue uint8
}

// InitResponse builds the INIT reply. A zero reply means the host and device
// disagree on the pin count.
func InitResponse(r InitReply, ok bool) []byte {
	if !ok {
		return []byte{0, 0, 0}
	}
	return []byte{RespPins, r.NumDigital, r.NumAnalogue}
}

// ParseInitReply decodes the INIT reply. ok is false when the device rejected
// the pin count.
func ParseInitReply(resp []byte) (r InitReply, ok bool, err error) {
	if len(resp) != 3 {
		return r, false, errors.Errorf("INIT reply: expected 3 bytes, got %d", len(resp))
	}
	switch resp[0] {
	case RespPins:
		return InitReply{NumDigital: resp[1], NumAnalogue: resp[2]}, true, nil
	case 0:
		return r, false, nil
	default:
		return r, false, errors.Errorf("INIT reply: unexpected marker 0x%02X", resp[0])
	}
}

// VersionResponse encodes v as the three-byte version triple.
func VersionResponse(v *semver.Version) []byte {
	return []byte{byte(v.Major()), byte(v.Minor()), byte(v.Patch())}
}

// ParseVersion decodes a READ_VERSION reply.
func ParseVersion(resp []byte) (*semver.Version, error) {
	if len(resp) != 3 {
		return nil, errors.Errorf("version reply: expected 3 bytes, got %d", len(resp))
	}
	return semver.New(uint64(resp[0]), uint64(resp[1]), uint64(resp[2]), "", ""), nil
}

// DigitalBit returns the bit for pin from a digital snapshot.
func DigitalBit(snapshot []byte, pin int) bool {
	if pin < 0 || pin/8 >= len(snapshot) {
		return false
	}
	return snapshot[pin/8]&(1<<(pin%8)) != 0
}

// AnalogueValue returns the value at analogue index from an analogue snapshot.
func AnalogueValue(snapshot []byte, index int) uint16 {
	off := index * 2
	if index < 0 || off+1 >= len(snapshot) {
		return 0
	}
	return binary.LittleEndian.Uint16(snapshot[off:])
}

// AnalogueValues decodes every value of an analogue snapshot.
func AnalogueValues(snapshot []byte) []uint16 {
	values := make([]uint16, len(snapshot)/2)
	for i := range values {
		values[i] = binary.LittleEndian.Uint16(snapshot[i*2:])
	}
	return values
}

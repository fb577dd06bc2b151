// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package exio

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomCommand builds a command frame with a random known opcode and arguments
func randomCommand(rng *rand.Rand) []byte {
	ops := []byte{
		OpInit, OpSetPullup, OpReadVersion, OpReadAnalogue, OpWriteDigital,
		OpReadDigital, OpEnableAnalogue, OpInitAnalogueMap, OpWriteAnimated, OpReadCaps,
	}
	op := ops[rng.Intn(len(ops))]
	n, _ := FrameLength(op)
	cmd := make([]byte, n)
	cmd[0] = op
	rng.Read(cmd[1:])
	return cmd
}

// TestFuzzDecoder_RandomBytes feeds random bytes to the decoder
// and verifies it doesn't crash or panic
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		length := rng.Intn(512) + 1
		data := make([]byte, length)
		rng.Read(data)

		for _, b := range data {
			d.DecodeByte(b)
		}
	}
}

// TestFuzzDecoder_RandomFrames encodes random frames and decodes them back
func TestFuzzDecoder_RandomFrames(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	d := NewDecoder()
	for i := 0; i < rounds; i++ {
		address := uint8(rng.Intn(256))
		kind := Kind(rng.Intn(3) + 1)
		var payload []byte
		switch kind {
		case KindWrite:
			payload = randomCommand(rng)
		case KindData:
			payload = make([]byte, rng.Intn(MaxPayloadSize+1))
			rng.Read(payload)
		}

		data, err := EncodeFrame(address, kind, payload)
		if err != nil {
			t.Fatalf("Round %d: encode error: %v", i, err)
		}

		var frame *Frame
		for _, b := range data {
			f, err := d.DecodeByte(b)
			if err != nil {
				t.Fatalf("Round %d: unexpected decode error: %v", i, err)
			}
			if f != nil {
				frame = f
			}
		}
		if frame == nil {
			t.Errorf("Round %d: expected frame, got nil", i)
			continue
		}
		if frame.Address() != address || frame.Kind() != kind {
			t.Errorf("Round %d: header mismatch: addr=0x%02X kind=%s", i, frame.Address(), frame.Kind())
		}
		if !bytes.Equal(frame.Payload(), payload) && len(payload) > 0 {
			t.Errorf("Round %d: payload mismatch: % X != % X", i, frame.Payload(), payload)
		}
		if kind == KindWrite && !CheckArity(frame.Payload()) {
			t.Errorf("Round %d: command arity lost in transit", i)
		}
	}
}

// TestFuzzDecoder_CorruptedFrames corrupts one byte of a valid frame and
// checks any frame the decoder still returns carries a matching CRC
func TestFuzzDecoder_CorruptedFrames(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()

		payload := randomCommand(rng)
		data := MustEncodeFrame(DefaultAddress, KindWrite, payload)

		corruptIdx := rng.Intn(len(data)-2) + 1 // skip START and END
		data[corruptIdx] ^= byte(rng.Intn(255) + 1)

		for _, b := range data {
			f, _ := d.DecodeByte(b)
			if f != nil && CalculateCRC(append([]byte{byte(f.Length()), f.Address(), byte(f.Kind())}, f.Payload()...)) != f.CRC() {
				t.Errorf("Round %d: decoder accepted a frame with a bad CRC", i)
			}
		}
	}
}

// TestFuzzUnstuff verifies stuffing is reversible for random data
func TestFuzzUnstuff(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		data := make([]byte, rng.Intn(128))
		rng.Read(data)

		got, err := UnstuffBytes(stuffBytes(data))
		if err != nil {
			t.Fatalf("Round %d: %v", i, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("Round %d: % X != % X", i, got, data)
		}
	}
}

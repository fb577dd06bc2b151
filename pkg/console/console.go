// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package console parses the diagnostic console commands.
//
// Commands are framed as <X params>. Text outside the markers is ignored and
// anything past MaxLength characters overwrites the last character.
package console

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Command framing
const (
	StartMarker = '<'
	EndMarker   = '>'
	MaxLength   = 20
)

// Op is the first character of a command.
type Op byte

const (
	OpDiag    Op = 'D'
	OpErase   Op = 'E'
	OpRead    Op = 'R'
	OpTest    Op = 'T'
	OpVpinMap Op = 'V'
	OpWrite   Op = 'W'
	OpReboot  Op = 'Z'
)

// TestMode selects a diagnostic test.
type TestMode byte

const (
	TestNone     TestMode = 0
	TestAnalogue TestMode = 'A'
	TestInput    TestMode = 'I'
	TestOutput   TestMode = 'O'
	TestPullup   TestMode = 'P'
	TestServo    TestMode = 'S'
)

func (m TestMode) String() string {
	switch m {
	case TestNone:
		return "none"
	case TestAnalogue:
		return "analogue"
	case TestInput:
		return "input"
	case TestOutput:
		return "output"
	case TestPullup:
		return "pullup"
	case TestServo:
		return "servo"
	default:
		return string(rune(m))
	}
}

// Command is one parsed console line.
type Command struct {
	Op Op

	// D: display delay in seconds, 0 toggles diagnostics off
	Seconds uint32
	// W: bus address
	Address uint8
	// T: test mode, TestNone reports the active mode
	Test TestMode
	// T S: servo/LED move
	Vpin    uint16
	Value   uint16
	Profile uint8
}

// Parse decodes a command line without its markers.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errors.New("empty command")
	}
	cmd := Command{Op: Op(fields[0][0])}
	args := fields[1:]

	switch cmd.Op {
	case OpDiag:
		if len(args) > 0 {
			secs, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return cmd, errors.Wrapf(err, "diagnostic delay %q", args[0])
			}
			cmd.Seconds = uint32(secs)
		}

	case OpWrite:
		if len(args) == 0 {
			return cmd, errors.New("W needs an address")
		}
		hex := strings.TrimPrefix(strings.ToLower(args[0]), "0x")
		addr, err := strconv.ParseUint(hex, 16, 8)
		if err != nil {
			return cmd, errors.Wrapf(err, "address %q", args[0])
		}
		cmd.Address = uint8(addr)

	case OpTest:
		if len(args) == 0 {
			return cmd, nil
		}
		cmd.Test = TestMode(args[0][0])
		switch cmd.Test {
		case TestAnalogue, TestInput, TestOutput, TestPullup:
		case TestServo:
			return parseServo(cmd, args[1:])
		default:
			// unknown test letters report the active mode
			cmd.Test = TestNone
		}

	case OpErase, OpRead, OpVpinMap, OpReboot:

	default:
		return cmd, errors.Errorf("unknown command %q", fields[0])
	}
	return cmd, nil
}

func parseServo(cmd Command, args []string) (Command, error) {
	if len(args) < 3 {
		return cmd, errors.New("T S needs vpin, value and profile")
	}
	vpin, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return cmd, errors.Wrapf(err, "vpin %q", args[0])
	}
	value, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return cmd, errors.Wrapf(err, "value %q", args[1])
	}
	profile, err := strconv.ParseUint(args[2], 10, 8)
	if err != nil {
		return cmd, errors.Wrapf(err, "profile %q", args[2])
	}
	cmd.Vpin = uint16(vpin)
	cmd.Value = uint16(value)
	cmd.Profile = uint8(profile)
	return cmd, nil
}

// Scanner extracts framed commands from a byte stream.
type Scanner struct {
	r          *bufio.Reader
	buf        []byte
	inProgress bool
}

// NewScanner reads commands from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{
		r:   bufio.NewReader(r),
		buf: make([]byte, 0, MaxLength),
	}
}

// Next returns the text of the next complete command.
func (s *Scanner) Next() (string, error) {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return "", err
		}
		if line, ok := s.feed(b); ok {
			return line, nil
		}
	}
}

func (s *Scanner) feed(b byte) (string, bool) {
	if !s.inProgress {
		if b == StartMarker {
			s.inProgress = true
			s.buf = s.buf[:0]
		}
		return "", false
	}
	if b == EndMarker {
		s.inProgress = false
		return string(s.buf), true
	}
	if len(s.buf) >= MaxLength-1 {
		s.buf[len(s.buf)-1] = b
	} else {
		s.buf = append(s.buf, b)
	}
	return "", false
}

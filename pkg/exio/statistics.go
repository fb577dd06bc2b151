// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package exio

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames      uint64
	ValidFrames      uint64
	CRCErrors        uint64
	DecodeErrors     uint64
	MalformedFrames  uint64
	UnknownOpcodes   uint64
	LengthMismatches uint64
	InvalidValues    uint64
	ForeignAddresses uint64
	Naks             uint64
	Writes           uint64
	Reads            uint64
	DataFrames       uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a frame and its errors
func (s *Statistics) Update(frame *Frame, decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrCRCMismatch) {
			s.CRCErrors++
		} else {
			s.DecodeErrors++
		}
		return
	}

	switch frame.kind {
	case KindWrite:
		s.Writes++
	case KindRead:
		s.Reads++
	case KindData:
		s.DataFrames++
		if len(frame.payload) == 1 && frame.payload[0] == RespNak {
			s.Naks++
		}
	}

	if len(validationErrors) > 0 {
		for _, err := range validationErrors {
			switch err.Type {
			case AnomalyUnknownOpcode:
				s.UnknownOpcodes++
				s.MalformedFrames++
			case AnomalyLengthMismatch, AnomalyUnexpectedPayload:
				s.LengthMismatches++
				s.MalformedFrames++
			case AnomalyInvalidValue:
				s.InvalidValues++
				s.MalformedFrames++
			case AnomalyInvalidAddress:
				s.ForeignAddresses++
			}
		}
	} else {
		s.ValidFrames++
	}

	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		errorCount := s.CRCErrors + s.DecodeErrors + s.MalformedFrames
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// percent returns n as a percentage of the total frame count
func (s *Statistics) percent(n uint64) float64 {
	if s.TotalFrames == 0 {
		return 0
	}
	return float64(n) * 100.0 / float64(s.TotalFrames)
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()
	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, s.percent(s.ValidFrames))
	result += fmt.Sprintf("  WRITE/READ/DATA: %d/%d/%d\n", s.Writes, s.Reads, s.DataFrames)

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, s.percent(s.CRCErrors))
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, s.percent(s.DecodeErrors))
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, s.percent(s.MalformedFrames))
		if s.UnknownOpcodes > 0 {
			result += fmt.Sprintf("  Unknown Opcode:   %5d\n", s.UnknownOpcodes)
		}
		if s.LengthMismatches > 0 {
			result += fmt.Sprintf("  Length Mismatch:  %5d\n", s.LengthMismatches)
		}
		if s.InvalidValues > 0 {
			result += fmt.Sprintf("  Invalid Value:    %5d\n", s.InvalidValues)
		}
	}
	if s.ForeignAddresses > 0 {
		result += fmt.Sprintf("Bad Address:     %8d\n", s.ForeignAddresses)
	}
	if s.Naks > 0 {
		result += fmt.Sprintf("NAK Responses:   %8d\n", s.Naks)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package errcode defines the stable error codes surfaced by the expander.
//
// A Code is comparable and implements error, so handlers wrap it with
// context (github.com/pkg/errors) and callers test it with errors.Is.
// Only OK/ERR reaches the bus; the code and its context go to the log.
package errcode

import "github.com/pkg/errors"

// Code is a stable error identifier.
type Code string

func (c Code) Error() string { return string(c) }

// Rejection reasons.
const (
	OK                 Code = "ok"
	CapabilityMismatch Code = "capability_mismatch"
	AlreadyInUse       Code = "already_in_use"
	PoolExhausted      Code = "pool_exhausted"
	MalformedFrame     Code = "malformed_frame"
	ConfigMismatch     Code = "config_mismatch"
	NotReady           Code = "not_ready"
	Unsupported        Code = "unsupported"

	Error Code = "error" // generic fallback
)

// Of extracts the Code carried by err, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := errors.Cause(err).(Code); ok {
		return c
	}
	return Error
}

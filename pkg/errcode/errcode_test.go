// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package errcode

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"
)

func TestOf(t *testing.T) {
	c := qt.New(t)

	c.Assert(Of(nil), qt.Equals, OK)
	c.Assert(Of(AlreadyInUse), qt.Equals, AlreadyInUse)

	wrapped := errors.Wrapf(PoolExhausted, "pin %d", 4)
	c.Assert(Of(wrapped), qt.Equals, PoolExhausted)
	c.Assert(errors.Is(wrapped, PoolExhausted), qt.IsTrue)
	c.Assert(wrapped.Error(), qt.Equals, "pin 4: pool_exhausted")

	c.Assert(Of(errors.New("boom")), qt.Equals, Error)
}

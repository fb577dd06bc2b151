// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package animation

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/Thermoquad/iox/pkg/errcode"
)

func TestParseProfile(t *testing.T) {
	tests := []struct {
		in   byte
		want Profile
	}{
		{0x00, Profile{Kind: Instant}},
		{0x02, Profile{Kind: Medium}},
		{0x84, Profile{Kind: Bounce, UseDimmer: true}},
		{0x81, Profile{Kind: Fast, UseDimmer: true}},
	}
	for _, tt := range tests {
		p, err := ParseProfile(tt.in)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, p, qt.Equals, tt.want)
		qt.Assert(t, p.Byte(), qt.Equals, tt.in)
	}

	_, err := ParseProfile(0x05)
	qt.Assert(t, errcode.Of(err), qt.Equals, errcode.MalformedFrame)
}

func TestProfileNames(t *testing.T) {
	c := qt.New(t)
	c.Assert(Profile{Kind: Slow, UseDimmer: true}.String(), qt.Equals, "slow+dimmer")
	c.Assert(Kind(7).String(), qt.Equals, "kind(7)")

	k, err := ParseKind("Bounce")
	c.Assert(err, qt.IsNil)
	c.Assert(k, qt.Equals, Bounce)
	_, err = ParseKind("wobble")
	c.Assert(err, qt.ErrorMatches, `unknown profile "wobble"`)
}

func TestParseProfileName(t *testing.T) {
	c := qt.New(t)
	for _, p := range []Profile{
		{Kind: Instant},
		{Kind: Medium, UseDimmer: true},
		{Kind: Bounce},
	} {
		got, err := ParseProfileName(p.String())
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, p)
	}

	got, err := ParseProfileName("FAST+Dimmer")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, Profile{Kind: Fast, UseDimmer: true})

	_, err = ParseProfileName("+dimmer")
	c.Assert(err, qt.ErrorMatches, `unknown profile ""`)
}

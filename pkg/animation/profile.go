// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package animation

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/Thermoquad/iox/pkg/errcode"
)

// Kind is the interpolation shape of a transition.
type Kind uint8

// Profile kinds. The values are the wire encoding.
const (
	Instant Kind = iota
	Fast
	Medium
	Slow
	Bounce
)

var kindNames = map[Kind]string{
	Instant: "instant",
	Fast:    "fast",
	Medium:  "medium",
	Slow:    "slow",
	Bounce:  "bounce",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// dimmerFlag is the wire bit selecting the software dimmer.
const dimmerFlag = 0x80

// Profile selects how an output moves and which backend drives it.
type Profile struct {
	Kind      Kind
	UseDimmer bool
}

// ParseProfile decodes a wire profile byte.
func ParseProfile(b byte) (Profile, error) {
	p := Profile{Kind: Kind(b &^ dimmerFlag), UseDimmer: b&dimmerFlag != 0}
	if !p.Kind.Valid() {
		return Profile{}, errors.Wrapf(errcode.MalformedFrame, "unknown profile 0x%02X", b)
	}
	return p, nil
}

// Byte encodes the profile for the wire.
func (p Profile) Byte() byte {
	b := byte(p.Kind)
	if p.UseDimmer {
		b |= dimmerFlag
	}
	return b
}

func (p Profile) String() string {
	if p.UseDimmer {
		return p.Kind.String() + "+dimmer"
	}
	return p.Kind.String()
}

// ParseKind accepts a kind name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(n, name) {
			return k, nil
		}
	}
	return 0, errors.Errorf("unknown profile %q", name)
}

// ParseProfileName accepts the String form of a profile, such as "slow" or
// "medium+dimmer".
func ParseProfileName(s string) (Profile, error) {
	name, dimmed := strings.CutSuffix(strings.ToLower(s), "+dimmer")
	k, err := ParseKind(name)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Kind: k, UseDimmer: dimmed}, nil
}

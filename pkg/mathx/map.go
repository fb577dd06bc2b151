// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mathx

// MapU16 maps x in [inMin,inMax] to [outMin,outMax] with 32-bit intermediates.
// Clamps to out range if input is outside.
func MapU16(x, inMin, inMax, outMin, outMax uint16) uint16 {
	if inMax == inMin {
		return outMin
	}
	if x < inMin {
		return outMin
	}
	if x > inMax {
		return outMax
	}
	num := uint32(x-inMin) * uint32(outMax-outMin)
	den := uint32(inMax - inMin)
	return uint16(uint32(outMin) + num/den)
}

// Interpolate maps x in [inMin,inMax] onto [from,to] where to may be below
// from. Division truncates toward zero, so descending ranges round toward
// from the same way ascending ones do.
func Interpolate(x, inMin, inMax int, from, to uint16) uint16 {
	if inMax == inMin {
		return to
	}
	v := int64(x-inMin)*(int64(to)-int64(from))/int64(inMax-inMin) + int64(from)
	return uint16(Clamp(v, 0, 0xFFFF))
}

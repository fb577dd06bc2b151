// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board

import "fmt"

// rpiPins exposes GPIO4..GPIO27 by their periph.io names. GPIO2/GPIO3 carry
// I2C. GPIO12, 13, 18 and 19 have hardware PWM.
func rpiPins() []Pin {
	pins := make([]Pin, 0, 24)
	for n := 4; n <= 27; n++ {
		caps := DIO
		switch n {
		case 12, 13, 18, 19:
			caps = DIOP
		}
		pins = append(pins, Pin{fmt.Sprintf("GPIO%d", n), caps})
	}
	return pins
}

func init() {
	register(&Board{
		Name:           "rpi",
		Pins:           rpiPins(),
		ServoChannels:  4,
		DimmerChannels: 24,
	})
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board

import "fmt"

// A4/A5 carry I2C on the AVR boards and are not exposed.
var unoPins = []Pin{
	{"D2", DIO}, {"D3", DIOP}, {"D4", DIO}, {"D5", DIOP}, {"D6", DIOP}, {"D7", DIO},
	{"D8", DIO}, {"D9", DIOP}, {"D10", DIOP}, {"D11", DIOP}, {"D12", DIO}, {"D13", DIO},
	{"A0", AIDIO}, {"A1", AIDIO}, {"A2", AIDIO}, {"A3", AIDIO},
}

func megaPins() []Pin {
	pins := make([]Pin, 0, 62)
	for d := 2; d <= 13; d++ {
		pins = append(pins, Pin{fmt.Sprintf("D%d", d), DIOP})
	}
	for d := 14; d <= 19; d++ {
		pins = append(pins, Pin{fmt.Sprintf("D%d", d), DIO})
	}
	for d := 22; d <= 49; d++ {
		pins = append(pins, Pin{fmt.Sprintf("D%d", d), DIO})
	}
	for a := 0; a <= 15; a++ {
		pins = append(pins, Pin{fmt.Sprintf("A%d", a), AIDIO})
	}
	return pins
}

func init() {
	register(&Board{
		Name:           "uno",
		Pins:           unoPins,
		ServoChannels:  12,
		DimmerChannels: 16,
	})
	register(&Board{
		Name:           "nano",
		Pins:           append(append([]Pin{}, unoPins...), Pin{"A6", AI}, Pin{"A7", AI}),
		ServoChannels:  12,
		DimmerChannels: 16,
	})
	register(&Board{
		Name:           "mega",
		Pins:           megaPins(),
		ServoChannels:  48,
		DimmerChannels: 62,
	})
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package board

// PA13/PA14 (debugger), PH0/PH1 (clock) and PB8/PB9 (I2C) are reserved.
var nucleoF411REPins = []Pin{
	// CN7
	{"PC10", DIOP}, {"PC11", DIOP}, {"PC12", DIOP}, {"PD2", DIOP}, {"PA15", DIOP}, {"PB7", DIOP},
	{"PC13", DIOP}, {"PC14", DIOP}, {"PC15", DIOP}, {"PA0", DIOP}, {"PA1", DIOP}, {"PA4", DIOP},
	{"PB0", DIO}, {"PC2", DIO}, {"PC1", DIO}, {"PC3", DIO}, {"PC0", DIO},
	// CN10
	{"PC9", DIO}, {"PC8", DIO}, {"PC6", DIO}, {"PC5", DIO}, {"PA5", DIO}, {"PA12", DIO},
	{"PA6", DIO}, {"PA11", DIO}, {"PA7", DIO}, {"PB12", DIO}, {"PB6", DIO}, {"PC7", DIO},
	{"PA9", DIO}, {"PB2", DIO}, {"PA8", DIO}, {"PB1", DIO}, {"PB10", DIO}, {"PB15", DIO},
	{"PB4", DIO}, {"PB14", DIO}, {"PB5", DIO}, {"PB13", DIO}, {"PB3", DIO}, {"PA10", DIO},
	{"PC4", DIO},
}

// PB6/PB7 (I2C) and PA11/PA12 (USB) are reserved. PC13 drives the LED.
var bluepillPins = []Pin{
	{"PC13", DIO}, {"PC14", DIO}, {"PC15", DIO}, {"PA0", AIDIO}, {"PA1", AIDIOP}, {"PA2", AIDIOP},
	{"PA3", AIDIOP}, {"PA4", AIDIO}, {"PA5", AIDIO}, {"PA6", AIDIOP}, {"PA7", AIDIOP}, {"PB0", AIDIOP},
	{"PB1", AIDIOP}, {"PB10", DIOP}, {"PB11", DIOP}, {"PB9", DIO}, {"PB8", DIO}, {"PB5", DIOP},
	{"PB4", DIOP}, {"PB3", DIOP}, {"PA15", DIOP}, {"PA10", DIOP}, {"PA9", DIOP}, {"PA8", DIOP},
	{"PB15", DIOP}, {"PB14", DIOP}, {"PB13", DIOP}, {"PB12", DIO},
}

func init() {
	register(&Board{
		Name:           "nucleo-f411re",
		Pins:           nucleoF411REPins,
		ServoChannels:  16,
		DimmerChannels: 42,
	})
	register(&Board{
		Name:           "bluepill",
		Pins:           bluepillPins,
		ServoChannels:  16,
		DimmerChannels: 28,
	})
}

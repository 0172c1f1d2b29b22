// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"math"
)

// Energy is a raw energy counter value in MicroJoules as exposed by
// powercap and hwmon energy files.
type Energy uint64

const (
	MicroJoule Energy = 1
	MilliJoule        = 1000 * MicroJoule
	Joule             = 1000 * MilliJoule
)

func (e Energy) MicroJoules() uint64 {
	return uint64(e)
}

func (e Energy) Joules() float64 {
	return float64(e) / float64(Joule)
}

func (e Energy) String() string {
	return fmt.Sprintf("%.2fJ", e.Joules())
}

// Power is a power rate in Watts.
type Power float64

// Rounded returns p rounded to two decimal places.
func (p Power) Rounded() Power {
	return Power(math.Round(float64(p)*100) / 100)
}

func (p Power) Watts() float64 {
	return float64(p)
}

func (p Power) String() string {
	return fmt.Sprintf("%.2fW", p.Watts())
}

// PowerFromEnergy converts an energy delta accumulated over seconds into Watts.
func PowerFromEnergy(delta Energy, seconds float64) Power {
	return Power(float64(delta) / seconds / float64(Joule))
}

// Frequency is a clock frequency in MHz.
type Frequency float64

const (
	MegaHertz Frequency = 1
	KiloHertz           = MegaHertz / 1000
)

func (f Frequency) MHz() float64 {
	return float64(f)
}

func (f Frequency) String() string {
	return fmt.Sprintf("%.0fMHz", f.MHz())
}

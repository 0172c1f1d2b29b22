// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package accelerator

import (
	"github.com/sustainable-computing-io/powermon/internal/device"
	"github.com/sustainable-computing-io/powermon/internal/service"
)

// Unavailable marks a power value the backend could not measure
const Unavailable device.Power = -1

// Reading is the power of a single accelerator card at the time of the poll.
// Values are passed through as reported by the backend.
type Reading struct {
	// Name is the product or driver name of the card
	Name string

	// UUID identifies the card, a PCI address when the backend has no UUID
	UUID string

	// Total is the card level power in Watts
	Total device.Power

	// Partitions holds the power of each tile or instance in Watts, ordered by
	// partition index. Empty when the card is not partitioned.
	Partitions []device.Power
}

// Clone returns a deep copy of r
func (r Reading) Clone() Reading {
	c := r
	if r.Partitions != nil {
		c.Partitions = append([]device.Power(nil), r.Partitions...)
	}
	return c
}

// Adapter reads power from one family of accelerators.
// Implementations must be safe for concurrent use.
type Adapter interface {
	service.Service     // Name()
	service.Initializer // Init()

	// PowerReadings returns one reading per card. An error means the poll
	// failed as a whole and the caller treats it as an empty result.
	PowerReadings() ([]Reading, error)
}

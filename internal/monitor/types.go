// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"maps"
	"time"

	"github.com/sustainable-computing-io/powermon/internal/device"
	"github.com/sustainable-computing-io/powermon/internal/device/accelerator"
)

type (
	Power     = device.Power
	Frequency = device.Frequency
	Reading   = accelerator.Reading
)

// Snapshot is a point-in-time view of every telemetry source.
// A Snapshot is never modified after it is published; readers get a Clone.
type Snapshot struct {
	Timestamp time.Time

	// Uncore maps socket index to uncore frequency, 0 when unreadable
	Uncore map[int]Frequency

	// Cores maps logical CPU index to its current frequency
	Cores map[int]Frequency

	// Power maps energy domain ID to average power since the previous sample
	Power map[string]Power

	// Accelerators holds one reading per card, in backend order
	Accelerators []Reading
}

// NewSnapshot returns an empty Snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Uncore: map[int]Frequency{},
		Cores:  map[int]Frequency{},
		Power:  map[string]Power{},
	}
}

// Clone returns a deep copy of the snapshot
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := &Snapshot{
		Timestamp: s.Timestamp,
		Uncore:    maps.Clone(s.Uncore),
		Cores:     maps.Clone(s.Cores),
		Power:     maps.Clone(s.Power),
	}
	if s.Accelerators != nil {
		c.Accelerators = make([]Reading, len(s.Accelerators))
		for i, r := range s.Accelerators {
			c.Accelerators[i] = r.Clone()
		}
	}
	return c
}

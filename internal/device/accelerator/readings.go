// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package accelerator

import (
	"log/slog"

	"github.com/sustainable-computing-io/powermon/internal/service"
)

// ReadAll polls every adapter and concatenates their readings in adapter
// order. An adapter whose poll fails contributes nothing to this poll.
func ReadAll(adapters []Adapter, logger *slog.Logger) []Reading {
	var readings []Reading
	for _, a := range adapters {
		r, err := a.PowerReadings()
		if err != nil {
			logger.Debug("accelerator poll failed", "backend", a.Name(), "error", err)
			continue
		}
		readings = append(readings, r...)
	}
	return readings
}

// ShutdownAll releases every adapter that holds resources
func ShutdownAll(adapters []Adapter, logger *slog.Logger) {
	for _, a := range adapters {
		s, ok := a.(service.Shutdowner)
		if !ok {
			continue
		}
		if err := s.Shutdown(); err != nil {
			logger.Warn("failed to shutdown accelerator backend", "backend", a.Name(), "error", err)
		}
	}
}

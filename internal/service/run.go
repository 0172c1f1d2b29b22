// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"

	"github.com/oklog/run"
)

// Run runs every Runner until the first one returns, then interrupts the
// rest and shuts each down. It returns the error of the first runner to exit.
func Run(outer context.Context, logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Running all services")
	ctx, cancel := context.WithCancel(outer)
	defer cancel()

	var g run.Group
	for _, s := range services {
		runner, ok := s.(Runner)
		if !ok {
			logger.Debug("service does not run in background", "service", s.Name())
			continue
		}

		g.Add(
			func() error {
				logger.Info("Running service", "service", runner.Name())
				return runner.Run(ctx)
			},
			func(err error) {
				cancel()
				if err != nil {
					logger.Warn("service terminated", "service", runner.Name(), "reason", err)
				}

				shutdowner, ok := runner.(Shutdowner)
				if !ok {
					return
				}
				logger.Info("shutting down", "service", runner.Name())
				if shutdownErr := shutdowner.Shutdown(); shutdownErr != nil {
					logger.Warn("service shutdown failed with error", "service", runner.Name(), "error", shutdownErr)
				}
			},
		)
	}

	return g.Run()
}

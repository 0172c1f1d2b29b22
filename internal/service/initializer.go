// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"fmt"
	"log/slog"
)

// Init initializes services in order. When one fails, the services already
// initialized are shut down in reverse order and the failure is returned.
func Init(logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.Default()
	}

	initialized := make([]Service, 0, len(services))
	for _, s := range services {
		srv, ok := s.(Initializer)
		if !ok {
			logger.Debug("skipping service initialization", "service", s.Name(),
				"reason", "service does not implement Initializer")
			continue
		}

		logger.Info("Initializing service", "service", s.Name())
		if err := srv.Init(); err != nil {
			initErr := fmt.Errorf("failed to initialize service %s: %w", s.Name(), err)
			logger.Info("Shutting down initialized services")
			return errors.Join(initErr, shutdownReverse(logger, initialized))
		}
		initialized = append(initialized, s)
	}
	return nil
}

// Shutdown shuts down every Shutdowner in reverse order and joins their errors
func Shutdown(logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.Default()
	}
	return shutdownReverse(logger, services)
}

func shutdownReverse(logger *slog.Logger, services []Service) error {
	var errs error
	for i := len(services) - 1; i >= 0; i-- {
		s := services[i]
		srv, ok := s.(Shutdowner)
		if !ok {
			continue
		}
		if err := srv.Shutdown(); err != nil {
			logger.Error("failed to shutdown service", "service", s.Name(), "error", err)
			errs = errors.Join(errs, fmt.Errorf("shutdown %s: %w", s.Name(), err))
			continue
		}
		logger.Debug("service shutdown successfully", "service", s.Name())
	}
	return errs
}

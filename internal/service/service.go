// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package service defines the lifecycle shared by every long-lived part of
// powermon: optional Init, a blocking Run and Shutdown.
package service

import "context"

// Service is the interface that all services must implement
type Service interface {
	// Name returns the name of the service
	Name() string
}

// Initializer is implemented by services that must be initialized before Run
type Initializer interface {
	Service
	Init() error
}

// Runner is implemented by services that run in the background
type Runner interface {
	Service
	// Run blocks until ctx is done or the service fails
	Run(ctx context.Context) error
}

// Shutdowner is implemented by services holding resources to release
type Shutdowner interface {
	Service
	Shutdown() error
}

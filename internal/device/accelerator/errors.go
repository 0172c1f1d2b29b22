// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package accelerator

import (
	"errors"
	"fmt"
)

// ErrNoDevices is returned by Init when a backend finds no cards
var ErrNoDevices = errors.New("no accelerator devices found")

// ErrNotRegistered is returned when a configured backend has no factory
type ErrNotRegistered struct {
	Backend string
}

func (e ErrNotRegistered) Error() string {
	return fmt.Sprintf("accelerator backend not registered: %s", e.Backend)
}

// ErrUnavailable is returned when a backend cannot be created or initialized.
// The backend stays disabled for the lifetime of the process.
type ErrUnavailable struct {
	Backend string
	Err     error
}

func (e ErrUnavailable) Error() string {
	return fmt.Sprintf("accelerator backend %s unavailable: %v", e.Backend, e.Err)
}

func (e ErrUnavailable) Unwrap() error {
	return e.Err
}

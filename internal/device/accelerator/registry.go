// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package accelerator

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/sustainable-computing-io/powermon/internal/service"
)

// Options are passed to every backend factory
type Options struct {
	// SysFSPath is the sysfs mount point
	SysFSPath string
}

// Factory creates an Adapter. It returns an error when the backend's driver
// or library is not present on the host.
type Factory func(logger *slog.Logger, opts Options) (Adapter, error)

var (
	registry   = make(map[string]Factory)
	registryMu sync.RWMutex
)

// Register adds a backend factory under name. Backends register themselves
// from an init function.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Registered returns the sorted names of all registered backends
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates and initializes the backend registered under name
func Open(name string, opts Options, logger *slog.Logger) (Adapter, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, ErrNotRegistered{Backend: name}
	}

	adapter, err := factory(logger, opts)
	if err != nil {
		return nil, ErrUnavailable{Backend: name, Err: err}
	}

	if err := adapter.Init(); err != nil {
		if s, ok := adapter.(service.Shutdowner); ok {
			_ = s.Shutdown()
		}
		return nil, ErrUnavailable{Backend: name, Err: err}
	}

	return adapter, nil
}

// Discover opens every backend in names, in order. Backends that cannot be
// opened are logged once and left out; they are never retried. An empty
// names list probes every registered backend.
func Discover(names []string, opts Options, logger *slog.Logger) []Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if len(names) == 0 {
		names = Registered()
	}

	var adapters []Adapter
	for _, name := range names {
		adapter, err := Open(name, opts, logger)
		if err != nil {
			logger.Warn("accelerator backend disabled", "backend", name, "error", err)
			continue
		}
		logger.Info("accelerator backend enabled", "backend", name)
		adapters = append(adapters, adapter)
	}
	return adapters
}

// clearRegistry removes all registered backends
func clearRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Factory)
}

// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package nvidia

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/sustainable-computing-io/powermon/internal/device"
	"github.com/sustainable-computing-io/powermon/internal/device/accelerator"
)

// BackendName is the name the adapter registers under
const BackendName = "nvidia"

func init() {
	accelerator.Register(BackendName, func(logger *slog.Logger, _ accelerator.Options) (accelerator.Adapter, error) {
		return NewAdapter(logger), nil
	})
}

type card struct {
	index     int
	name      string
	uuid      string
	handle    nvmlDeviceHandle
	instances []nvmlDeviceHandle
}

// Adapter reads card and MIG instance power through NVML
type Adapter struct {
	logger *slog.Logger
	lib    nvmlLib

	mu          sync.Mutex
	initialized bool
	cards       []card
}

var _ accelerator.Adapter = (*Adapter)(nil)

// NewAdapter creates an NVML backed adapter
func NewAdapter(logger *slog.Logger) *Adapter {
	return newAdapterWithLib(logger, newRealNvmlLib())
}

func newAdapterWithLib(logger *slog.Logger, lib nvmlLib) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		logger: logger.With("service", "nvidia-accelerator"),
		lib:    lib,
	}
}

func (a *Adapter) Name() string {
	return "nvidia-accelerator"
}

// Init loads NVML and enumerates cards and their MIG instances
func (a *Adapter) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}

	if ret := a.lib.Init(); ret != nvml.SUCCESS {
		return fmt.Errorf("NVML init failed: %s", a.lib.ErrorString(ret))
	}

	count, ret := a.lib.DeviceGetCount()
	if ret != nvml.SUCCESS {
		_ = a.lib.Shutdown()
		return fmt.Errorf("failed to get device count: %s", a.lib.ErrorString(ret))
	}

	cards := make([]card, 0, count)
	for i := 0; i < count; i++ {
		handle, ret := a.lib.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			a.logger.Warn("failed to get device handle", "index", i, "error", a.lib.ErrorString(ret))
			continue
		}

		c := card{index: i, handle: handle}
		if c.uuid, ret = handle.GetUUID(); ret != nvml.SUCCESS {
			c.uuid = fmt.Sprintf("gpu-%d", i)
		}
		if c.name, ret = handle.GetName(); ret != nvml.SUCCESS {
			c.name = "Unknown NVIDIA GPU"
		}
		c.instances = a.migInstances(handle)
		cards = append(cards, c)

		a.logger.Info("discovered GPU", "index", i, "uuid", c.uuid, "name", c.name, "mig-instances", len(c.instances))
	}

	if len(cards) == 0 {
		_ = a.lib.Shutdown()
		return accelerator.ErrNoDevices
	}

	a.cards = cards
	a.initialized = true
	return nil
}

// migInstances returns the MIG device handles of a card with MIG enabled
func (a *Adapter) migInstances(handle nvmlDeviceHandle) []nvmlDeviceHandle {
	current, _, ret := handle.GetMigMode()
	if ret != nvml.SUCCESS || current != nvml.DEVICE_MIG_ENABLE {
		return nil
	}

	maxCount, ret := handle.GetMaxMigDeviceCount()
	if ret != nvml.SUCCESS {
		return nil
	}

	var instances []nvmlDeviceHandle
	for i := 0; i < maxCount; i++ {
		mig, ret := handle.GetMigDeviceHandleByIndex(i)
		if ret != nvml.SUCCESS {
			continue
		}
		instances = append(instances, mig)
	}
	return instances
}

// PowerReadings returns the power of every card. A card whose power cannot
// be read reports accelerator.Unavailable.
func (a *Adapter) PowerReadings() ([]accelerator.Reading, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil, fmt.Errorf("NVML not initialized")
	}

	readings := make([]accelerator.Reading, 0, len(a.cards))
	for _, c := range a.cards {
		r := accelerator.Reading{
			Name:  c.name,
			UUID:  c.uuid,
			Total: a.power(c.handle),
		}
		if r.Total == accelerator.Unavailable {
			a.logger.Debug("failed to read card power", "index", c.index, "uuid", c.uuid)
		}
		for _, mig := range c.instances {
			r.Partitions = append(r.Partitions, a.power(mig))
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// power returns the current draw of handle, NVML reports milliwatts
func (a *Adapter) power(handle nvmlDeviceHandle) device.Power {
	mw, ret := handle.GetPowerUsage()
	if ret != nvml.SUCCESS {
		return accelerator.Unavailable
	}
	return device.Power(float64(mw) / 1000)
}

// Shutdown releases NVML
func (a *Adapter) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil
	}

	if ret := a.lib.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("NVML shutdown failed: %s", a.lib.ErrorString(ret))
	}
	a.cards = nil
	a.initialized = false
	return nil
}

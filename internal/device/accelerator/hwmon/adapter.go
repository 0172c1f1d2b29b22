// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package hwmon

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sustainable-computing-io/powermon/internal/device"
	"github.com/sustainable-computing-io/powermon/internal/device/accelerator"
	"k8s.io/utils/clock"
)

// BackendName is the name the adapter registers under
const BackendName = "hwmon"

func init() {
	accelerator.Register(BackendName, func(logger *slog.Logger, opts accelerator.Options) (accelerator.Adapter, error) {
		return NewAdapter(opts.SysFSPath, WithLogger(logger)), nil
	})
}

// meter turns one sensor into Watts. Energy sensors keep their previous
// counter value; power sensors are read directly.
type meter struct {
	sensor sensor

	last   device.Energy
	lastAt time.Time
	valid  bool
}

// read returns the current power of the sensor and whether the file could
// be read at all
func (m *meter) read(now time.Time) (device.Power, bool) {
	v, err := device.ReadCounter(m.sensor.path)
	if err != nil {
		return accelerator.Unavailable, false
	}

	if m.sensor.kind == powerSensor {
		return device.Power(float64(v) / 1e6).Rounded(), true
	}

	cur := device.Energy(v)
	prev, prevAt, ok := m.last, m.lastAt, m.valid
	m.last, m.lastAt, m.valid = cur, now, true

	elapsed := now.Sub(prevAt).Seconds()
	if !ok || elapsed <= 0 {
		return accelerator.Unavailable, true
	}
	// hwmon energy counters are 64 bit and do not wrap in practice; a smaller
	// value means the driver was reloaded, so cur is the new baseline
	if cur < prev {
		return accelerator.Unavailable, true
	}
	return device.PowerFromEnergy(cur-prev, elapsed).Rounded(), true
}

type card struct {
	driver     string
	pciAddr    string
	total      *meter
	partitions []*meter
}

// Adapter reads GPU power from the hwmon chips of the xe, i915 and amdgpu
// drivers. The card level sensor is the total and tile chips or additional
// energy sensors are partitions.
type Adapter struct {
	logger    *slog.Logger
	clock     clock.PassiveClock
	hwmonRoot string

	mu    sync.Mutex
	cards []*card
}

var _ accelerator.Adapter = (*Adapter)(nil)

// Opts configures the hwmon adapter
type Opts struct {
	logger *slog.Logger
	clock  clock.PassiveClock
}

// OptionFn is a function that sets an option on Opts
type OptionFn func(*Opts)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the clock used to time energy deltas
func WithClock(c clock.PassiveClock) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// NewAdapter creates an adapter reading chips under <sysfsPath>/class/hwmon
func NewAdapter(sysfsPath string, applyOpts ...OptionFn) *Adapter {
	opts := Opts{
		logger: slog.Default(),
		clock:  clock.RealClock{},
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	if sysfsPath == "" {
		sysfsPath = "/sys"
	}

	return &Adapter{
		logger:    opts.logger.With("service", "hwmon-accelerator"),
		clock:     opts.clock,
		hwmonRoot: filepath.Join(sysfsPath, "class", "hwmon"),
	}
}

func (a *Adapter) Name() string {
	return "hwmon-accelerator"
}

// Init finds accelerator chips and records the initial energy counters so
// the first poll already reports power
func (a *Adapter) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	chips, err := scanChips(a.hwmonRoot)
	if err != nil {
		return err
	}

	byDevice := map[string][]chip{}
	for _, c := range chips {
		byDevice[c.pciAddr] = append(byDevice[c.pciAddr], c)
	}

	addrs := make([]string, 0, len(byDevice))
	for addr := range byDevice {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	now := a.clock.Now()
	var cards []*card
	for _, addr := range addrs {
		total, partitions, ok := cardLayout(byDevice[addr])
		if !ok {
			a.logger.Debug("skipping device without card level sensor", "device", addr)
			continue
		}

		c := &card{
			driver:  byDevice[addr][0].driver,
			pciAddr: addr,
			total:   &meter{sensor: total},
		}
		for _, p := range partitions {
			c.partitions = append(c.partitions, &meter{sensor: p})
		}
		for _, m := range c.meters() {
			m.read(now)
		}
		cards = append(cards, c)

		a.logger.Info("discovered accelerator", "driver", c.driver, "device", addr,
			"sensor", total.path, "partitions", len(partitions))
	}

	if len(cards) == 0 {
		return accelerator.ErrNoDevices
	}
	a.cards = cards
	return nil
}

func (c *card) meters() []*meter {
	return append([]*meter{c.total}, c.partitions...)
}

// PowerReadings returns the power of every card. Sensors without a previous
// counter value report accelerator.Unavailable.
func (a *Adapter) PowerReadings() ([]accelerator.Reading, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.cards) == 0 {
		return nil, errors.New("hwmon adapter not initialized")
	}

	now := a.clock.Now()
	readable := false
	readings := make([]accelerator.Reading, 0, len(a.cards))
	for _, c := range a.cards {
		total, ok := c.total.read(now)
		readable = readable || ok

		r := accelerator.Reading{
			Name:  c.driver,
			UUID:  c.pciAddr,
			Total: total,
		}
		for _, p := range c.partitions {
			w, ok := p.read(now)
			readable = readable || ok
			r.Partitions = append(r.Partitions, w)
		}
		readings = append(readings, r)
	}

	if !readable {
		return nil, fmt.Errorf("no hwmon sensor could be read under %s", a.hwmonRoot)
	}
	return readings, nil
}

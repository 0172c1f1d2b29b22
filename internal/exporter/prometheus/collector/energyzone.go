// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
)

// raplZoneCollector lists the powercap zones the kernel exposes, independent
// of which ones were registered as energy domains
type raplZoneCollector struct {
	sync.Mutex

	sysfs     sysFS
	info      *prom.Desc
	maxEnergy *prom.Desc
}

var _ prom.Collector = (*raplZoneCollector)(nil)

func NewRaplZoneCollector(sysPath string) (*raplZoneCollector, error) {
	fs, err := newSysFS(sysPath)
	if err != nil {
		return nil, fmt.Errorf("creating sysfs failed: %w", err)
	}
	return newRaplZoneCollectorWithFS(fs), nil
}

func newRaplZoneCollectorWithFS(fs sysFS) *raplZoneCollector {
	labels := []string{"name", "index", "path"}
	return &raplZoneCollector{
		sysfs: fs,
		info: prom.NewDesc(
			prom.BuildFQName(namespace, "rapl", "zone_info"),
			"RAPL zones from sysfs",
			labels, nil,
		),
		maxEnergy: prom.NewDesc(
			prom.BuildFQName(namespace, "rapl", "zone_max_energy_joules"),
			"Energy at which the zone counter wraps",
			labels, nil,
		),
	}
}

func (c *raplZoneCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.info
	ch <- c.maxEnergy
}

func (c *raplZoneCollector) Collect(ch chan<- prom.Metric) {
	c.Lock()
	defer c.Unlock()

	zones, err := c.sysfs.Zones()
	if err != nil {
		return
	}
	for _, z := range zones {
		index := fmt.Sprintf("%d", z.Index)
		ch <- prom.MustNewConstMetric(c.info, prom.GaugeValue, 1, z.Name, index, z.Path)
		ch <- prom.MustNewConstMetric(c.maxEnergy, prom.GaugeValue, float64(z.MaxMicrojoules)/1e6, z.Name, index, z.Path)
	}
}

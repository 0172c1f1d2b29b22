// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sustainable-computing-io/powermon/config"
	"github.com/sustainable-computing-io/powermon/internal/device/accelerator"
	"github.com/sustainable-computing-io/powermon/internal/monitor"
)

type PowerDataProvider = monitor.PowerDataProvider

// PowerCollector exports every part of one snapshot so that power,
// frequency and accelerator series in a scrape come from the same sample
type PowerCollector struct {
	pm           PowerDataProvider
	logger       *slog.Logger
	metricsLevel config.Level

	mutex sync.RWMutex
	ready bool

	domainWatts *prometheus.Desc

	uncoreMHz *prometheus.Desc
	coreMHz   *prometheus.Desc

	acceleratorWatts          *prometheus.Desc
	acceleratorPartitionWatts *prometheus.Desc
}

var _ prometheus.Collector = (*PowerCollector)(nil)

// NewPowerCollector creates a collector reading snapshots from monitor
func NewPowerCollector(monitor PowerDataProvider, logger *slog.Logger, metricsLevel config.Level) *PowerCollector {
	acceleratorLabels := []string{"index", "name", "uuid"}

	c := &PowerCollector{
		pm:           monitor,
		logger:       logger.With("collector", "power"),
		metricsLevel: metricsLevel,

		domainWatts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "rapl", "domain_watts"),
			"Power of a RAPL domain in watts over the last sampling interval",
			[]string{"domain"}, nil),

		uncoreMHz: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cpu", "uncore_frequency_mhz"),
			"Uncore frequency of a socket in MHz; 0 when the register could not be read",
			[]string{"socket"}, nil),
		coreMHz: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cpu", "core_frequency_mhz"),
			"Current scaling frequency of a core in MHz",
			[]string{"core"}, nil),

		acceleratorWatts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "accelerator", "watts"),
			"Total power of an accelerator card in watts",
			acceleratorLabels, nil),
		acceleratorPartitionWatts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "accelerator", "partition_watts"),
			"Power of an accelerator partition (tile or MIG instance) in watts",
			append(acceleratorLabels, "partition"), nil),
	}

	go c.waitForData()

	return c
}

func (c *PowerCollector) waitForData() {
	<-c.pm.DataChannel()
	c.mutex.Lock()
	c.ready = true
	c.mutex.Unlock()
}

func (c *PowerCollector) isReady() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.ready
}

// Describe implements the prometheus.Collector interface
func (c *PowerCollector) Describe(ch chan<- *prometheus.Desc) {
	if c.metricsLevel.IsPowerEnabled() {
		ch <- c.domainWatts
	}
	if c.metricsLevel.IsFrequencyEnabled() {
		ch <- c.uncoreMHz
		ch <- c.coreMHz
	}
	if c.metricsLevel.IsAcceleratorEnabled() {
		ch <- c.acceleratorWatts
		ch <- c.acceleratorPartitionWatts
	}
}

// Collect implements the prometheus.Collector interface
func (c *PowerCollector) Collect(ch chan<- prometheus.Metric) {
	if !c.isReady() {
		c.logger.Debug("Collect called before monitor is ready")
		return
	}

	started := time.Now()
	snapshot, err := c.pm.Snapshot()
	if err != nil {
		c.logger.Error("Failed to collect power data", "error", err)
		return
	}

	if c.metricsLevel.IsPowerEnabled() {
		for domain, power := range snapshot.Power {
			ch <- prometheus.MustNewConstMetric(c.domainWatts, prometheus.GaugeValue, power.Watts(), domain)
		}
	}

	if c.metricsLevel.IsFrequencyEnabled() {
		for socket, f := range snapshot.Uncore {
			ch <- prometheus.MustNewConstMetric(c.uncoreMHz, prometheus.GaugeValue, f.MHz(), strconv.Itoa(socket))
		}
		for core, f := range snapshot.Cores {
			ch <- prometheus.MustNewConstMetric(c.coreMHz, prometheus.GaugeValue, f.MHz(), strconv.Itoa(core))
		}
	}

	if c.metricsLevel.IsAcceleratorEnabled() {
		c.collectAccelerators(ch, snapshot.Accelerators)
	}

	c.logger.Debug("Collected power data", "duration", time.Since(started))
}

// collectAccelerators skips values the backend reported as unavailable
func (c *PowerCollector) collectAccelerators(ch chan<- prometheus.Metric, readings []monitor.Reading) {
	for i, r := range readings {
		index := strconv.Itoa(i)
		if r.Total != accelerator.Unavailable {
			ch <- prometheus.MustNewConstMetric(c.acceleratorWatts, prometheus.GaugeValue,
				r.Total.Watts(), index, r.Name, r.UUID)
		}
		for p, power := range r.Partitions {
			if power == accelerator.Unavailable {
				continue
			}
			ch <- prometheus.MustNewConstMetric(c.acceleratorPartitionWatts, prometheus.GaugeValue,
				power.Watts(), index, r.Name, r.UUID, fmt.Sprintf("tile%d", p))
		}
	}
}

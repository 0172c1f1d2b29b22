// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sustainable-computing-io/powermon/internal/device"
	"github.com/sustainable-computing-io/powermon/internal/device/accelerator"
	"github.com/sustainable-computing-io/powermon/internal/service"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"
)

// EnergyEstimator converts energy counters into power
type EnergyEstimator interface {
	Domains() []device.EnergyDomain
	Sample() map[string]device.Power
}

// FrequencySource reads uncore and per-core frequencies
type FrequencySource interface {
	Uncore() map[int]device.Frequency
	Cores() map[int]device.Frequency
}

type PowerDataProvider interface {
	// Snapshot returns a snapshot no older than the configured staleness,
	// collecting a new one when needed
	Snapshot() (*Snapshot, error)

	// Collect always samples every source and returns the new snapshot
	Collect() *Snapshot

	// DataChannel returns a channel that signals when new data is available
	DataChannel() <-chan struct{}

	// DomainNames returns the IDs of the discovered energy domains
	DomainNames() []string
}

// Service defines the interface for the power monitoring service
type Service interface {
	service.Service
	PowerDataProvider
}

// PowerMonitor owns every telemetry source and composes them into snapshots.
// It is constructed once at startup and is safe for concurrent use.
type PowerMonitor struct {
	logger       *slog.Logger
	estimator    EnergyEstimator
	frequencies  FrequencySource
	accelerators []accelerator.Adapter

	interval     time.Duration
	clock        clock.WithTicker
	maxStaleness time.Duration

	// signals when a snapshot has been updated
	dataCh chan struct{}

	computeGroup singleflight.Group
	snapshot     atomic.Pointer[Snapshot]

	domainNames []string

	collectionCtx    context.Context
	collectionCancel context.CancelFunc
}

var _ Service = (*PowerMonitor)(nil)

// NewPowerMonitor creates a PowerMonitor sampling estimator and frequencies
func NewPowerMonitor(estimator EnergyEstimator, frequencies FrequencySource, applyOpts ...OptionFn) *PowerMonitor {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &PowerMonitor{
		logger:           opts.logger.With("service", "monitor"),
		estimator:        estimator,
		frequencies:      frequencies,
		accelerators:     opts.accelerators,
		clock:            opts.clock,
		interval:         opts.interval,
		maxStaleness:     opts.maxStaleness,
		dataCh:           make(chan struct{}, 1),
		domainNames:      device.DomainIDs(estimator.Domains()),
		collectionCtx:    ctx,
		collectionCancel: cancel,
	}
}

func (pm *PowerMonitor) Name() string {
	return "monitor"
}

func (pm *PowerMonitor) Init() error {
	if len(pm.domainNames) == 0 {
		pm.logger.Warn("no energy domains discovered, power readings will be empty")
	}
	pm.logger.Info("monitor initialized",
		"domains", pm.domainNames,
		"accelerator-backends", len(pm.accelerators))

	// baseline for the estimator so the first request reports power
	pm.store(pm.collect())
	return nil
}

func (pm *PowerMonitor) Run(ctx context.Context) error {
	pm.logger.Info("Monitor is running...", "interval", pm.interval)
	if pm.interval > 0 {
		pm.scheduleNextCollection()
	}
	<-ctx.Done()
	pm.collectionCancel()
	pm.logger.Info("Monitor has terminated.")
	return nil
}

func (pm *PowerMonitor) Shutdown() error {
	pm.logger.Info("shutting down monitor")
	pm.collectionCancel()
	accelerator.ShutdownAll(pm.accelerators, pm.logger)
	return nil
}

// Ready reports whether a snapshot has been published. It never reads
// hardware.
func (pm *PowerMonitor) Ready() bool {
	return pm.snapshot.Load() != nil
}

func (pm *PowerMonitor) DataChannel() <-chan struct{} {
	return pm.dataCh
}

func (pm *PowerMonitor) DomainNames() []string {
	return pm.domainNames
}

// Collect samples every source and publishes the result as the latest snapshot
func (pm *PowerMonitor) Collect() *Snapshot {
	s := pm.collect()
	pm.store(s)
	return s.Clone()
}

func (pm *PowerMonitor) Snapshot() (*Snapshot, error) {
	pm.ensureFreshData()

	snapshot := pm.snapshot.Load()
	if snapshot == nil {
		return nil, fmt.Errorf("failed to get snapshot")
	}
	return snapshot.Clone(), nil
}

// collect reads uncore, core, energy and accelerator sources in that order.
// A failing source only leaves its own part of the snapshot empty.
func (pm *PowerMonitor) collect() *Snapshot {
	started := pm.clock.Now()

	s := NewSnapshot()
	if pm.frequencies != nil {
		s.Uncore = pm.frequencies.Uncore()
		s.Cores = pm.frequencies.Cores()
	}
	s.Power = pm.estimator.Sample()
	s.Accelerators = accelerator.ReadAll(pm.accelerators, pm.logger)
	s.Timestamp = pm.clock.Now()

	pm.logger.Debug("collected snapshot",
		"duration", s.Timestamp.Sub(started),
		"domains", len(s.Power),
		"cores", len(s.Cores),
		"accelerators", len(s.Accelerators))
	return s
}

func (pm *PowerMonitor) store(s *Snapshot) {
	pm.snapshot.Store(s)
	pm.signalNewData()
}

func (pm *PowerMonitor) signalNewData() {
	select {
	case pm.dataCh <- struct{}{}:
	default:
	}
}

// scheduleNextCollection schedules the next background collection
func (pm *PowerMonitor) scheduleNextCollection() {
	timer := pm.clock.After(pm.interval)
	go func() {
		select {
		case <-timer:
			pm.synchronizedRefresh()
			pm.scheduleNextCollection()

		case <-pm.collectionCtx.Done():
			pm.logger.Info("Collection loop terminated")
			return
		}
	}()
}

// ensureFreshData refreshes the cached snapshot when it is older than maxStaleness
func (pm *PowerMonitor) ensureFreshData() {
	if pm.isFresh() {
		return
	}
	pm.synchronizedRefresh()
}

// synchronizedRefresh collects a new snapshot; concurrent callers share a
// single collection
func (pm *PowerMonitor) synchronizedRefresh() {
	_, _, _ = pm.computeGroup.Do("collect", func() (any, error) {
		// a caller that waited on the group may find the data refreshed
		if pm.isFresh() {
			return nil, nil
		}
		pm.store(pm.collect())
		return nil, nil
	})
}

func (pm *PowerMonitor) isFresh() bool {
	snapshot := pm.snapshot.Load()
	if snapshot == nil || snapshot.Timestamp.IsZero() {
		return false
	}

	age := pm.clock.Now().Sub(snapshot.Timestamp)
	return age <= pm.maxStaleness
}

// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

const (
	// DefaultCounterWidth is the width in bits of the RAPL energy status counter
	DefaultCounterWidth = 32

	// AutoCounterWidth wraps each counter at its max_energy_range_uj and falls
	// back to DefaultCounterWidth when the range is unknown
	AutoCounterWidth = 0
)

// observation is the last successful reading of a domain
type observation struct {
	energy Energy
	at     time.Time
	valid  bool
}

// PowerEstimator turns monotonically increasing energy counters into power.
// It keeps the last successful observation of every domain and is safe for
// concurrent use: each Sample is a single read-modify-write under a mutex.
type PowerEstimator struct {
	logger       *slog.Logger
	clock        clock.PassiveClock
	reader       EnergyReader
	counterWidth int

	domains []EnergyDomain

	mu         sync.Mutex
	last       map[string]observation
	lastSample time.Time
}

// EstimatorOptions configures a PowerEstimator
type EstimatorOptions struct {
	logger       *slog.Logger
	clock        clock.PassiveClock
	counterWidth int
}

// EstimatorOptionFn is a function that sets an option on EstimatorOptions
type EstimatorOptionFn func(*EstimatorOptions)

// WithEstimatorLogger sets the logger of the PowerEstimator
func WithEstimatorLogger(logger *slog.Logger) EstimatorOptionFn {
	return func(o *EstimatorOptions) {
		o.logger = logger
	}
}

// WithClock sets the clock used to timestamp observations
func WithClock(c clock.PassiveClock) EstimatorOptionFn {
	return func(o *EstimatorOptions) {
		o.clock = c
	}
}

// WithCounterWidth sets the counter width in bits used to correct wraparound
func WithCounterWidth(bits int) EstimatorOptionFn {
	return func(o *EstimatorOptions) {
		o.counterWidth = bits
	}
}

// NewPowerEstimator creates an estimator for domains reading counters with reader
func NewPowerEstimator(domains []EnergyDomain, reader EnergyReader, applyOpts ...EstimatorOptionFn) *PowerEstimator {
	opts := EstimatorOptions{
		logger:       slog.Default(),
		clock:        clock.RealClock{},
		counterWidth: DefaultCounterWidth,
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	last := make(map[string]observation, len(domains))
	for _, d := range domains {
		last[d.ID] = observation{}
	}

	return &PowerEstimator{
		logger:       opts.logger.With("service", "power-estimator"),
		clock:        opts.clock,
		reader:       reader,
		counterWidth: opts.counterWidth,
		domains:      append([]EnergyDomain(nil), domains...),
		last:         last,
	}
}

// Domains returns a copy of the domains the estimator samples
func (e *PowerEstimator) Domains() []EnergyDomain {
	return append([]EnergyDomain(nil), e.domains...)
}

// Sample reads every domain and returns the average power in Watts of each
// domain since its previous successful reading. The first call only records a
// baseline and returns an empty result. Domains whose counter could not be
// read are omitted and keep their previous observation.
func (e *PowerEstimator) Sample() map[string]Power {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	current := make(map[string]Energy, len(e.domains))
	for _, d := range e.domains {
		if v, ok := e.reader.Energy(d.Path); ok {
			current[d.ID] = v
		}
	}

	power := make(map[string]Power, len(current))
	switch {
	case e.lastSample.IsZero():
		e.logger.Debug("recording baseline", "domains", len(current))

	case !now.After(e.lastSample):
		e.logger.Debug("clock did not advance, skipping power computation",
			"now", now, "last", e.lastSample)

	default:
		for _, d := range e.domains {
			cur, ok := current[d.ID]
			if !ok {
				continue
			}
			prev := e.last[d.ID]
			if !prev.valid {
				continue
			}
			elapsed := now.Sub(prev.at).Seconds()
			if elapsed <= 0 {
				continue
			}
			delta, ok := e.delta(d, prev.energy, cur)
			if !ok {
				e.logger.Debug("counter went backwards beyond its known range, skipping",
					"domain", d.ID, "previous", prev.energy, "current", cur)
				continue
			}
			power[d.ID] = PowerFromEnergy(delta, elapsed).Rounded()
		}
	}

	for id, v := range current {
		e.last[id] = observation{energy: v, at: now, valid: true}
	}
	e.lastSample = now
	return power
}

// delta returns the energy consumed between prev and cur, correcting a single
// counter wraparound. It reports false when prev lies beyond the wrap point,
// i.e. the counter is wider than configured and its range is unknown.
func (e *PowerEstimator) delta(d EnergyDomain, prev, cur Energy) (Energy, bool) {
	if cur >= prev {
		return cur - prev, true
	}
	if e.counterWidth >= 64 {
		// uint64 arithmetic wraps on its own
		return cur - prev, true
	}

	wrap := Energy(1) << uint(DefaultCounterWidth)
	switch {
	case e.counterWidth == AutoCounterWidth && d.MaxEnergy > 0:
		wrap = d.MaxEnergy
	case e.counterWidth != AutoCounterWidth:
		wrap = Energy(1) << uint(e.counterWidth)
	}

	// powercap counters are usually wider than 32 bits; fall back to the
	// range the kernel reports for the zone
	if prev >= wrap && d.MaxEnergy > prev {
		wrap = d.MaxEnergy
	}
	if prev >= wrap {
		return 0, false
	}
	return wrap - prev + cur, true
}

// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"log/slog"
	"sort"
)

const uncoreRatioUnit = 100 * MegaHertz

// DefaultUncoreSockets maps socket index to the logical CPU whose MSR device
// reports the uncore ratio of that socket on a two socket system
func DefaultUncoreSockets() map[int]int {
	return map[int]int{0: 0, 1: 32}
}

// FrequencySampler reads uncore and per-core clock frequencies
type FrequencySampler struct {
	logger         *slog.Logger
	registers      RegisterReader
	cores          FrequencyReader
	statusRegister uint32
	sockets        map[int]int
	cpuCount       int
}

// SamplerOptions configures a FrequencySampler
type SamplerOptions struct {
	logger         *slog.Logger
	statusRegister uint32
	sockets        map[int]int
	cpuCount       int
}

// SamplerOptionFn is a function that sets an option on SamplerOptions
type SamplerOptionFn func(*SamplerOptions)

// WithSamplerLogger sets the logger of the FrequencySampler
func WithSamplerLogger(logger *slog.Logger) SamplerOptionFn {
	return func(o *SamplerOptions) {
		o.logger = logger
	}
}

// WithStatusRegister sets the MSR offset holding the uncore ratio
func WithStatusRegister(offset uint32) SamplerOptionFn {
	return func(o *SamplerOptions) {
		o.statusRegister = offset
	}
}

// WithSockets sets the socket to logical CPU mapping used for uncore reads.
// A nil map disables uncore sampling.
func WithSockets(sockets map[int]int) SamplerOptionFn {
	return func(o *SamplerOptions) {
		o.sockets = sockets
	}
}

// WithCPUCount sets the number of logical CPUs whose frequency is sampled
func WithCPUCount(n int) SamplerOptionFn {
	return func(o *SamplerOptions) {
		o.cpuCount = n
	}
}

// NewFrequencySampler creates a FrequencySampler
func NewFrequencySampler(registers RegisterReader, cores FrequencyReader, applyOpts ...SamplerOptionFn) *FrequencySampler {
	opts := SamplerOptions{
		logger:         slog.Default(),
		statusRegister: UncoreRatioStatusRegister,
		sockets:        DefaultUncoreSockets(),
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	sockets := make(map[int]int, len(opts.sockets))
	for s, cpu := range opts.sockets {
		sockets[s] = cpu
	}

	return &FrequencySampler{
		logger:         opts.logger.With("service", "frequency-sampler"),
		registers:      registers,
		cores:          cores,
		statusRegister: opts.statusRegister,
		sockets:        sockets,
		cpuCount:       opts.cpuCount,
	}
}

// UncoreMHz returns the uncore frequency seen by cpu. Only the low byte of
// the status register holds the ratio.
func (s *FrequencySampler) UncoreMHz(cpu int) (Frequency, bool) {
	raw, ok := s.registers.Register(cpu, s.statusRegister)
	if !ok {
		return 0, false
	}
	return Frequency(raw&0xff) * uncoreRatioUnit, true
}

// CoreMHz returns the current frequency of core
func (s *FrequencySampler) CoreMHz(core int) (Frequency, bool) {
	return s.cores.CoreFrequency(core)
}

// Uncore returns the uncore frequency of every configured socket. Sockets
// whose register cannot be read report 0.
func (s *FrequencySampler) Uncore() map[int]Frequency {
	freqs := make(map[int]Frequency, len(s.sockets))
	for socket, cpu := range s.sockets {
		f, ok := s.UncoreMHz(cpu)
		if !ok {
			s.logger.Debug("uncore frequency unavailable", "socket", socket, "cpu", cpu)
			f = 0
		}
		freqs[socket] = f
	}
	return freqs
}

// Cores returns the frequency of cores 0..n-1 that could be read
func (s *FrequencySampler) Cores() map[int]Frequency {
	freqs := make(map[int]Frequency, s.cpuCount)
	for core := 0; core < s.cpuCount; core++ {
		if f, ok := s.CoreMHz(core); ok {
			freqs[core] = f
		}
	}
	return freqs
}

// Sockets returns the sorted socket indices sampled for uncore frequency
func (s *FrequencySampler) Sockets() []int {
	sockets := make([]int, 0, len(s.sockets))
	for socket := range s.sockets {
		sockets = append(sockets, socket)
	}
	sort.Ints(sockets)
	return sockets
}

// CPUCount returns the number of logical CPUs sampled for core frequency
func (s *FrequencySampler) CPUCount() int {
	return s.cpuCount
}

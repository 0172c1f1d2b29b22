// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultMSRDevicePath is the per-CPU model specific register device template
const DefaultMSRDevicePath = "/dev/cpu/%d/msr"

const coreFrequencyFile = "devices/system/cpu/cpu%d/cpufreq/scaling_cur_freq"

// EnergyReader reads a raw energy counter
type EnergyReader interface {
	Energy(path string) (Energy, bool)
}

// RegisterReader reads a 64-bit model specific register of a logical CPU
type RegisterReader interface {
	Register(cpu int, offset uint32) (uint64, bool)
}

// FrequencyReader reads the current clock frequency of a logical CPU
type FrequencyReader interface {
	CoreFrequency(core int) (Frequency, bool)
}

// CounterReader reads energy counters, model specific registers and cpufreq
// files. Every read either yields a value or reports it as absent; failures
// never propagate to the caller. The first failure of a source is logged at
// warn level, repeats at debug level and a recovery at info level.
type CounterReader struct {
	logger        *slog.Logger
	msrDevicePath string
	coreFreqPath  string

	mu       sync.Mutex
	degraded map[string]bool
}

var (
	_ EnergyReader    = (*CounterReader)(nil)
	_ RegisterReader  = (*CounterReader)(nil)
	_ FrequencyReader = (*CounterReader)(nil)
)

// ReaderOptions configures a CounterReader
type ReaderOptions struct {
	logger        *slog.Logger
	sysfsPath     string
	msrDevicePath string
}

// ReaderOptionFn is a function that sets an option on ReaderOptions
type ReaderOptionFn func(*ReaderOptions)

// WithReaderLogger sets the logger of the CounterReader
func WithReaderLogger(logger *slog.Logger) ReaderOptionFn {
	return func(o *ReaderOptions) {
		o.logger = logger
	}
}

// WithSysFSPath sets the sysfs mount point used for cpufreq files
func WithSysFSPath(path string) ReaderOptionFn {
	return func(o *ReaderOptions) {
		o.sysfsPath = path
	}
}

// WithMSRDevicePath sets the MSR device template, it must contain a single %d
func WithMSRDevicePath(path string) ReaderOptionFn {
	return func(o *ReaderOptions) {
		o.msrDevicePath = path
	}
}

// NewCounterReader creates a CounterReader
func NewCounterReader(applyOpts ...ReaderOptionFn) *CounterReader {
	opts := ReaderOptions{
		logger:        slog.Default(),
		sysfsPath:     "/sys",
		msrDevicePath: DefaultMSRDevicePath,
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &CounterReader{
		logger:        opts.logger.With("service", "counter-reader"),
		msrDevicePath: opts.msrDevicePath,
		coreFreqPath:  filepath.Join(opts.sysfsPath, coreFrequencyFile),
		degraded:      map[string]bool{},
	}
}

// Energy reads the MicroJoule counter at path
func (r *CounterReader) Energy(path string) (Energy, bool) {
	v, err := ReadCounter(path)
	if r.track(path, err) {
		return 0, false
	}
	return Energy(v), true
}

// Register reads the model specific register at offset for cpu
func (r *CounterReader) Register(cpu int, offset uint32) (uint64, bool) {
	path := fmt.Sprintf(r.msrDevicePath, cpu)
	v, err := readRegister(path, offset)
	if r.track(fmt.Sprintf("%s@0x%x", path, offset), err) {
		return 0, false
	}
	return v, true
}

// CoreFrequency reads scaling_cur_freq of core
func (r *CounterReader) CoreFrequency(core int) (Frequency, bool) {
	path := fmt.Sprintf(r.coreFreqPath, core)
	khz, err := ReadCounter(path)
	if r.track(path, err) {
		return 0, false
	}
	return Frequency(khz) * KiloHertz, true
}

// track records the outcome of a read of source and reports whether it failed
func (r *CounterReader) track(source string, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasDegraded := r.degraded[source]
	if err == nil {
		if wasDegraded {
			delete(r.degraded, source)
			r.logger.Info("source recovered", "source", source)
		}
		return false
	}

	if wasDegraded {
		r.logger.Debug("source still unavailable", "source", source, "error", err)
	} else {
		r.degraded[source] = true
		r.logger.Warn("source degraded", "source", source, "error", err)
	}
	return true
}

// ReadCounter reads a sysfs file holding a single unsigned integer
func ReadCounter(path string) (uint64, error) {
	data, err := sysReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed reading in %s: %w", path, err)
	}
	return v, nil
}

// ReadString reads a sysfs attribute holding a single line of text
func ReadString(path string) (string, error) {
	data, err := sysReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func sysReadFile(file string) ([]byte, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	// Some drivers return EAGAIN and os.ReadFile would poll forever; a single
	// read either returns data or fails immediately.
	b := make([]byte, 128)
	n, err := unix.Read(int(f.Fd()), b)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	if n < 0 {
		return nil, fmt.Errorf("failed to read file: %q, read returned negative bytes value: %d", file, n)
	}

	return b[:n], nil
}

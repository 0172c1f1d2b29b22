// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/powermon/config"
	"github.com/sustainable-computing-io/powermon/internal/device"
	"k8s.io/utils/ptr"
)

func TestParseArgsAndConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, listDevices, err := parseArgsAndConfig([]string{})
		require.NoError(t, err)
		assert.False(t, listDevices)
		assert.Equal(t, config.DefaultConfig().Web.ListenAddresses, cfg.Web.ListenAddresses)
	})

	t.Run("flags override config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\nrapl:\n  counterWidth: 0\n"), 0o644))

		cfg, listDevices, err := parseArgsAndConfig([]string{
			"--config.file", path,
			"--log.level", "warn",
			"--list-devices",
		})
		require.NoError(t, err)
		assert.True(t, listDevices)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, 0, cfg.Rapl.CounterWidth)
	})

	t.Run("layered config files", func(t *testing.T) {
		dir := t.TempDir()
		base := filepath.Join(dir, "base.yaml")
		local := filepath.Join(dir, "local.yaml")
		require.NoError(t, os.WriteFile(base, []byte("log:\n  level: debug\nmonitor:\n  interval: 1s\n"), 0o644))
		require.NoError(t, os.WriteFile(local, []byte("log:\n  level: error\n"), 0o644))

		cfg, _, err := parseArgsAndConfig([]string{"--config.file", base, "--config.file", local})
		require.NoError(t, err)
		assert.Equal(t, "error", cfg.Log.Level)
		assert.Equal(t, time.Second, cfg.Monitor.Interval)
	})

	t.Run("missing config file", func(t *testing.T) {
		_, _, err := parseArgsAndConfig([]string{"--config.file", filepath.Join(t.TempDir(), "missing.yaml")})
		assert.Error(t, err)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, _, err := parseArgsAndConfig([]string{"--no-such-flag"})
		assert.Error(t, err)
	})
}

func TestUncoreSockets(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	cfg := config.DefaultConfig()
	cfg.Uncore.Sockets = map[int]int{0: 0, 1: 32}
	assert.Equal(t, map[int]int{0: 0, 1: 32}, uncoreSockets(logger, cfg))

	// an empty sysfs has no topology to detect
	cfg = config.DefaultConfig()
	cfg.Host.SysFS = t.TempDir()
	assert.Equal(t, device.DefaultUncoreSockets(), uncoreSockets(logger, cfg))
}

func testSources() *sources {
	reader := device.NewCounterReader()
	return &sources{
		estimator: device.NewPowerEstimator(nil, reader),
		frequencies: device.NewFrequencySampler(reader, reader,
			device.WithSockets(map[int]int{0: 0, 1: 8}),
			device.WithCPUCount(16)),
	}
}

func TestPrintDevices(t *testing.T) {
	s := testSources()
	s.domains = []device.EnergyDomain{{ID: "CPU Socket 0", Path: "/sys/class/powercap/intel-rapl:0/energy_uj"}}

	var buf bytes.Buffer
	printDevices(&buf, s)

	out := buf.String()
	assert.Contains(t, out, "CPU Socket 0 (/sys/class/powercap/intel-rapl:0/energy_uj)")
	assert.Contains(t, out, "Logical CPUs: 16")
	assert.Contains(t, out, "socket 1")
	assert.Contains(t, out, "Accelerators:")
}

func TestCreateServices(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	names := func(t *testing.T, cfg *config.Config) []string {
		cfg.Host.SysFS = t.TempDir()
		services, err := createServices(logger, cfg, testSources())
		require.NoError(t, err)

		var got []string
		for _, s := range services {
			got = append(got, s.Name())
		}
		return got
	}

	t.Run("defaults", func(t *testing.T) {
		assert.Equal(t,
			[]string{"api-server", "monitor", "data", "probe", "prometheus", "signal-handler"},
			names(t, config.DefaultConfig()))
	})

	t.Run("everything enabled", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Debug.Pprof.Enabled = ptr.To(true)
		cfg.Exporter.Stdout.Enabled = ptr.To(true)
		assert.Equal(t,
			[]string{"api-server", "monitor", "data", "probe", "pprof", "prometheus", "stdout", "signal-handler"},
			names(t, cfg))
	})

	t.Run("prometheus disabled", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Exporter.Prometheus.Enabled = ptr.To(false)
		assert.NotContains(t, names(t, cfg), "prometheus")
	})
}

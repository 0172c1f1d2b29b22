// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package prometheus

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/powermon/config"
	"github.com/sustainable-computing-io/powermon/internal/monitor"
)

type mockMonitor struct {
	mock.Mock
	dataCh chan struct{}
}

func newMockMonitor() *mockMonitor {
	return &mockMonitor{dataCh: make(chan struct{}, 1)}
}

func (m *mockMonitor) Snapshot() (*monitor.Snapshot, error) {
	args := m.Called()
	if s := args.Get(0); s != nil {
		return s.(*monitor.Snapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockMonitor) Collect() *monitor.Snapshot {
	return m.Called().Get(0).(*monitor.Snapshot)
}

func (m *mockMonitor) DataChannel() <-chan struct{} {
	return m.dataCh
}

func (m *mockMonitor) DomainNames() []string {
	return m.Called().Get(0).([]string)
}

type mockAPIRegistry struct {
	mock.Mock
	handler http.Handler
}

func (m *mockAPIRegistry) Register(endpoint, summary, description string, handler http.Handler) error {
	m.handler = handler
	return m.Called(endpoint, summary, description, handler).Error(0)
}

func TestNewExporter(t *testing.T) {
	pm := newMockMonitor()
	registry := &mockAPIRegistry{}

	exporter := NewExporter(pm, registry, WithLogger(slog.Default().With("test", "custom")))
	assert.Equal(t, "prometheus", exporter.Name())
	assert.Same(t, pm, exporter.monitor)
	assert.Same(t, registry, exporter.server)
	assert.NotNil(t, exporter.registry)
}

func TestExporter_Init(t *testing.T) {
	t.Run("registers /metrics", func(t *testing.T) {
		registry := &mockAPIRegistry{}
		registry.On("Register", "/metrics", "Metrics", "Prometheus metrics", mock.Anything).Return(nil)

		exporter := NewExporter(newMockMonitor(), registry, WithDebugCollectors([]string{"go", "process"}))
		assert.NoError(t, exporter.Init())
		registry.AssertExpectations(t)
	})

	t.Run("registry error is returned", func(t *testing.T) {
		registry := &mockAPIRegistry{}
		expectedErr := errors.New("register error")
		registry.On("Register", "/metrics", "Metrics", "Prometheus metrics", mock.Anything).Return(expectedErr)

		exporter := NewExporter(newMockMonitor(), registry)
		assert.Equal(t, expectedErr, exporter.Init())
	})

	t.Run("unknown debug collector", func(t *testing.T) {
		registry := &mockAPIRegistry{}
		exporter := NewExporter(newMockMonitor(), registry, WithDebugCollectors([]string{"unknown_collector"}))

		assert.ErrorContains(t, exporter.Init(), "unknown collector: unknown_collector")
		registry.AssertNotCalled(t, "Register")
	})

	t.Run("duplicate collector", func(t *testing.T) {
		registry := &mockAPIRegistry{}
		g := prom.NewGauge(prom.GaugeOpts{Name: "powermon_test"})
		exporter := NewExporter(newMockMonitor(), registry,
			WithDebugCollectors(nil),
			WithCollectors(map[string]prom.Collector{"a": g, "b": g}))

		assert.ErrorContains(t, exporter.Init(), "registering collector b")
	})
}

func TestCollectorForName(t *testing.T) {
	for _, name := range []string{"go", "process"} {
		c, err := collectorForName(name)
		require.NoError(t, err)
		assert.NoError(t, prom.NewRegistry().Register(c))
	}

	c, err := collectorForName("unknown")
	assert.Nil(t, c)
	assert.ErrorContains(t, err, "unknown collector: unknown")
}

func TestDefaultOpts(t *testing.T) {
	opts := DefaultOpts()
	assert.True(t, opts.debugCollectors["go"])
	assert.Equal(t, "/proc", opts.procfs)
	assert.Equal(t, "/sys", opts.sysfs)
	assert.Equal(t, config.MetricsLevelAll, opts.metricsLevel)

	WithDebugCollectors([]string{"process"})(&opts)
	assert.False(t, opts.debugCollectors["go"])
	assert.True(t, opts.debugCollectors["process"])
}

func TestExporter_ServesSnapshotMetrics(t *testing.T) {
	snapshot := monitor.NewSnapshot()
	snapshot.Timestamp = time.Now()
	snapshot.Power["CPU Socket 0"] = 42
	snapshot.Cores[3] = 1800

	pm := newMockMonitor()
	pm.On("Snapshot").Return(snapshot, nil)

	collectors, err := CreateCollectors(pm,
		WithLogger(slog.Default()),
		WithProcFSPath("/proc"),
		WithSysFSPath(t.TempDir()))
	require.NoError(t, err)
	assert.Len(t, collectors, 4)

	registry := &mockAPIRegistry{}
	registry.On("Register", "/metrics", "Metrics", "Prometheus metrics", mock.Anything).Return(nil)
	exporter := NewExporter(pm, registry, WithDebugCollectors(nil), WithCollectors(collectors))
	require.NoError(t, exporter.Init())

	// monitor publishes its first snapshot
	pm.dataCh <- struct{}{}

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		registry.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		body, _ := io.ReadAll(rec.Body)
		return rec.Code == http.StatusOK &&
			strings.Contains(string(body), `powermon_rapl_domain_watts{domain="CPU Socket 0"} 42`) &&
			strings.Contains(string(body), `powermon_cpu_core_frequency_mhz{core="3"} 1800`) &&
			strings.Contains(string(body), "powermon_build_info")
	}, time.Second, 10*time.Millisecond)
}


// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/powermon/internal/device"
	"github.com/sustainable-computing-io/powermon/internal/device/accelerator"
	"github.com/sustainable-computing-io/powermon/internal/monitor"
)

// MockMonitor mocks the Monitor interface
type MockMonitor struct {
	mock.Mock
}

func (m *MockMonitor) Snapshot() (*monitor.Snapshot, error) {
	args := m.Called()
	if s := args.Get(0); s != nil {
		return s.(*monitor.Snapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMonitor) Collect() *monitor.Snapshot {
	return m.Called().Get(0).(*monitor.Snapshot)
}

func (m *MockMonitor) DataChannel() <-chan struct{} {
	return m.Called().Get(0).(<-chan struct{})
}

func (m *MockMonitor) DomainNames() []string {
	return m.Called().Get(0).([]string)
}

func TestNewExporter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []OptionFn
		out      io.WriteCloser
		interval time.Duration
	}{{
		name:     "default options",
		opts:     []OptionFn{},
		out:      os.Stdout,
		interval: 2 * time.Second,
	}, {
		name: "custom options",
		opts: []OptionFn{
			WithLogger(slog.Default()),
			WithOutput(os.Stderr),
			WithInterval(20 * time.Second),
		},
		out:      os.Stderr,
		interval: 20 * time.Second,
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockMonitor := &MockMonitor{}
			exporter := NewExporter(mockMonitor, tt.opts...)
			assert.Equal(t, "stdout", exporter.Name())
			assert.NotNil(t, exporter.logger)
			assert.Same(t, mockMonitor, exporter.monitor)
			assert.Same(t, tt.out, exporter.out)
			assert.Equal(t, tt.interval, exporter.interval)
		})
	}
}

// syncBuffer is written by Run and read by the test
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Close() error {
	return nil
}

func TestExporter_InitRunShutdown(t *testing.T) {
	t.Run("prints snapshots on every tick", func(t *testing.T) {
		mockMonitor := &MockMonitor{}
		mockMonitor.On("Snapshot").Return(testSnapshot(), nil)
		out := &syncBuffer{}

		exporter := NewExporter(mockMonitor, WithOutput(out), WithInterval(10*time.Millisecond))
		require.NoError(t, exporter.Init())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- exporter.Run(ctx) }()

		assert.Eventually(t, func() bool {
			return strings.Contains(out.String(), "CPU Socket 0")
		}, time.Second, 5*time.Millisecond)

		cancel()
		assert.NoError(t, <-done)
		assert.NoError(t, exporter.Shutdown())
		mockMonitor.AssertExpectations(t)
	})

	t.Run("snapshot errors do not stop the exporter", func(t *testing.T) {
		mockMonitor := &MockMonitor{}
		mockMonitor.On("Snapshot").Return(nil, errors.New("refresh failed"))

		exporter := NewExporter(mockMonitor, WithOutput(&syncBuffer{}), WithInterval(5*time.Millisecond))
		require.NoError(t, exporter.Init())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.NoError(t, exporter.Run(ctx))
		assert.GreaterOrEqual(t, len(mockMonitor.Calls), 2)
	})

	t.Run("invalid interval", func(t *testing.T) {
		exporter := NewExporter(&MockMonitor{}, WithOutput(&syncBuffer{}), WithInterval(0))
		assert.Error(t, exporter.Init())
		assert.NoError(t, exporter.Shutdown())
	})
}

func TestWrite(t *testing.T) {
	buf := bytes.Buffer{}
	write(&buf, testSnapshot())
	got := buf.String()

	assert.True(t, strings.HasPrefix(got, "Sampled at 2025-05-15T01:01:01Z\n"))
	for _, want := range []string{
		"CPU Socket 0", "45.12W",
		"DRAM Channel 0", "3.50W",
		"socket 0", "2000MHz",
		"cpu 1", "2400MHz",
		"NVIDIA A100", "GPU-0", "250.50W",
		"8.00W n/a",
	} {
		assert.Contains(t, got, want)
	}

	// domains are printed in name order
	assert.Less(t, strings.Index(got, "CPU Socket 0"), strings.Index(got, "DRAM Channel 0"))
}

func TestWriteWithoutAccelerators(t *testing.T) {
	buf := bytes.Buffer{}
	s := monitor.NewSnapshot()
	s.Power["CPU Socket 0"] = 1
	write(&buf, s)

	got := buf.String()
	assert.NotContains(t, got, "Sampled at")
	assert.Contains(t, got, "1.00W")
	assert.NotContains(t, got, "UUID")
}

func testSnapshot() *monitor.Snapshot {
	s := monitor.NewSnapshot()
	s.Timestamp = time.Date(2025, 5, 15, 1, 1, 1, 0, time.UTC)
	s.Power["DRAM Channel 0"] = 3.5
	s.Power["CPU Socket 0"] = 45.12
	s.Uncore[0] = 2000
	s.Cores[0] = 800
	s.Cores[1] = 2400
	s.Accelerators = []accelerator.Reading{
		{Name: "NVIDIA A100", UUID: "GPU-0", Total: 250.5},
		{Name: "i915", UUID: "0000:05:00.0", Total: 20, Partitions: []device.Power{8, accelerator.Unavailable}},
	}
	return s
}

// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/powermon/internal/device"
	"github.com/sustainable-computing-io/powermon/internal/device/accelerator"
	testingclock "k8s.io/utils/clock/testing"
)

type fakeEstimator struct {
	domains []device.EnergyDomain
	power   map[string]device.Power
	calls   atomic.Int32
}

func (f *fakeEstimator) Domains() []device.EnergyDomain { return f.domains }

func (f *fakeEstimator) Sample() map[string]device.Power {
	f.calls.Add(1)
	out := make(map[string]device.Power, len(f.power))
	for k, v := range f.power {
		out[k] = v
	}
	return out
}

type fakeFrequencies struct {
	uncore map[int]device.Frequency
	cores  map[int]device.Frequency
}

func (f *fakeFrequencies) Uncore() map[int]device.Frequency {
	out := map[int]device.Frequency{}
	for k, v := range f.uncore {
		out[k] = v
	}
	return out
}

func (f *fakeFrequencies) Cores() map[int]device.Frequency {
	out := map[int]device.Frequency{}
	for k, v := range f.cores {
		out[k] = v
	}
	return out
}

type fakeAdapter struct {
	mu       sync.Mutex
	readings []accelerator.Reading
	err      error
	shutdown int
}

func (f *fakeAdapter) Name() string { return "fake-accelerator" }
func (f *fakeAdapter) Init() error  { return nil }

func (f *fakeAdapter) PowerReadings() ([]accelerator.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.readings, nil
}

func (f *fakeAdapter) Shutdown() error {
	f.shutdown++
	return nil
}

func (f *fakeAdapter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func testSources() (*fakeEstimator, *fakeFrequencies) {
	est := &fakeEstimator{
		domains: []device.EnergyDomain{
			{ID: "DRAM Channel 0", Kind: device.DRAMDomain},
			{ID: "CPU Socket 0", Kind: device.PackageDomain},
		},
		power: map[string]device.Power{"CPU Socket 0": 45.5, "DRAM Channel 0": 3.25},
	}
	freqs := &fakeFrequencies{
		uncore: map[int]device.Frequency{0: 2000, 1: 0},
		cores:  map[int]device.Frequency{0: 2400, 1: 1200},
	}
	return est, freqs
}

func TestPowerMonitor_Collect(t *testing.T) {
	est, freqs := testSources()
	adapter := &fakeAdapter{readings: []accelerator.Reading{
		{Name: "NVIDIA A100", UUID: "GPU-0", Total: 250, Partitions: []device.Power{100, 150}},
	}}
	fakeClock := testingclock.NewFakeClock(time.Now())

	pm := NewPowerMonitor(est, freqs,
		WithClock(fakeClock),
		WithAccelerators([]accelerator.Adapter{adapter}))

	s := pm.Collect()
	assert.Equal(t, fakeClock.Now(), s.Timestamp)
	assert.Equal(t, map[int]device.Frequency{0: 2000, 1: 0}, s.Uncore)
	assert.Equal(t, map[int]device.Frequency{0: 2400, 1: 1200}, s.Cores)
	assert.Equal(t, map[string]device.Power{"CPU Socket 0": 45.5, "DRAM Channel 0": 3.25}, s.Power)
	require.Len(t, s.Accelerators, 1)
	assert.Equal(t, "GPU-0", s.Accelerators[0].UUID)

	assert.Equal(t, []string{"CPU Socket 0", "DRAM Channel 0"}, pm.DomainNames())
}

func TestPowerMonitor_CollectAlwaysSamples(t *testing.T) {
	est, freqs := testSources()
	pm := NewPowerMonitor(est, freqs, WithClock(testingclock.NewFakeClock(time.Now())))

	pm.Collect()
	pm.Collect()
	assert.Equal(t, int32(2), est.calls.Load())
}

func TestPowerMonitor_AcceleratorInitFailure(t *testing.T) {
	accelerator.Register("monitor-test-broken", func(_ *slog.Logger, _ accelerator.Options) (accelerator.Adapter, error) {
		return nil, errors.New("driver not loaded")
	})
	adapters := accelerator.Discover([]string{"monitor-test-broken"}, accelerator.Options{}, slog.Default())
	require.Empty(t, adapters)

	est, freqs := testSources()
	pm := NewPowerMonitor(est, freqs,
		WithClock(testingclock.NewFakeClock(time.Now())),
		WithAccelerators(adapters))
	require.NoError(t, pm.Init())

	s := pm.Collect()
	assert.Empty(t, s.Accelerators)
	assert.NotEmpty(t, s.Power)
	assert.NotEmpty(t, s.Cores)
}

func TestPowerMonitor_AcceleratorTransientFailure(t *testing.T) {
	est, freqs := testSources()
	adapter := &fakeAdapter{readings: []accelerator.Reading{{Name: "xe", UUID: "0000:03:00.0", Total: 30}}}
	pm := NewPowerMonitor(est, freqs,
		WithClock(testingclock.NewFakeClock(time.Now())),
		WithAccelerators([]accelerator.Adapter{adapter}))

	adapter.setErr(errors.New("device busy"))
	s := pm.Collect()
	assert.Empty(t, s.Accelerators)
	assert.NotEmpty(t, s.Power, "other sources are unaffected")

	adapter.setErr(nil)
	s = pm.Collect()
	assert.Len(t, s.Accelerators, 1)
}

func TestPowerMonitor_NoSources(t *testing.T) {
	pm := NewPowerMonitor(&fakeEstimator{}, nil, WithClock(testingclock.NewFakeClock(time.Now())))
	require.NoError(t, pm.Init())

	s := pm.Collect()
	assert.Empty(t, s.Power)
	assert.Empty(t, s.Uncore)
	assert.Empty(t, s.Cores)
	assert.Empty(t, s.Accelerators)
	assert.Empty(t, pm.DomainNames())
}

func TestPowerMonitor_SnapshotStaleness(t *testing.T) {
	est, freqs := testSources()
	fakeClock := testingclock.NewFakeClock(time.Now())
	pm := NewPowerMonitor(est, freqs,
		WithClock(fakeClock),
		WithMaxStaleness(time.Second))

	first, err := pm.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, int32(1), est.calls.Load())

	fakeClock.Step(500 * time.Millisecond)
	cached, err := pm.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, first.Timestamp, cached.Timestamp)
	assert.Equal(t, int32(1), est.calls.Load(), "fresh snapshot is served from cache")

	fakeClock.Step(time.Second)
	refreshed, err := pm.Snapshot()
	require.NoError(t, err)
	assert.True(t, refreshed.Timestamp.After(first.Timestamp))
	assert.Equal(t, int32(2), est.calls.Load())
}

func TestPowerMonitor_SnapshotIsACopy(t *testing.T) {
	est, freqs := testSources()
	pm := NewPowerMonitor(est, freqs,
		WithClock(testingclock.NewFakeClock(time.Now())),
		WithAccelerators([]accelerator.Adapter{&fakeAdapter{readings: []accelerator.Reading{
			{Name: "card", Partitions: []device.Power{1, 2}},
		}}}))

	s1, err := pm.Snapshot()
	require.NoError(t, err)
	s1.Power["CPU Socket 0"] = 999
	s1.Accelerators[0].Partitions[0] = 999

	s2, err := pm.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, device.Power(45.5), s2.Power["CPU Socket 0"])
	assert.Equal(t, device.Power(1), s2.Accelerators[0].Partitions[0])
}

func TestPowerMonitor_ConcurrentSnapshots(t *testing.T) {
	est, freqs := testSources()
	fakeClock := testingclock.NewFakeClock(time.Now())
	pm := NewPowerMonitor(est, freqs, WithClock(fakeClock), WithMaxStaleness(time.Minute))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := pm.Snapshot()
			assert.NoError(t, err)
			assert.NotNil(t, s)
			assert.NotNil(t, pm.Collect())
		}()
	}
	wg.Wait()

	// 20 direct collections plus at least one refresh from Snapshot
	assert.GreaterOrEqual(t, est.calls.Load(), int32(21))
}

func TestPowerMonitor_InitRecordsBaseline(t *testing.T) {
	est, freqs := testSources()
	pm := NewPowerMonitor(est, freqs, WithClock(testingclock.NewFakeClock(time.Now())))

	require.NoError(t, pm.Init())
	assert.Equal(t, int32(1), est.calls.Load())

	select {
	case <-pm.DataChannel():
	default:
		t.Fatal("expected data signal after init")
	}
}

func TestPowerMonitor_ReadyDoesNotSample(t *testing.T) {
	est, freqs := testSources()
	pm := NewPowerMonitor(est, freqs,
		WithClock(testingclock.NewFakeClock(time.Now())),
		WithMaxStaleness(0))

	assert.False(t, pm.Ready())
	assert.Equal(t, int32(0), est.calls.Load())

	require.NoError(t, pm.Init())
	assert.Equal(t, int32(1), est.calls.Load())

	for range 5 {
		assert.True(t, pm.Ready())
	}
	assert.Equal(t, int32(1), est.calls.Load(), "readiness must not read hardware")
}

func TestPowerMonitor_RunCollectsPeriodically(t *testing.T) {
	est, freqs := testSources()
	fakeClock := testingclock.NewFakeClock(time.Now())
	pm := NewPowerMonitor(est, freqs,
		WithClock(fakeClock),
		WithInterval(time.Second),
		WithMaxStaleness(100*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pm.Run(ctx) }()

	for i := int32(1); i <= 3; i++ {
		require.Eventually(t, fakeClock.HasWaiters, time.Second, 5*time.Millisecond)
		fakeClock.Step(time.Second)
		require.Eventually(t, func() bool { return est.calls.Load() >= i },
			time.Second, 5*time.Millisecond)
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestPowerMonitor_Shutdown(t *testing.T) {
	est, freqs := testSources()
	adapter := &fakeAdapter{}
	pm := NewPowerMonitor(est, freqs, WithAccelerators([]accelerator.Adapter{adapter}))

	assert.NoError(t, pm.Shutdown())
	assert.Equal(t, 1, adapter.shutdown)
	assert.Equal(t, "monitor", pm.Name())
}

// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
)

type mockProcFS struct {
	cpuInfo []procfs.CPUInfo
	err     error
}

func (m *mockProcFS) CPUInfo() ([]procfs.CPUInfo, error) {
	return m.cpuInfo, m.err
}

func sampleCPUInfo() []procfs.CPUInfo {
	return []procfs.CPUInfo{{
		Processor:  0,
		VendorID:   "GenuineIntel",
		ModelName:  "Intel(R) Xeon(R) Platinum 8480+",
		PhysicalID: "0",
		CoreID:     "0",
	}, {
		Processor:  1,
		VendorID:   "GenuineIntel",
		ModelName:  "Intel(R) Xeon(R) Platinum 8480+",
		PhysicalID: "1",
		CoreID:     "0",
	}}
}

func TestCPUInfoCollector(t *testing.T) {
	c := newCPUInfoCollectorWithFS(&mockProcFS{cpuInfo: sampleCPUInfo()})

	expected := `
# HELP powermon_cpu_info CPU information from procfs
# TYPE powermon_cpu_info gauge
powermon_cpu_info{core_id="0",model_name="Intel(R) Xeon(R) Platinum 8480+",physical_id="0",processor="0",vendor_id="GenuineIntel"} 1
powermon_cpu_info{core_id="0",model_name="Intel(R) Xeon(R) Platinum 8480+",physical_id="1",processor="1",vendor_id="GenuineIntel"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
}

func TestCPUInfoCollector_Error(t *testing.T) {
	c := newCPUInfoCollectorWithFS(&mockProcFS{err: errors.New("no cpuinfo")})
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestNewCPUInfoCollector(t *testing.T) {
	c, err := NewCPUInfoCollector("/proc")
	assert.NoError(t, err)
	assert.NotNil(t, c)

	_, err = NewCPUInfoCollector("relative/proc")
	assert.Error(t, err)
}

func TestCPUInfoCollector_Concurrency(t *testing.T) {
	c := newCPUInfoCollectorWithFS(&mockProcFS{cpuInfo: sampleCPUInfo()})

	const workers = 10
	ch := make(chan prometheus.Metric, workers*2)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Collect(ch)
		}()
	}
	wg.Wait()
	close(ch)

	assert.Len(t, ch, workers*2)
}

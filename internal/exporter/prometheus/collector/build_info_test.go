// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInfo(t *testing.T) {
	c := NewBuildInfoCollector()
	assert.Equal(t, 1, testutil.CollectAndCount(c, "powermon_build_info"))

	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := <-ch

	var metric dto.Metric
	require.NoError(t, m.Write(&metric))
	assert.Equal(t, 1.0, metric.GetGauge().GetValue())

	labels := map[string]string{}
	for _, l := range metric.GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	assert.Equal(t, "dev", labels["version"])
	assert.NotEmpty(t, labels["goversion"])
	assert.Contains(t, labels, "revision")
}

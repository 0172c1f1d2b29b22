// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"encoding/json"
	"fmt"
	"time"
)

// reportedSockets always appear in the record, as 0 when not sampled
var reportedSockets = []int{0, 1}

// MarshalJSON renders the snapshot as a flat record:
//
//	{"uncore_socket0": 2000, "core_freqs": {"Core 0": 2400},
//	 "rapl_power": {"CPU Socket 0": 45.2},
//	 "gpu_power": {"GPU 0": {"name": .., "uuid": .., "total": .., "tile0": ..}}}
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	record := make(map[string]any, len(s.Uncore)+len(reportedSockets)+4)

	for _, socket := range reportedSockets {
		record[fmt.Sprintf("uncore_socket%d", socket)] = 0.0
	}
	for socket, f := range s.Uncore {
		record[fmt.Sprintf("uncore_socket%d", socket)] = f.MHz()
	}

	cores := make(map[string]float64, len(s.Cores))
	for core, f := range s.Cores {
		cores[fmt.Sprintf("Core %d", core)] = f.MHz()
	}
	record["core_freqs"] = cores

	power := make(map[string]float64, len(s.Power))
	for id, p := range s.Power {
		power[id] = p.Watts()
	}
	record["rapl_power"] = power

	gpus := make(map[string]map[string]any, len(s.Accelerators))
	for i, r := range s.Accelerators {
		gpus[fmt.Sprintf("GPU %d", i)] = acceleratorRecord(r)
	}
	record["gpu_power"] = gpus

	if !s.Timestamp.IsZero() {
		record["timestamp"] = s.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	return json.Marshal(record)
}

// acceleratorRecord lists partitions both as an array and as tileN keys
func acceleratorRecord(r Reading) map[string]any {
	partitions := make([]float64, 0, len(r.Partitions))
	record := map[string]any{
		"name":  r.Name,
		"uuid":  r.UUID,
		"total": r.Total.Watts(),
	}
	for i, p := range r.Partitions {
		partitions = append(partitions, p.Watts())
		record[fmt.Sprintf("tile%d", i)] = p.Watts()
	}
	record["partitions"] = partitions
	return record
}

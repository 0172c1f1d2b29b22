// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"path/filepath"

	"github.com/jaypipes/ghw"
	ghwcpu "github.com/jaypipes/ghw/pkg/cpu"
	"github.com/prometheus/procfs"
)

// cpuInfoFS is the subset of procfs.FS used to count logical CPUs
type cpuInfoFS interface {
	CPUInfo() ([]procfs.CPUInfo, error)
}

// CPUCount returns the number of logical processors listed in cpuinfo
// under procfsPath
func CPUCount(procfsPath string) (int, error) {
	fs, err := procfs.NewFS(procfsPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open procfs at %s: %w", procfsPath, err)
	}
	return countCPUs(fs)
}

func countCPUs(fs cpuInfoFS) (int, error) {
	info, err := fs.CPUInfo()
	if err != nil {
		return 0, fmt.Errorf("failed to read cpuinfo: %w", err)
	}
	if len(info) == 0 {
		return 0, fmt.Errorf("no processors listed in cpuinfo")
	}
	return len(info), nil
}

// SocketCPUs maps each physical package to its first logical CPU using the
// CPU topology exposed under sysfsPath
func SocketCPUs(sysfsPath string) (map[int]int, error) {
	cpu, err := ghw.CPU(ghw.WithChroot(filepath.Dir(filepath.Clean(sysfsPath))))
	if err != nil {
		return nil, fmt.Errorf("failed to read CPU topology: %w", err)
	}
	return firstLogicalCPUs(cpu.Processors)
}

func firstLogicalCPUs(processors []*ghwcpu.Processor) (map[int]int, error) {
	sockets := make(map[int]int, len(processors))
	for _, p := range processors {
		if p == nil || len(p.Cores) == 0 {
			continue
		}
		first := -1
		for _, core := range p.Cores {
			for _, lp := range core.LogicalProcessors {
				if first < 0 || lp < first {
					first = lp
				}
			}
		}
		if first >= 0 {
			sockets[p.ID] = first
		}
	}
	if len(sockets) == 0 {
		return nil, fmt.Errorf("no physical packages with logical processors found")
	}
	return sockets, nil
}

// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/sysfs"
)

// procFS is the part of prometheus/procfs used by the cpu info collector
type procFS interface {
	CPUInfo() ([]procfs.CPUInfo, error)
}

func newProcFS(mountPoint string) (procFS, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// sysFS lists RAPL zones through prometheus/procfs/sysfs
type sysFS interface {
	Zones() ([]sysfs.RaplZone, error)
}

type raplSysFS struct {
	fs sysfs.FS
}

func (s raplSysFS) Zones() ([]sysfs.RaplZone, error) {
	return sysfs.GetRaplZones(s.fs)
}

func newSysFS(mountPoint string) (sysFS, error) {
	fs, err := sysfs.NewFS(mountPoint)
	if err != nil {
		return nil, err
	}
	return raplSysFS{fs: fs}, nil
}

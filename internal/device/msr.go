// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	// UncoreRatioStatusRegister is MSR_UNCORE_PERF_STATUS, its low byte is the
	// current uncore ratio in units of 100MHz
	UncoreRatioStatusRegister uint32 = 0x621

	msrSize = 8
)

// readRegister reads the 64-bit little endian register at offset of the MSR
// device at path
func readRegister(path string, offset uint32) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open MSR device %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, msrSize)
	n, err := unix.Pread(int(f.Fd()), buf, int64(offset))
	if err != nil {
		return 0, fmt.Errorf("failed to read MSR 0x%x from %s: %w", offset, path, err)
	}
	if n != msrSize {
		return 0, fmt.Errorf("short read of MSR 0x%x from %s: got %d bytes", offset, path, n)
	}
	return binary.LittleEndian.Uint64(buf), nil
}

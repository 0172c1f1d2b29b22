// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package hwmon

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sustainable-computing-io/powermon/internal/device"
)

// drivers whose hwmon chips report accelerator power
var drivers = []string{"xe", "i915", "amdgpu"}

// tile chips are named <driver>_gt<N> or <driver>_tile<N>
var tileChipRe = regexp.MustCompile(`^([a-z0-9]+)_(?:gt|tile)(\d+)$`)

// sensorFileRe matches energyN_input, powerN_average and powerN_input
var sensorFileRe = regexp.MustCompile(`^(energy|power)(\d+)_(input|average)$`)

// cardLabel is the label drivers give the sensor covering the whole card
const cardLabel = "card"

type sensorKind int

const (
	energySensor sensorKind = iota
	powerSensor
)

// sensor is a single hwmon power or energy attribute
type sensor struct {
	kind  sensorKind
	num   int
	label string
	path  string
}

// chip is one hwmon directory belonging to an accelerator
type chip struct {
	dir     string
	driver  string
	tile    int // -1 for the card level chip
	pciAddr string
	sensors []sensor
}

// scanChips returns every accelerator hwmon chip under root
func scanChips(root string) ([]chip, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("hwmon not available: %w", err)
	}

	var chips []chip
	for _, entry := range entries {
		dir := filepath.Join(root, entry.Name())
		name, err := device.ReadString(filepath.Join(dir, "name"))
		if err != nil {
			continue
		}
		driver, tile, ok := classify(name)
		if !ok {
			continue
		}

		devicePath, err := filepath.EvalSymlinks(filepath.Join(dir, "device"))
		if err != nil {
			continue
		}

		sensors, err := findSensors(dir)
		if err != nil || len(sensors) == 0 {
			continue
		}

		chips = append(chips, chip{
			dir:     dir,
			driver:  driver,
			tile:    tile,
			pciAddr: filepath.Base(devicePath),
			sensors: sensors,
		})
	}
	return chips, nil
}

// classify maps a hwmon chip name to its driver and tile index
func classify(name string) (string, int, bool) {
	for _, d := range drivers {
		if name == d {
			return d, -1, true
		}
	}
	m := tileChipRe.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	for _, d := range drivers {
		if m[1] == d {
			tile, err := strconv.Atoi(m[2])
			if err != nil {
				return "", 0, false
			}
			return d, tile, true
		}
	}
	return "", 0, false
}

// findSensors returns the energy and power sensors of a chip, energy sensors
// first, each group ordered by sensor number
func findSensors(dir string) ([]sensor, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	byKey := map[string]sensor{}
	for _, f := range files {
		m := sensorFileRe.FindStringSubmatch(f.Name())
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[2])
		kind := energySensor
		if m[1] == "power" {
			kind = powerSensor
		}
		// energy counters only exist as _input
		if kind == energySensor && m[3] != "input" {
			continue
		}

		key := fmt.Sprintf("%s%d", m[1], num)
		// powerN_average wins over powerN_input
		if existing, ok := byKey[key]; ok && strings.HasSuffix(existing.path, "_average") {
			continue
		}
		label, _ := device.ReadString(filepath.Join(dir, fmt.Sprintf("%s%d_label", m[1], num)))
		byKey[key] = sensor{
			kind:  kind,
			num:   num,
			label: strings.ToLower(label),
			path:  filepath.Join(dir, f.Name()),
		}
	}

	sensors := make([]sensor, 0, len(byKey))
	for _, s := range byKey {
		sensors = append(sensors, s)
	}
	sort.Slice(sensors, func(i, j int) bool {
		if sensors[i].kind != sensors[j].kind {
			return sensors[i].kind < sensors[j].kind
		}
		return sensors[i].num < sensors[j].num
	})
	return sensors, nil
}

// cardLayout picks the sensor measuring the whole card and the sensors
// measuring its partitions from the chips of a single PCI device
func cardLayout(chips []chip) (sensor, []sensor, bool) {
	var main *chip
	var tiles []chip
	for i := range chips {
		if chips[i].tile < 0 {
			main = &chips[i]
		} else {
			tiles = append(tiles, chips[i])
		}
	}
	if main == nil {
		return sensor{}, nil, false
	}

	kind := main.sensors[0].kind
	var candidates []sensor
	for _, s := range main.sensors {
		if s.kind == kind {
			candidates = append(candidates, s)
		}
	}
	totalIdx := 0
	for i, s := range candidates {
		if s.label == cardLabel {
			totalIdx = i
			break
		}
	}
	total := candidates[totalIdx]
	rest := append(append([]sensor(nil), candidates[:totalIdx]...), candidates[totalIdx+1:]...)

	if len(tiles) == 0 {
		if kind == powerSensor {
			// additional power sensors are rails, not partitions
			return total, nil, true
		}
		return total, rest, true
	}

	sort.Slice(tiles, func(i, j int) bool { return tiles[i].tile < tiles[j].tile })
	partitions := make([]sensor, 0, len(tiles))
	for _, t := range tiles {
		partitions = append(partitions, t.sensors[0])
	}
	return total, partitions, true
}

// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	raplZonePrefix   = "intel-rapl:"
	energyFile       = "energy_uj"
	maxEnergyFile    = "max_energy_range_uj"
	zoneNameFile     = "name"
	powercapClassDir = "class/powercap"
)

var raplZoneIndexRe = regexp.MustCompile(`^intel-rapl:(\d+)$`)

// PowercapRoot returns the powercap class directory under sysfsPath
func PowercapRoot(sysfsPath string) string {
	return filepath.Join(sysfsPath, powercapClassDir)
}

// DiscoverDomains scans the powercap tree rooted at root for CPU package and
// DRAM energy domains. Top level zones named "package-*" register
// "CPU Socket <N>" where N comes from the zone directory. Their immediate
// sub-zones named "dram" register "DRAM Channel <N>" keyed by the parent
// zone's index. Zones without a readable energy counter are skipped, and so
// are the sub-zones of a package whose own counter is unreadable.
//
// A missing or unreadable root results in an empty set.
func DiscoverDomains(root string, logger *slog.Logger) []EnergyDomain {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("service", "discovery")

	zones, err := filepath.Glob(filepath.Join(root, raplZonePrefix+"*"))
	if err != nil || len(zones) == 0 {
		logger.Debug("no RAPL zones found", "root", root, "error", err)
		return nil
	}
	sort.Strings(zones)

	seen := map[string]bool{}
	domains := make([]EnergyDomain, 0, len(zones))
	add := func(d EnergyDomain, ok bool) {
		if !ok || seen[d.ID] {
			return
		}
		seen[d.ID] = true
		domains = append(domains, d)
		logger.Debug("discovered energy domain", "id", d.ID, "path", d.Path)
	}

	for _, zone := range zones {
		index, ok := zoneIndex(zone)
		if !ok {
			continue
		}
		name, err := zoneName(zone)
		if err != nil {
			logger.Debug("skipping zone without name", "zone", zone, "error", err)
			continue
		}
		if !strings.Contains(name, string(PackageDomain)) {
			continue
		}
		pkg, ok := newDomain(PackageDomain, index, zone, logger)
		if !ok {
			continue
		}
		add(pkg, ok)

		children, _ := filepath.Glob(filepath.Join(zone, raplZonePrefix+"*"))
		sort.Strings(children)
		for _, child := range children {
			childName, err := zoneName(child)
			if err != nil {
				logger.Debug("skipping sub-zone without name", "zone", child, "error", err)
				continue
			}
			if !strings.Contains(childName, string(DRAMDomain)) {
				continue
			}
			add(newDomain(DRAMDomain, index, child, logger))
		}
	}

	sort.SliceStable(domains, func(i, j int) bool {
		if domains[i].Kind != domains[j].Kind {
			return domains[i].Kind == PackageDomain
		}
		return domains[i].Index < domains[j].Index
	})
	return domains
}

func newDomain(kind DomainKind, index int, zone string, logger *slog.Logger) (EnergyDomain, bool) {
	path := filepath.Join(zone, energyFile)
	if _, err := ReadCounter(path); err != nil {
		logger.Debug("skipping zone with unreadable energy counter", "path", path, "error", err)
		return EnergyDomain{}, false
	}

	d := EnergyDomain{
		ID:    domainID(kind, index),
		Kind:  kind,
		Index: index,
		Path:  path,
	}
	if maxEnergy, err := ReadCounter(filepath.Join(zone, maxEnergyFile)); err == nil {
		d.MaxEnergy = Energy(maxEnergy)
	}
	return d, true
}

// zoneIndex parses N from a top level zone directory named intel-rapl:N
func zoneIndex(zone string) (int, bool) {
	m := raplZoneIndexRe.FindStringSubmatch(filepath.Base(zone))
	if m == nil {
		return 0, false
	}
	index, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return index, true
}

func zoneName(zone string) (string, error) {
	name, err := ReadString(filepath.Join(zone, zoneNameFile))
	if err != nil {
		return "", err
	}
	return strings.ToLower(name), nil
}

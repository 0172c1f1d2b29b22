// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
	"sort"
	"strings"
)

// DomainKind is the class of hardware an energy domain accounts for
type DomainKind string

const (
	// PackageDomain is a CPU socket
	PackageDomain DomainKind = "package"
	// DRAMDomain is the memory attached to a CPU socket
	DRAMDomain DomainKind = "dram"
)

// EnergyDomain is a hardware energy accounting domain resolved to a readable counter.
// Domains are created once during discovery and are never mutated afterwards.
type EnergyDomain struct {
	// ID is the stable, human readable identifier, e.g. "CPU Socket 0"
	ID string
	// Kind of hardware the domain accounts for
	Kind DomainKind
	// Index is the socket index the domain belongs to
	Index int
	// Path is the absolute path of the energy counter file
	Path string
	// MaxEnergy is the counter range read from max_energy_range_uj, 0 if unknown
	MaxEnergy Energy
}

func (d EnergyDomain) String() string {
	return fmt.Sprintf("%s (%s)", d.ID, d.Path)
}

func domainID(kind DomainKind, index int) string {
	switch kind {
	case PackageDomain:
		return fmt.Sprintf("CPU Socket %d", index)
	case DRAMDomain:
		return fmt.Sprintf("DRAM Channel %d", index)
	}
	return fmt.Sprintf("%s %d", kind, index)
}

// DomainIDs returns the sorted IDs of domains
func DomainIDs(domains []EnergyDomain) []string {
	ids := make([]string, 0, len(domains))
	for _, d := range domains {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	return ids
}

// FilterDomains keeps the domains whose ID or kind matches one of names,
// ignoring case. An empty names list keeps every domain.
func FilterDomains(domains []EnergyDomain, names []string) []EnergyDomain {
	if len(names) == 0 {
		return domains
	}

	var kept []EnergyDomain
	for _, d := range domains {
		for _, name := range names {
			if strings.EqualFold(name, d.ID) || strings.EqualFold(name, string(d.Kind)) {
				kept = append(kept, d)
				break
			}
		}
	}
	return kept
}

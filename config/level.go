// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Level selects the metric groups exported, as a bit pattern
type Level uint32

const (
	MetricsLevelPower       Level = 1 << iota // 1
	MetricsLevelFrequency                     // 2
	MetricsLevelAccelerator                   // 4

	// MetricsLevelAll represents all metric groups combined
	MetricsLevelAll = MetricsLevelPower | MetricsLevelFrequency | MetricsLevelAccelerator
)

var levelNames = []struct {
	level Level
	name  string
}{
	{MetricsLevelPower, "power"},
	{MetricsLevelFrequency, "frequency"},
	{MetricsLevelAccelerator, "accelerator"},
}

func (l Level) names() []string {
	var levels []string
	for _, n := range levelNames {
		if l&n.level != 0 {
			levels = append(levels, n.name)
		}
	}
	return levels
}

// String returns the string representation of the level
func (l Level) String() string {
	return strings.Join(l.names(), ",")
}

// IsPowerEnabled checks if RAPL power metrics are enabled
func (l Level) IsPowerEnabled() bool {
	return l&MetricsLevelPower != 0
}

// IsFrequencyEnabled checks if core and uncore frequency metrics are enabled
func (l Level) IsFrequencyEnabled() bool {
	return l&MetricsLevelFrequency != 0
}

// IsAcceleratorEnabled checks if accelerator power metrics are enabled
func (l Level) IsAcceleratorEnabled() bool {
	return l&MetricsLevelAccelerator != 0
}

// ParseLevel parses a slice of strings into a Level
func ParseLevel(levels []string) (Level, error) {
	if len(levels) == 0 {
		return MetricsLevelAll, nil
	}

	var result Level
	for _, level := range levels {
		name := strings.ToLower(strings.TrimSpace(level))
		found := false
		for _, n := range levelNames {
			if n.name == name {
				result |= n.level
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown metrics level: %s", level)
		}
	}

	return result, nil
}

// ValidLevels returns the list of valid metrics levels
func ValidLevels() []string {
	return MetricsLevelAll.names()
}

// MarshalYAML implements yaml.Marshaler interface
func (l Level) MarshalYAML() (any, error) {
	levels := l.names()
	// a single level is written as a plain string
	if len(levels) == 1 {
		return levels[0], nil
	}
	return levels, nil
}

// UnmarshalYAML implements yaml.Unmarshaler interface
func (l *Level) UnmarshalYAML(unmarshal func(any) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		parsed, parseErr := ParseLevel([]string{single})
		if parseErr != nil {
			return parseErr
		}
		*l = parsed
		return nil
	}

	var multiple []string
	if err := unmarshal(&multiple); err == nil {
		parsed, parseErr := ParseLevel(multiple)
		if parseErr != nil {
			return parseErr
		}
		*l = parsed
		return nil
	}

	return fmt.Errorf("cannot unmarshal metrics level: must be a string or array of strings")
}

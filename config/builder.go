// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// layer is one YAML document and where it came from
type layer struct {
	origin string
	data   []byte
	err    error
}

// Builder layers YAML documents over a base configuration. Later layers win;
// fields a layer leaves unset keep their earlier value.
type Builder struct {
	layers []layer
	Config *Config
}

// Use sets the base configuration
func (b *Builder) Use(c *Config) *Builder {
	b.Config = c
	return b
}

// Merge adds YAML strings to be merged into the configuration
func (b *Builder) Merge(yamls ...string) *Builder {
	for _, y := range yamls {
		b.layers = append(b.layers, layer{origin: y, data: []byte(y)})
	}
	return b
}

// MergeFile adds the contents of each file as a layer. Read errors are
// reported by Build.
func (b *Builder) MergeFile(paths ...string) *Builder {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		b.layers = append(b.layers, layer{origin: p, data: data, err: err})
	}
	return b
}

// Build decodes every layer, in order, over the base configuration. Keys a
// layer sets replace earlier values, zero values included; keys it omits
// keep their earlier value.
func (b *Builder) Build() (*Config, error) {
	if b.Config == nil {
		b.Config = DefaultConfig()
	}

	var errs error
	for _, l := range b.layers {
		if l.err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to read config: %w", l.err))
			continue
		}

		// decode into a copy so a layer failing half way leaves no trace
		merged := b.Config.clone()
		if err := yaml.Unmarshal(l.data, merged); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to parse YAML: %w, yaml: %s", err, l.origin))
			continue
		}
		b.Config = merged
	}

	if errs != nil {
		return nil, errs
	}
	b.Config.sanitize()
	return b.Config, nil
}

// clone returns a copy of c that shares no maps, slices or pointers with it
func (c *Config) clone() *Config {
	out := *c
	out.Rapl.Zones = slices.Clone(c.Rapl.Zones)
	out.Uncore.Sockets = maps.Clone(c.Uncore.Sockets)
	out.Accelerator.Backends = slices.Clone(c.Accelerator.Backends)
	out.Web.ListenAddresses = slices.Clone(c.Web.ListenAddresses)
	out.Exporter.Prometheus.DebugCollectors = slices.Clone(c.Exporter.Prometheus.DebugCollectors)

	for _, p := range []**bool{
		&out.Uncore.Enabled,
		&out.Accelerator.Enabled,
		&out.Exporter.Stdout.Enabled,
		&out.Exporter.Prometheus.Enabled,
		&out.Debug.Pprof.Enabled,
	} {
		if *p != nil {
			*p = ptr.To(**p)
		}
	}
	return &out
}

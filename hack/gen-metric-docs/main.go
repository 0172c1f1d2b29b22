// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sustainable-computing-io/powermon/config"
	"github.com/sustainable-computing-io/powermon/internal/exporter/prometheus/collector"
	"github.com/sustainable-computing-io/powermon/internal/monitor"
)

// MetricInfo describes one exported metric family
type MetricInfo struct {
	Name        string
	Type        string
	Description string
	Labels      []string
}

// idleMonitor never publishes data; only descriptions are needed here
type idleMonitor struct {
	dataCh chan struct{}
}

func (m *idleMonitor) DataChannel() <-chan struct{}         { return m.dataCh }
func (m *idleMonitor) Snapshot() (*monitor.Snapshot, error) { return monitor.NewSnapshot(), nil }
func (m *idleMonitor) Collect() *monitor.Snapshot           { return monitor.NewSnapshot() }
func (m *idleMonitor) DomainNames() []string                { return nil }

var (
	fqNameRegex         = regexp.MustCompile(`fqName: "([^"]+)"`)
	helpRegex           = regexp.MustCompile(`help: "([^"]+)"`)
	variableLabelsRegex = regexp.MustCompile(`variableLabels: \{([^}]*)\}`)
)

// extractMetricsInfo parses the descriptions a collector reports
func extractMetricsInfo(c prometheus.Collector) []MetricInfo {
	ch := make(chan *prometheus.Desc, 100)
	c.Describe(ch)
	close(ch)

	var metrics []MetricInfo
	for desc := range ch {
		s := desc.String()
		name := fqNameRegex.FindStringSubmatch(s)
		help := helpRegex.FindStringSubmatch(s)
		if len(name) < 2 || len(help) < 2 {
			fmt.Fprintf(os.Stderr, "Warning: could not parse %s\n", s)
			continue
		}

		var labels []string
		if m := variableLabelsRegex.FindStringSubmatch(s); len(m) >= 2 && m[1] != "" {
			for _, l := range strings.Split(m[1], ",") {
				labels = append(labels, strings.TrimSpace(l))
			}
		}

		metricType := "GAUGE"
		if strings.HasSuffix(name[1], "_total") {
			metricType = "COUNTER"
		}
		metrics = append(metrics, MetricInfo{
			Name:        name[1],
			Type:        metricType,
			Description: help[1],
			Labels:      labels,
		})
	}
	return metrics
}

var sections = []struct {
	title, prefix, summary string
}{
	{"RAPL Metrics", "powermon_rapl_", "Power of each energy domain and the raw powercap zones."},
	{"CPU Metrics", "powermon_cpu_", "Core and uncore clock frequencies and processor inventory."},
	{"Accelerator Metrics", "powermon_accelerator_", "Power reported by GPU and accelerator backends."},
}

// generateMarkdown renders metrics grouped by subsystem
func generateMarkdown(metrics []MetricInfo) string {
	slices.SortFunc(metrics, func(a, b MetricInfo) int { return strings.Compare(a.Name, b.Name) })

	var md strings.Builder
	md.WriteString("# powermon Metrics\n\n")
	md.WriteString("Metrics exported on `/metrics` in Prometheus format.\n\n")
	md.WriteString("## Metrics Reference\n\n")

	rest := metrics
	for _, sec := range sections {
		var in, out []MetricInfo
		for _, m := range rest {
			if strings.HasPrefix(m.Name, sec.prefix) {
				in = append(in, m)
			} else {
				out = append(out, m)
			}
		}
		rest = out
		if len(in) == 0 {
			continue
		}
		fmt.Fprintf(&md, "### %s\n\n%s\n\n", sec.title, sec.summary)
		writeMetricsSection(&md, in)
	}
	if len(rest) > 0 {
		md.WriteString("### Other Metrics\n\n")
		writeMetricsSection(&md, rest)
	}

	md.WriteString("---\n\n")
	md.WriteString("This documentation was automatically generated by the gen-metric-docs tool.\n")
	return md.String()
}

func writeMetricsSection(md *strings.Builder, metrics []MetricInfo) {
	for _, m := range metrics {
		fmt.Fprintf(md, "#### %s\n\n", m.Name)
		fmt.Fprintf(md, "- **Type**: %s\n", m.Type)
		fmt.Fprintf(md, "- **Description**: %s\n", m.Description)
		if len(m.Labels) > 0 {
			md.WriteString("- **Labels**:\n")
			for _, l := range m.Labels {
				fmt.Fprintf(md, "  - `%s`\n", l)
			}
		}
		md.WriteString("\n")
	}
}

// collectors returns every collector whose metrics are documented
func collectors(logger *slog.Logger) []prometheus.Collector {
	pm := &idleMonitor{dataCh: make(chan struct{})}
	all := []prometheus.Collector{
		collector.NewPowerCollector(pm, logger, config.MetricsLevelAll),
		collector.NewBuildInfoCollector(),
	}
	if c, err := collector.NewCPUInfoCollector("/proc"); err == nil {
		all = append(all, c)
	} else {
		logger.Warn("skipping cpu info metrics", "error", err)
	}
	if c, err := collector.NewRaplZoneCollector("/sys"); err == nil {
		all = append(all, c)
	} else {
		logger.Warn("skipping rapl zone metrics", "error", err)
	}
	return all
}

func main() {
	app := kingpin.New("gen-metric-docs", "Generate Markdown documentation of powermon metrics.")
	outputPath := app.Flag("output", "Path to output Markdown file").Default("metrics.md").String()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var metrics []MetricInfo
	for _, c := range collectors(logger) {
		metrics = append(metrics, extractMetricsInfo(c)...)
	}
	logger.Info("extracted metrics", "count", len(metrics))

	if dir := filepath.Dir(*outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create output directory", "error", err)
			os.Exit(1)
		}
	}
	if err := os.WriteFile(*outputPath, []byte(generateMarkdown(metrics)), 0o644); err != nil {
		logger.Error("failed to write metrics documentation", "error", err)
		os.Exit(1)
	}
	logger.Info("metrics documentation written", "path", *outputPath)
}

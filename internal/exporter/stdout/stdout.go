// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/sustainable-computing-io/powermon/internal/device/accelerator"
	"github.com/sustainable-computing-io/powermon/internal/monitor"
	"github.com/sustainable-computing-io/powermon/internal/service"
)

type (
	Initializer = service.Initializer
	Runner      = service.Runner
	Shutdowner  = service.Shutdowner
	Monitor     = monitor.PowerDataProvider
)

// Exporter periodically prints the latest snapshot as tables
type Exporter struct {
	logger   *slog.Logger
	monitor  Monitor
	out      io.WriteCloser
	ticker   *time.Ticker
	interval time.Duration
}

var (
	_ Initializer = (*Exporter)(nil)
	_ Runner      = (*Exporter)(nil)
	_ Shutdowner  = (*Exporter)(nil)
)

type Opts struct {
	logger   *slog.Logger
	out      io.WriteCloser
	interval time.Duration
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		out:      os.Stdout,
		interval: 2 * time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Exporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.WriteCloser) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

func WithInterval(interval time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = interval
	}
}

func NewExporter(pm Monitor, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger:   opts.logger.With("service", "stdout"),
		monitor:  pm,
		out:      opts.out,
		interval: opts.interval,
	}
}

func (e *Exporter) Init() error {
	if e.interval <= 0 {
		return fmt.Errorf("invalid stdout interval %s", e.interval)
	}
	e.ticker = time.NewTicker(e.interval)
	return nil
}

func (e *Exporter) Run(ctx context.Context) error {
	for {
		select {
		case <-e.ticker.C:
			snapshot, err := e.monitor.Snapshot()
			if err != nil {
				// a single failed refresh is not fatal; try again on the next tick
				e.logger.Error("Failed to collect power data", "error", err)
				continue
			}
			write(e.out, snapshot)
		case <-ctx.Done():
			e.logger.Info("Exiting ticker")
			return nil
		}
	}
}

func write(out io.Writer, snapshot *monitor.Snapshot) {
	if !snapshot.Timestamp.IsZero() {
		fmt.Fprintf(out, "Sampled at %s\n", snapshot.Timestamp.UTC().Format(time.RFC3339))
	}
	writePower(out, snapshot.Power)
	writeFrequencies(out, snapshot.Uncore, snapshot.Cores)
	if len(snapshot.Accelerators) > 0 {
		writeAccelerators(out, snapshot.Accelerators)
	}
}

func writePower(out io.Writer, power map[string]monitor.Power) {
	rows := make([][]string, 0, len(power))
	for _, domain := range slices.Sorted(maps.Keys(power)) {
		rows = append(rows, []string{domain, power[domain].String()})
	}
	render(out, []string{"Domain", "Power(W)"}, rows)
}

func writeFrequencies(out io.Writer, uncore, cores map[int]monitor.Frequency) {
	rows := make([][]string, 0, len(uncore)+len(cores))
	for _, socket := range slices.Sorted(maps.Keys(uncore)) {
		rows = append(rows, []string{"uncore", "socket " + strconv.Itoa(socket), uncore[socket].String()})
	}
	for _, core := range slices.Sorted(maps.Keys(cores)) {
		rows = append(rows, []string{"core", "cpu " + strconv.Itoa(core), cores[core].String()})
	}
	render(out, []string{"Clock", "Unit", "Frequency(MHz)"}, rows)
}

func writeAccelerators(out io.Writer, readings []monitor.Reading) {
	rows := make([][]string, 0, len(readings))
	for i, r := range readings {
		partitions := make([]string, 0, len(r.Partitions))
		for _, p := range r.Partitions {
			partitions = append(partitions, powerString(p))
		}
		rows = append(rows, []string{
			strconv.Itoa(i),
			r.Name,
			r.UUID,
			powerString(r.Total),
			strings.Join(partitions, " "),
		})
	}
	render(out, []string{"Index", "Name", "UUID", "Power(W)", "Partitions(W)"}, rows)
}

func powerString(p monitor.Power) string {
	if p == accelerator.Unavailable {
		return "n/a"
	}
	return p.String()
}

func render(out io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header(header)
	_ = table.Bulk(rows)
	_ = table.Render()
}

func (e *Exporter) Shutdown() error {
	if e.ticker != nil {
		e.ticker.Stop()
	}
	return e.out.Close()
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "stdout"
}

// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sustainable-computing-io/powermon/config"
	"github.com/sustainable-computing-io/powermon/internal/device"
	"github.com/sustainable-computing-io/powermon/internal/device/accelerator"
	"github.com/sustainable-computing-io/powermon/internal/exporter/prometheus"
	"github.com/sustainable-computing-io/powermon/internal/exporter/stdout"
	"github.com/sustainable-computing-io/powermon/internal/logger"
	"github.com/sustainable-computing-io/powermon/internal/monitor"
	"github.com/sustainable-computing-io/powermon/internal/server"
	"github.com/sustainable-computing-io/powermon/internal/service"
	"github.com/sustainable-computing-io/powermon/internal/version"

	// accelerator backends register themselves
	_ "github.com/sustainable-computing-io/powermon/internal/device/accelerator/hwmon"
	_ "github.com/sustainable-computing-io/powermon/internal/device/accelerator/nvidia"
)

func main() {
	// parse args and config and exit with error if there is an error
	cfg, listDevices, err := parseArgsAndConfig(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}

	logger := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	logVersionInfo(logger)
	printConfigInfo(logger, cfg)
	checkPrivileges(logger, cfg)

	sources := createSources(logger, cfg)
	if listDevices {
		printDevices(os.Stdout, sources)
		accelerator.ShutdownAll(sources.accelerators, logger)
		return
	}

	services, err := createServices(logger, cfg, sources)
	if err != nil {
		logger.Error("failed to create services", "error", err)
		accelerator.ShutdownAll(sources.accelerators, logger)
		os.Exit(1)
	}

	if err := service.Init(logger, services); err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting powermon")
	if err := service.Run(context.Background(), logger, services); err != nil {
		logger.Error("powermon terminated with an error", "error", err)
		os.Exit(1)
	}
	logger.Info("Graceful shutdown completed")
}

func logVersionInfo(logger *slog.Logger) {
	v := version.Info()
	logger.Info("powermon version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func parseArgsAndConfig(args []string) (*config.Config, bool, error) {
	const appName = "powermon"
	app := kingpin.New(appName, "CPU, DRAM and accelerator power telemetry collector.")

	configFiles := app.Flag("config.file", "Path to YAML configuration file, repeat to layer files").Strings()
	listDevices := app.Flag("list-devices", "Print discovered energy domains, CPUs and accelerators, then exit").Bool()
	updateConfig := config.RegisterFlags(app)
	if _, err := app.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return nil, false, err
	}

	logger := logger.New("info", "text", os.Stderr)
	cfg := config.DefaultConfig()
	if len(*configFiles) > 0 {
		logger.Info("Loading configuration files", "paths", *configFiles)
		loadedCfg, err := config.FromFiles(*configFiles...)
		if err != nil {
			logger.Error("Error loading config file", "error", err.Error())
			return nil, false, err
		}
		cfg = loadedCfg
		logger.Info("Completed loading of configuration files", "paths", *configFiles)
	}

	// Apply command line flags (these override config file settings)
	if err := updateConfig(cfg); err != nil {
		logger.Error("Error applying command line flags", "error", err.Error())
		return nil, false, err
	}

	return cfg, *listDevices, nil
}

func printConfigInfo(logger *slog.Logger, cfg *config.Config) {
	if !logger.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Printf(`
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}

// checkPrivileges warns when MSR reads are unlikely to work. Uncore values
// then read as 0 and the collector keeps running.
func checkPrivileges(logger *slog.Logger, cfg *config.Config) {
	if os.Geteuid() != 0 {
		logger.Warn("not running as root, MSR and some RAPL counters may be unreadable")
	}
	if !*cfg.Uncore.Enabled {
		return
	}
	msr := fmt.Sprintf(cfg.MSR.DevicePath, 0)
	if _, err := os.Stat(msr); err != nil {
		logger.Warn("MSR device not found, is the msr kernel module loaded?", "path", msr, "error", err)
	}
}

// sources holds every hardware reader the monitor samples
type sources struct {
	domains      []device.EnergyDomain
	estimator    *device.PowerEstimator
	frequencies  *device.FrequencySampler
	accelerators []accelerator.Adapter
}

func createSources(logger *slog.Logger, cfg *config.Config) *sources {
	reader := device.NewCounterReader(
		device.WithReaderLogger(logger),
		device.WithSysFSPath(cfg.Host.SysFS),
		device.WithMSRDevicePath(cfg.MSR.DevicePath),
	)

	domains := device.DiscoverDomains(device.PowercapRoot(cfg.Host.SysFS), logger)
	domains = device.FilterDomains(domains, cfg.Rapl.Zones)
	if len(domains) == 0 {
		logger.Warn("no RAPL energy domains available, power will not be reported")
	}
	estimator := device.NewPowerEstimator(domains, reader,
		device.WithEstimatorLogger(logger),
		device.WithCounterWidth(cfg.Rapl.CounterWidth),
	)

	cpus, err := device.CPUCount(cfg.Host.ProcFS)
	if err != nil {
		logger.Warn("failed to count CPUs, core frequencies will not be reported", "error", err)
	}

	sockets := map[int]int{}
	if *cfg.Uncore.Enabled {
		sockets = uncoreSockets(logger, cfg)
	}
	frequencies := device.NewFrequencySampler(reader, reader,
		device.WithSamplerLogger(logger),
		device.WithStatusRegister(cfg.Uncore.StatusRegister),
		device.WithSockets(sockets),
		device.WithCPUCount(cpus),
	)

	var adapters []accelerator.Adapter
	if *cfg.Accelerator.Enabled {
		adapters = accelerator.Discover(cfg.Accelerator.Backends,
			accelerator.Options{SysFSPath: cfg.Host.SysFS}, logger)
	}

	return &sources{
		domains:      domains,
		estimator:    estimator,
		frequencies:  frequencies,
		accelerators: adapters,
	}
}

// uncoreSockets returns the configured socket to CPU mapping, detecting it
// from the CPU topology when none is configured
func uncoreSockets(logger *slog.Logger, cfg *config.Config) map[int]int {
	if len(cfg.Uncore.Sockets) > 0 {
		return cfg.Uncore.Sockets
	}

	sockets, err := device.SocketCPUs(cfg.Host.SysFS)
	if err != nil || len(sockets) == 0 {
		logger.Warn("failed to detect CPU sockets, using the default mapping",
			"sockets", device.DefaultUncoreSockets(), "error", err)
		return device.DefaultUncoreSockets()
	}
	return sockets
}

func printDevices(w io.Writer, s *sources) {
	fmt.Fprintln(w, "Energy domains:")
	for _, d := range s.domains {
		fmt.Fprintf(w, "  %s\n", d)
	}

	fmt.Fprintf(w, "Logical CPUs: %d\n", s.frequencies.CPUCount())
	fmt.Fprintln(w, "Uncore sockets:")
	for _, socket := range s.frequencies.Sockets() {
		fmt.Fprintf(w, "  socket %d\n", socket)
	}

	fmt.Fprintln(w, "Accelerators:")
	for _, r := range accelerator.ReadAll(s.accelerators, slog.New(slog.DiscardHandler)) {
		fmt.Fprintf(w, "  %s %s (%d partitions)\n", r.Name, r.UUID, len(r.Partitions))
	}
}

func createServices(logger *slog.Logger, cfg *config.Config, s *sources) ([]service.Service, error) {
	logger.Debug("Creating all services")

	pm := monitor.NewPowerMonitor(s.estimator, s.frequencies,
		monitor.WithLogger(logger),
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithMaxStaleness(cfg.Monitor.Staleness),
		monitor.WithAccelerators(s.accelerators),
	)

	apiServer := server.NewAPIServer(
		server.WithLogger(logger),
		server.WithListen(cfg.Web.ListenAddresses, cfg.Web.Config),
		server.WithStaticPage(cfg.Web.StaticPage),
	)

	services := []service.Service{
		apiServer,
		pm,
		server.NewData(apiServer, pm, logger),
		server.NewProbe(apiServer, pm),
	}

	if *cfg.Debug.Pprof.Enabled {
		services = append(services, server.NewPprof(apiServer))
	}

	if *cfg.Exporter.Prometheus.Enabled {
		promOpts := []prometheus.OptionFn{
			prometheus.WithLogger(logger),
			prometheus.WithProcFSPath(cfg.Host.ProcFS),
			prometheus.WithSysFSPath(cfg.Host.SysFS),
			prometheus.WithDebugCollectors(cfg.Exporter.Prometheus.DebugCollectors),
			prometheus.WithMetricsLevel(cfg.Exporter.Prometheus.MetricsLevel),
		}
		collectors, err := prometheus.CreateCollectors(pm, promOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus collectors: %w", err)
		}
		promOpts = append(promOpts, prometheus.WithCollectors(collectors))
		services = append(services, prometheus.NewExporter(pm, apiServer, promOpts...))
	}

	if *cfg.Exporter.Stdout.Enabled {
		services = append(services, stdout.NewExporter(pm, stdout.WithLogger(logger)))
	}

	services = append(services, service.NewSignalHandler(logger, os.Interrupt, syscall.SIGTERM))
	return services, nil
}

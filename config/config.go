// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// DefaultPort is the listen address used when none is configured
const DefaultPort = ":8030"

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}
	Host struct {
		SysFS  string `yaml:"sysfs"`
		ProcFS string `yaml:"procfs"`
	}

	// Rapl configuration
	Rapl struct {
		// CounterWidth is the bit width at which energy counters wrap.
		// 0 uses each domain's max_energy_range_uj and falls back to 32.
		CounterWidth int `yaml:"counterWidth"`

		// Zones limits reporting to the named domains; empty reports all
		Zones []string `yaml:"zones"`
	}

	MSR struct {
		// DevicePath is a format string with a single %d for the CPU index
		DevicePath string `yaml:"devicePath"`
	}

	Uncore struct {
		Enabled        *bool  `yaml:"enabled"`
		StatusRegister uint32 `yaml:"statusRegister"`

		// Sockets maps a socket index to the CPU whose register is read for
		// it. Empty means detect from the CPU topology.
		Sockets map[int]int `yaml:"sockets"`
	}

	Accelerator struct {
		Enabled *bool `yaml:"enabled"`
		// Backends to try in order; empty tries every built-in backend
		Backends []string `yaml:"backends"`
	}

	Web struct {
		Config          string   `yaml:"configFile"`
		ListenAddresses []string `yaml:"listenAddresses"`
		StaticPage      string   `yaml:"staticPage"`
	}

	Monitor struct {
		Interval  time.Duration `yaml:"interval"`  // Interval for background sampling; 0 samples on request only
		Staleness time.Duration `yaml:"staleness"` // Time after which a cached snapshot is considered stale
	}

	// Exporter configuration
	StdoutExporter struct {
		Enabled *bool `yaml:"enabled"`
	}

	PrometheusExporter struct {
		Enabled         *bool    `yaml:"enabled"`
		DebugCollectors []string `yaml:"debugCollectors"`
		MetricsLevel    Level    `yaml:"metricsLevel"`
	}

	Exporter struct {
		Stdout     StdoutExporter     `yaml:"stdout"`
		Prometheus PrometheusExporter `yaml:"prometheus"`
	}

	// Debug configuration
	PprofDebug struct {
		Enabled *bool `yaml:"enabled"`
	}

	Debug struct {
		Pprof PprofDebug `yaml:"pprof"`
	}

	Config struct {
		Log         Log         `yaml:"log"`
		Host        Host        `yaml:"host"`
		Monitor     Monitor     `yaml:"monitor"`
		Rapl        Rapl        `yaml:"rapl"`
		MSR         MSR         `yaml:"msr"`
		Uncore      Uncore      `yaml:"uncore"`
		Accelerator Accelerator `yaml:"accelerator"`
		Exporter    Exporter    `yaml:"exporter"`
		Web         Web         `yaml:"web"`
		Debug       Debug       `yaml:"debug"`
	}
)

// MetricsLevelValue is a custom kingpin.Value that parses metrics levels directly into Level
type MetricsLevelValue struct {
	level *Level
}

// NewMetricsLevelValue creates a new MetricsLevelValue with the given target
func NewMetricsLevelValue(target *Level) *MetricsLevelValue {
	return &MetricsLevelValue{level: target}
}

// Set implements kingpin.Value interface - parses and accumulates metrics levels
func (m *MetricsLevelValue) Set(value string) error {
	level, err := ParseLevel([]string{value})
	if err != nil {
		return err
	}

	// the first explicit value replaces the default
	if *m.level == MetricsLevelAll {
		*m.level = 0
	}
	*m.level |= level
	return nil
}

// String implements kingpin.Value interface
func (m *MetricsLevelValue) String() string {
	return m.level.String()
}

// IsCumulative implements kingpin.Value interface to support multiple values
func (m *MetricsLevelValue) IsCumulative() bool {
	return true
}

type SkipValidation int

const (
	SkipHostValidation SkipValidation = 1
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	HostSysFSFlag  = "host.sysfs"
	HostProcFSFlag = "host.procfs"

	MonitorIntervalFlag = "monitor.interval"
	MonitorStaleness    = "monitor.staleness" // not a flag

	RaplCounterWidthFlag = "rapl.counter-width"
	RaplZones            = "rapl.zones" // not a flag

	MSRDevicePathFlag = "msr.device-path"

	UncoreEnabledFlag        = "uncore.enable"
	UncoreStatusRegisterFlag = "uncore.status-register"
	UncoreSocketFlag         = "uncore.socket"

	AcceleratorEnabledFlag = "accelerator.enable"
	AcceleratorBackendFlag = "accelerator.backend"

	pprofEnabledFlag = "debug.pprof"

	WebConfigFlag        = "web.config-file"
	WebListenAddressFlag = "web.listen-address"
	WebStaticPageFlag    = "web.static-page"

	// Exporters
	ExporterStdoutEnabledFlag = "exporter.stdout"

	ExporterPrometheusEnabledFlag = "exporter.prometheus"
	// NOTE: not a flag
	ExporterPrometheusDebugCollectors = "exporter.prometheus.debug-collectors"
	ExporterPrometheusMetricsFlag     = "metrics"
)

const (
	defaultStatusRegister = 0x621
	defaultCounterWidth   = 32
	defaultMSRDevicePath  = "/dev/cpu/%d/msr"
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			SysFS:  "/sys",
			ProcFS: "/proc",
		},
		Rapl: Rapl{
			CounterWidth: defaultCounterWidth,
			Zones:        []string{},
		},
		MSR: MSR{
			DevicePath: defaultMSRDevicePath,
		},
		Uncore: Uncore{
			Enabled:        ptr.To(true),
			StatusRegister: defaultStatusRegister,
			Sockets:        map[int]int{},
		},
		Accelerator: Accelerator{
			Enabled:  ptr.To(true),
			Backends: []string{},
		},
		Monitor: Monitor{
			Interval:  0,
			Staleness: 500 * time.Millisecond,
		},
		Exporter: Exporter{
			Stdout: StdoutExporter{
				Enabled: ptr.To(false),
			},
			Prometheus: PrometheusExporter{
				Enabled:         ptr.To(true),
				DebugCollectors: []string{"go"},
				MetricsLevel:    MetricsLevelAll,
			},
		},
		Debug: Debug{
			Pprof: PprofDebug{
				Enabled: ptr.To(false),
			},
		},
		Web: Web{
			ListenAddresses: []string{DefaultPort},
		},
	}
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		// ignored on purpose
		_ = file.Close()
	}()

	return Load(file)
}

// FromFiles layers the files, in order, over the defaults. A later file
// only overrides the fields it sets.
func FromFiles(paths ...string) (*Config, error) {
	cfg, err := (&Builder{}).MergeFile(paths...).Build()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")
	// host
	hostSysFS := app.Flag(HostSysFSFlag, "Host sysfs path").Default("/sys").ExistingDir()
	hostProcFS := app.Flag(HostProcFSFlag, "Host procfs path").Default("/proc").ExistingDir()

	// monitor
	monitorInterval := app.Flag(MonitorIntervalFlag,
		"Interval for background sampling; 0 samples on request only").Default("0s").Duration()

	// rapl
	counterWidth := app.Flag(RaplCounterWidthFlag,
		"Bit width at which RAPL energy counters wrap; 0 uses the domain's max energy range").Default(strconv.Itoa(defaultCounterWidth)).Int()

	// msr and uncore
	msrDevicePath := app.Flag(MSRDevicePathFlag, "Per-CPU MSR device path with %d for the CPU index").Default(defaultMSRDevicePath).String()
	uncoreEnabled := app.Flag(UncoreEnabledFlag, "Read uncore frequency from MSRs").Default("true").Bool()
	statusRegister := app.Flag(UncoreStatusRegisterFlag, "MSR offset of the uncore ratio status register").Default("0x621").String()
	uncoreSockets := app.Flag(UncoreSocketFlag, "Socket to CPU mapping for uncore reads as socket=cpu; repeatable").StringMap()

	// accelerator
	acceleratorEnabled := app.Flag(AcceleratorEnabledFlag, "Report accelerator power").Default("true").Bool()
	acceleratorBackends := app.Flag(AcceleratorBackendFlag, "Accelerator backend to use (nvidia, hwmon); repeatable").Strings()

	enablePprof := app.Flag(pprofEnabledFlag, "Enable pprof debug endpoints").Default("false").Bool()
	webConfig := app.Flag(WebConfigFlag, "Web config file path").Default("").String()
	webListenAddresses := app.Flag(WebListenAddressFlag, "Web server listen addresses").Default(DefaultPort).Strings()
	webStaticPage := app.Flag(WebStaticPageFlag, "HTML file served at /").Default("").String()

	// exporters
	stdoutExporterEnabled := app.Flag(ExporterStdoutEnabledFlag, "Enable stdout exporter").Default("false").Bool()
	prometheusExporterEnabled := app.Flag(ExporterPrometheusEnabledFlag, "Enable Prometheus exporter").Default("true").Bool()

	metricsLevel := MetricsLevelAll
	app.Flag(ExporterPrometheusMetricsFlag, "Metric groups to export (power,frequency,accelerator)").SetValue(NewMetricsLevelValue(&metricsLevel))

	return func(cfg *Config) error {
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}
		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[HostSysFSFlag] {
			cfg.Host.SysFS = *hostSysFS
		}
		if flagsSet[HostProcFSFlag] {
			cfg.Host.ProcFS = *hostProcFS
		}

		if flagsSet[MonitorIntervalFlag] {
			cfg.Monitor.Interval = *monitorInterval
		}

		if flagsSet[RaplCounterWidthFlag] {
			cfg.Rapl.CounterWidth = *counterWidth
		}

		if flagsSet[MSRDevicePathFlag] {
			cfg.MSR.DevicePath = *msrDevicePath
		}
		if flagsSet[UncoreEnabledFlag] {
			cfg.Uncore.Enabled = uncoreEnabled
		}
		if flagsSet[UncoreStatusRegisterFlag] {
			reg, err := strconv.ParseUint(strings.TrimSpace(*statusRegister), 0, 32)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", UncoreStatusRegisterFlag, *statusRegister, err)
			}
			cfg.Uncore.StatusRegister = uint32(reg)
		}
		if flagsSet[UncoreSocketFlag] {
			sockets, err := parseSockets(*uncoreSockets)
			if err != nil {
				return err
			}
			cfg.Uncore.Sockets = sockets
		}

		if flagsSet[AcceleratorEnabledFlag] {
			cfg.Accelerator.Enabled = acceleratorEnabled
		}
		if flagsSet[AcceleratorBackendFlag] {
			cfg.Accelerator.Backends = *acceleratorBackends
		}

		if flagsSet[pprofEnabledFlag] {
			cfg.Debug.Pprof.Enabled = enablePprof
		}

		if flagsSet[WebConfigFlag] {
			cfg.Web.Config = *webConfig
		}
		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddresses = *webListenAddresses
		}
		if flagsSet[WebStaticPageFlag] {
			cfg.Web.StaticPage = *webStaticPage
		}

		if flagsSet[ExporterStdoutEnabledFlag] {
			cfg.Exporter.Stdout.Enabled = stdoutExporterEnabled
		}
		if flagsSet[ExporterPrometheusEnabledFlag] {
			cfg.Exporter.Prometheus.Enabled = prometheusExporterEnabled
		}
		if flagsSet[ExporterPrometheusMetricsFlag] {
			cfg.Exporter.Prometheus.MetricsLevel = metricsLevel
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

// parseSockets converts socket=cpu pairs into a socket to CPU map
func parseSockets(pairs map[string]string) (map[int]int, error) {
	sockets := make(map[int]int, len(pairs))
	for k, v := range pairs {
		socket, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("invalid %s socket %q: %w", UncoreSocketFlag, k, err)
		}
		cpu, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid %s cpu %q for socket %d: %w", UncoreSocketFlag, v, socket, err)
		}
		sockets[socket] = cpu
	}
	return sockets, nil
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Host.SysFS = strings.TrimSpace(c.Host.SysFS)
	c.Host.ProcFS = strings.TrimSpace(c.Host.ProcFS)
	c.MSR.DevicePath = strings.TrimSpace(c.MSR.DevicePath)
	c.Web.Config = strings.TrimSpace(c.Web.Config)
	c.Web.StaticPage = strings.TrimSpace(c.Web.StaticPage)
	for i := range c.Web.ListenAddresses {
		c.Web.ListenAddresses[i] = strings.TrimSpace(c.Web.ListenAddresses[i])
	}

	for i := range c.Rapl.Zones {
		c.Rapl.Zones[i] = strings.TrimSpace(c.Rapl.Zones[i])
	}
	for i := range c.Accelerator.Backends {
		c.Accelerator.Backends[i] = strings.ToLower(strings.TrimSpace(c.Accelerator.Backends[i]))
	}

	for i := range c.Exporter.Prometheus.DebugCollectors {
		c.Exporter.Prometheus.DebugCollectors[i] = strings.TrimSpace(c.Exporter.Prometheus.DebugCollectors[i])
	}
}

// Validate checks for configuration errors
func (c *Config) Validate(skips ...SkipValidation) error {
	validationSkipped := make(map[SkipValidation]bool, len(skips))
	for _, v := range skips {
		validationSkipped[v] = true
	}
	var errs []string
	{ // log level
		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}

	{ // Validate host settings
		if _, skip := validationSkipped[SkipHostValidation]; !skip {
			if err := canReadDir(c.Host.SysFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid sysfs path: %s: %s ", c.Host.SysFS, err.Error()))
			}
			if err := canReadDir(c.Host.ProcFS); err != nil {
				errs = append(errs, fmt.Sprintf("invalid procfs path: %s: %s ", c.Host.ProcFS, err.Error()))
			}
		}
	}
	{ // RAPL
		if c.Rapl.CounterWidth < 0 || c.Rapl.CounterWidth > 64 {
			errs = append(errs, fmt.Sprintf("invalid rapl counter width: %d must be between 0 and 64", c.Rapl.CounterWidth))
		}
	}
	{ // MSR and uncore
		if strings.Count(c.MSR.DevicePath, "%d") != 1 {
			errs = append(errs, fmt.Sprintf("invalid msr device path %q: must contain exactly one %%d", c.MSR.DevicePath))
		}
		for socket, cpu := range c.Uncore.Sockets {
			if socket < 0 || cpu < 0 {
				errs = append(errs, fmt.Sprintf("invalid uncore socket mapping %d=%d: can't be negative", socket, cpu))
			}
		}
	}
	{ // Web config file
		if c.Web.Config != "" {
			if err := canReadFile(c.Web.Config); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web config file. path: %q: %s", c.Web.Config, err.Error()))
			}
		}
		if c.Web.StaticPage != "" {
			if err := canReadFile(c.Web.StaticPage); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web static page. path: %q: %s", c.Web.StaticPage, err.Error()))
			}
		}
	}
	{ // Web listen addresses
		if len(c.Web.ListenAddresses) == 0 {
			errs = append(errs, "at least one web listen address must be specified")
		}
		for _, addr := range c.Web.ListenAddresses {
			if addr == "" {
				errs = append(errs, "web listen address cannot be empty")
				continue
			}
			if err := validateListenAddress(addr); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web listen address %q: %s", addr, err.Error()))
			}
		}
	}
	{ // Monitor
		if c.Monitor.Interval < 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor interval: %s can't be negative", c.Monitor.Interval))
		}
		if c.Monitor.Staleness < 0 {
			errs = append(errs, fmt.Sprintf("invalid monitor staleness: %s can't be negative", c.Monitor.Staleness))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

func canReadDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	_, err = f.ReadDir(1)
	return err
}

func canReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()
	buf := make([]byte, 8)
	_, err = f.Read(buf)
	return err
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	// host can be empty for listening on all interfaces
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}

	return validatePort(port)
}

func validatePort(port string) error {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric, got %s", port)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", portNum)
	}
	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE: this code path should not happen but if it does (i.e if yaml marshal) fails
	// for some reason, manually build the string
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{HostSysFSFlag, c.Host.SysFS},
		{HostProcFSFlag, c.Host.ProcFS},
		{MonitorIntervalFlag, c.Monitor.Interval.String()},
		{MonitorStaleness, c.Monitor.Staleness.String()},
		{RaplCounterWidthFlag, strconv.Itoa(c.Rapl.CounterWidth)},
		{RaplZones, strings.Join(c.Rapl.Zones, ", ")},
		{MSRDevicePathFlag, c.MSR.DevicePath},
		{UncoreEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Uncore.Enabled, false))},
		{UncoreStatusRegisterFlag, fmt.Sprintf("%#x", c.Uncore.StatusRegister)},
		{UncoreSocketFlag, socketsString(c.Uncore.Sockets)},
		{AcceleratorEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Accelerator.Enabled, false))},
		{AcceleratorBackendFlag, strings.Join(c.Accelerator.Backends, ", ")},
		{ExporterStdoutEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Stdout.Enabled, false))},
		{ExporterPrometheusEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Exporter.Prometheus.Enabled, false))},
		{ExporterPrometheusDebugCollectors, strings.Join(c.Exporter.Prometheus.DebugCollectors, ", ")},
		{ExporterPrometheusMetricsFlag, c.Exporter.Prometheus.MetricsLevel.String()},
		{WebStaticPageFlag, c.Web.StaticPage},
		{pprofEnabledFlag, fmt.Sprintf("%v", ptr.Deref(c.Debug.Pprof.Enabled, false))},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}

func socketsString(sockets map[int]int) string {
	keys := make([]int, 0, len(sockets))
	for k := range sockets {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%d=%d", k, sockets[k]))
	}
	return strings.Join(pairs, ", ")
}

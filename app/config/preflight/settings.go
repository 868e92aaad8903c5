// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package config contains the settings of a validation run.
//
// Settings are read from zero or more YAML files and the environment through
// cleanenv; command line flags are applied on top by the CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// FlagConfigFile is the CLI flag holding configuration file locations.
	FlagConfigFile     = "config"
	FlagDescConfFile   = "configuration file location(s)"
	DefaultBaseDir     = "/tmp/ndpreupgradecheck"
	DefaultArchiveDir  = "/techsupport"
	DefaultArchiveGlob = "*{node}.tgz"
)

// Run modes.
const (
	ModeGenerate = "generate"
	ModeSelect   = "select"
)

type Settings struct {
	Node       Node       `yaml:"node"`
	Paths      Paths      `yaml:"paths"`
	Collection Collection `yaml:"collection"`
	Extraction Extraction `yaml:"extraction"`
	Commands   Commands   `yaml:"commands"`
	Checks     Checks     `yaml:"checks"`
	Logging    Logging    `yaml:"logging"`
	Metrics    Metrics    `yaml:"metrics"`
	Kubernetes Kubernetes `yaml:"kubernetes"`
	Cleanup    Cleanup    `yaml:"cleanup"`
}

type Node struct {
	Name    string `yaml:"name" env:"ND_NODE_NAME" env-description:"name of the node being validated"`
	Version string `yaml:"version" env:"ND_VERSION" env-description:"running Nexus Dashboard version, used to pick the collection command"`
}

type Paths struct {
	BaseDir     string `yaml:"base_dir" env-default:"/tmp/ndpreupgradecheck" env:"PREUPGRADE_BASE_DIR" env-description:"directory holding results, heartbeat and extracted evidence"`
	ArchiveDir  string `yaml:"archive_dir" env-default:"/techsupport" env:"PREUPGRADE_ARCHIVE_DIR" env-description:"directory where the appliance writes evidence archives"`
	ArchiveGlob string `yaml:"archive_glob" env-default:"*{node}.tgz" env:"PREUPGRADE_ARCHIVE_GLOB" env-description:"archive name pattern, {node} is replaced by the node name"`
}

type Collection struct {
	Mode             string        `yaml:"mode" env-default:"generate" env:"PREUPGRADE_MODE" env-description:"generate a new archive or select an existing one"`
	Archive          string        `yaml:"archive" env:"PREUPGRADE_ARCHIVE" env-description:"explicit archive to use in select mode"`
	Timeout          time.Duration `yaml:"timeout" env-default:"900s" env:"COLLECTION_TIMEOUT" env-description:"maximum time for the collection command"`
	StabilizeTimeout time.Duration `yaml:"stabilize_timeout" env-default:"600s" env:"COLLECTION_STABILIZE_TIMEOUT" env-description:"maximum time to wait for the archive to appear and stop growing"`
	PollInterval     time.Duration `yaml:"poll_interval" env-default:"5s" env:"COLLECTION_POLL_INTERVAL" env-description:"how often to look for the archive"`
	StabilityWindow  time.Duration `yaml:"stability_window" env-default:"60s" env:"COLLECTION_STABILITY_WINDOW" env-description:"how long the archive size must stay unchanged"`
	ExpectedOutput   string        `yaml:"expected_output" env-default:"TS collection" env:"COLLECTION_EXPECTED_OUTPUT" env-description:"text the collection command prints on success"`
	DisableWatch     bool          `yaml:"disable_watch" env-default:"false" env:"COLLECTION_DISABLE_WATCH" env-description:"poll only, without filesystem notifications"`
	MinTmpFreeMB     uint64        `yaml:"min_tmp_free_mb" env-default:"8000" env:"COLLECTION_MIN_TMP_FREE_MB" env-description:"free space below which a warning is logged"`
}

type Extraction struct {
	Timeout       time.Duration `yaml:"timeout" env-default:"1800s" env:"EXTRACTION_TIMEOUT" env-description:"maximum time per extraction strategy"`
	NestedTimeout time.Duration `yaml:"nested_timeout" env-default:"600s" env:"EXTRACTION_NESTED_TIMEOUT" env-description:"maximum time for the nested logs archive"`
	NestedArchive string        `yaml:"nested_archive" env-default:"logs.tgz" env:"EXTRACTION_NESTED_ARCHIVE" env-description:"nested archive extracted in place when present"`
	SpaceFactor   float64       `yaml:"space_factor" env-default:"2" env:"EXTRACTION_SPACE_FACTOR" env-description:"free space wanted as a multiple of the archive size"`
}

type Commands struct {
	Collect       string        `yaml:"collect" env-default:"acs techsupport collect" env:"CMD_COLLECT" env-description:"collection command for 4.x and later"`
	CollectLegacy string        `yaml:"collect_legacy" env-default:"acs techsupport collect -s system" env:"CMD_COLLECT_LEGACY" env-description:"collection command for releases before 4.0"`
	ShowNodes     string        `yaml:"show_nodes" env-default:"acs show nodes" env:"CMD_SHOW_NODES" env-description:"cluster membership query"`
	Version       string        `yaml:"version" env-default:"acs version" env:"CMD_VERSION" env-description:"version query"`
	Health        string        `yaml:"health" env-default:"acs health" env:"CMD_HEALTH" env-description:"health query"`
	DiskFree      string        `yaml:"disk_free" env-default:"df -h" env:"CMD_DISK_FREE" env-description:"filesystem usage query"`
	Kubectl       string        `yaml:"kubectl" env-default:"kubectl" env:"CMD_KUBECTL" env-description:"kubectl binary"`
	Ping          string        `yaml:"ping" env-default:"ping -c 3" env:"CMD_PING" env-description:"reachability probe, the address is appended"`
	Tar           string        `yaml:"tar" env-default:"tar" env:"CMD_TAR" env-description:"tar binary"`
	QueryTimeout  time.Duration `yaml:"query_timeout" env-default:"300s" env:"QUERY_TIMEOUT" env-description:"timeout of live queries"`
	PingWorkers   int           `yaml:"ping_workers" env-default:"4" env:"PING_WORKERS" env-description:"concurrent reachability probes"`
}

type Checks struct {
	Enabled          []string `yaml:"enabled" env:"CHECKS_ENABLED" env-separator:"," env-description:"restrict the run to these checks"`
	DiskThreshold    int      `yaml:"disk_threshold" env-default:"70" env:"CHECK_DISK_THRESHOLD" env-description:"usage percent at which a filesystem fails"`
	MinPersistentIPs int      `yaml:"min_persistent_ips" env-default:"5" env:"CHECK_MIN_PERSISTENT_IPS" env-description:"required data-external-services addresses"`
	MinAtom0FreeGB   float64  `yaml:"min_atom0_free_gb" env-default:"50" env:"CHECK_MIN_ATOM0_FREE_GB" env-description:"required free space in the atom0 volume group"`
}

type Logging struct {
	Level    string `yaml:"level" env-default:"info" env:"LOG_LEVEL" env-description:"logging level such as debug, info, error"`
	Format   string `yaml:"format" env-default:"json" env:"LOG_FORMAT" env-description:"json or text"`
	Location string `yaml:"location" env:"LOG_LOCATION" env-description:"file receiving check logs, stderr when empty"`
}

type Metrics struct {
	Disabled bool   `yaml:"disabled" env-default:"false" env:"METRICS_DISABLED" env-description:"skip the node_exporter textfile with check verdicts"`
	Path     string `yaml:"path" env:"METRICS_PATH" env-description:"textfile location, defaults to {base_dir}/{node}_checks.prom"`
}

type Kubernetes struct {
	Disabled   bool   `yaml:"disabled" env-default:"false" env:"K8S_DISABLED" env-description:"skip the Kubernetes API and use kubectl for live pod status"`
	Kubeconfig string `yaml:"kubeconfig" env:"KUBE_CONFIG_LOCATION" env-description:"kubeconfig file, in-cluster config when empty"`
}

type Cleanup struct {
	Disabled  bool          `yaml:"disabled" env-default:"false" env:"CLEANUP_DISABLED" env-description:"leave leftover processes alone on exit"`
	Grace     time.Duration `yaml:"grace" env-default:"2s" env:"CLEANUP_GRACE" env-description:"delay between SIGTERM and SIGKILL"`
	Processes []string      `yaml:"processes" env-default:"tar,gzip,pigz" env:"CLEANUP_PROCESSES" env-separator:"," env-description:"extraction tools to terminate"`
}

// NewSettings loads every file in order; later files override earlier ones.
// With no files, defaults and the environment apply.
func NewSettings(configFiles ...string) (*Settings, error) {
	var cfg Settings

	if configFiles == nil {
		configFiles = []string{}
	}

	loaded := false
	for _, cfgFile := range configFiles {
		if cfgFile == "" {
			continue
		}
		if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("no config file %s: %w", cfgFile, err)
		}
		if err := cleanenv.ReadConfig(cfgFile, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from %s: %w", cfgFile, err)
		}
		loaded = true
	}

	if !loaded {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from environment: %w", err)
		}
	}
	return &cfg, nil
}

func (s *Settings) Validate() error {
	if err := s.Node.Validate(); err != nil {
		return err
	}
	if err := s.Paths.Validate(); err != nil {
		return err
	}
	if err := s.Collection.Validate(); err != nil {
		return err
	}
	if err := s.Extraction.Validate(); err != nil {
		return err
	}
	if err := s.Commands.Validate(); err != nil {
		return err
	}
	if err := s.Checks.Validate(); err != nil {
		return err
	}
	if err := s.Logging.Validate(); err != nil {
		return err
	}
	return nil
}

func (n *Node) Validate() error {
	n.Name = strings.TrimSpace(n.Name)
	if n.Name == "" {
		return errors.New("node name is required")
	}
	// the name becomes a directory below the base dir that extraction wipes
	if strings.ContainsAny(n.Name, "/\\") || n.Name == "." || n.Name == ".." || filepath.Base(n.Name) != n.Name {
		return fmt.Errorf("node name %q must be a plain file name", n.Name)
	}
	return nil
}

func (p *Paths) Validate() error {
	if p.BaseDir == "" {
		p.BaseDir = DefaultBaseDir
	}
	if p.ArchiveDir == "" {
		p.ArchiveDir = DefaultArchiveDir
	}
	if p.ArchiveGlob == "" {
		p.ArchiveGlob = DefaultArchiveGlob
	}
	p.BaseDir = filepath.Clean(p.BaseDir)
	p.ArchiveDir = filepath.Clean(p.ArchiveDir)
	return nil
}

func (c *Collection) Validate() error {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = ModeGenerate
	}
	if c.Mode != ModeGenerate && c.Mode != ModeSelect {
		return fmt.Errorf("unknown mode %q, expected %s or %s", c.Mode, ModeGenerate, ModeSelect)
	}
	if c.Timeout <= 0 || c.StabilizeTimeout <= 0 || c.PollInterval <= 0 {
		return errors.New("collection timeouts must be positive")
	}
	if c.StabilityWindow < 0 {
		return errors.New("collection stability window cannot be negative")
	}
	return nil
}

func (e *Extraction) Validate() error {
	if e.Timeout <= 0 || e.NestedTimeout <= 0 {
		return errors.New("extraction timeouts must be positive")
	}
	if e.SpaceFactor <= 0 {
		e.SpaceFactor = 2
	}
	return nil
}

func (c *Commands) Validate() error {
	for name, v := range map[string]string{
		"collect": c.Collect, "collect_legacy": c.CollectLegacy, "show_nodes": c.ShowNodes,
		"version": c.Version, "health": c.Health, "disk_free": c.DiskFree,
		"kubectl": c.Kubectl, "ping": c.Ping, "tar": c.Tar,
	} {
		if len(strings.Fields(v)) == 0 {
			return fmt.Errorf("command %s cannot be empty", name)
		}
	}
	if c.QueryTimeout <= 0 {
		return errors.New("query timeout must be positive")
	}
	if c.PingWorkers <= 0 {
		c.PingWorkers = 1
	}
	return nil
}

func (c *Checks) Validate() error {
	if c.DiskThreshold <= 0 || c.DiskThreshold > 100 {
		return fmt.Errorf("disk threshold %d must be within 1..100", c.DiskThreshold)
	}
	enabled := make([]string, 0, len(c.Enabled))
	for _, name := range c.Enabled {
		name = strings.TrimSpace(name)
		if name != "" && !slices.Contains(enabled, name) {
			enabled = append(enabled, name)
		}
	}
	c.Enabled = enabled
	return nil
}

func (l *Logging) Validate() error {
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	if l.Level == "" {
		l.Level = "info"
	}
	switch l.Format {
	case "", "json":
		l.Format = "json"
	case "text":
	default:
		return fmt.Errorf("unknown log format %q", l.Format)
	}
	return nil
}

// ArchivePattern returns the glob used to find this node's archives.
func (s *Settings) ArchivePattern() string {
	return strings.ReplaceAll(s.Paths.ArchiveGlob, "{node}", s.Node.Name)
}

// ExtractDir is where this node's evidence is extracted.
func (s *Settings) ExtractDir() string {
	return filepath.Join(s.Paths.BaseDir, s.Node.Name)
}

// ResultsFile is the aggregate document.
func (s *Settings) ResultsFile() string {
	return filepath.Join(s.Paths.BaseDir, s.Node.Name+"_results.json")
}

// StatusFile is the heartbeat document.
func (s *Settings) StatusFile() string {
	return filepath.Join(s.Paths.BaseDir, s.Node.Name+"_status.json")
}

// LockFile guards against concurrent runs on the same node.
func (s *Settings) LockFile() string {
	return filepath.Join(s.Paths.BaseDir, s.Node.Name+".lock")
}

// MetricsFile is the textfile collector output.
func (s *Settings) MetricsFile() string {
	if s.Metrics.Path != "" {
		return s.Metrics.Path
	}
	return filepath.Join(s.Paths.BaseDir, s.Node.Name+"_checks.prom")
}

func (s *Settings) ToYAML() ([]byte, error) {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode into yaml: %w", err)
	}
	return raw, nil
}

// ToBytes returns a serialized representation of the data in the class
func (s *Settings) ToBytes() ([]byte, error) {
	return s.ToYAML()
}

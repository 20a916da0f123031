// Package config handles configuration and the .cdm directory structure.
// Every workspace that releases contracts gets a .cdm/ folder in its root.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// CDMDir is the name of the directory created in each workspace.
	CDMDir = ".cdm"

	defaultTarget    = "local"
	defaultCargo     = "cargo"
	defaultTargetDir = "target"
	defaultManifest  = "contracts.yaml"
)

const defaultProjectConfigYAML = `# contract dependency manager configuration
version: 1

# Release target used when --target is not given. Built-in targets:
# polkadot, paseo, preview-net, local.
target: local

# Custom targets override or extend the built-in ones.
# targets:
#   staging:
#     assethub: wss://staging.example.com/asset-hub
#     bulletin: wss://staging.example.com/bulletin
#     ipfs_gateway: https://staging.example.com/ipfs
#     registry: "0x..."

build:
  cargo: cargo
  target_dir: target
  manifest: contracts.yaml

log:
  level: info
  format: text

status_bridge:
  enabled: false
  host: 127.0.0.1
  port: 8766
`

// TargetConfig describes the endpoints of one release target.
type TargetConfig struct {
	AssetHub    string `yaml:"assethub"`
	Bulletin    string `yaml:"bulletin"`
	IPFSGateway string `yaml:"ipfs_gateway"`
	Registry    string `yaml:"registry,omitempty"`
}

// BuildConfig configures the contract toolchain.
type BuildConfig struct {
	Cargo     string `yaml:"cargo"`
	TargetDir string `yaml:"target_dir"`
	Manifest  string `yaml:"manifest"`
}

// LogConfig configures the file logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StatusBridgeConfig configures the optional HTTP status bridge.
type StatusBridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// ProjectConfig models .cdm/config.yaml.
type ProjectConfig struct {
	Version      int                     `yaml:"version"`
	Target       string                  `yaml:"target"`
	Targets      map[string]TargetConfig `yaml:"targets,omitempty"`
	Build        BuildConfig             `yaml:"build"`
	Log          LogConfig               `yaml:"log"`
	StatusBridge StatusBridgeConfig      `yaml:"status_bridge"`
}

// Config holds the runtime configuration for one workspace.
type Config struct {
	// ProjectDir is the workspace root.
	ProjectDir string

	// CDMProjectDir is ProjectDir/.cdm
	CDMProjectDir string

	Project ProjectConfig
}

// InitProjectDir creates the .cdm directory structure in the given workspace.
//
// Structure created:
// .cdm/
// ├── config.yaml
// ├── logs/       <- file logs of each run
// └── releases/   <- run reports, one directory per target hash
func InitProjectDir(projectDir string) error {
	cdmDir := filepath.Join(projectDir, CDMDir)
	dirs := []string{
		filepath.Join(cdmDir, "logs"),
		filepath.Join(cdmDir, "releases"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(cdmDir, "config.yaml"))
}

// NewConfig loads the workspace config, applying defaults and environment
// overrides. A missing config file yields the defaults.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:    projectDir,
		CDMProjectDir: filepath.Join(projectDir, CDMDir),
		Project:       defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.Project.applyEnvOverrides()
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.CDMProjectDir, "logs")
}

// ReleasesDir returns the path to the run reports directory.
func (c *Config) ReleasesDir() string {
	return filepath.Join(c.CDMProjectDir, "releases")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.CDMProjectDir, "config.yaml")
}

// ManifestPath returns the contracts manifest location.
func (c *Config) ManifestPath() string {
	return c.Project.Build.Manifest
}

// TargetDir returns the build output directory.
func (c *Config) TargetDir() string {
	return c.Project.Build.TargetDir
}

// CargoBinary returns the cargo executable to run.
func (c *Config) CargoBinary() string {
	return c.Project.Build.Cargo
}

// Target resolves a release target by name, falling back to the configured
// default when name is empty. Workspace targets shadow built-in presets.
func (c *Config) Target(name string) (Target, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.Project.Target
	}
	settings, ok := c.Project.Targets[name]
	if !ok {
		settings, ok = presets[name]
	}
	if !ok {
		return Target{}, fmt.Errorf("config: unknown target %q (known: %s)", name, strings.Join(c.TargetNames(), ", "))
	}
	if registry := strings.TrimSpace(os.Getenv(EnvRegistry)); registry != "" {
		settings.Registry = registry
	}
	return Target{Name: name, TargetConfig: settings}, nil
}

// TargetNames lists built-in and workspace target names sorted.
func (c *Config) TargetNames() []string {
	set := map[string]struct{}{}
	for name := range presets {
		set[name] = struct{}{}
	}
	for name := range c.Project.Targets {
		set[name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetDefaultTarget updates the default target and persists it to
// .cdm/config.yaml.
func (c *Config) SetDefaultTarget(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("config: target name is required")
	}
	if _, err := c.Target(name); err != nil {
		return err
	}
	c.Project.Target = name
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.Project.normalize(c.ProjectDir)
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Target) == "" {
		pc.Target = defaultTarget
	}
	if pc.Build.Cargo == "" {
		pc.Build.Cargo = defaultCargo
	}
	if pc.Build.TargetDir == "" {
		pc.Build.TargetDir = defaultTargetDir
	}
	if pc.Build.Manifest == "" {
		pc.Build.Manifest = defaultManifest
	}
	if pc.Log.Level == "" {
		pc.Log.Level = "info"
	}
	if pc.Log.Format == "" {
		pc.Log.Format = "text"
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Target = strings.TrimSpace(pc.Target)
	pc.Build.Cargo = strings.TrimSpace(pc.Build.Cargo)
	pc.Build.TargetDir = resolvePath(base, pc.Build.TargetDir)
	pc.Build.Manifest = resolvePath(base, pc.Build.Manifest)
	pc.Log.Level = strings.ToLower(strings.TrimSpace(pc.Log.Level))
	pc.Log.Format = strings.ToLower(strings.TrimSpace(pc.Log.Format))
	for name, target := range pc.Targets {
		target.AssetHub = strings.TrimSpace(target.AssetHub)
		target.Bulletin = strings.TrimSpace(target.Bulletin)
		target.IPFSGateway = strings.TrimRight(strings.TrimSpace(target.IPFSGateway), "/")
		target.Registry = strings.TrimSpace(target.Registry)
		pc.Targets[name] = target
	}
}

func (pc *ProjectConfig) applyEnvOverrides() {
	if target := strings.TrimSpace(os.Getenv(EnvTarget)); target != "" {
		pc.Target = target
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		pc.Log.Level = strings.ToLower(level)
	}
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Target == "" {
		return fmt.Errorf("target is required")
	}
	for name, target := range pc.Targets {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("targets: name is required")
		}
		if target.AssetHub == "" {
			return fmt.Errorf("targets[%s]: assethub is required", name)
		}
	}
	switch pc.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch pc.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.CDMProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure cdm dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}

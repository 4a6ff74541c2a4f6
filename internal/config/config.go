// Package config loads the updater configuration from defaults, an optional
// YAML file and LIGHTHOUSE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/melih/lighthouse-updater/internal/core/domain"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. LIGHTHOUSE_REGISTRY_URL.
const EnvPrefix = "lighthouse"

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Runtime     RuntimeConfig     `mapstructure:"runtime"`
	Environment EnvironmentConfig `mapstructure:"environment"`
	Version     VersionConfig     `mapstructure:"version"`
	Preflight   PreflightConfig   `mapstructure:"preflight"`
	Update      UpdateConfig      `mapstructure:"update"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

type RegistryConfig struct {
	// Kind selects the tag API: "hub" (Docker Hub shape) or "oci" (distribution tags/list).
	Kind       string        `mapstructure:"kind"`
	URL        string        `mapstructure:"url"`
	Repository string        `mapstructure:"repository"`
	PageSize   int           `mapstructure:"page_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Attempts   int           `mapstructure:"attempts"`
	// Constraint restricts updates to a semver range, e.g. "< 2.0.0".
	Constraint string `mapstructure:"constraint"`
}

type RuntimeConfig struct {
	// Driver is "cli" (docker/podman binary) or "api" (Docker Engine API).
	Driver         string        `mapstructure:"driver"`
	Binary         string        `mapstructure:"binary"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	PullTimeout    time.Duration `mapstructure:"pull_timeout"`
}

type EnvironmentConfig struct {
	ContainerName string `mapstructure:"container_name"`
	Signature     string `mapstructure:"signature"`
}

type VersionConfig struct {
	// Current overrides the detected local version. Also read from LIGHTHOUSE_VERSION.
	Current  string `mapstructure:"current"`
	Manifest string `mapstructure:"manifest"`
	// GitPath enables the git checkout version source when set.
	GitPath string `mapstructure:"git_path"`
}

type PreflightConfig struct {
	DiskPath     string  `mapstructure:"disk_path"`
	MaxDiskUsage float64 `mapstructure:"max_disk_usage"`
}

type UpdateConfig struct {
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	ValidationInterval time.Duration `mapstructure:"validation_interval"`
	ValidationTimeout  time.Duration `mapstructure:"validation_timeout"`
	CleanupDelay       time.Duration `mapstructure:"cleanup_delay"`
	CleanupRetryDelay  time.Duration `mapstructure:"cleanup_retry_delay"`
	CleanupAttempts    int           `mapstructure:"cleanup_attempts"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"server.listen": ":3000",

	"registry.kind":       "hub",
	"registry.url":        "https://hub.docker.com",
	"registry.repository": "melih/lighthouse",
	"registry.page_size":  100,
	"registry.timeout":    10 * time.Second,
	"registry.attempts":   3,
	"registry.constraint": "",

	"runtime.driver":          "cli",
	"runtime.binary":          "docker",
	"runtime.command_timeout": 60 * time.Second,
	"runtime.pull_timeout":    10 * time.Minute,

	"environment.container_name": "",
	"environment.signature":      "docker",

	"version.current":  "",
	"version.manifest": "/app/version.json",
	"version.git_path": "",

	"preflight.disk_path":      "/",
	"preflight.max_disk_usage": 0.90,

	"update.settle_delay":        5 * time.Second,
	"update.validation_interval": 2 * time.Second,
	"update.validation_timeout":  60 * time.Second,
	"update.cleanup_delay":       10 * time.Minute,
	"update.cleanup_retry_delay": 30 * time.Second,
	"update.cleanup_attempts":    3,

	"log.level":  "info",
	"log.format": "text",
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// The current-version override predates the config file layout.
	_ = v.BindEnv(append([]string{"version.current"}, domain.VersionEnvKeys...)...)
	return v
}

// Load reads the optional config file at path into v and decodes the result.
func Load(v *viper.Viper, path string) (Config, error) {
	var cfg Config
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		log.Debugf("Loaded config file %s", v.ConfigFileUsed())
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Registry.Repository == "" {
		add("registry.repository is required")
	}
	switch c.Registry.Kind {
	case "hub", "oci":
	default:
		add("registry.kind must be hub or oci, got %q", c.Registry.Kind)
	}
	if c.Registry.Kind == "hub" && c.Registry.URL == "" {
		add("registry.url is required for hub registries")
	}
	if c.Registry.Attempts < 1 {
		add("registry.attempts must be at least 1")
	}
	switch c.Runtime.Driver {
	case "cli", "api":
	default:
		add("runtime.driver must be cli or api, got %q", c.Runtime.Driver)
	}
	if c.Runtime.Driver == "cli" && c.Runtime.Binary == "" {
		add("runtime.binary is required for the cli driver")
	}
	if u := c.Preflight.MaxDiskUsage; u <= 0 || u > 1 {
		add("preflight.max_disk_usage must be in (0, 1], got %v", u)
	}
	if c.Update.ValidationTimeout <= 0 {
		add("update.validation_timeout must be positive")
	}
	if c.Update.CleanupDelay < 0 {
		add("update.cleanup_delay must not be negative")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete dittoclient configuration.
//
// This structure captures:
//   - The remote endpoint and the principal operations run as
//   - Local staging and overwrite behavior for transfers
//   - Logging, timeouts, bandwidth limiting and metrics
//   - Driver-specific settings, one section per backend
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOCLIENT_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each driver decodes its own section with mapstructure. Only the section
// matching the endpoint scheme is used.
type Config struct {
	// Endpoint is the remote service URI, e.g. nfs://host:2049/export or
	// s3://bucket/prefix. The scheme selects the driver.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" validate:"required,endpoint"`

	// Principal is the identity operations are performed as
	Principal string `mapstructure:"principal" yaml:"principal" validate:"required"`

	// StagingDir holds partial downloads until they complete.
	// Empty stages next to the destination file.
	StagingDir string `mapstructure:"staging_dir" yaml:"staging_dir"`

	// OverwritePolicy controls what uploads and downloads do when the
	// target exists
	// Valid values: overwrite, exclusive
	OverwritePolicy string `mapstructure:"overwrite_policy" yaml:"overwrite_policy" validate:"required,oneof=overwrite exclusive"`

	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Timeouts bound connection setup and individual requests
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`

	// RateLimit caps transfer bandwidth
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Backends contains the driver-specific sections
	Backends BackendsConfig `mapstructure:"backends" yaml:"backends"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// TimeoutsConfig bounds blocking network calls. Zero disables a timeout.
type TimeoutsConfig struct {
	// Connect bounds connection establishment
	Connect time.Duration `mapstructure:"connect" yaml:"connect" validate:"gte=0"`

	// IO bounds each request to the service
	IO time.Duration `mapstructure:"io" yaml:"io" validate:"gte=0"`
}

// RateLimitConfig caps the bytes per second moved by transfers and streams.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BytesPerSecond is the sustained rate
	BytesPerSecond uint `mapstructure:"bytes_per_second" yaml:"bytes_per_second"`

	// Burst is the largest amount moved without waiting.
	// Zero means one second worth of bytes.
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

// MetricsConfig controls Prometheus metrics collection.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Addr is the listen address of the /metrics endpoint while a command
	// runs. Empty collects without serving.
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// BackendsConfig contains one settings section per driver.
//
// The sections are passed to the driver as is; each driver documents and
// decodes its own keys.
type BackendsConfig struct {
	// NFS contains nfs:// settings (uid, gid, mount_port, read_size,
	// write_size, export)
	NFS map[string]any `mapstructure:"nfs" yaml:"nfs"`

	// S3 contains s3:// settings (region, endpoint, access_key_id,
	// secret_access_key, force_path_style, part_size, max_retries,
	// list_page_size)
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`

	// Badger contains badger:// settings (in_memory, sync_writes,
	// chunk_size, block_cache_size_mb, index_cache_size_mb)
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// Local contains file:// settings (create_root, block_size)
	Local map[string]any `mapstructure:"local" yaml:"local"`

	// Memory contains mem:// settings (block_size)
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`
}

// Schemes lists the endpoint schemes a configuration may name.
var Schemes = []string{"nfs", "s3", "badger", "file", "mem"}

// BackendSettings returns the driver section for an endpoint scheme, or nil
// for an unknown scheme.
func (c *Config) BackendSettings(scheme string) map[string]any {
	switch scheme {
	case "nfs":
		return c.Backends.NFS
	case "s3":
		return c.Backends.S3
	case "badger":
		return c.Backends.Badger
	case "file":
		return c.Backends.Local
	case "mem":
		return c.Backends.Memory
	}
	return nil
}

// EndpointURL parses Endpoint.
func (c *Config) EndpointURL() (*url.URL, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("endpoint %q: missing scheme", c.Endpoint)
	}
	return u, nil
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOCLIENT_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	cfg, err := LoadUnvalidated(configPath)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadUnvalidated is Load without the final validation, for callers that
// still apply command line overrides before calling Validate.
func LoadUnvalidated(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// envKeys are bound explicitly so they apply even without a config file;
// AutomaticEnv alone only overrides keys viper already knows.
var envKeys = []string{
	"endpoint",
	"principal",
	"staging_dir",
	"overwrite_policy",
	"logging.level",
	"logging.format",
	"logging.output",
	"timeouts.connect",
	"timeouts.io",
	"rate_limit.enabled",
	"rate_limit.bytes_per_second",
	"rate_limit.burst",
	"metrics.enabled",
	"metrics.addr",
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOCLIENT_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOCLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittoclient/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittoclient")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittoclient")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}

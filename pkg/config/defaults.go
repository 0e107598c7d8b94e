package config

import (
	"os/user"
	"strings"
	"time"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultIOTimeout      = 30 * time.Second
	DefaultEndpoint       = "nfs://localhost:2049/export"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Endpoint and principal have no default here; they are required
//   - Driver-specific defaults are handled by the drivers
func ApplyDefaults(cfg *Config) {
	if cfg.OverwritePolicy == "" {
		cfg.OverwritePolicy = "overwrite"
	}
	cfg.OverwritePolicy = strings.ToLower(cfg.OverwritePolicy)

	applyLoggingDefaults(&cfg.Logging)
	applyTimeoutDefaults(&cfg.Timeouts)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	// Command output goes to stdout, so logs default to stderr.
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyTimeoutDefaults(cfg *TimeoutsConfig) {
	if cfg.Connect == 0 {
		cfg.Connect = DefaultConnectTimeout
	}
	if cfg.IO == 0 {
		cfg.IO = DefaultIOTimeout
	}
}

// GetDefaultConfig returns a Config with all default values applied and
// example driver sections filled in.
//
// This is used for generating sample configuration files and documentation.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Endpoint:  DefaultEndpoint,
		Principal: defaultPrincipal(),
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Backends: BackendsConfig{
			NFS: map[string]any{
				"uid":        0,
				"gid":        0,
				"mount_port": 0,
				"read_size":  0,
				"write_size": 0,
			},
			S3: map[string]any{
				"region":           "us-east-1",
				"endpoint":         "",
				"force_path_style": false,
				"part_size":        5 * 1024 * 1024,
				"max_retries":      10,
			},
			Badger: map[string]any{
				"in_memory":   false,
				"sync_writes": false,
				"chunk_size":  64 * 1024,
			},
			Local: map[string]any{
				"create_root": true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}

func defaultPrincipal() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "nobody"
}

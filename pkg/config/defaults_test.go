package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Empty(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.OverwritePolicy != "overwrite" {
		t.Errorf("Expected overwrite policy 'overwrite', got %q", cfg.OverwritePolicy)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Timeouts.Connect != DefaultConnectTimeout || cfg.Timeouts.IO != DefaultIOTimeout {
		t.Errorf("Unexpected timeouts: %+v", cfg.Timeouts)
	}
	if cfg.Endpoint != "" || cfg.Principal != "" {
		t.Error("Endpoint and principal must not get defaults")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		OverwritePolicy: "exclusive",
		Logging:         LoggingConfig{Level: "warn", Format: "json", Output: "/var/log/dittoclient.log"},
		Timeouts:        TimeoutsConfig{Connect: time.Second, IO: 2 * time.Second},
	}
	ApplyDefaults(cfg)

	if cfg.OverwritePolicy != "exclusive" {
		t.Errorf("Expected policy preserved, got %q", cfg.OverwritePolicy)
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level normalized to 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Output != "/var/log/dittoclient.log" {
		t.Errorf("Expected logging preserved, got %+v", cfg.Logging)
	}
	if cfg.Timeouts.Connect != time.Second || cfg.Timeouts.IO != 2*time.Second {
		t.Errorf("Expected timeouts preserved, got %+v", cfg.Timeouts)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
}

func TestGetDefaultConfig_HasBackendSections(t *testing.T) {
	cfg := GetDefaultConfig()

	for _, scheme := range []string{"nfs", "s3", "badger", "file"} {
		if cfg.BackendSettings(scheme) == nil {
			t.Errorf("Expected a default %s section", scheme)
		}
	}
	if cfg.BackendSettings("ftp") != nil {
		t.Error("Expected no section for an unknown scheme")
	}
}

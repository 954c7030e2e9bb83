// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"time"
)

// UlsConfig is the effective ulsctl configuration.
//
// Every field carries a koanf tag for layered loading, a yaml tag for the
// default file, and validate tags checked after loading.
type UlsConfig struct {
	Project   ProjectConfig   `koanf:"project" yaml:"project"`
	Compose   ComposeConfig   `koanf:"compose" yaml:"compose"`
	Paths     PathsConfig     `koanf:"paths" yaml:"paths"`
	Services  ServicesConfig  `koanf:"services" yaml:"services"`
	Volumes   []string        `koanf:"volumes" yaml:"volumes" validate:"dive,required"`
	Database  DatabaseConfig  `koanf:"database" yaml:"database"`
	Source    SourceConfig    `koanf:"source" yaml:"source"`
	Health    HealthConfig    `koanf:"health" yaml:"health"`
	Scheduler SchedulerConfig `koanf:"scheduler" yaml:"scheduler"`
	Sanity    SanityConfig    `koanf:"sanity" yaml:"sanity"`
	Metrics   MetricsConfig   `koanf:"metrics" yaml:"metrics"`
	Telemetry TelemetryConfig `koanf:"telemetry" yaml:"telemetry"`
	Logging   LoggingConfig   `koanf:"logging" yaml:"logging"`
}

type ProjectConfig struct {
	Name string `koanf:"name" yaml:"name" validate:"required"`
}

// ComposeConfig locates the stack definition.
type ComposeConfig struct {
	StackDir string `koanf:"stack_dir" yaml:"stack_dir" validate:"required"`
	File     string `koanf:"file" yaml:"file" validate:"required"`
	Binary   string `koanf:"binary" yaml:"binary" validate:"required"`
}

// PathsConfig holds host paths. A leading ~ is expanded.
type PathsConfig struct {
	StateDir   string `koanf:"state_dir" yaml:"state_dir" validate:"required"`
	SecretsDir string `koanf:"secrets_dir" yaml:"secrets_dir" validate:"required"`
	CacheDir   string `koanf:"cache_dir" yaml:"cache_dir" validate:"required"`
}

type ServicesConfig struct {
	// Storage is health-gated before ingestion.
	Storage string `koanf:"storage" yaml:"storage" validate:"required"`

	// Dependent services start after privileges converge.
	Dependent []string `koanf:"dependent" yaml:"dependent" validate:"dive,required"`

	// Containers overrides container names used for health queries.
	Containers map[string]string `koanf:"containers" yaml:"containers,omitempty"`
}

// DatabaseConfig addresses the storage service from the host.
type DatabaseConfig struct {
	Host         string        `koanf:"host" yaml:"host" validate:"required"`
	Port         int           `koanf:"port" yaml:"port" validate:"min=1,max=65535"`
	Name         string        `koanf:"name" yaml:"name" validate:"required"`
	User         string        `koanf:"user" yaml:"user" validate:"required"`
	AdminUser    string        `koanf:"admin_user" yaml:"admin_user" validate:"required"`
	ReadOnlyUser string        `koanf:"readonly_user" yaml:"readonly_user" validate:"required"`
	ReadOnlyHost string        `koanf:"readonly_host" yaml:"readonly_host" validate:"required"`
	View         string        `koanf:"view" yaml:"view" validate:"required"`
	Timeout      time.Duration `koanf:"timeout" yaml:"timeout" validate:"gte=0"`
}

type SourceConfig struct {
	URL       string        `koanf:"url" yaml:"url" validate:"required,url"`
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout" validate:"gt=0"`
	UserAgent string        `koanf:"user_agent" yaml:"user_agent"`
}

// HealthConfig is the storage health-poll budget.
type HealthConfig struct {
	Attempts int           `koanf:"attempts" yaml:"attempts" validate:"min=1"`
	Interval time.Duration `koanf:"interval" yaml:"interval" validate:"gt=0"`
	LogTail  int           `koanf:"log_tail" yaml:"log_tail" validate:"min=0"`
}

type SchedulerConfig struct {
	Enabled  bool     `koanf:"enabled" yaml:"enabled"`
	Schedule string   `koanf:"schedule" yaml:"schedule" validate:"required,cronspec"`
	Args     []string `koanf:"args" yaml:"args"`
	LogPath  string   `koanf:"log_path" yaml:"log_path"`
}

// SanityConfig selects the verification gate: Command wins over URL; with
// neither, the gate is skipped.
type SanityConfig struct {
	Command []string `koanf:"command" yaml:"command,omitempty"`
	URL     string   `koanf:"url" yaml:"url" validate:"omitempty,url"`
	LogPath string   `koanf:"log_path" yaml:"log_path"`
}

type MetricsConfig struct {
	TextfilePath string `koanf:"textfile_path" yaml:"textfile_path"`
}

type TelemetryConfig struct {
	TraceFile string `koanf:"trace_file" yaml:"trace_file"`
}

type LoggingConfig struct {
	Level       string `koanf:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Dir         string `koanf:"dir" yaml:"dir"`
	JSON        bool   `koanf:"json" yaml:"json"`
	Personality string `koanf:"personality" yaml:"personality" validate:"omitempty,oneof=full standard minimal machine ci"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() UlsConfig {
	base := "~/.local/share/ulsctl"
	return UlsConfig{
		Project: ProjectConfig{Name: "uls"},
		Compose: ComposeConfig{
			StackDir: "~/uls",
			File:     "docker-compose.yml",
			Binary:   "docker",
		},
		Paths: PathsConfig{
			StateDir:   base + "/state",
			SecretsDir: base + "/secrets",
			CacheDir:   base + "/cache",
		},
		Services: ServicesConfig{
			Storage:   "mariadb",
			Dependent: []string{"api", "ui"},
		},
		Volumes: []string{"uls_mariadb_data", "uls_import_cache"},
		Database: DatabaseConfig{
			Host:         "127.0.0.1",
			Port:         3306,
			Name:         "uls",
			User:         "uls",
			AdminUser:    "root",
			ReadOnlyUser: "callbook_ro",
			ReadOnlyHost: "%",
			View:         "v_callbook",
			Timeout:      10 * time.Second,
		},
		Source: SourceConfig{
			URL:       "https://data.fcc.gov/download/pub/uls/complete/l_amat.zip",
			Timeout:   30 * time.Minute,
			UserAgent: "ulsctl",
		},
		Health: HealthConfig{
			Attempts: 90,
			Interval: 2 * time.Second,
			LogTail:  40,
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Schedule: "17 3 * * *",
			Args:     []string{"--ci"},
			LogPath:  base + "/logs/cron.log",
		},
		Sanity: SanityConfig{
			URL:     "http://127.0.0.1:8080/health",
			LogPath: base + "/logs/sanity.log",
		},
		Metrics:   MetricsConfig{},
		Telemetry: TelemetryConfig{},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   base + "/logs",
		},
	}
}

// ExpandPaths replaces a leading ~ in every path field.
func (c *UlsConfig) ExpandPaths() {
	for _, p := range []*string{
		&c.Compose.StackDir,
		&c.Paths.StateDir,
		&c.Paths.SecretsDir,
		&c.Paths.CacheDir,
		&c.Scheduler.LogPath,
		&c.Sanity.LogPath,
		&c.Metrics.TextfilePath,
		&c.Telemetry.TraceFile,
		&c.Logging.Dir,
	} {
		*p = expandHome(*p)
	}
}

// LedgerPath is the state document location.
func (c *UlsConfig) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "state.json")
}

// ImportLockPath is the ingestion lock file.
func (c *UlsConfig) ImportLockPath() string {
	return filepath.Join(c.Paths.StateDir, "import.lock")
}

func expandHome(p string) string {
	if p != "~" && !hasHomePrefix(p) {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}

func hasHomePrefix(p string) bool {
	return len(p) >= 2 && p[0] == '~' && p[1] == '/'
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the ulsctl configuration.
//
// Values are layered with koanf: built-in defaults, then the YAML file,
// then ULS_ environment variables. A double underscore separates
// sections, so ULS_DATABASE__PORT sets database.port.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	// EnvPrefix selects environment overrides.
	EnvPrefix = "ULS_"

	// PathEnvVar overrides the config file location.
	PathEnvVar = "ULSCTL_CONFIG"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// DefaultPath returns ~/.config/ulsctl/ulsctl.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ulsctl", "ulsctl.yaml"), nil
}

// ResolvePath picks the config file: explicit flag, then ULSCTL_CONFIG,
// then the default location.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return expandHome(explicit), nil
	}
	if p := os.Getenv(PathEnvVar); p != "" {
		return expandHome(p), nil
	}
	return DefaultPath()
}

// Load reads the effective configuration.
//
// # Description
//
// When the file at path does not exist it is created with the defaults,
// so operators have a documented starting point. Paths are ~-expanded and
// the result is validated.
//
// # Inputs
//
//   - path: Config file location, usually from ResolvePath.
//
// # Outputs
//
//   - *UlsConfig: The validated configuration.
//   - error: Load, parse or validation failure. Validation failures match
//     ErrInvalidConfig.
func Load(path string) (*UlsConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}

	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &UlsConfig{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.ExpandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps ULS_SOURCE__URL to source.url.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks struct tags and cross-field rules.
func (c *UlsConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
		}
		sort.Strings(msgs)
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
	}
	if c.Database.User == c.Database.ReadOnlyUser {
		return fmt.Errorf("%w: database.user and database.readonly_user must differ", ErrInvalidConfig)
	}
	return nil
}

// Marshal renders cfg as YAML. The configuration never holds credential
// values, so the output is safe to print.
func Marshal(cfg *UlsConfig) ([]byte, error) {
	return yamlv3.Marshal(cfg)
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yamlv3.Marshal(&defaultCfg)
	if err != nil {
		return err
	}
	header := []byte("# ulsctl configuration. Environment variables override: ULS_SECTION__KEY.\n")
	return os.WriteFile(path, append(header, data...), 0o644)
}

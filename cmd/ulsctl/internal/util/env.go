// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"fmt"
	"regexp"
	"sort"
)

var envVarKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrInvalidEnvVarKey is returned when an environment variable key is invalid.
var ErrInvalidEnvVarKey = fmt.Errorf("invalid environment variable key")

// EnvVar is a single environment variable passed to an external process.
//
// Sensitive values (database passwords handed to docker compose) are
// replaced by [REDACTED] in Redacted().
type EnvVar struct {
	Key       string
	Value     string
	Sensitive bool
}

// String returns KEY=VALUE.
func (e EnvVar) String() string {
	return fmt.Sprintf("%s=%s", e.Key, e.Value)
}

// Redacted returns KEY=[REDACTED] for sensitive vars, otherwise String().
func (e EnvVar) Redacted() string {
	if e.Sensitive {
		return fmt.Sprintf("%s=[REDACTED]", e.Key)
	}
	return e.String()
}

// Validate checks the key against POSIX naming.
func (e EnvVar) Validate() error {
	if !envVarKeyPattern.MatchString(e.Key) {
		return fmt.Errorf("%w: %q must match pattern [a-zA-Z_][a-zA-Z0-9_]*", ErrInvalidEnvVarKey, e.Key)
	}
	return nil
}

// EnvVars is an ordered, validated collection of environment variables.
//
// # Description
//
// The compose executor appends ToSlice() to the inherited environment so
// that the stack's compose file can reference the generated credentials.
// Later entries with the same key win.
//
// # Thread Safety
//
// EnvVars is NOT thread-safe. Build it once, then share read-only.
type EnvVars struct {
	vars []EnvVar
}

// NewEnvVars creates a validated collection.
func NewEnvVars(vars ...EnvVar) (*EnvVars, error) {
	for _, v := range vars {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return &EnvVars{vars: vars}, nil
}

// Add validates and appends a variable.
func (e *EnvVars) Add(v EnvVar) error {
	if err := v.Validate(); err != nil {
		return err
	}
	e.vars = append(e.vars, v)
	return nil
}

// Len returns the number of variables, counting duplicates.
func (e *EnvVars) Len() int {
	if e == nil {
		return 0
	}
	return len(e.vars)
}

// Get returns the last value set for key.
func (e *EnvVars) Get(key string) (string, bool) {
	if e == nil {
		return "", false
	}
	for i := len(e.vars) - 1; i >= 0; i-- {
		if e.vars[i].Key == key {
			return e.vars[i].Value, true
		}
	}
	return "", false
}

// ToSlice returns KEY=VALUE strings in insertion order, for exec.Cmd.Env.
func (e *EnvVars) ToSlice() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.vars))
	for i, v := range e.vars {
		out[i] = v.String()
	}
	return out
}

// RedactedSlice returns the log-safe rendering, sorted by key.
func (e *EnvVars) RedactedSlice() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.vars))
	for i, v := range e.vars {
		out[i] = v.Redacted()
	}
	sort.Strings(out)
	return out
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/infra/process"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/util"
)

// ErrInvalidConfig is returned by NewDefaultExecutor for unusable configuration.
var ErrInvalidConfig = errors.New("invalid compose configuration")

// ErrNoSuchContainer is returned by HealthStatus when the container does not exist.
var ErrNoSuchContainer = errors.New("no such container")

// Executor is the substrate adapter used by the Service Supervisor.
//
// # Description
//
// Wraps the docker compose CLI and the handful of plain docker commands the
// controller needs: start and stop by service name, volume removal by name,
// and a health query by container name. Results are interpreted from exit
// status and text; nothing here parses compose files.
//
// # Thread Safety
//
// Mutating operations (Up, Down, RemoveVolume) are serialized.
type Executor interface {
	// Up starts services detached. Empty Services means all services.
	Up(ctx context.Context, opts UpOptions) (*Result, error)

	// Down stops and removes the project's containers. Volumes are never
	// removed here; use RemoveVolume for named-volume scope.
	Down(ctx context.Context, opts DownOptions) (*Result, error)

	// Logs returns the last tail lines of a service's output.
	Logs(ctx context.Context, service string, tail int) (string, error)

	// RemoveVolume removes a named volume. removed is false when the volume
	// did not exist, which is not an error.
	RemoveVolume(ctx context.Context, name string) (removed bool, err error)

	// HealthStatus returns the container's health status ("healthy",
	// "starting", "unhealthy") or, when it has no healthcheck, its state
	// ("running", "exited", ...).
	HealthStatus(ctx context.Context, container string) (string, error)
}

// Config configures the executor.
type Config struct {
	// StackDir is the directory holding the compose file. Required.
	StackDir string

	// File is the compose file name relative to StackDir.
	// Default: "docker-compose.yml"
	File string

	// ProjectName is the compose project name.
	// Default: "uls"
	ProjectName string

	// Binary is the container CLI.
	// Default: "docker"
	Binary string

	// DefaultTimeout bounds each command.
	// Default: 5 minutes
	DefaultTimeout time.Duration
}

// UpOptions configures Up.
type UpOptions struct {
	Services []string

	// Env is appended to the inherited environment. Sensitive entries are
	// redacted in logs.
	Env *util.EnvVars

	Timeout time.Duration
}

// DownOptions configures Down.
type DownOptions struct {
	RemoveOrphans bool
	Timeout       time.Duration
}

// Result is the outcome of one compose command.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// DefaultExecutor implements Executor on top of process.Manager.
type DefaultExecutor struct {
	config Config
	proc   process.Manager
	mu     sync.Mutex
}

// NewDefaultExecutor creates an Executor.
//
// # Inputs
//
//   - cfg: StackDir is required; other fields are defaulted.
//   - proc: Command runner.
//
// # Outputs
//
//   - *DefaultExecutor: Ready executor.
//   - error: ErrInvalidConfig if StackDir is empty or proc is nil.
func NewDefaultExecutor(cfg Config, proc process.Manager) (*DefaultExecutor, error) {
	if cfg.StackDir == "" {
		return nil, fmt.Errorf("%w: StackDir is required", ErrInvalidConfig)
	}
	if proc == nil {
		return nil, fmt.Errorf("%w: process manager is required", ErrInvalidConfig)
	}
	if cfg.File == "" {
		cfg.File = "docker-compose.yml"
	}
	if cfg.ProjectName == "" {
		cfg.ProjectName = "uls"
	}
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	return &DefaultExecutor{config: cfg, proc: proc}, nil
}

// ComposeFile returns the absolute compose file path.
func (e *DefaultExecutor) ComposeFile() string {
	if filepath.IsAbs(e.config.File) {
		return e.config.File
	}
	return filepath.Join(e.config.StackDir, e.config.File)
}

// Up executes `docker compose up -d [services...]`.
func (e *DefaultExecutor) Up(ctx context.Context, opts UpOptions) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := append(e.composeArgs(), "up", "-d")
	args = append(args, opts.Services...)
	return e.runCompose(ctx, args, opts.Env, opts.Timeout)
}

// Down executes `docker compose down`.
func (e *DefaultExecutor) Down(ctx context.Context, opts DownOptions) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := append(e.composeArgs(), "down")
	if opts.RemoveOrphans {
		args = append(args, "--remove-orphans")
	}
	return e.runCompose(ctx, args, nil, opts.Timeout)
}

// Logs executes `docker compose logs --no-color --tail N service`.
func (e *DefaultExecutor) Logs(ctx context.Context, service string, tail int) (string, error) {
	if tail <= 0 {
		tail = 40
	}
	args := append(e.composeArgs(), "logs", "--no-color", "--tail", fmt.Sprint(tail), service)
	result, err := e.runCompose(ctx, args, nil, 0)
	if err != nil {
		return "", err
	}
	return result.Stdout + result.Stderr, nil
}

// RemoveVolume executes `docker volume rm name`.
func (e *DefaultExecutor) RemoveVolume(ctx context.Context, name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	_, err := e.proc.Run(ctx, e.config.Binary, "volume", "rm", name)
	if err == nil {
		slog.Info("volume removed", "volume", name)
		return true, nil
	}
	if isNotFound(util.ExtractStderr(err)) {
		slog.Debug("volume already absent", "volume", name)
		return false, nil
	}
	return false, fmt.Errorf("remove volume %s: %w", name, err)
}

// HealthStatus executes `docker inspect` on the container.
func (e *DefaultExecutor) HealthStatus(ctx context.Context, container string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out, err := e.proc.Run(ctx, e.config.Binary, "inspect", "--format",
		"{{if .State.Health}}{{.State.Health.Status}}{{else}}{{.State.Status}}{{end}}", container)
	if err != nil {
		if isNotFound(util.ExtractStderr(err)) {
			return "", fmt.Errorf("%w: %s", ErrNoSuchContainer, container)
		}
		return "", fmt.Errorf("inspect %s: %w", container, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (e *DefaultExecutor) composeArgs() []string {
	return []string{"compose", "-f", e.ComposeFile(), "-p", e.config.ProjectName}
}

func (e *DefaultExecutor) runCompose(ctx context.Context, args []string, env *util.EnvVars, timeout time.Duration) (*Result, error) {
	start := time.Now()
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	cmdStr := e.config.Binary + " " + strings.Join(args, " ")
	slog.Debug("executing compose command", "command", cmdStr, "env", env.RedactedSlice())

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := e.proc.RunInDir(execCtx, e.config.StackDir, env.ToSlice(), e.config.Binary, args...)
	result := &Result{
		Command:  cmdStr,
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
	}
	if err != nil {
		return result, fmt.Errorf("compose command failed: %w", err)
	}
	if exitCode != 0 {
		return result, util.NewCommandError(cmdStr, exitCode, stderr, nil)
	}
	return result, nil
}

func isNotFound(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such volume") ||
		strings.Contains(s, "no such container") ||
		strings.Contains(s, "no such object")
}

var _ Executor = (*DefaultExecutor)(nil)

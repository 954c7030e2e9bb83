// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package supervisor converges the managed services through the compose
// substrate: start and stop by name, bounded health polling, and named
// volume removal.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/infra/compose"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/util"
)

// ErrStorageUnhealthy is returned when a service never reports healthy
// within the poll budget.
var ErrStorageUnhealthy = errors.New("service did not become healthy")

// ErrServiceExited is returned when a polled container has stopped.
var ErrServiceExited = errors.New("service exited")

// HealthState is the observable health of a ServiceHandle.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthStarting  HealthState = "starting"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// ServiceHandle tracks one service for the duration of a controller run.
//
// Discarding the handle does not stop the service.
type ServiceHandle struct {
	Name      string
	Container string
	Managed   bool

	mu    sync.Mutex
	state HealthState
}

// State returns the last observed health.
func (h *ServiceHandle) State() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *ServiceHandle) setState(s HealthState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

// Supervisor is the Service Supervisor.
type Supervisor interface {
	// Start brings up a service and returns its handle in state starting.
	Start(ctx context.Context, service string, env *util.EnvVars) (*ServiceHandle, error)

	// StartAll brings up several services without waiting for health.
	StartAll(ctx context.Context, services []string, env *util.EnvVars) error

	// WaitHealthy polls until the handle reports healthy or the budget is spent.
	WaitHealthy(ctx context.Context, h *ServiceHandle) error

	// StopAll stops every managed service. No running services is not an error.
	StopAll(ctx context.Context) error

	// WipeVolumes removes the named volumes, returning those that existed.
	WipeVolumes(ctx context.Context, volumes []string) ([]string, error)

	// Diagnostics returns the tail of a service's logs, best effort.
	Diagnostics(ctx context.Context, service string) []string
}

// Config configures DefaultSupervisor.
type Config struct {
	// Containers maps service name to container name for health queries.
	// A service without an entry uses "<ProjectName>-<service>-1".
	Containers map[string]string

	ProjectName string

	// PollAttempts is the health-poll budget. Default: 90.
	PollAttempts int

	// PollInterval is the spacing between probes. Default: 2s.
	PollInterval time.Duration

	// LogTail is how many log lines Diagnostics returns. Default: 40.
	LogTail int
}

// DefaultSupervisor implements Supervisor over a compose.Executor.
type DefaultSupervisor struct {
	exec   compose.Executor
	config Config
	every  rate.Sometimes
}

// New creates a DefaultSupervisor.
func New(exec compose.Executor, cfg Config) *DefaultSupervisor {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 90
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LogTail <= 0 {
		cfg.LogTail = 40
	}
	if cfg.ProjectName == "" {
		cfg.ProjectName = "uls"
	}
	return &DefaultSupervisor{
		exec:   exec,
		config: cfg,
		every:  rate.Sometimes{First: 1, Every: 10},
	}
}

// ContainerFor resolves the container name used for health queries.
func (s *DefaultSupervisor) ContainerFor(service string) string {
	if c, ok := s.config.Containers[service]; ok && c != "" {
		return c
	}
	return fmt.Sprintf("%s-%s-1", s.config.ProjectName, service)
}

// Start executes compose up for one service.
func (s *DefaultSupervisor) Start(ctx context.Context, service string, env *util.EnvVars) (*ServiceHandle, error) {
	h := &ServiceHandle{Name: service, Container: s.ContainerFor(service), Managed: true, state: HealthUnknown}
	if _, err := s.exec.Up(ctx, compose.UpOptions{Services: []string{service}, Env: env}); err != nil {
		return h, fmt.Errorf("start %s: %w", service, err)
	}
	h.setState(HealthStarting)
	return h, nil
}

// StartAll executes one compose up for all services.
func (s *DefaultSupervisor) StartAll(ctx context.Context, services []string, env *util.EnvVars) error {
	if len(services) == 0 {
		return nil
	}
	if _, err := s.exec.Up(ctx, compose.UpOptions{Services: services, Env: env}); err != nil {
		return fmt.Errorf("start %s: %w", strings.Join(services, ", "), err)
	}
	return nil
}

// WaitHealthy polls the container health with a constant interval.
//
// # Description
//
// Probes up to PollAttempts times, PollInterval apart. A missing container
// or a "starting"/"unhealthy" report keeps polling, since the engine may
// still be initialising its data directory. An "exited" or "dead" container
// stops polling immediately.
//
// # Outputs
//
//   - error: nil once healthy. ErrStorageUnhealthy after the budget,
//     ErrServiceExited when the container stopped, or the context error.
func (s *DefaultSupervisor) WaitHealthy(ctx context.Context, h *ServiceHandle) error {
	attempt := 0
	var last string

	op := func() error {
		attempt++
		status, err := s.exec.HealthStatus(ctx, h.Container)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			last = err.Error()
			h.setState(HealthUnknown)
			return err
		}
		last = status

		switch status {
		case "healthy":
			h.setState(HealthHealthy)
			return nil
		case "running":
			// No healthcheck defined; running is the best available signal.
			h.setState(HealthHealthy)
			return nil
		case "exited", "dead":
			h.setState(HealthUnhealthy)
			return backoff.Permanent(fmt.Errorf("%w: %s is %s", ErrServiceExited, h.Container, status))
		case "unhealthy":
			h.setState(HealthUnhealthy)
		default:
			h.setState(HealthStarting)
		}
		return fmt.Errorf("%s is %s", h.Container, status)
	}

	notify := func(err error, wait time.Duration) {
		s.every.Do(func() {
			slog.Info("waiting for service health",
				"service", h.Name, "attempt", attempt, "max_attempts", s.config.PollAttempts, "status", last)
		})
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.config.PollInterval), uint64(s.config.PollAttempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(op, b, notify)
	if err == nil {
		slog.Info("service healthy", "service", h.Name, "attempts", attempt)
		return nil
	}
	if errors.Is(err, ErrServiceExited) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	h.setState(HealthUnhealthy)
	return fmt.Errorf("%w: %s after %d attempts (last status: %s)", ErrStorageUnhealthy, h.Name, attempt, last)
}

// StopAll executes compose down with orphan removal.
func (s *DefaultSupervisor) StopAll(ctx context.Context) error {
	if _, err := s.exec.Down(ctx, compose.DownOptions{RemoveOrphans: true}); err != nil {
		return fmt.Errorf("stop services: %w", err)
	}
	return nil
}

// WipeVolumes removes each named volume. Absent volumes are skipped; the
// first real failure is returned after all volumes were attempted.
func (s *DefaultSupervisor) WipeVolumes(ctx context.Context, volumes []string) ([]string, error) {
	var removed []string
	var errs []error
	for _, v := range volumes {
		ok, err := s.exec.RemoveVolume(ctx, v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed = append(removed, v)
		}
	}
	return removed, errors.Join(errs...)
}

// Diagnostics returns the last LogTail non-blank log lines of service.
func (s *DefaultSupervisor) Diagnostics(ctx context.Context, service string) []string {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out, err := s.exec.Logs(ctx, service, s.config.LogTail)
	if err != nil {
		slog.Debug("could not collect service logs", "service", service, "error", err)
		return nil
	}
	return util.TailLines(out, s.config.LogTail)
}

var _ Supervisor = (*DefaultSupervisor)(nil)

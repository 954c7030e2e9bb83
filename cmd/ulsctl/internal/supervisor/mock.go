// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"context"
	"strings"
	"sync"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/util"
)

// MockSupervisor is a recording test double for Supervisor.
//
// Nil function fields succeed. WipeVolumes reports every requested volume
// as removed by default.
type MockSupervisor struct {
	StartFunc       func(ctx context.Context, service string, env *util.EnvVars) (*ServiceHandle, error)
	StartAllFunc    func(ctx context.Context, services []string, env *util.EnvVars) error
	WaitHealthyFunc func(ctx context.Context, h *ServiceHandle) error
	StopAllFunc     func(ctx context.Context) error
	WipeVolumesFunc func(ctx context.Context, volumes []string) ([]string, error)
	DiagnosticsFunc func(ctx context.Context, service string) []string

	mu      sync.Mutex
	calls   []string
	lastEnv *util.EnvVars
}

func (m *MockSupervisor) record(call string, env *util.EnvVars) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, strings.TrimSpace(call))
	if env != nil {
		m.lastEnv = env
	}
}

// Calls returns recorded calls as "Method arg..." strings.
func (m *MockSupervisor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// LastEnv returns the environment passed to the most recent start.
func (m *MockSupervisor) LastEnv() *util.EnvVars {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastEnv
}

func (m *MockSupervisor) Start(ctx context.Context, service string, env *util.EnvVars) (*ServiceHandle, error) {
	m.record("Start "+service, env)
	if m.StartFunc != nil {
		return m.StartFunc(ctx, service, env)
	}
	return &ServiceHandle{Name: service, Container: service, Managed: true, state: HealthStarting}, nil
}

func (m *MockSupervisor) StartAll(ctx context.Context, services []string, env *util.EnvVars) error {
	m.record("StartAll "+strings.Join(services, " "), env)
	if m.StartAllFunc != nil {
		return m.StartAllFunc(ctx, services, env)
	}
	return nil
}

func (m *MockSupervisor) WaitHealthy(ctx context.Context, h *ServiceHandle) error {
	m.record("WaitHealthy "+h.Name, nil)
	if m.WaitHealthyFunc != nil {
		return m.WaitHealthyFunc(ctx, h)
	}
	h.setState(HealthHealthy)
	return nil
}

func (m *MockSupervisor) StopAll(ctx context.Context) error {
	m.record("StopAll", nil)
	if m.StopAllFunc != nil {
		return m.StopAllFunc(ctx)
	}
	return nil
}

func (m *MockSupervisor) WipeVolumes(ctx context.Context, volumes []string) ([]string, error) {
	m.record("WipeVolumes "+strings.Join(volumes, " "), nil)
	if m.WipeVolumesFunc != nil {
		return m.WipeVolumesFunc(ctx, volumes)
	}
	return volumes, nil
}

func (m *MockSupervisor) Diagnostics(ctx context.Context, service string) []string {
	m.record("Diagnostics "+service, nil)
	if m.DiagnosticsFunc != nil {
		return m.DiagnosticsFunc(ctx, service)
	}
	return nil
}

var _ Supervisor = (*MockSupervisor)(nil)

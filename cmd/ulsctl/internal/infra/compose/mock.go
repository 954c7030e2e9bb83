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
	"strings"
	"sync"
)

// MockExecutor is a recording test double for Executor.
//
// Nil function fields succeed with empty results.
type MockExecutor struct {
	UpFunc           func(ctx context.Context, opts UpOptions) (*Result, error)
	DownFunc         func(ctx context.Context, opts DownOptions) (*Result, error)
	LogsFunc         func(ctx context.Context, service string, tail int) (string, error)
	RemoveVolumeFunc func(ctx context.Context, name string) (bool, error)
	HealthStatusFunc func(ctx context.Context, container string) (string, error)

	mu    sync.Mutex
	calls []string
}

func (m *MockExecutor) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

// Calls returns recorded calls as "Method arg..." strings.
func (m *MockExecutor) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockExecutor) Up(ctx context.Context, opts UpOptions) (*Result, error) {
	m.record(strings.TrimSpace("Up " + strings.Join(opts.Services, " ")))
	if m.UpFunc == nil {
		return &Result{}, nil
	}
	return m.UpFunc(ctx, opts)
}

func (m *MockExecutor) Down(ctx context.Context, opts DownOptions) (*Result, error) {
	m.record("Down")
	if m.DownFunc == nil {
		return &Result{}, nil
	}
	return m.DownFunc(ctx, opts)
}

func (m *MockExecutor) Logs(ctx context.Context, service string, tail int) (string, error) {
	m.record("Logs " + service)
	if m.LogsFunc == nil {
		return "", nil
	}
	return m.LogsFunc(ctx, service, tail)
}

func (m *MockExecutor) RemoveVolume(ctx context.Context, name string) (bool, error) {
	m.record("RemoveVolume " + name)
	if m.RemoveVolumeFunc == nil {
		return true, nil
	}
	return m.RemoveVolumeFunc(ctx, name)
}

func (m *MockExecutor) HealthStatus(ctx context.Context, container string) (string, error) {
	m.record("HealthStatus " + container)
	if m.HealthStatusFunc == nil {
		return "healthy", nil
	}
	return m.HealthStatusFunc(ctx, container)
}

var _ Executor = (*MockExecutor)(nil)

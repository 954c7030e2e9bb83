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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/infra/compose"
)

func fastConfig() Config {
	return Config{
		ProjectName:  "uls",
		Containers:   map[string]string{"mariadb": "uls-mariadb"},
		PollAttempts: 5,
		PollInterval: time.Millisecond,
	}
}

func TestStart_ReturnsStartingHandle(t *testing.T) {
	exec := &compose.MockExecutor{}
	s := New(exec, fastConfig())

	h, err := s.Start(context.Background(), "mariadb", nil)
	require.NoError(t, err)
	assert.Equal(t, "uls-mariadb", h.Container)
	assert.True(t, h.Managed)
	assert.Equal(t, HealthStarting, h.State())
	assert.Equal(t, []string{"Up mariadb"}, exec.Calls())
}

func TestStart_Failure(t *testing.T) {
	exec := &compose.MockExecutor{
		UpFunc: func(ctx context.Context, opts compose.UpOptions) (*compose.Result, error) {
			return nil, errors.New("daemon not running")
		},
	}
	s := New(exec, fastConfig())

	h, err := s.Start(context.Background(), "mariadb", nil)
	require.Error(t, err)
	assert.Equal(t, HealthUnknown, h.State())
}

func TestContainerFor_Default(t *testing.T) {
	s := New(&compose.MockExecutor{}, Config{ProjectName: "uls"})
	assert.Equal(t, "uls-api-1", s.ContainerFor("api"))
}

func TestWaitHealthy_EventuallyHealthy(t *testing.T) {
	responses := []string{"starting", "starting", "unhealthy", "healthy"}
	calls := 0
	exec := &compose.MockExecutor{
		HealthStatusFunc: func(ctx context.Context, container string) (string, error) {
			r := responses[calls]
			calls++
			return r, nil
		},
	}
	s := New(exec, fastConfig())
	h := &ServiceHandle{Name: "mariadb", Container: "uls-mariadb", Managed: true}

	require.NoError(t, s.WaitHealthy(context.Background(), h))
	assert.Equal(t, HealthHealthy, h.State())
	assert.Equal(t, 4, calls)
}

func TestWaitHealthy_BudgetExhausted(t *testing.T) {
	calls := 0
	exec := &compose.MockExecutor{
		HealthStatusFunc: func(ctx context.Context, container string) (string, error) {
			calls++
			return "starting", nil
		},
	}
	s := New(exec, fastConfig())
	h := &ServiceHandle{Name: "mariadb", Container: "uls-mariadb"}

	err := s.WaitHealthy(context.Background(), h)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnhealthy)
	assert.Equal(t, 5, calls, "exactly PollAttempts probes")
	assert.Equal(t, HealthUnhealthy, h.State())
}

func TestWaitHealthy_MissingContainerKeepsPolling(t *testing.T) {
	calls := 0
	exec := &compose.MockExecutor{
		HealthStatusFunc: func(ctx context.Context, container string) (string, error) {
			calls++
			if calls < 3 {
				return "", compose.ErrNoSuchContainer
			}
			return "running", nil
		},
	}
	s := New(exec, fastConfig())
	h := &ServiceHandle{Name: "mariadb", Container: "uls-mariadb"}

	require.NoError(t, s.WaitHealthy(context.Background(), h))
	assert.Equal(t, 3, calls)
}

func TestWaitHealthy_ExitedStopsImmediately(t *testing.T) {
	calls := 0
	exec := &compose.MockExecutor{
		HealthStatusFunc: func(ctx context.Context, container string) (string, error) {
			calls++
			return "exited", nil
		},
	}
	s := New(exec, fastConfig())
	h := &ServiceHandle{Name: "mariadb", Container: "uls-mariadb"}

	err := s.WaitHealthy(context.Background(), h)
	assert.ErrorIs(t, err, ErrServiceExited)
	assert.Equal(t, 1, calls)
}

func TestWaitHealthy_ContextCancelled(t *testing.T) {
	exec := &compose.MockExecutor{
		HealthStatusFunc: func(ctx context.Context, container string) (string, error) {
			return "starting", nil
		},
	}
	cfg := fastConfig()
	cfg.PollAttempts = 1000
	cfg.PollInterval = 10 * time.Millisecond
	s := New(exec, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.WaitHealthy(ctx, &ServiceHandle{Name: "mariadb", Container: "uls-mariadb"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWipeVolumes_BestEffort(t *testing.T) {
	exec := &compose.MockExecutor{
		RemoveVolumeFunc: func(ctx context.Context, name string) (bool, error) {
			switch name {
			case "uls_cache":
				return false, nil
			case "uls_broken":
				return false, errors.New("volume is in use")
			}
			return true, nil
		},
	}
	s := New(exec, fastConfig())

	removed, err := s.WipeVolumes(context.Background(), []string{"uls_db", "uls_cache", "uls_broken"})
	require.Error(t, err)
	assert.Equal(t, []string{"uls_db"}, removed)
	assert.Equal(t, []string{"RemoveVolume uls_db", "RemoveVolume uls_cache", "RemoveVolume uls_broken"}, exec.Calls())
}

func TestWipeVolumes_AllAbsent(t *testing.T) {
	exec := &compose.MockExecutor{
		RemoveVolumeFunc: func(ctx context.Context, name string) (bool, error) { return false, nil },
	}
	s := New(exec, fastConfig())

	removed, err := s.WipeVolumes(context.Background(), []string{"uls_db", "uls_cache"})
	assert.NoError(t, err)
	assert.Empty(t, removed)
}

func TestDiagnostics_TailsLogs(t *testing.T) {
	exec := &compose.MockExecutor{
		LogsFunc: func(ctx context.Context, service string, tail int) (string, error) {
			return "line1\n\nline2\nline3\n", nil
		},
	}
	cfg := fastConfig()
	cfg.LogTail = 2
	s := New(exec, cfg)

	assert.Equal(t, []string{"line2", "line3"}, s.Diagnostics(context.Background(), "mariadb"))
}

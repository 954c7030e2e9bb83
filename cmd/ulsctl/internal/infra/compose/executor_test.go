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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/infra/process"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/util"
)

func newTestExecutor(t *testing.T, proc process.Manager) *DefaultExecutor {
	t.Helper()
	e, err := NewDefaultExecutor(Config{StackDir: "/srv/uls"}, proc)
	require.NoError(t, err)
	return e
}

func TestNewDefaultExecutor_Validation(t *testing.T) {
	_, err := NewDefaultExecutor(Config{}, &process.MockManager{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewDefaultExecutor(Config{StackDir: "/srv"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestUp_BuildsComposeCommand(t *testing.T) {
	proc := &process.MockManager{}
	e := newTestExecutor(t, proc)

	env, err := util.NewEnvVars(util.EnvVar{Key: "MARIADB_ROOT_PASSWORD", Value: "s3cret", Sensitive: true})
	require.NoError(t, err)

	_, err = e.Up(context.Background(), UpOptions{Services: []string{"mariadb"}, Env: env})
	require.NoError(t, err)

	calls := proc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "docker compose -f /srv/uls/docker-compose.yml -p uls up -d mariadb", calls[0].CommandLine())
	assert.Equal(t, "/srv/uls", calls[0].Dir)
	assert.Equal(t, []string{"MARIADB_ROOT_PASSWORD=s3cret"}, calls[0].Env)
}

func TestUp_NonZeroExit(t *testing.T) {
	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
			return "", "port is already allocated", 1, nil
		},
	}
	e := newTestExecutor(t, proc)

	res, err := e.Up(context.Background(), UpOptions{Services: []string{"api"}})
	require.Error(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "port is already allocated", util.ExtractStderr(err))
}

func TestDown_RemoveOrphans(t *testing.T) {
	proc := &process.MockManager{}
	e := newTestExecutor(t, proc)

	_, err := e.Down(context.Background(), DownOptions{RemoveOrphans: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"docker compose -f /srv/uls/docker-compose.yml -p uls down --remove-orphans"}, proc.CommandLines())
}

func TestRemoveVolume_AbsentIsNotAnError(t *testing.T) {
	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, util.NewCommandError("docker volume rm", 1, "Error response from daemon: get uls_db: no such volume", errors.New("exit status 1"))
		},
	}
	e := newTestExecutor(t, proc)

	removed, err := e.RemoveVolume(context.Background(), "uls_db")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, []string{"docker volume rm uls_db"}, proc.CommandLines())
}

func TestRemoveVolume_InUseFails(t *testing.T) {
	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, util.NewCommandError("docker volume rm", 1, "volume is in use", errors.New("exit status 1"))
		},
	}
	e := newTestExecutor(t, proc)

	_, err := e.RemoveVolume(context.Background(), "uls_db")
	assert.Error(t, err)
}

func TestHealthStatus(t *testing.T) {
	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if args[len(args)-1] == "gone" {
				return nil, util.NewCommandError("docker inspect", 1, "Error: No such object: gone", errors.New("exit status 1"))
			}
			return []byte("healthy\n"), nil
		},
	}
	e := newTestExecutor(t, proc)

	status, err := e.HealthStatus(context.Background(), "uls-mariadb")
	require.NoError(t, err)
	assert.Equal(t, "healthy", status)

	_, err = e.HealthStatus(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNoSuchContainer)
}

func TestLogs_Tail(t *testing.T) {
	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
			return "mariadb | ready\n", "", 0, nil
		},
	}
	e := newTestExecutor(t, proc)

	out, err := e.Logs(context.Background(), "mariadb", 0)
	require.NoError(t, err)
	assert.Equal(t, "mariadb | ready\n", out)
	assert.Contains(t, proc.CommandLines()[0], "logs --no-color --tail 40 mariadb")
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/util"
)

func TestDefaultManager_Run(t *testing.T) {
	m := NewDefaultManager()

	out, err := m.Run(context.Background(), "sh", "-c", "printf hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestDefaultManager_Run_CommandError(t *testing.T) {
	m := NewDefaultManager()

	_, err := m.Run(context.Background(), "sh", "-c", "echo broken >&2; exit 3")
	require.Error(t, err)

	var cmdErr *util.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "broken", cmdErr.Stderr)
	assert.Contains(t, cmdErr.Command, "sh -c")
}

func TestDefaultManager_RunWithInput(t *testing.T) {
	m := NewDefaultManager()

	out, err := m.RunWithInput(context.Background(), "cat", []byte("0 3 * * * /usr/local/bin/ulsctl\n"))
	require.NoError(t, err)
	assert.Equal(t, "0 3 * * * /usr/local/bin/ulsctl\n", string(out))
}

func TestDefaultManager_RunInDir(t *testing.T) {
	m := NewDefaultManager()
	dir := t.TempDir()

	stdout, _, code, err := m.RunInDir(context.Background(), dir, []string{"ULS_PROBE=42"}, "sh", "-c", "pwd; echo $ULS_PROBE")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "42")

	_, stderr, code, err := m.RunInDir(context.Background(), dir, nil, "sh", "-c", "echo nope >&2; exit 7")
	require.Error(t, err)
	assert.Equal(t, 7, code)
	assert.Contains(t, stderr, "nope")
}

func TestDefaultManager_RunStreaming(t *testing.T) {
	m := NewDefaultManager()
	var buf bytes.Buffer

	err := m.RunStreaming(context.Background(), &buf, "sh", "-c", "echo out; echo err >&2; exit 1")
	require.Error(t, err)
	assert.Contains(t, buf.String(), "out")
	assert.Contains(t, buf.String(), "err")
	assert.Contains(t, util.ExtractStderr(err), "err")
}

func TestMockManager_RecordsCalls(t *testing.T) {
	m := &MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("ok"), nil
		},
	}

	out, err := m.Run(context.Background(), "docker", "volume", "rm", "uls_db")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))

	_, _, _, err = m.RunInDir(context.Background(), "/srv", []string{"A=1"}, "docker", "compose", "up")
	require.NoError(t, err)

	assert.Equal(t, []string{"docker volume rm uls_db", "docker compose up"}, m.CommandLines())
	assert.Equal(t, "/srv", m.Calls()[1].Dir)

	m.Reset()
	assert.Empty(t, m.Calls())
}

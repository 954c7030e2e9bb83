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
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_TryAcquire_Contention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "import.lock")

	first := NewFileLock(path)
	second := NewFileLock(path)

	require.NoError(t, first.TryAcquire())
	assert.True(t, first.IsHeld())

	err := second.TryAcquire()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockHeld))

	var held *LockHeldError
	require.True(t, errors.As(err, &held))
	assert.Equal(t, os.Getpid(), held.HolderPID)
	assert.False(t, second.IsHeld())

	require.NoError(t, first.Release())
	require.NoError(t, second.TryAcquire())
	require.NoError(t, second.Release())
}

func TestFileLock_ReleaseKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "import.lock")
	lock := NewFileLock(path)

	require.NoError(t, lock.TryAcquire())
	assert.Equal(t, os.Getpid(), lock.HolderPID())
	require.NoError(t, lock.Release())

	_, err := os.Stat(path)
	assert.NoError(t, err, "lock file must survive release")
	assert.Equal(t, 0, lock.HolderPID())
}

func TestFileLock_ReleaseIdempotent(t *testing.T) {
	lock := NewFileLock(filepath.Join(t.TempDir(), "x.lock"))
	assert.NoError(t, lock.Release())
	require.NoError(t, lock.TryAcquire())
	assert.NoError(t, lock.TryAcquire(), "re-acquire by holder is a no-op")
	assert.NoError(t, lock.Release())
	assert.NoError(t, lock.Release())
}

func TestFileLock_AcquireWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.lock")
	holder := NewFileLock(path)
	require.NoError(t, holder.TryAcquire())

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = holder.Release()
	}()

	waiter := NewFileLock(path)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, waiter.Acquire(ctx))
	assert.True(t, waiter.IsHeld())
	require.NoError(t, waiter.Release())
}

func TestFileLock_AcquireHonoursContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.lock")
	holder := NewFileLock(path)
	require.NoError(t, holder.TryAcquire())
	defer holder.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	err := NewFileLock(path).Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

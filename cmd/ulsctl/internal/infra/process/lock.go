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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLockHeld is matched (errors.Is) by the error TryAcquire returns when
// another process holds the lock.
var ErrLockHeld = errors.New("lock held by another process")

// LockHeldError reports the holder of a contended lock.
type LockHeldError struct {
	HolderPID int
	LockPath  string
}

// Error implements the error interface.
func (e *LockHeldError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("%s is held by PID %d", e.LockPath, e.HolderPID)
	}
	return fmt.Sprintf("%s is held by another process (check: lsof %s)", e.LockPath, e.LockPath)
}

// Is makes errors.Is(err, ErrLockHeld) true.
func (e *LockHeldError) Is(target error) bool {
	return target == ErrLockHeld
}

// Locker is a host-scoped mutual-exclusion token.
type Locker interface {
	// TryAcquire takes the lock without waiting. Returns an error matching
	// ErrLockHeld when another holder exists.
	TryAcquire() error

	// Acquire waits until the lock is taken or ctx is done.
	Acquire(ctx context.Context) error

	// Release drops the lock. Safe to call when not held.
	Release() error

	// HolderPID returns the PID recorded by the current holder, or 0.
	HolderPID() int
}

// FileLock is a Locker backed by flock(2) on a lock file.
//
// # Description
//
// Ownership is tied to the open file description, not to the file's
// existence: the kernel drops the lock when the holder exits or is killed,
// so a crashed import never leaves a stuck lock. The lock file itself is
// never removed. The holder's PID is written into it for diagnostics.
//
// Two FileLocks on the same path contend even inside one process, because
// each opens its own file description.
//
// # Thread Safety
//
// A FileLock is safe for concurrent use; it serializes its own state.
//
// # Limitations
//
//   - Host-local only. flock does not coordinate across machines, and is
//     unreliable on some network filesystems.
type FileLock struct {
	path         string
	pollInterval time.Duration

	mu   sync.Mutex
	file *os.File
}

// NewFileLock creates a FileLock at path. The parent directory is created
// on first acquire.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path, pollInterval: 50 * time.Millisecond}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// TryAcquire takes the lock without blocking.
func (l *FileLock) TryAcquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file %s: %w", l.path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &LockHeldError{HolderPID: readPID(l.path), LockPath: l.path}
		}
		return fmt.Errorf("flock %s: %w", l.path, err)
	}

	l.file = f
	// PID is informational only.
	_ = writePID(f)
	return nil
}

// Acquire polls TryAcquire until it succeeds, fails for a reason other than
// contention, or ctx is done.
func (l *FileLock) Acquire(ctx context.Context) error {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		err := l.TryAcquire()
		if err == nil || !errors.Is(err, ErrLockHeld) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", l.path, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release unlocks and closes the lock file.
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	_ = l.file.Truncate(0)
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("release %s: %w", l.path, err)
	}
	return nil
}

// IsHeld reports whether this FileLock currently holds the lock.
func (l *FileLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

// HolderPID reads the PID recorded in the lock file.
//
// May be stale if the holder was killed; the lock itself is not.
func (l *FileLock) HolderPID() int {
	return readPID(l.path)
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	return err
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

var _ Locker = (*FileLock)(nil)

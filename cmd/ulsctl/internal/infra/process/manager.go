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
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/util"
)

// Manager abstracts external command execution.
//
// # Description
//
// Every external collaborator of the controller (docker compose, docker,
// crontab, the sanity check) is reached through a Manager so tests can
// substitute MockManager and assert on the exact command lines issued.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Manager interface {
	// Run executes a command and returns stdout. A non-zero exit yields a
	// *util.CommandError carrying the exit code and stderr.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithInput is Run with input piped to stdin.
	RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)

	// RunInDir runs a command in dir with env appended to the inherited
	// environment. It reports stdout, stderr, and the exit code separately.
	// err is non-nil only when the process could not be run or exited non-zero.
	RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (stdout, stderr string, exitCode int, err error)

	// RunStreaming runs a command with stdout and stderr both written to out
	// as they are produced.
	RunStreaming(ctx context.Context, out io.Writer, name string, args ...string) error
}

// DefaultManager implements Manager using os/exec.
type DefaultManager struct{}

// NewDefaultManager creates a Manager that executes real processes.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes a command synchronously and returns its output.
func (m *DefaultManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return m.RunWithInput(ctx, name, nil, args...)
}

// RunWithInput executes a command with data piped to stdin.
func (m *DefaultManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), util.NewCommandError(commandLine(name, args), exitCode(err), stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

// RunInDir executes a command in a working directory with extra environment.
func (m *DefaultManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := exitCode(err)
	if err != nil {
		return stdout.String(), stderr.String(), code,
			util.NewCommandError(commandLine(name, args), code, stderr.String(), err)
	}
	return stdout.String(), stderr.String(), 0, nil
}

// RunStreaming executes a command, copying combined output to out.
func (m *DefaultManager) RunStreaming(ctx context.Context, out io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	tail := util.NewTailWriter(40)
	w := io.MultiWriter(out, tail)
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Run(); err != nil {
		return util.NewCommandError(commandLine(name, args), exitCode(err), strings.Join(tail.Lines(), "\n"), err)
	}
	return nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockManager is a test double for Manager.
//
// Configure it by setting function fields. A nil function field makes the
// matching method return empty output and no error, so tests only stub what
// they assert on. Every call is recorded.
type MockManager struct {
	RunFunc          func(ctx context.Context, name string, args ...string) ([]byte, error)
	RunWithInputFunc func(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)
	RunInDirFunc     func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)
	RunStreamingFunc func(ctx context.Context, out io.Writer, name string, args ...string) error

	calls []Call
	mu    sync.Mutex
}

// Call records a single method invocation.
type Call struct {
	Method string
	Dir    string
	Env    []string
	Name   string
	Args   []string
	Input  []byte
}

// CommandLine returns name and args joined by spaces.
func (c Call) CommandLine() string {
	return commandLine(c.Name, c.Args)
}

func (m *MockManager) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// Run records the call and delegates to RunFunc.
func (m *MockManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(Call{Method: "Run", Name: name, Args: args})
	if m.RunFunc == nil {
		return nil, nil
	}
	return m.RunFunc(ctx, name, args...)
}

// RunWithInput records the call and delegates to RunWithInputFunc.
func (m *MockManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	m.record(Call{Method: "RunWithInput", Name: name, Args: args, Input: input})
	if m.RunWithInputFunc == nil {
		return nil, nil
	}
	return m.RunWithInputFunc(ctx, name, input, args...)
}

// RunInDir records the call and delegates to RunInDirFunc.
func (m *MockManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	m.record(Call{Method: "RunInDir", Dir: dir, Env: env, Name: name, Args: args})
	if m.RunInDirFunc == nil {
		return "", "", 0, nil
	}
	return m.RunInDirFunc(ctx, dir, env, name, args...)
}

// RunStreaming records the call and delegates to RunStreamingFunc.
func (m *MockManager) RunStreaming(ctx context.Context, out io.Writer, name string, args ...string) error {
	m.record(Call{Method: "RunStreaming", Name: name, Args: args})
	if m.RunStreamingFunc == nil {
		return nil
	}
	return m.RunStreamingFunc(ctx, out, name, args...)
}

// Calls returns a copy of all recorded calls.
func (m *MockManager) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CommandLines returns the recorded command lines in order.
func (m *MockManager) CommandLines() []string {
	calls := m.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.CommandLine()
	}
	return out
}

// Reset clears recorded calls.
func (m *MockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)

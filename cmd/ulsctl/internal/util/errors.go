// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"errors"
	"fmt"
	"strings"
)

// CommandError describes a failed external command.
//
// # Description
//
// Carries the command line, exit code, and captured stderr of an external
// process (docker, crontab, the sanity check) so the controller can name the
// failing step and tail the diagnostic output for the operator.
//
// # Thread Safety
//
// CommandError is immutable after construction.
type CommandError struct {
	// Command is the command line that was executed (arguments joined by spaces).
	Command string

	// ExitCode is the process exit code, or -1 if the process never ran.
	ExitCode int

	// Stderr is the trimmed standard error output.
	Stderr string

	// Wrapped is the underlying error (exec.ExitError, context error, ...).
	Wrapped error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, lastLine(e.Stderr))
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the wrapped error for errors.Is / errors.As.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// HasStderr reports whether stderr output was captured.
func (e *CommandError) HasStderr() bool {
	return e.Stderr != ""
}

var _ error = (*CommandError)(nil)

// NewCommandError creates a CommandError, trimming stderr.
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// ExtractStderr walks the error chain and returns the first captured stderr.
//
// Returns "" when no CommandError with stderr is found.
func ExtractStderr(err error) string {
	var cmdErr *CommandError
	for err != nil {
		if errors.As(err, &cmdErr) && cmdErr.HasStderr() {
			return cmdErr.Stderr
		}
		err = errors.Unwrap(err)
	}
	return ""
}

// TailLines returns at most n trailing non-empty lines of output.
//
// # Description
//
// Used to attach the last few lines of an external process's output to a
// fatal step error. Lines are streamed through a RingBuffer so arbitrarily
// large outputs only keep n lines in memory.
func TailLines(output string, n int) []string {
	if n <= 0 || output == "" {
		return nil
	}
	rb := NewRingBuffer[string](n)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rb.Push(line)
	}
	return rb.ToSlice()
}

func lastLine(s string) string {
	lines := TailLines(s, 1)
	if len(lines) == 0 {
		return s
	}
	return lines[0]
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package controller is the reconciliation state machine that brings the
// uls stack from any starting state to a healthy, privileged, up-to-date
// condition in one idempotent run.
//
// # Overview
//
// A run is linear: flag validation, mode resolution, an optional
// status-only short circuit, scheduler registration, the destructive
// phase, secrets, storage bring-up, ingestion, privilege enforcement,
// service bring-up, the sanity gate and finally the ledger write. Each
// step either completes or aborts the run with a *StepError naming it.
//
// Only the controller decides whether a failure is fatal. Components
// below it report results and errors; the controller classifies them.
package controller

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrInvalidFlags is returned for a flag combination that can never be valid.
	ErrInvalidFlags = errors.New("invalid flag combination")

	// ErrConfirmationRequired is returned when rotation was requested
	// explicitly without --force and no terminal is available to confirm.
	ErrConfirmationRequired = errors.New("secret rotation requires --force or an interactive confirmation")

	// ErrRotationDeclined is returned when the operator answers no.
	ErrRotationDeclined = errors.New("secret rotation declined")

	// ErrNilDependency is returned when a required collaborator is missing.
	ErrNilDependency = errors.New("required dependency is nil")

	// ErrPanicRecovered is returned when a panic was recovered during a run.
	ErrPanicRecovered = errors.New("panic recovered during operation")
)

// Class is the failure taxonomy used to pick exit codes and wording.
type Class string

const (
	// FatalConfig is operator misuse or missing local configuration.
	// Reported before any side effect.
	FatalConfig Class = "FatalConfig"

	// FatalDependency is an external dependency that never became usable.
	FatalDependency Class = "FatalDependency"

	// IngestionFailure is a rolled-back import. Prior data is intact.
	IngestionFailure Class = "IngestionFailure"
)

// Step names a state-machine step. They appear in logs, spans, the
// failed_step ledger field and every fatal message.
type Step string

const (
	StepFlags       Step = "flags"
	StepMode        Step = "mode"
	StepStatus      Step = "status"
	StepScheduler   Step = "scheduler"
	StepDestructive Step = "destructive"
	StepSecrets     Step = "secrets"
	StepStorage     Step = "storage"
	StepIngestion   Step = "ingestion"
	StepPrivileges  Step = "privileges"
	StepServices    Step = "services"
	StepSanity      Step = "sanity"
	StepLedger      Step = "ledger"
)

// StepError is the error returned by Run for a fatal step.
type StepError struct {
	Step  Step
	Class Class
	Err   error

	// Diagnostics is the tail of the failing external process output, if any.
	Diagnostics []string
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed (%s): %v", e.Step, e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error { return e.Err }

// Detail renders the error with its diagnostics tail, one line each.
func (e *StepError) Detail() string {
	if len(e.Diagnostics) == 0 {
		return e.Error()
	}
	var b strings.Builder
	b.WriteString(e.Error())
	for _, line := range e.Diagnostics {
		b.WriteString("\n  | ")
		b.WriteString(line)
	}
	return b.String()
}

var _ error = (*StepError)(nil)

// Exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitFatalConfig = 2
)

// ExitCode maps a run error to the process exit code. Skips are successes.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var se *StepError
	if errors.As(err, &se) && se.Class == FatalConfig {
		return ExitFatalConfig
	}
	return ExitFailure
}

// ClassOf returns the class of err, or "" when err is not a *StepError.
func ClassOf(err error) Class {
	var se *StepError
	if errors.As(err, &se) {
		return se.Class
	}
	return ""
}

func configError(step Step, err error) *StepError {
	return &StepError{Step: step, Class: FatalConfig, Err: err}
}

// recoverPanic converts a recovered panic into an error.
//
// Must be called from a deferred function with recover().
func recoverPanic(r interface{}, errPtr *error) {
	if r == nil {
		return
	}

	var panicErr error
	switch v := r.(type) {
	case error:
		panicErr = fmt.Errorf("%w: %v", ErrPanicRecovered, v)
	case string:
		panicErr = fmt.Errorf("%w: %s", ErrPanicRecovered, v)
	default:
		panicErr = fmt.Errorf("%w: %v", ErrPanicRecovered, v)
	}

	if *errPtr == nil {
		*errPtr = panicErr
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package controller

import (
	"fmt"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ledger"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/secrets"
)

// RunFlags is the caller's intent for one invocation. Built once from the
// command line and not mutated afterwards; ResolveMode returns a copy.
type RunFlags struct {
	Coldstart     bool
	RotateSecrets bool
	Force         bool
	CI            bool
	StatusOnly    bool
	LogSanity     bool
}

// Validate rejects impossible combinations. It performs no I/O.
//
// Rotation only makes sense together with a wipe, and --force only
// qualifies a rotation.
func (f RunFlags) Validate() error {
	if f.RotateSecrets && !f.Coldstart {
		return fmt.Errorf("%w: --rotate-secrets requires --coldstart", ErrInvalidFlags)
	}
	if f.Force && !f.RotateSecrets {
		return fmt.Errorf("%w: --force requires --rotate-secrets", ErrInvalidFlags)
	}
	if f.StatusOnly && (f.Coldstart || f.RotateSecrets || f.Force) {
		return fmt.Errorf("%w: --status cannot be combined with destructive flags", ErrInvalidFlags)
	}
	return nil
}

// ValidateFlags runs Validate and reports a rejection as a fatal-config
// failure of the flags step. It performs no I/O, so the CLI calls it before
// any configuration or log file is created.
func ValidateFlags(f RunFlags) error {
	if err := f.Validate(); err != nil {
		return configError(StepFlags, err)
	}
	return nil
}

// ledgerFlags converts to the persisted form.
func (f RunFlags) ledgerFlags(upgraded bool) ledger.Flags {
	return ledger.Flags{
		Coldstart:     f.Coldstart,
		RotateSecrets: f.RotateSecrets,
		Force:         f.Force,
		CI:            f.CI,
		AutoUpgraded:  upgraded,
	}
}

// SystemState is the on-disk snapshot taken once at the start of a run.
// Later steps consult it instead of re-checking the filesystem.
type SystemState struct {
	SecretsPresent map[secrets.Kind]bool
	AnySecrets     bool
	LedgerPresent  bool
}

// Snapshot reads the current SystemState.
func Snapshot(store secrets.Store, l interface{ Exists() bool }) (SystemState, error) {
	present, err := store.Present()
	if err != nil {
		return SystemState{}, fmt.Errorf("inspect secrets: %w", err)
	}
	return SystemState{
		SecretsPresent: present,
		AnySecrets:     secrets.AnyPresent(present),
		LedgerPresent:  l.Exists(),
	}, nil
}

// ResolveMode applies the first-run upgrade.
//
// # Description
//
// With no secret files on disk and no destructive flags, the run becomes
// coldstart plus rotation so a fresh host initializes itself. Once any
// secret file exists the upgrade never happens, even if a previous run
// failed halfway: a rerun must not wipe data nobody asked to wipe. Status
// runs are never upgraded.
//
// # Outputs
//
//   - RunFlags: The effective flags.
//   - bool: Whether the upgrade was applied.
func ResolveMode(f RunFlags, state SystemState) (RunFlags, bool) {
	if f.StatusOnly || state.AnySecrets || f.Coldstart || f.RotateSecrets {
		return f, false
	}
	f.Coldstart = true
	f.RotateSecrets = true
	return f, true
}

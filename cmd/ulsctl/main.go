// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ulsctl reconciles a self-hosted ULS callbook stack: credentials,
// storage, the dataset import, read-only access, and the dependent
// services.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"

	"github.com/hamcall/ulsbook/cmd/ulsctl/config"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/controller"
	"github.com/hamcall/ulsbook/pkg/ux"
)

// usageError marks a command-line parsing failure.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	// Wipe credential buffers if the operator interrupts.
	memguard.CatchInterrupt()

	code := execute()
	memguard.Purge()
	os.Exit(code)
}

func execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	app.close()
	if err == nil {
		return controller.ExitOK
	}
	// Step failures have already been reported with their diagnostics.
	if controller.ClassOf(err) == "" {
		ux.Error(err.Error())
	}
	return exitCodeFor(err)
}

// exitCodeFor maps an error to the process exit status: 2 for anything the
// operator must fix in flags or configuration, 1 for everything else.
func exitCodeFor(err error) int {
	var usage usageError
	switch {
	case err == nil:
		return controller.ExitOK
	case errors.As(err, &usage), errors.Is(err, config.ErrInvalidConfig):
		return controller.ExitFatalConfig
	default:
		return controller.ExitCode(err)
	}
}

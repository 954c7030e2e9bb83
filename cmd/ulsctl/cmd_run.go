// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"
)

// runReconcile is the default command: one full reconcile, or the status
// view with --status.
func runReconcile(cmd *cobra.Command, args []string) error {
	ctrl, err := app.controller()
	if err != nil {
		return err
	}
	report, err := ctrl.Run(cmd.Context(), runFlags)
	if report != nil && report.RunID != "" {
		app.logger.Slog().Info("run finished",
			"run_id", report.RunID,
			"result", report.Result,
			"failed_step", string(report.FailedStep),
			"auto_upgraded", report.AutoUpgraded,
			"duration", report.Duration())
	}
	return err
}

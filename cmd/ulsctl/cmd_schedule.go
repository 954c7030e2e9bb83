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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ledger"
	"github.com/hamcall/ulsbook/pkg/ux"
)

// errScheduleUnavailable is returned when the crontab cannot be updated.
var errScheduleUnavailable = errors.New("daily refresh could not be registered")

// runSchedule installs (or with --print, shows) the crontab entry and
// records the outcome in the ledger.
func runSchedule(cmd *cobra.Command, args []string) error {
	reg, err := app.registrar()
	if err != nil {
		return err
	}
	if schedulePrint {
		_, err := fmt.Fprintln(ux.Stdout(), reg.Entry())
		return err
	}

	rec := reg.Ensure(cmd.Context())
	if err := app.ledger.WriteScheduler(cmd.Context(), rec); err != nil {
		ux.Warning("could not record scheduler status: " + err.Error())
	}

	switch rec.Status {
	case ledger.SchedulerInstalled:
		ux.Success("Scheduled daily refresh: " + rec.Entry)
	case ledger.SchedulerPresent:
		ux.Skipped("Daily refresh already scheduled")
	case ledger.SchedulerDisabled:
		ux.Skipped("Scheduling is disabled in the configuration")
	default:
		return fmt.Errorf("%w: %s", errScheduleUnavailable, rec.Error)
	}
	return nil
}

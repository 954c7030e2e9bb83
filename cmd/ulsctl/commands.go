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

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/controller"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// --- Global Command Variables ---
var (
	configPath    string
	runFlags      controller.RunFlags
	statusJSON    bool
	schedulePrint bool

	rootCmd = &cobra.Command{
		Use:   "ulsctl",
		Short: "Reconcile the self-hosted ULS callbook stack",
		Long: `ulsctl brings the callbook stack to a healthy, up-to-date state.

With no flags it reconciles: storage is started and health-gated, the
license dataset is imported if it changed upstream, read-only access is
converged, and the API and UI are started. It is safe to run repeatedly
and is what the daily schedule runs.

On a fresh host it initializes secrets and volumes on its own.`,
		Version:           version,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupApplication,
		RunE:              runReconcile, // Defined in cmd_run.go
	}

	importCmd = &cobra.Command{
		Use:   "import",
		Short: "Run only the dataset import, under the shared import lock",
		Args:  cobra.NoArgs,
		RunE:  runImport, // Defined in cmd_import.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the outcome of the last run, import and schedule check",
		Args:  cobra.NoArgs,
		RunE:  runStatus, // Defined in cmd_status.go
	}

	scheduleCmd = &cobra.Command{
		Use:   "schedule",
		Short: "Install the daily refresh into the user's crontab",
		Args:  cobra.NoArgs,
		RunE:  runSchedule, // Defined in cmd_schedule.go
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow, // Defined in cmd_config.go
	}
	configPathCmd = &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE:  runConfigPath, // Defined in cmd_config.go
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.config/ulsctl/ulsctl.yaml)")
	pf.BoolVar(&runFlags.CI, "ci", false, "unattended mode: plain output, no prompts, no spinner")

	f := rootCmd.Flags()
	f.BoolVar(&runFlags.Coldstart, "coldstart", false, "stop services and remove data volumes before reconciling")
	f.BoolVar(&runFlags.RotateSecrets, "rotate-secrets", false, "generate new credentials (requires --coldstart)")
	f.BoolVar(&runFlags.Force, "force", false, "skip the rotation confirmation (requires --rotate-secrets)")
	f.BoolVar(&runFlags.LogSanity, "log-sanity", false, "append sanity check output to the sanity log")
	f.BoolVar(&runFlags.StatusOnly, "status", false, "show status and exit without touching anything")

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw state document")
	scheduleCmd.Flags().BoolVar(&schedulePrint, "print", false, "print the entry without installing it")

	rootCmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return usageError{err}
	})

	configCmd.AddCommand(configShowCmd, configPathCmd)
	rootCmd.AddCommand(importCmd, statusCmd, scheduleCmd, configCmd)
}

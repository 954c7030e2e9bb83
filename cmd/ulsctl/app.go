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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hamcall/ulsbook/cmd/ulsctl/config"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/controller"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/database"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/infra/compose"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/infra/process"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ingest"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ledger"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/privilege"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/sanity"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/scheduler"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/secrets"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/supervisor"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/telemetry"
	"github.com/hamcall/ulsbook/pkg/logging"
	"github.com/hamcall/ulsbook/pkg/ux"
)

// app is built once per invocation by setupApplication.
var app *application

// application holds the process-wide collaborators shared by every command.
type application struct {
	cfg     *config.UlsConfig
	cfgPath string

	logger  *logging.Logger
	tracing *telemetry.Tracing

	proc       process.Manager
	secrets    *secrets.FileStore
	ledger     *ledger.Store
	importLock *process.FileLock
}

// setupApplication is the root PersistentPreRunE. It rejects impossible
// flag combinations, resolves and loads the configuration, then brings up
// logging, output personality and tracing. Nothing is written to disk
// before the flags pass.
func setupApplication(cmd *cobra.Command, args []string) error {
	if err := controller.ValidateFlags(runFlags); err != nil {
		ux.InitPersonality(runFlags.CI, "")
		controller.PrintFailure(err)
		return err
	}

	path, err := config.ResolvePath(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	ux.InitPersonality(runFlags.CI, cfg.Logging.Personality)

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "ulsctl",
		JSON:    cfg.Logging.JSON,
	})
	logger.Install()

	tracing, err := telemetry.NewTracing(cfg.Telemetry.TraceFile, version)
	if err != nil {
		logger.Close()
		return fmt.Errorf("start tracing: %w", err)
	}

	app = &application{
		cfg:        cfg,
		cfgPath:    path,
		logger:     logger,
		tracing:    tracing,
		proc:       process.NewDefaultManager(),
		secrets:    secrets.NewFileStore(cfg.Paths.SecretsDir),
		ledger:     ledger.NewStore(cfg.LedgerPath()),
		importLock: process.NewFileLock(cfg.ImportLockPath()),
	}
	slog.Debug("configuration loaded", "path", path, "log_file", logger.FilePath(), "command", cmd.Name())
	return nil
}

// close flushes tracing and the log file.
func (a *application) close() {
	if a == nil {
		return
	}
	if err := a.tracing.Shutdown(context.Background()); err != nil {
		slog.Warn("trace flush failed", "error", err)
	}
	if err := a.logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
}

func (a *application) supervisor() (*supervisor.DefaultSupervisor, error) {
	exec, err := compose.NewDefaultExecutor(compose.Config{
		StackDir:    a.cfg.Compose.StackDir,
		File:        a.cfg.Compose.File,
		ProjectName: a.cfg.Project.Name,
		Binary:      a.cfg.Compose.Binary,
	}, a.proc)
	if err != nil {
		return nil, err
	}
	return supervisor.New(exec, supervisor.Config{
		Containers:   a.cfg.Services.Containers,
		ProjectName:  a.cfg.Project.Name,
		PollAttempts: a.cfg.Health.Attempts,
		PollInterval: a.cfg.Health.Interval,
		LogTail:      a.cfg.Health.LogTail,
	}), nil
}

func (a *application) databaseConfig(user, password string) database.Config {
	return database.Config{
		Host:     a.cfg.Database.Host,
		Port:     a.cfg.Database.Port,
		Name:     a.cfg.Database.Name,
		User:     user,
		Password: password,
		Timeout:  a.cfg.Database.Timeout,
	}
}

// newIngestor opens a loader connection and builds the ingestion pipeline
// on it.
func (a *application) newIngestor(ctx context.Context, bundle *secrets.Bundle) (controller.Ingestor, func(), error) {
	db, err := database.Open(ctx, a.databaseConfig(a.cfg.Database.User, bundle.Value(secrets.LoaderPassword)))
	if err != nil {
		return nil, nil, err
	}
	pipeline := ingest.New(
		ingest.Config{SourceURL: a.cfg.Source.URL, CacheDir: a.cfg.Paths.CacheDir},
		a.importLock,
		a.ledger,
		ingest.NewHTTPFetcher(a.cfg.Source.Timeout, a.cfg.Source.UserAgent),
		ingest.NewMySQLLoader(db),
	)
	return pipeline, func() { db.Close() }, nil
}

// newEnforcer opens an administrative connection for privilege convergence.
func (a *application) newEnforcer(ctx context.Context, bundle *secrets.Bundle) (privilege.Enforcer, func(), error) {
	db, err := database.Open(ctx, a.databaseConfig(a.cfg.Database.AdminUser, bundle.Value(secrets.RootPassword)))
	if err != nil {
		return nil, nil, err
	}
	enforcer := privilege.NewSQLEnforcer(db, privilege.Target{
		User:     a.cfg.Database.ReadOnlyUser,
		Host:     a.cfg.Database.ReadOnlyHost,
		Database: a.cfg.Database.Name,
		View:     a.cfg.Database.View,
	})
	return enforcer, func() { db.Close() }, nil
}

// registrar resolves the running binary so the cron line survives moves
// through symlinks.
func (a *application) registrar() (*scheduler.Registrar, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return scheduler.New(scheduler.Config{
		Enabled:    a.cfg.Scheduler.Enabled,
		Schedule:   a.cfg.Scheduler.Schedule,
		Executable: exe,
		Args:       a.cfg.Scheduler.Args,
		LogPath:    a.cfg.Scheduler.LogPath,
	}, a.proc)
}

// sanityGate returns nil when no sanity check is configured.
func (a *application) sanityGate() (sanity.Gate, error) {
	switch {
	case len(a.cfg.Sanity.Command) > 0:
		return sanity.NewCommandGate(a.proc, a.cfg.Sanity.Command)
	case a.cfg.Sanity.URL != "":
		return sanity.NewHTTPGate(a.cfg.Sanity.URL), nil
	default:
		return nil, nil
	}
}

// controller assembles the Bootstrap Controller.
func (a *application) controller() (*controller.Controller, error) {
	sup, err := a.supervisor()
	if err != nil {
		return nil, err
	}
	deps := controller.Deps{
		Secrets:     a.secrets,
		Ledger:      a.ledger,
		Supervisor:  sup,
		NewIngestor: a.newIngestor,
		NewEnforcer: a.newEnforcer,
		ImportLock:  a.importLock,
		Tracer:      a.tracing.Tracer(),
		Confirm: func(title, description string) (bool, error) {
			return ux.Confirm(title, description, "Rotate")
		},
	}

	// A broken schedule never blocks a reconcile; the registrar reports
	// itself unavailable instead.
	if reg, err := a.registrar(); err != nil {
		slog.Warn("scheduler disabled for this run", "error", err)
	} else {
		deps.Scheduler = reg
	}

	gate, err := a.sanityGate()
	if err != nil {
		return nil, fmt.Errorf("%w: sanity: %v", config.ErrInvalidConfig, err)
	}
	if gate != nil {
		deps.Sanity = gate
	}

	return controller.New(deps, controller.Config{
		StorageService: a.cfg.Services.Storage,
		Services:       a.cfg.Services.Dependent,
		Volumes:        a.cfg.Volumes,
		DatabaseName:   a.cfg.Database.Name,
		DatabaseUser:   a.cfg.Database.User,
		MetricsPath:    a.cfg.Metrics.TextfilePath,
		SanityLogPath:  a.cfg.Sanity.LogPath,
		Interactive:    ux.IsInteractive(),
		Terminal:       ux.IsTerminal(),
	})
}

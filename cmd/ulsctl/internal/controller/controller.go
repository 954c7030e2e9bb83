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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ingest"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ledger"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/privilege"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/sanity"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/secrets"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/supervisor"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/telemetry"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/util"
	"github.com/hamcall/ulsbook/pkg/ux"
)

// diagnosticLines is how much external-process output a fatal step carries.
const diagnosticLines = 40

// =============================================================================
// Collaborators
// =============================================================================

// LedgerStore is the part of the State Ledger the controller uses.
type LedgerStore interface {
	Path() string
	Exists() bool
	Read() (*ledger.Document, bool, error)
	WriteBootstrap(ctx context.Context, rec ledger.BootstrapRecord) error
	WriteScheduler(ctx context.Context, rec ledger.SchedulerRecord) error
	Drop(ctx context.Context, ns ledger.Namespace) error
}

// Ingestor runs one ingestion attempt.
type Ingestor interface {
	Run(ctx context.Context) (*ingest.Result, error)
}

// IngestorFactory builds an Ingestor once credentials are known. The
// returned close function releases its connection.
type IngestorFactory func(ctx context.Context, bundle *secrets.Bundle) (Ingestor, func(), error)

// EnforcerFactory builds a privilege.Enforcer on an administrative connection.
type EnforcerFactory func(ctx context.Context, bundle *secrets.Bundle) (privilege.Enforcer, func(), error)

// Registrar is the Scheduler Registrar.
type Registrar interface {
	Ensure(ctx context.Context) ledger.SchedulerRecord
}

// ConfirmFunc asks the operator a yes/no question.
type ConfirmFunc func(title, description string) (bool, error)

// Deps are the controller's collaborators. Scheduler, Sanity, ImportLock,
// Tracer and Confirm are optional.
type Deps struct {
	Secrets     secrets.Store
	Ledger      LedgerStore
	Supervisor  supervisor.Supervisor
	NewIngestor IngestorFactory
	NewEnforcer EnforcerFactory
	Scheduler   Registrar
	Sanity      sanity.Gate
	ImportLock  interface{ HolderPID() int }
	Tracer      trace.Tracer
	Confirm     ConfirmFunc
}

// Config holds the controller's settings.
type Config struct {
	// StorageService is the health-gated service. Default: mariadb.
	StorageService string

	// Services are started after privileges converge, without health gating.
	Services []string

	// Volumes are removed by the destructive phase.
	Volumes []string

	// DatabaseName and DatabaseUser are handed to the storage service.
	// Both default to uls.
	DatabaseName string
	DatabaseUser string

	// MetricsPath, when set, receives a Prometheus textfile after each run.
	MetricsPath string

	// SanityLogPath receives a copy of sanity output with --log-sanity.
	SanityLogPath string

	// Interactive reports whether a human can answer a confirmation.
	Interactive bool

	// Terminal selects spinner frames for the heartbeat.
	Terminal bool

	// Host is recorded in the ledger. Default: os.Hostname.
	Host string
}

// Report summarizes one run. Always non-nil from Run.
type Report struct {
	RunID        string
	Flags        RunFlags
	AutoUpgraded bool
	State        SystemState

	Result     string
	FailedStep Step

	Scheduler    *ledger.SchedulerRecord
	WipedVolumes []string
	Ingestion    *ingest.Result
	Grants       []string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the run's elapsed time.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Controller is the Reconciliation Controller.
//
// # Thread Safety
//
// A Controller serves one Run at a time. Concurrent invocations across
// processes are expected; only ingestion is mutually exclusive, through
// the import lock.
type Controller struct {
	deps   Deps
	config Config
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

// New creates a Controller.
func New(deps Deps, cfg Config) (*Controller, error) {
	if deps.Secrets == nil || deps.Ledger == nil || deps.Supervisor == nil ||
		deps.NewIngestor == nil || deps.NewEnforcer == nil {
		return nil, ErrNilDependency
	}
	if cfg.StorageService == "" {
		cfg.StorageService = "mariadb"
	}
	if cfg.DatabaseName == "" {
		cfg.DatabaseName = "uls"
	}
	if cfg.DatabaseUser == "" {
		cfg.DatabaseUser = "uls"
	}
	if cfg.Host == "" {
		cfg.Host, _ = os.Hostname()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("ulsctl")
	}
	return &Controller{
		deps:   deps,
		config: cfg,
		tracer: tracer,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}, nil
}

// =============================================================================
// Run
// =============================================================================

// Run executes one reconciliation.
//
// # Description
//
// Steps run strictly in order. A fatal step aborts the run immediately and
// nothing after it executes; in particular the bootstrap ledger namespace
// is not written, so a stale ledger points at the failed run. The one
// exception is the sanity gate: services are left running for inspection
// and the bootstrap namespace records result=failure with
// failed_step=sanity before the error is returned.
//
// Skips, whether from lock contention or an unchanged source, are
// successful runs.
//
// # Inputs
//
//   - ctx: Cancellation for every blocking step.
//   - flags: Caller intent, validated before any I/O.
//
// # Outputs
//
//   - *Report: Never nil.
//   - error: A *StepError naming the failed step, or nil.
func (c *Controller) Run(ctx context.Context, flags RunFlags) (report *Report, err error) {
	defer func() {
		recoverPanic(recover(), &err)
	}()

	r := &Report{RunID: c.newID(), Flags: flags, StartedAt: c.now()}
	report = r

	if err := ValidateFlags(flags); err != nil {
		PrintFailure(err)
		return r, err
	}

	ctx, span := c.tracer.Start(ctx, "ulsctl.run", trace.WithAttributes(
		attribute.String("run_id", r.RunID),
	))
	defer func() { telemetry.EndSpan(span, err) }()

	if err := c.step(ctx, StepMode, func(ctx context.Context) (string, error) {
		return c.resolveMode(r)
	}); err != nil {
		PrintFailure(err)
		return r, err
	}
	eff := r.Flags

	if eff.StatusOnly {
		return r, c.step(ctx, StepStatus, func(ctx context.Context) (string, error) {
			return "ok", c.RenderStatus(ux.Stdout())
		})
	}

	defer c.writeMetrics(r)

	// Scheduler registration never fails the run.
	_ = c.step(ctx, StepScheduler, func(ctx context.Context) (string, error) {
		return c.ensureScheduled(ctx, r), nil
	})

	if eff.Coldstart {
		if err := c.step(ctx, StepDestructive, func(ctx context.Context) (string, error) {
			return c.resetState(ctx, r)
		}); err != nil {
			return c.abort(r, err)
		}
	}

	var bundle *secrets.Bundle
	if err := c.step(ctx, StepSecrets, func(ctx context.Context) (string, error) {
		var err error
		bundle, err = c.ensureSecrets(eff)
		return "ok", err
	}); err != nil {
		return c.abort(r, err)
	}
	defer bundle.Destroy()

	env, err := c.composeEnv(bundle)
	if err != nil {
		return c.abort(r, &StepError{Step: StepSecrets, Class: FatalConfig, Err: err})
	}

	if err := c.step(ctx, StepStorage, func(ctx context.Context) (string, error) {
		return "healthy", c.ensureStorageHealthy(ctx, eff, env)
	}); err != nil {
		return c.abort(r, err)
	}

	if err := c.step(ctx, StepIngestion, func(ctx context.Context) (string, error) {
		return c.runIngestion(ctx, eff, bundle, r)
	}); err != nil {
		return c.abort(r, err)
	}

	if err := c.step(ctx, StepPrivileges, func(ctx context.Context) (string, error) {
		return "converged", c.enforcePrivileges(ctx, bundle, r)
	}); err != nil {
		return c.abort(r, err)
	}

	if err := c.step(ctx, StepServices, func(ctx context.Context) (string, error) {
		return "started", c.startServices(ctx, env)
	}); err != nil {
		return c.abort(r, err)
	}

	sanityErr := c.step(ctx, StepSanity, func(ctx context.Context) (string, error) {
		return c.runSanity(ctx, eff)
	})

	r.Result = ledger.ResultSuccess
	if sanityErr != nil {
		r.Result = ledger.ResultFailure
		r.FailedStep = StepSanity
	}
	if err := c.step(ctx, StepLedger, func(ctx context.Context) (string, error) {
		return r.Result, c.writeBootstrap(ctx, r)
	}); err != nil {
		return c.abort(r, err)
	}

	if sanityErr != nil {
		PrintFailure(sanityErr)
		return r, sanityErr
	}
	ux.Success(fmt.Sprintf("Stack converged in %s", r.Duration().Round(time.Second)))
	return r, nil
}

// step runs one state-machine step inside a span and logs its outcome.
func (c *Controller) step(ctx context.Context, name Step, fn func(ctx context.Context) (string, error)) error {
	ctx, span := c.tracer.Start(ctx, "ulsctl."+string(name))
	start := c.now()

	outcome, err := fn(ctx)
	if err != nil {
		outcome = "failed"
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	telemetry.EndSpan(span, err)

	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "step", "step", string(name), "duration", c.now().Sub(start), "outcome", outcome)
	return err
}

// abort finishes a fatal run: no bootstrap record is written.
func (c *Controller) abort(r *Report, err error) (*Report, error) {
	r.Result = ledger.ResultFailure
	var se *StepError
	if errors.As(err, &se) {
		r.FailedStep = se.Step
	}
	r.FinishedAt = c.now()
	PrintFailure(err)
	return r, err
}

// PrintFailure reports err to the operator. Step failures get a box with
// their class and any captured diagnostics.
func PrintFailure(err error) {
	var se *StepError
	if !errors.As(err, &se) {
		ux.Error(err.Error())
		return
	}
	ux.ErrorBox(fmt.Sprintf("%s failed (%s)", se.Step, se.Class),
		append([]string{se.Err.Error()}, se.Diagnostics...))
}

// fatal wraps err as a *StepError, attaching the tail of any external
// process output it carries.
func fatal(step Step, class Class, err error) *StepError {
	return &StepError{
		Step:        step,
		Class:       class,
		Err:         err,
		Diagnostics: util.TailLines(util.ExtractStderr(err), diagnosticLines),
	}
}

// =============================================================================
// Steps
// =============================================================================

// resolveMode snapshots the system, applies the first-run upgrade and
// settles every FatalConfig condition before any side effect.
func (c *Controller) resolveMode(r *Report) (string, error) {
	state, err := Snapshot(c.deps.Secrets, c.deps.Ledger)
	if err != nil {
		return "", configError(StepMode, err)
	}
	r.State = state

	eff, upgraded := ResolveMode(r.Flags, state)
	r.Flags = eff
	r.AutoUpgraded = upgraded
	if eff.StatusOnly {
		return "status", nil
	}

	if upgraded {
		slog.Info("no secrets on disk, upgrading to coldstart with rotation")
		ux.Info("First run detected: initializing secrets and volumes")
		return "upgraded", nil
	}

	if !eff.RotateSecrets {
		for _, k := range secrets.Kinds {
			if !state.SecretsPresent[k] {
				return "", configError(StepSecrets,
					fmt.Errorf("%w: %s (rerun with --coldstart --rotate-secrets to regenerate)", secrets.ErrSecretsMissing, k))
			}
		}
		return "reconcile", nil
	}

	if err := c.confirmRotation(eff); err != nil {
		return "", configError(StepMode, err)
	}
	return "rotate", nil
}

// confirmRotation gates an explicitly requested rotation.
func (c *Controller) confirmRotation(eff RunFlags) error {
	if eff.Force {
		return nil
	}
	if eff.CI || !c.config.Interactive || c.deps.Confirm == nil {
		return ErrConfirmationRequired
	}
	ok, err := c.deps.Confirm(
		"Rotate all database secrets?",
		"This wipes the data volumes and replaces every credential. Running services lose access until restarted.",
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfirmationRequired, err)
	}
	if !ok {
		return ErrRotationDeclined
	}
	return nil
}

func (c *Controller) ensureScheduled(ctx context.Context, r *Report) string {
	if c.deps.Scheduler == nil {
		return ledger.SchedulerDisabled
	}
	rec := c.deps.Scheduler.Ensure(ctx)
	r.Scheduler = &rec

	switch rec.Status {
	case ledger.SchedulerInstalled:
		ux.Success("Scheduled daily refresh")
	case ledger.SchedulerUnavailable:
		ux.Warning("Could not register the daily refresh: " + rec.Error)
	}
	if err := c.deps.Ledger.WriteScheduler(ctx, rec); err != nil {
		slog.Warn("failed to record scheduler status", "error", err)
	}
	return rec.Status
}

// resetState stops services, removes the data volumes and forgets the
// ingestion record that described the removed data.
func (c *Controller) resetState(ctx context.Context, r *Report) (string, error) {
	ux.Warning("Coldstart: stopping services and removing data volumes")

	if err := c.deps.Supervisor.StopAll(ctx); err != nil {
		return "", fatal(StepDestructive, FatalDependency, err)
	}
	removed, err := c.deps.Supervisor.WipeVolumes(ctx, c.config.Volumes)
	r.WipedVolumes = removed
	if err != nil {
		return "", fatal(StepDestructive, FatalDependency, err)
	}
	if err := c.deps.Ledger.Drop(ctx, ledger.Ingestion); err != nil {
		return "", fatal(StepDestructive, FatalDependency, fmt.Errorf("reset ingestion record: %w", err))
	}

	slog.Info("volumes removed", "volumes", removed)
	return "wiped", nil
}

func (c *Controller) ensureSecrets(eff RunFlags) (*secrets.Bundle, error) {
	var (
		bundle *secrets.Bundle
		err    error
	)
	if eff.RotateSecrets {
		bundle, err = c.deps.Secrets.Generate()
		if err != nil {
			return nil, fatal(StepSecrets, FatalDependency, err)
		}
		ux.Success("Generated new secrets in " + c.deps.Secrets.Dir())
	} else {
		bundle, err = c.deps.Secrets.Load()
		if err != nil {
			return nil, configError(StepSecrets, err)
		}
	}

	for _, k := range secrets.Kinds {
		slog.Debug("secret ready", "kind", string(k), "fingerprint", bundle.Fingerprint(k))
	}
	return bundle, nil
}

// composeEnv hands the credentials to the compose file.
func (c *Controller) composeEnv(bundle *secrets.Bundle) (*util.EnvVars, error) {
	return util.NewEnvVars(
		util.EnvVar{Key: "MARIADB_ROOT_PASSWORD", Value: bundle.Value(secrets.RootPassword), Sensitive: true},
		util.EnvVar{Key: "MARIADB_DATABASE", Value: c.config.DatabaseName},
		util.EnvVar{Key: "MARIADB_USER", Value: c.config.DatabaseUser},
		util.EnvVar{Key: "MARIADB_PASSWORD", Value: bundle.Value(secrets.LoaderPassword), Sensitive: true},
		util.EnvVar{Key: "CALLBOOK_RO_PASSWORD", Value: bundle.Value(secrets.ReadOnlyPassword), Sensitive: true},
	)
}

func (c *Controller) ensureStorageHealthy(ctx context.Context, eff RunFlags, env *util.EnvVars) error {
	service := c.config.StorageService

	h, err := c.deps.Supervisor.Start(ctx, service, env)
	if err != nil {
		return fatal(StepStorage, FatalDependency, err)
	}

	err = util.WithHeartbeat(ctx, c.heartbeat(eff, "waiting for "+service), func(ctx context.Context) error {
		return c.deps.Supervisor.WaitHealthy(ctx, h)
	})
	if err != nil {
		se := fatal(StepStorage, FatalDependency, err)
		if len(se.Diagnostics) == 0 {
			se.Diagnostics = c.deps.Supervisor.Diagnostics(ctx, service)
		}
		return se
	}
	ux.Success(service + " is healthy")
	return nil
}

func (c *Controller) runIngestion(ctx context.Context, eff RunFlags, bundle *secrets.Bundle, r *Report) (string, error) {
	ing, closeFn, err := c.deps.NewIngestor(ctx, bundle)
	if err != nil {
		return "", fatal(StepIngestion, FatalDependency, err)
	}
	defer closeFn()

	var res *ingest.Result
	err = util.WithHeartbeat(ctx, c.heartbeat(eff, "importing dataset"), func(ctx context.Context) error {
		var runErr error
		res, runErr = ing.Run(ctx)
		return runErr
	})
	r.Ingestion = res
	if err != nil {
		return "", fatal(StepIngestion, IngestionFailure, err)
	}

	switch res.Outcome {
	case ingest.OutcomeSkipped:
		ux.Skipped("Dataset import skipped: " + res.SkipReason)
		return "skip:" + res.SkipReason, nil
	default:
		ux.Success(fmt.Sprintf("Dataset imported in %s", res.Duration.Round(time.Second)))
		return string(res.Outcome), nil
	}
}

func (c *Controller) enforcePrivileges(ctx context.Context, bundle *secrets.Bundle, r *Report) error {
	enf, closeFn, err := c.deps.NewEnforcer(ctx, bundle)
	if err != nil {
		return fatal(StepPrivileges, FatalDependency, err)
	}
	defer closeFn()

	res, err := enf.Enforce(ctx, bundle.Value(secrets.ReadOnlyPassword))
	if err != nil {
		class := FatalDependency
		if errors.Is(err, privilege.ErrInvalidCredential) {
			class = FatalConfig
		}
		return fatal(StepPrivileges, class, err)
	}

	r.Grants = res.Grants
	ux.Success("Read-only access converged")
	for _, g := range res.Grants {
		ux.Muted("  " + g)
	}
	return nil
}

func (c *Controller) startServices(ctx context.Context, env *util.EnvVars) error {
	if len(c.config.Services) == 0 {
		return nil
	}
	if err := c.deps.Supervisor.StartAll(ctx, c.config.Services, env); err != nil {
		return fatal(StepServices, FatalDependency, err)
	}
	ux.Success(fmt.Sprintf("Started %v", c.config.Services))
	return nil
}

func (c *Controller) runSanity(ctx context.Context, eff RunFlags) (string, error) {
	if c.deps.Sanity == nil {
		return "none", nil
	}

	var out io.Writer = ux.Stdout()
	if eff.LogSanity && c.config.SanityLogPath != "" {
		tee, closeFn, err := sanity.Tee(out, c.config.SanityLogPath)
		if err != nil {
			slog.Warn("sanity log unavailable, continuing without it", "error", err)
		} else {
			out = tee
			defer func() {
				if err := closeFn(); err != nil {
					slog.Warn("failed to close sanity log", "error", err)
				}
			}()
		}
	}

	ux.Info("Running sanity check: " + c.deps.Sanity.Describe())
	if err := c.deps.Sanity.Check(ctx, out); err != nil {
		return "", fatal(StepSanity, FatalDependency, err)
	}
	ux.Success("Sanity check passed")
	return "passed", nil
}

func (c *Controller) writeBootstrap(ctx context.Context, r *Report) error {
	r.FinishedAt = c.now()
	rec := ledger.BootstrapRecord{
		RunID:           r.RunID,
		Result:          r.Result,
		FailedStep:      string(r.FailedStep),
		StartedAt:       r.StartedAt.UTC(),
		FinishedAt:      r.FinishedAt.UTC(),
		DurationSeconds: r.Duration().Seconds(),
		Flags:           r.Flags.ledgerFlags(r.AutoUpgraded),
		Host:            c.config.Host,
	}
	if err := c.deps.Ledger.WriteBootstrap(ctx, rec); err != nil {
		return fatal(StepLedger, FatalDependency, err)
	}
	return nil
}

func (c *Controller) heartbeat(eff RunFlags, msg string) util.HeartbeatConfig {
	return util.HeartbeatConfig{
		Enabled:  !eff.CI && c.config.Terminal,
		Message:  msg,
		Writer:   ux.Stderr(),
		Terminal: c.config.Terminal,
	}
}

// writeMetrics exports the run, including fatal aborts.
func (c *Controller) writeMetrics(r *Report) {
	if c.config.MetricsPath == "" {
		return
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = c.now()
	}
	snap := telemetry.RunSnapshot{
		FinishedAt: r.FinishedAt,
		Success:    r.Result == ledger.ResultSuccess,
		Duration:   r.Duration(),
	}
	if r.Ingestion != nil {
		snap.IngestionOutcome = string(r.Ingestion.Outcome)
		snap.Rows = r.Ingestion.Rows
	}
	if err := telemetry.WriteTextfile(c.config.MetricsPath, snap); err != nil {
		slog.Warn("failed to write metrics", "path", c.config.MetricsPath, "error", err)
	}
}

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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ingest"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ledger"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/privilege"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/secrets"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/supervisor"
	"github.com/hamcall/ulsbook/pkg/ux"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeIngestor replays queued results; an empty queue applies.
type fakeIngestor struct {
	mu      sync.Mutex
	runs    int
	opens   int
	queue   []*ingest.Result
	openErr error
	onRun   func()
}

func (f *fakeIngestor) factory(ctx context.Context, b *secrets.Bundle) (Ingestor, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return nil, nil, f.openErr
	}
	return f, func() {}, nil
}

func (f *fakeIngestor) Run(ctx context.Context) (*ingest.Result, error) {
	f.mu.Lock()
	f.runs++
	var res *ingest.Result
	if len(f.queue) > 0 {
		res, f.queue = f.queue[0], f.queue[1:]
	}
	hook := f.onRun
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if res == nil {
		res = &ingest.Result{Outcome: ingest.OutcomeApplied, Rows: map[string]int64{"hd": 3, "en": 3, "am": 2}}
	}
	return res, res.Err
}

func (f *fakeIngestor) Runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fakeRegistrar struct {
	rec   ledger.SchedulerRecord
	calls int
}

func (f *fakeRegistrar) Ensure(ctx context.Context) ledger.SchedulerRecord {
	f.calls++
	return f.rec
}

type fakeGate struct {
	output string
	err    error
	calls  int
}

func (f *fakeGate) Check(ctx context.Context, out io.Writer) error {
	f.calls++
	if f.output != "" {
		fmt.Fprintln(out, f.output)
	}
	return f.err
}

func (f *fakeGate) Describe() string { return "fake check" }

type fixedPID int

func (p fixedPID) HolderPID() int { return int(p) }

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	dir      string
	secrets  *secrets.FileStore
	ledger   *ledger.Store
	sup      *supervisor.MockSupervisor
	enforcer *privilege.MockEnforcer
	ingestor *fakeIngestor
	sched    *fakeRegistrar
	gate     *fakeGate
	confirm  ConfirmFunc
	out      *bytes.Buffer
	errOut   *bytes.Buffer
	config   Config

	enforcerOpens int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		dir:      dir,
		secrets:  secrets.NewFileStore(filepath.Join(dir, "secrets")),
		ledger:   ledger.NewStore(filepath.Join(dir, "state", "state.json")),
		sup:      &supervisor.MockSupervisor{},
		enforcer: &privilege.MockEnforcer{},
		ingestor: &fakeIngestor{},
		sched:    &fakeRegistrar{rec: ledger.SchedulerRecord{Status: ledger.SchedulerInstalled, Entry: "17 3 * * * /usr/local/bin/ulsctl --ci"}},
		gate:     &fakeGate{},
		out:      &bytes.Buffer{},
		errOut:   &bytes.Buffer{},
		config: Config{
			Services: []string{"api", "ui"},
			Volumes:  []string{"uls_mariadb_data", "uls_cache"},
			Host:     "testhost",
		},
	}

	prev := ux.GetPersonality().Level
	ux.SetPersonalityLevel(ux.PersonalityMachine)
	restore := ux.SetOutput(h.out, h.errOut)
	t.Cleanup(func() {
		restore()
		ux.SetPersonalityLevel(prev)
	})
	return h
}

func (h *harness) controller(t *testing.T) *Controller {
	t.Helper()
	c, err := New(Deps{
		Secrets:     h.secrets,
		Ledger:      h.ledger,
		Supervisor:  h.sup,
		NewIngestor: h.ingestor.factory,
		NewEnforcer: func(ctx context.Context, b *secrets.Bundle) (privilege.Enforcer, func(), error) {
			h.enforcerOpens++
			return h.enforcer, func() {}, nil
		},
		Scheduler:  h.sched,
		Sanity:     h.gate,
		ImportLock: fixedPID(0),
		Confirm:    h.confirm,
	}, h.config)
	require.NoError(t, err)
	return c
}

// secretFiles returns the bytes of every secret file, keyed by kind.
func (h *harness) secretFiles(t *testing.T) map[secrets.Kind][]byte {
	t.Helper()
	out := map[secrets.Kind][]byte{}
	for _, k := range secrets.Kinds {
		data, err := os.ReadFile(h.secrets.Path(k))
		require.NoError(t, err)
		out[k] = data
	}
	return out
}

func (h *harness) seedSecrets(t *testing.T) map[secrets.Kind][]byte {
	t.Helper()
	b, err := h.secrets.Generate()
	require.NoError(t, err)
	b.Destroy()
	return h.secretFiles(t)
}

func (h *harness) document(t *testing.T) *ledger.Document {
	t.Helper()
	doc, _, err := h.ledger.Read()
	require.NoError(t, err)
	return doc
}

func requireStepError(t *testing.T, err error, step Step, class Class) *StepError {
	t.Helper()
	require.Error(t, err)
	var se *StepError
	require.True(t, errors.As(err, &se), "expected *StepError, got %T: %v", err, err)
	assert.Equal(t, step, se.Step)
	assert.Equal(t, class, se.Class)
	return se
}

// =============================================================================
// Flag gating
// =============================================================================

func TestRun_InvalidFlagsFailBeforeAnyIO(t *testing.T) {
	tests := []struct {
		name  string
		flags RunFlags
	}{
		{"rotate without coldstart", RunFlags{RotateSecrets: true}},
		{"rotate without coldstart in ci", RunFlags{RotateSecrets: true, CI: true}},
		{"force without rotate", RunFlags{Coldstart: true, Force: true}},
		{"force alone", RunFlags{Force: true}},
		{"status with coldstart", RunFlags{StatusOnly: true, Coldstart: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			report, err := h.controller(t).Run(context.Background(), tt.flags)

			se := requireStepError(t, err, StepFlags, FatalConfig)
			assert.ErrorIs(t, se, ErrInvalidFlags)
			assert.Equal(t, ExitFatalConfig, ExitCode(err))
			require.NotNil(t, report)

			assert.Empty(t, h.sup.Calls())
			assert.Zero(t, h.sched.calls)
			assert.Zero(t, h.ingestor.opens)
			assert.NoDirExists(t, h.secrets.Dir())
			assert.False(t, h.ledger.Exists())
		})
	}
}

// =============================================================================
// Mode resolution
// =============================================================================

func TestRun_FirstRunUpgradesAndConverges(t *testing.T) {
	h := newHarness(t)

	report, err := h.controller(t).Run(context.Background(), RunFlags{CI: true})
	require.NoError(t, err)

	assert.True(t, report.AutoUpgraded)
	assert.True(t, report.Flags.Coldstart)
	assert.True(t, report.Flags.RotateSecrets)
	assert.Equal(t, ledger.ResultSuccess, report.Result)

	present, err := h.secrets.Present()
	require.NoError(t, err)
	for _, k := range secrets.Kinds {
		assert.True(t, present[k], "secret %s", k)
	}

	assert.Equal(t, []string{
		"StopAll",
		"WipeVolumes uls_mariadb_data uls_cache",
		"Start mariadb",
		"WaitHealthy mariadb",
		"StartAll api ui",
	}, h.sup.Calls())
	assert.Equal(t, 1, h.ingestor.Runs())
	assert.Equal(t, 1, h.enforcer.Calls())
	assert.Equal(t, 1, h.gate.calls)

	doc := h.document(t)
	require.NotNil(t, doc.Bootstrap)
	assert.Equal(t, ledger.ResultSuccess, doc.Bootstrap.Result)
	assert.Equal(t, report.RunID, doc.Bootstrap.RunID)
	assert.Equal(t, "testhost", doc.Bootstrap.Host)
	assert.True(t, doc.Bootstrap.Flags.AutoUpgraded)
	assert.True(t, doc.Bootstrap.Flags.CI)
	require.NotNil(t, doc.Scheduler)
	assert.Equal(t, ledger.SchedulerInstalled, doc.Scheduler.Status)

	assert.FileExists(t, h.ledger.LegacyPath())
}

func TestRun_EnforcerReceivesReadOnlySecret(t *testing.T) {
	h := newHarness(t)
	files := h.seedSecrets(t)

	var got string
	h.enforcer.EnforceFunc = func(ctx context.Context, password string) (*privilege.Result, error) {
		got = password
		return &privilege.Result{}, nil
	}

	_, err := h.controller(t).Run(context.Background(), RunFlags{CI: true})
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(string(files[secrets.ReadOnlyPassword])), got)
}

func TestRun_ComposeEnvRedactsPasswords(t *testing.T) {
	h := newHarness(t)
	h.seedSecrets(t)

	_, err := h.controller(t).Run(context.Background(), RunFlags{CI: true})
	require.NoError(t, err)

	env := h.sup.LastEnv()
	require.NotNil(t, env)
	redacted := strings.Join(env.RedactedSlice(), "\n")
	assert.Contains(t, redacted, "MARIADB_ROOT_PASSWORD=[REDACTED]")
	assert.Contains(t, redacted, "MARIADB_PASSWORD=[REDACTED]")
	assert.Contains(t, redacted, "CALLBOOK_RO_PASSWORD=[REDACTED]")
	assert.Contains(t, redacted, "MARIADB_DATABASE=uls")
	assert.Contains(t, redacted, "MARIADB_USER=uls")
}

func TestRun_SecondRunSkipsAndKeepsSecrets(t *testing.T) {
	h := newHarness(t)
	c := h.controller(t)

	_, err := c.Run(context.Background(), RunFlags{CI: true})
	require.NoError(t, err)
	before := h.secretFiles(t)

	h.ingestor.queue = []*ingest.Result{{Outcome: ingest.OutcomeSkipped, SkipReason: ingest.ReasonUnchanged}}
	callsBefore := len(h.sup.Calls())

	report, err := c.Run(context.Background(), RunFlags{CI: true})
	require.NoError(t, err)

	assert.False(t, report.AutoUpgraded)
	assert.False(t, report.Flags.Coldstart)
	require.NotNil(t, report.Ingestion)
	assert.Equal(t, ingest.OutcomeSkipped, report.Ingestion.Outcome)
	assert.Equal(t, before, h.secretFiles(t))

	second := h.sup.Calls()[callsBefore:]
	assert.NotContains(t, second, "StopAll")
	assert.Equal(t, ledger.ResultSuccess, h.document(t).Bootstrap.Result)
	assert.False(t, h.document(t).Bootstrap.Flags.AutoUpgraded)
	assert.Contains(t, h.out.String(), "SKIP:")
}

func TestRun_PartialSecretsNeverUpgrade(t *testing.T) {
	h := newHarness(t)
	h.seedSecrets(t)
	require.NoError(t, os.Remove(h.secrets.Path(secrets.LoaderPassword)))

	_, err := h.controller(t).Run(context.Background(), RunFlags{CI: true})

	se := requireStepError(t, err, StepSecrets, FatalConfig)
	assert.ErrorIs(t, se, secrets.ErrSecretsMissing)
	assert.Equal(t, ExitFatalConfig, ExitCode(err))
	assert.Empty(t, h.sup.Calls())
	assert.False(t, h.ledger.Exists())
}

// =============================================================================
// Destructive phase
// =============================================================================

func TestRun_ColdstartWithoutRotateKeepsSecrets(t *testing.T) {
	h := newHarness(t)
	before := h.seedSecrets(t)
	require.NoError(t, h.ledger.WriteIngestion(context.Background(), ledger.IngestionRecord{
		Result: ledger.ResultSuccess,
		Source: &ledger.SourceMetadata{URL: "http://x", SHA256: "abc", Bytes: 10},
	}))

	var sawIngestion bool
	h.ingestor.onRun = func() {
		sawIngestion = h.document(t).Ingestion != nil
	}

	report, err := h.controller(t).Run(context.Background(), RunFlags{Coldstart: true, CI: true})
	require.NoError(t, err)

	assert.Equal(t, before, h.secretFiles(t))
	assert.Equal(t, []string{"uls_mariadb_data", "uls_cache"}, report.WipedVolumes)
	assert.Contains(t, h.sup.Calls(), "WipeVolumes uls_mariadb_data uls_cache")
	assert.False(t, sawIngestion, "ingestion record must be reset before the wiped database is reimported")
	assert.True(t, h.document(t).Bootstrap.Flags.Coldstart)
}

func TestRun_ExplicitRotationGating(t *testing.T) {
	t.Run("unattended without force", func(t *testing.T) {
		h := newHarness(t)
		before := h.seedSecrets(t)

		_, err := h.controller(t).Run(context.Background(), RunFlags{Coldstart: true, RotateSecrets: true, CI: true})

		se := requireStepError(t, err, StepMode, FatalConfig)
		assert.ErrorIs(t, se, ErrConfirmationRequired)
		assert.Empty(t, h.sup.Calls())
		assert.Equal(t, before, h.secretFiles(t))
	})

	t.Run("force rotates", func(t *testing.T) {
		h := newHarness(t)
		before := h.seedSecrets(t)

		_, err := h.controller(t).Run(context.Background(), RunFlags{Coldstart: true, RotateSecrets: true, Force: true, CI: true})
		require.NoError(t, err)

		after := h.secretFiles(t)
		for _, k := range secrets.Kinds {
			assert.NotEqual(t, before[k], after[k], "secret %s", k)
		}
		assert.True(t, h.document(t).Bootstrap.Flags.Force)
	})

	t.Run("interactive decline", func(t *testing.T) {
		h := newHarness(t)
		before := h.seedSecrets(t)
		h.config.Interactive = true
		asked := 0
		h.confirm = func(title, description string) (bool, error) {
			asked++
			return false, nil
		}

		_, err := h.controller(t).Run(context.Background(), RunFlags{Coldstart: true, RotateSecrets: true})

		se := requireStepError(t, err, StepMode, FatalConfig)
		assert.ErrorIs(t, se, ErrRotationDeclined)
		assert.Equal(t, 1, asked)
		assert.Empty(t, h.sup.Calls())
		assert.Equal(t, before, h.secretFiles(t))
	})

	t.Run("interactive accept", func(t *testing.T) {
		h := newHarness(t)
		before := h.seedSecrets(t)
		h.config.Interactive = true
		h.confirm = func(title, description string) (bool, error) { return true, nil }

		_, err := h.controller(t).Run(context.Background(), RunFlags{Coldstart: true, RotateSecrets: true})
		require.NoError(t, err)
		assert.NotEqual(t, before[secrets.RootPassword], h.secretFiles(t)[secrets.RootPassword])
	})
}

// =============================================================================
// Fatal steps
// =============================================================================

func TestRun_StorageUnhealthyIsFatalDependency(t *testing.T) {
	h := newHarness(t)
	h.seedSecrets(t)
	h.sup.WaitHealthyFunc = func(ctx context.Context, sh *supervisor.ServiceHandle) error {
		return fmt.Errorf("%w: mariadb after 90 attempts", supervisor.ErrStorageUnhealthy)
	}
	h.sup.DiagnosticsFunc = func(ctx context.Context, service string) []string {
		return []string{"[ERROR] InnoDB: cannot allocate memory"}
	}

	report, err := h.controller(t).Run(context.Background(), RunFlags{CI: true})

	se := requireStepError(t, err, StepStorage, FatalDependency)
	assert.ErrorIs(t, se, supervisor.ErrStorageUnhealthy)
	assert.Equal(t, []string{"[ERROR] InnoDB: cannot allocate memory"}, se.Diagnostics)
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.Equal(t, StepStorage, report.FailedStep)

	assert.Zero(t, h.ingestor.opens)
	assert.Nil(t, h.document(t).Bootstrap, "fatal aborts must not write the bootstrap record")
	assert.Contains(t, h.errOut.String(), "storage failed")
}

func TestRun_IngestionFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.seedSecrets(t)
	stageErr := &ingest.StageError{Stage: ingest.StageMerge, Err: errors.New("deadlock")}
	h.ingestor.queue = []*ingest.Result{{Outcome: ingest.OutcomeFailed, Stage: ingest.StageMerge, Err: stageErr}}

	report, err := h.controller(t).Run(context.Background(), RunFlags{CI: true})

	se := requireStepError(t, err, StepIngestion, IngestionFailure)
	var stage *ingest.StageError
	require.True(t, errors.As(se, &stage))
	assert.Equal(t, ingest.StageMerge, stage.Stage)
	require.NotNil(t, report.Ingestion)
	assert.Equal(t, ingest.OutcomeFailed, report.Ingestion.Outcome)

	assert.Zero(t, h.enforcer.Calls())
	assert.NotContains(t, h.sup.Calls(), "StartAll api ui")
	assert.Nil(t, h.document(t).Bootstrap)
}

func TestRun_IngestorUnavailableIsFatalDependency(t *testing.T) {
	h := newHarness(t)
	h.seedSecrets(t)
	h.ingestor.openErr = errors.New("dial tcp 127.0.0.1:3306: connection refused")

	_, err := h.controller(t).Run(context.Background(), RunFlags{CI: true})

	requireStepError(t, err, StepIngestion, FatalDependency)
	assert.Zero(t, h.ingestor.Runs())
}

func TestRun_PrivilegeFailures(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class Class
	}{
		{"view missing", fmt.Errorf("%w: uls.v_callbook", privilege.ErrViewMissing), FatalDependency},
		{"grant drift", fmt.Errorf("%w: GRANT ALL", privilege.ErrGrantDrift), FatalDependency},
		{"invalid credential", privilege.ErrInvalidCredential, FatalConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seedSecrets(t)
			h.enforcer.EnforceFunc = func(ctx context.Context, password string) (*privilege.Result, error) {
				return nil, tt.err
			}

			_, err := h.controller(t).Run(context.Background(), RunFlags{CI: true})

			se := requireStepError(t, err, StepPrivileges, tt.class)
			assert.ErrorIs(t, se, tt.err)
			assert.NotContains(t, h.sup.Calls(), "StartAll api ui")
			assert.Zero(t, h.gate.calls)
			assert.Nil(t, h.document(t).Bootstrap)
		})
	}
}

func TestRun_SanityFailureRecordsFailure(t *testing.T) {
	h := newHarness(t)
	h.seedSecrets(t)
	h.gate.err = fmt.Errorf("%w: /health returned 502", errors.New("sanity check failed"))

	report, err := h.controller(t).Run(context.Background(), RunFlags{CI: true})

	requireStepError(t, err, StepSanity, FatalDependency)
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.Contains(t, h.sup.Calls(), "StartAll api ui", "services stay up for inspection")

	doc := h.document(t)
	require.NotNil(t, doc.Bootstrap)
	assert.Equal(t, ledger.ResultFailure, doc.Bootstrap.Result)
	assert.Equal(t, string(StepSanity), doc.Bootstrap.FailedStep)
	assert.Equal(t, report.RunID, doc.Bootstrap.RunID)
}

func TestRun_SchedulerUnavailableDoesNotFail(t *testing.T) {
	h := newHarness(t)
	h.seedSecrets(t)
	h.sched.rec = ledger.SchedulerRecord{Status: ledger.SchedulerUnavailable, Error: "crontab: not found"}

	report, err := h.controller(t).Run(context.Background(), RunFlags{CI: true})
	require.NoError(t, err)

	require.NotNil(t, report.Scheduler)
	assert.Equal(t, ledger.SchedulerUnavailable, report.Scheduler.Status)
	assert.Equal(t, ledger.SchedulerUnavailable, h.document(t).Scheduler.Status)
	assert.Contains(t, h.errOut.String(), "WARN:")
}

// =============================================================================
// Status, sanity log, metrics
// =============================================================================

func TestRun_StatusOnlyNoPriorRun(t *testing.T) {
	h := newHarness(t)

	report, err := h.controller(t).Run(context.Background(), RunFlags{StatusOnly: true})
	require.NoError(t, err)

	assert.False(t, report.AutoUpgraded)
	assert.Contains(t, h.out.String(), "no prior run")
	assert.Contains(t, h.out.String(), "absent")
	assert.Empty(t, h.sup.Calls())
	assert.Zero(t, h.sched.calls)
	assert.False(t, h.ledger.Exists())
	assert.NoDirExists(t, h.secrets.Dir())
}

func TestRun_StatusAfterRun(t *testing.T) {
	h := newHarness(t)
	c := h.controller(t)
	_, err := c.Run(context.Background(), RunFlags{CI: true})
	require.NoError(t, err)
	h.out.Reset()

	_, err = c.Run(context.Background(), RunFlags{StatusOnly: true})
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), ledger.ResultSuccess)
	assert.NotContains(t, h.out.String(), "no prior run")
}

func TestRun_LogSanityTeesOutput(t *testing.T) {
	h := newHarness(t)
	h.seedSecrets(t)
	h.config.SanityLogPath = filepath.Join(h.dir, "logs", "sanity.log")
	h.gate.output = "api: 200 OK"

	_, err := h.controller(t).Run(context.Background(), RunFlags{CI: true, LogSanity: true})
	require.NoError(t, err)

	data, err := os.ReadFile(h.config.SanityLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "api: 200 OK")
	assert.Contains(t, h.out.String(), "api: 200 OK")
}

func TestRun_WritesMetricsOnSuccessAndAbort(t *testing.T) {
	h := newHarness(t)
	h.seedSecrets(t)
	h.config.MetricsPath = filepath.Join(h.dir, "metrics", "ulsctl.prom")
	c := h.controller(t)

	_, err := c.Run(context.Background(), RunFlags{CI: true})
	require.NoError(t, err)
	data, err := os.ReadFile(h.config.MetricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ulsctl_bootstrap_last_run_success 1")
	assert.Contains(t, string(data), `ulsctl_ingestion_last_outcome{outcome="applied"} 1`)
	assert.Contains(t, string(data), `ulsctl_ingestion_rows{table="hd"} 3`)

	h.sup.WaitHealthyFunc = func(ctx context.Context, sh *supervisor.ServiceHandle) error {
		return supervisor.ErrStorageUnhealthy
	}
	_, err = c.Run(context.Background(), RunFlags{CI: true})
	require.Error(t, err)
	data, err = os.ReadFile(h.config.MetricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ulsctl_bootstrap_last_run_success 0")
}

func TestRun_PanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.seedSecrets(t)
	h.ingestor.onRun = func() { panic("loader exploded") }

	_, err := h.controller(t).Run(context.Background(), RunFlags{CI: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPanicRecovered)
	assert.Equal(t, ExitFailure, ExitCode(err))
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{}, Config{})
	assert.ErrorIs(t, err, ErrNilDependency)
}

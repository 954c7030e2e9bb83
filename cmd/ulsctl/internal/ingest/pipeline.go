// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/infra/process"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ledger"
)

// Outcome is the result class of one attempt.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skip"
	OutcomeFailed  Outcome = "failure"
)

// Result describes one attempt. On failure, Err is also returned by Run.
type Result struct {
	Outcome    Outcome
	SkipReason string
	Stage      Stage
	Err        error
	Decision   Decision
	Source     *ledger.SourceMetadata
	Rows       map[string]int64
	Classes    map[string]int64
	View       *ledger.ViewCounts
	Duration   time.Duration
}

// LedgerStore is the part of the ledger the pipeline uses.
type LedgerStore interface {
	Read() (*ledger.Document, bool, error)
	WriteIngestion(ctx context.Context, rec ledger.IngestionRecord) error
	RecordIngestionSkip(ctx context.Context, reason string, at time.Time) error
}

// Config configures a Pipeline.
type Config struct {
	SourceURL string
	CacheDir  string
}

// Pipeline is the Ingestion Pipeline.
type Pipeline struct {
	cfg     Config
	lock    process.Locker
	ledger  LedgerStore
	fetcher Fetcher
	loader  Loader
	now     func() time.Time
}

// New creates a Pipeline.
func New(cfg Config, lock process.Locker, store LedgerStore, fetcher Fetcher, loader Loader) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		lock:    lock,
		ledger:  store,
		fetcher: fetcher,
		loader:  loader,
		now:     time.Now,
	}
}

// attempt carries state between the stages of one Run.
type attempt struct {
	started time.Time
	prior   *ledger.IngestionRecord
}

func (a *attempt) priorSource() *ledger.SourceMetadata {
	if a.prior == nil {
		return nil
	}
	return a.prior.Source
}

// Run executes one ingestion attempt.
//
// # Description
//
// The import lock is taken without waiting; contention is a skip. Once
// held, the lock is released on every return path, after the ledger has
// been written. Final tables are only touched by the merge, which runs
// after all three staging tables are loaded and non-empty.
//
// # Outputs
//
//   - *Result: Always non-nil.
//   - error: A *StageError when Outcome is OutcomeFailed, nil otherwise.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	a := &attempt{started: p.now()}

	if err := p.lock.TryAcquire(); err != nil {
		if errors.Is(err, process.ErrLockHeld) {
			slog.Info("import lock held elsewhere, skipping", "holder_pid", p.lock.HolderPID())
			return p.skipLocked(ctx, a)
		}
		return p.fail(ctx, a, StageLock, err)
	}
	defer func() {
		if err := p.lock.Release(); err != nil {
			slog.Warn("import lock release failed", "error", err)
		}
	}()

	a.prior = p.readPrior()
	prior := a.priorSource()

	current, err := p.fetcher.Probe(ctx, p.cfg.SourceURL)
	if err != nil {
		return p.fail(ctx, a, StageProbe, err)
	}
	decision := DecideByValidators(prior, current)
	slog.Info("change detection", "action", decision.Action, "basis", decision.Basis,
		"etag", current.ETag, "last_modified", current.LastModified)
	if decision.Action == Skip {
		return p.skip(ctx, a, decision, prior)
	}

	var conditional Validators
	if prior != nil && prior.SHA256 != "" {
		conditional = Validators{ETag: prior.ETag, LastModified: prior.LastModified}
	}
	payload, err := p.fetcher.Download(ctx, p.cfg.SourceURL, conditional, p.archivePath())
	switch {
	case errors.Is(err, ErrNotModified):
		return p.skip(ctx, a, Decision{Action: Skip, Reason: ReasonUnchanged, Basis: BasisValidators}, prior)
	case IsPayloadError(err):
		return p.fail(ctx, a, StageVerify, err)
	case err != nil:
		return p.fail(ctx, a, StageDownload, err)
	}

	decision = DecideByContent(prior, payload.SHA256, payload.Bytes)
	if decision.Action == Skip {
		src := *prior
		src.ETag = payload.Validators.ETag
		src.LastModified = payload.Validators.LastModified
		return p.skip(ctx, a, decision, &src)
	}

	diag, stage, err := p.apply(ctx, payload)
	if err != nil {
		return p.fail(ctx, a, stage, err)
	}

	applied := p.now().UTC()
	src := &ledger.SourceMetadata{
		URL:          p.cfg.SourceURL,
		ETag:         payload.Validators.ETag,
		LastModified: payload.Validators.LastModified,
		SHA256:       payload.SHA256,
		Bytes:        payload.Bytes,
		AppliedAt:    &applied,
	}
	res := &Result{
		Outcome:  OutcomeApplied,
		Decision: decision,
		Source:   src,
		Rows:     diag.rows,
		Classes:  diag.classes,
		View:     diag.view,
		Duration: p.now().Sub(a.started),
	}
	rec := ledger.IngestionRecord{
		Result:          ledger.ResultSuccess,
		LastRunAt:       applied,
		Source:          src,
		Rows:            diag.rows,
		OperatorClasses: diag.classes,
		View:            diag.view,
	}
	if err := p.ledger.WriteIngestion(ctx, rec); err != nil {
		res.Outcome, res.Stage = OutcomeFailed, StageLedger
		res.Err = stageErr(StageLedger, err)
		return res, res.Err
	}
	slog.Info("ingestion applied", "rows", diag.rows, "duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

// diagnostics is what the loader reports after a successful merge. Every
// field is best effort.
type diagnostics struct {
	rows    map[string]int64
	classes map[string]int64
	view    *ledger.ViewCounts
}

// apply runs extract through view. Returns the failing stage on error.
func (p *Pipeline) apply(ctx context.Context, payload *Payload) (diagnostics, Stage, error) {
	extractDir := filepath.Join(p.cfg.CacheDir, "extract")
	defer func() {
		if err := os.RemoveAll(extractDir); err != nil {
			slog.Debug("could not remove extract dir", "error", err)
		}
	}()

	files, err := Extract(payload.Path, extractDir, RequiredMembers)
	if err != nil {
		return diagnostics{}, StageExtract, err
	}

	utf8Files := make(map[string]string, len(files))
	for _, member := range RequiredMembers {
		dst, err := TranscodeToUTF8(files[member])
		if err != nil {
			return diagnostics{}, StageTranscode, err
		}
		utf8Files[member] = dst
	}

	if err := p.loader.ApplySchema(ctx); err != nil {
		return diagnostics{}, StageSchema, err
	}
	for _, member := range RequiredMembers {
		if err := p.loader.Stage(ctx, member, utf8Files[member]); err != nil {
			return diagnostics{}, StageStage, err
		}
	}

	counts, err := p.loader.StagedCounts(ctx)
	if err != nil {
		return diagnostics{}, StageValidate, err
	}
	for _, table := range []string{"stg_hd", "stg_en", "stg_am"} {
		if counts[table] <= 0 {
			return diagnostics{}, StageValidate, fmt.Errorf("%w: %s", ErrEmptyStaging, table)
		}
	}

	if err := p.loader.Merge(ctx); err != nil {
		return diagnostics{}, StageMerge, err
	}
	if err := p.loader.RebuildView(ctx); err != nil {
		return diagnostics{}, StageView, err
	}

	var diag diagnostics
	diag.rows, diag.classes, err = p.loader.Diagnostics(ctx)
	if err != nil {
		slog.Warn("post-merge diagnostics failed", "error", err)
	}
	if diag.view, err = p.loader.ViewDiagnostics(ctx); err != nil {
		slog.Warn("view diagnostics failed", "error", err)
	}
	return diag, "", nil
}

func (p *Pipeline) readPrior() *ledger.IngestionRecord {
	doc, _, err := p.ledger.Read()
	if err != nil {
		slog.Warn("could not read ledger, treating source as unknown", "error", err)
		return nil
	}
	return doc.Ingestion
}

func (p *Pipeline) skip(ctx context.Context, a *attempt, d Decision, src *ledger.SourceMetadata) (*Result, error) {
	res := &Result{
		Outcome:    OutcomeSkipped,
		SkipReason: d.Reason,
		Decision:   d,
		Source:     src,
		Duration:   p.now().Sub(a.started),
	}
	rec := ledger.IngestionRecord{
		Result:            ledger.ResultSkip,
		LastRunAt:         a.started.UTC(),
		LastRunSkipReason: d.Reason,
		Source:            src,
	}
	if a.prior != nil {
		rec.Rows = a.prior.Rows
		rec.OperatorClasses = a.prior.OperatorClasses
		rec.View = a.prior.View
		res.Rows = a.prior.Rows
		res.Classes = a.prior.OperatorClasses
		res.View = a.prior.View
	}
	if err := p.ledger.WriteIngestion(ctx, rec); err != nil {
		// A skip changed nothing; a lost record only costs a redundant check next run.
		slog.Warn("could not record ingestion skip", "error", err)
	}
	slog.Info("ingestion skipped", "reason", d.Reason)
	return res, nil
}

// skipLocked records a skip while another process holds the import lock.
// The holder may be about to write a new source, so only the outcome
// fields are touched; the prior record is read for the Result alone.
func (p *Pipeline) skipLocked(ctx context.Context, a *attempt) (*Result, error) {
	res := &Result{
		Outcome:    OutcomeSkipped,
		SkipReason: ReasonLocked,
		Decision:   Decision{Action: Skip, Reason: ReasonLocked},
		Duration:   p.now().Sub(a.started),
	}
	if prior := p.readPrior(); prior != nil {
		res.Source = prior.Source
		res.Rows = prior.Rows
		res.Classes = prior.OperatorClasses
		res.View = prior.View
	}
	if err := p.ledger.RecordIngestionSkip(ctx, ReasonLocked, a.started); err != nil {
		slog.Warn("could not record ingestion skip", "error", err)
	}
	slog.Info("ingestion skipped", "reason", ReasonLocked)
	return res, nil
}

func (p *Pipeline) fail(ctx context.Context, a *attempt, stage Stage, err error) (*Result, error) {
	wrapped := stageErr(stage, err)
	res := &Result{
		Outcome:  OutcomeFailed,
		Stage:    stage,
		Err:      wrapped,
		Source:   a.priorSource(),
		Duration: p.now().Sub(a.started),
	}
	rec := ledger.IngestionRecord{
		Result:    ledger.ResultFailure,
		Stage:     string(stage),
		Error:     err.Error(),
		LastRunAt: a.started.UTC(),
		Source:    a.priorSource(),
	}
	if a.prior != nil {
		rec.Rows = a.prior.Rows
		rec.OperatorClasses = a.prior.OperatorClasses
		rec.View = a.prior.View
	}
	if werr := p.ledger.WriteIngestion(ctx, rec); werr != nil {
		slog.Error("could not record ingestion failure", "error", werr)
	}
	slog.Error("ingestion failed", "stage", stage, "error", err)
	return res, wrapped
}

func (p *Pipeline) archivePath() string {
	name := "l_amat.zip"
	if u, err := url.Parse(p.cfg.SourceURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			name = base
		}
	}
	return filepath.Join(p.cfg.CacheDir, name)
}

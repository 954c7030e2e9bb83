// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest applies the upstream license dataset to storage.
//
// # Overview
//
// One attempt runs under the host-scoped import lock:
//
//	probe -> decide -> download -> verify -> decide by content ->
//	extract -> transcode -> schema -> stage -> validate -> merge -> view
//
// A skip (lock held, validators unchanged, content unchanged) is a
// successful outcome. Any failure leaves the final tables and the view as
// they were, records the failing stage in the ledger, and is returned to
// the caller, who decides whether it is fatal.
package ingest

import (
	"errors"
	"fmt"
)

// Stage names a step of the pipeline. Failures are reported by stage.
type Stage string

const (
	StageLock        Stage = "lock"
	StageProbe       Stage = "probe"
	StageDownload    Stage = "download"
	StageVerify      Stage = "verify"
	StageExtract     Stage = "extract"
	StageTranscode   Stage = "transcode"
	StageSchema      Stage = "schema"
	StageStage       Stage = "stage"
	StageValidate    Stage = "validate"
	StageMerge       Stage = "merge"
	StageView        Stage = "view"
	StageDiagnostics Stage = "diagnostics"
	StageLedger      Stage = "ledger"
)

var (
	// ErrUpstreamStatus is returned for a non-2xx upstream response.
	ErrUpstreamStatus = errors.New("unexpected upstream status")

	// ErrNotModified is returned by Download on a 304 response.
	ErrNotModified = errors.New("upstream not modified")

	// ErrEmptyPayload is returned when the download has zero bytes.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrTruncatedPayload is returned when fewer bytes arrived than declared.
	ErrTruncatedPayload = errors.New("truncated payload")

	// ErrMissingMember is returned when the archive lacks a required file.
	ErrMissingMember = errors.New("archive member missing")

	// ErrEmptyStaging is returned when a staging table holds no rows.
	ErrEmptyStaging = errors.New("staging table is empty")
)

// StageError attributes a pipeline failure to a stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("ingestion failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(s Stage, err error) error {
	return &StageError{Stage: s, Err: err}
}

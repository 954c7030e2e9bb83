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
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ledger"
)

// Action is the outcome of change detection.
type Action string

const (
	Proceed Action = "proceed"
	Skip    Action = "skip"
)

// Skip reasons recorded in the ledger.
const (
	ReasonLocked          = "locked"
	ReasonUnchanged       = "unchanged"
	ReasonUnchangedByHash = "unchanged-by-hash"
)

// Basis is what a Decision was based on.
type Basis string

const (
	BasisFirstRun   Basis = "first-run"
	BasisValidators Basis = "validators"
	BasisHash       Basis = "hash"
	BasisNone       Basis = "none"
)

// Validators are the upstream cache-validation headers.
type Validators struct {
	ETag         string
	LastModified string
}

// Complete reports whether both validators are present.
func (v Validators) Complete() bool {
	return v.ETag != "" && v.LastModified != ""
}

// Decision is computed fresh on every attempt and never persisted.
type Decision struct {
	Action Action
	Reason string
	Basis  Basis
}

// DecideByValidators is the pre-download decision.
//
// # Description
//
// Skips only when prior metadata exists with a recorded hash and both
// validators are present on both sides and equal. Missing or partial
// validators on either side mean the answer is uncertain, and uncertainty
// always proceeds to a download.
func DecideByValidators(prior *ledger.SourceMetadata, current Validators) Decision {
	if prior == nil || prior.SHA256 == "" {
		return Decision{Action: Proceed, Basis: BasisFirstRun}
	}
	if !prior.HasValidators() || !current.Complete() {
		return Decision{Action: Proceed, Basis: BasisNone}
	}
	if prior.ETag == current.ETag && prior.LastModified == current.LastModified {
		return Decision{Action: Skip, Reason: ReasonUnchanged, Basis: BasisValidators}
	}
	return Decision{Action: Proceed, Basis: BasisValidators}
}

// DecideByContent is the post-download decision.
//
// Skips when the downloaded hash and length both equal the prior record.
func DecideByContent(prior *ledger.SourceMetadata, sha256Hex string, size int64) Decision {
	if prior == nil || prior.SHA256 == "" {
		return Decision{Action: Proceed, Basis: BasisFirstRun}
	}
	if prior.SHA256 == sha256Hex && prior.Bytes == size {
		return Decision{Action: Skip, Reason: ReasonUnchangedByHash, Basis: BasisHash}
	}
	return Decision{Action: Proceed, Basis: BasisHash}
}

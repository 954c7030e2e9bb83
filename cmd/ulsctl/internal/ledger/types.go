// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import "time"

// Version is the document schema version written by this build.
const Version = 1

// Namespace names a top-level section of the ledger document.
type Namespace string

const (
	Bootstrap Namespace = "bootstrap"
	Ingestion Namespace = "ingestion"
	Scheduler Namespace = "scheduler"
)

// Namespaces lists the known namespaces in render order.
var Namespaces = []Namespace{Bootstrap, Ingestion, Scheduler}

// Result values shared by the bootstrap and ingestion namespaces.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkip    = "skip"
)

// Flags is the resolved caller intent of one controller run.
type Flags struct {
	Coldstart     bool `json:"coldstart"`
	RotateSecrets bool `json:"rotate_secrets"`
	Force         bool `json:"force"`
	CI            bool `json:"ci"`
	AutoUpgraded  bool `json:"auto_upgraded"`
}

// BootstrapRecord is the bootstrap namespace: the last controller run.
type BootstrapRecord struct {
	RunID           string    `json:"run_id"`
	Result          string    `json:"result"`
	FailedStep      string    `json:"failed_step,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Flags           Flags     `json:"flags"`
	Host            string    `json:"host,omitempty"`
}

// SourceMetadata describes the upstream dataset as of the last successful
// apply or confirmed skip.
type SourceMetadata struct {
	URL          string     `json:"url"`
	ETag         string     `json:"etag,omitempty"`
	LastModified string     `json:"last_modified,omitempty"`
	SHA256       string     `json:"sha256,omitempty"`
	Bytes        int64      `json:"bytes,omitempty"`
	AppliedAt    *time.Time `json:"applied_at,omitempty"`
}

// HasValidators reports whether both conditional-fetch validators are known.
func (m *SourceMetadata) HasValidators() bool {
	return m != nil && m.ETag != "" && m.LastModified != ""
}

// IngestionRecord is the ingestion namespace: the last pipeline attempt.
type IngestionRecord struct {
	Result            string           `json:"result"`
	Stage             string           `json:"stage,omitempty"`
	Error             string           `json:"error,omitempty"`
	LastRunAt         time.Time        `json:"last_run_at"`
	LastRunSkipReason string           `json:"last_run_skip_reason,omitempty"`
	Source            *SourceMetadata  `json:"source,omitempty"`
	Rows              map[string]int64 `json:"rows,omitempty"`
	OperatorClasses   map[string]int64 `json:"operator_classes,omitempty"`
	View              *ViewCounts      `json:"view,omitempty"`
}

// ViewCounts summarizes the read view after a merge.
type ViewCounts struct {
	Total         int64 `json:"total_rows" db:"total_rows"`
	Club          int64 `json:"club_rows" db:"club_rows"`
	NullClassName int64 `json:"null_name_rows" db:"null_name_rows"`
}

// Scheduler statuses.
const (
	SchedulerInstalled   = "installed"
	SchedulerPresent     = "present"
	SchedulerUnavailable = "unavailable"
	SchedulerDisabled    = "disabled"
)

// SchedulerRecord is the scheduler namespace.
type SchedulerRecord struct {
	Status    string    `json:"status"`
	Entry     string    `json:"entry,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// Document is the decoded ledger. Absent namespaces are nil.
type Document struct {
	Version   int              `json:"version"`
	Bootstrap *BootstrapRecord `json:"bootstrap,omitempty"`
	Ingestion *IngestionRecord `json:"ingestion,omitempty"`
	Scheduler *SchedulerRecord `json:"scheduler,omitempty"`
}

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

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

// SecretPresence is one line of the secrets section of a status report.
type SecretPresence struct {
	Name    string
	Present bool
}

// Report is everything the status view shows.
type Report struct {
	Path     string
	Exists   bool
	Document *Document

	Secrets       []SecretPresence
	LockHolderPID int
}

const missing = "missing"

// Render writes the human-readable status view.
//
// # Description
//
// An absent ledger renders as "no prior run". Each namespace is rendered
// independently; an absent namespace prints "missing" and never prevents
// the others from rendering.
func Render(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "ledger:\t%s\n", r.Path)
	if !r.Exists || r.Document == nil {
		fmt.Fprintf(tw, "state:\tno prior run\n")
	} else {
		doc := r.Document
		fmt.Fprintf(tw, "version:\t%d\n", doc.Version)
		renderBootstrap(tw, doc.Bootstrap)
		renderIngestion(tw, doc.Ingestion)
		renderScheduler(tw, doc.Scheduler)
	}

	if len(r.Secrets) > 0 {
		fmt.Fprintf(tw, "\n[secrets]\n")
		for _, s := range r.Secrets {
			state := "present"
			if !s.Present {
				state = "absent"
			}
			fmt.Fprintf(tw, "  %s:\t%s\n", s.Name, state)
		}
	}

	fmt.Fprintf(tw, "\n[import lock]\n")
	if r.LockHolderPID > 0 {
		fmt.Fprintf(tw, "  holder:\tPID %d\n", r.LockHolderPID)
	} else {
		fmt.Fprintf(tw, "  holder:\tnone\n")
	}

	return tw.Flush()
}

func renderBootstrap(w io.Writer, b *BootstrapRecord) {
	fmt.Fprintf(w, "\n[bootstrap]\n")
	if b == nil {
		fmt.Fprintf(w, "  %s\n", missing)
		return
	}
	field(w, "result", b.Result)
	field(w, "failed step", b.FailedStep)
	field(w, "run id", b.RunID)
	field(w, "started", ts(b.StartedAt))
	field(w, "finished", ts(b.FinishedAt))
	field(w, "duration", fmt.Sprintf("%.1fs", b.DurationSeconds))
	field(w, "flags", fmt.Sprintf("coldstart=%t rotate-secrets=%t force=%t ci=%t auto-upgraded=%t",
		b.Flags.Coldstart, b.Flags.RotateSecrets, b.Flags.Force, b.Flags.CI, b.Flags.AutoUpgraded))
	field(w, "host", b.Host)
}

func renderIngestion(w io.Writer, in *IngestionRecord) {
	fmt.Fprintf(w, "\n[ingestion]\n")
	if in == nil {
		fmt.Fprintf(w, "  %s\n", missing)
		return
	}
	field(w, "result", in.Result)
	field(w, "skip reason", in.LastRunSkipReason)
	field(w, "stage", in.Stage)
	field(w, "error", in.Error)
	field(w, "last run", ts(in.LastRunAt))
	if src := in.Source; src != nil {
		field(w, "source", src.URL)
		field(w, "etag", src.ETag)
		field(w, "last-modified", src.LastModified)
		field(w, "sha256", src.SHA256)
		if src.Bytes > 0 {
			field(w, "bytes", fmt.Sprint(src.Bytes))
		} else {
			field(w, "bytes", "")
		}
		if src.AppliedAt != nil {
			field(w, "applied", ts(*src.AppliedAt))
		} else {
			field(w, "applied", "")
		}
	} else {
		field(w, "source", "")
	}
	field(w, "rows", counts(in.Rows))
	field(w, "operator classes", counts(in.OperatorClasses))
	if v := in.View; v != nil {
		field(w, "view", fmt.Sprintf("total=%d club=%d null_name=%d", v.Total, v.Club, v.NullClassName))
	}
}

func renderScheduler(w io.Writer, s *SchedulerRecord) {
	fmt.Fprintf(w, "\n[scheduler]\n")
	if s == nil {
		fmt.Fprintf(w, "  %s\n", missing)
		return
	}
	field(w, "status", s.Status)
	field(w, "entry", s.Entry)
	field(w, "checked", ts(s.CheckedAt))
	field(w, "error", s.Error)
}

func field(w io.Writer, name, value string) {
	if value == "" {
		value = "-"
	}
	fmt.Fprintf(w, "  %s:\t%s\n", name, value)
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func counts(m map[string]int64) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}

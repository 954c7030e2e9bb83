// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry records run metrics for the node exporter textfile
// collector and optional OpenTelemetry spans for each controller step.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RunSnapshot is the outcome of one controller run.
type RunSnapshot struct {
	FinishedAt time.Time
	Success    bool
	Duration   time.Duration

	// IngestionOutcome is applied, skip, or failure. Empty when ingestion
	// did not run.
	IngestionOutcome string

	// Rows holds final table row counts.
	Rows map[string]int64
}

var ingestionOutcomes = []string{"applied", "skip", "failure"}

// WriteTextfile renders snap in the Prometheus text format to path.
//
// # Description
//
// Uses a private registry so only ulsctl metrics are written. The file is
// replaced atomically. The ingestion outcome is exported as a one-hot gauge
// over all known outcomes so alert rules can match on a label.
func WriteTextfile(path string, snap RunSnapshot) error {
	reg := prometheus.NewRegistry()

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ulsctl_bootstrap_last_run_timestamp_seconds",
		Help: "Unix time the last controller run finished.",
	})
	success := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ulsctl_bootstrap_last_run_success",
		Help: "1 if the last controller run succeeded, 0 otherwise.",
	})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ulsctl_bootstrap_duration_seconds",
		Help: "Duration of the last controller run.",
	})
	outcome := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ulsctl_ingestion_last_outcome",
		Help: "1 for the outcome of the last ingestion attempt.",
	}, []string{"outcome"})
	rows := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ulsctl_ingestion_rows",
		Help: "Row count of each final table after the last ingestion.",
	}, []string{"table"})

	reg.MustRegister(lastRun, success, duration, outcome, rows)

	lastRun.Set(float64(snap.FinishedAt.Unix()))
	if snap.Success {
		success.Set(1)
	}
	duration.Set(snap.Duration.Seconds())
	if snap.IngestionOutcome != "" {
		for _, o := range ingestionOutcomes {
			v := 0.0
			if o == snap.IngestionOutcome {
				v = 1
			}
			outcome.WithLabelValues(o).Set(v)
		}
	}
	for table, n := range snap.Rows {
		rows.WithLabelValues(table).Set(float64(n))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

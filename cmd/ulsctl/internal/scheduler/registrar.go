// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler keeps a single daily entry for the controller in the
// invoking user's crontab.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/infra/process"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ledger"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/util"
)

// Config configures the Registrar.
type Config struct {
	Enabled bool

	// Schedule is a standard five-field cron expression. Default: "17 3 * * *".
	Schedule string

	// Executable is the controller's resolved absolute path. It is also the
	// token that identifies an existing entry.
	Executable string

	// Args follow the executable on the cron line. Default: ["--ci"].
	Args []string

	// LogPath receives the scheduled run's output when set.
	LogPath string

	// Binary is the crontab command. Default: "crontab".
	Binary string
}

// Registrar is the Scheduler Registrar.
type Registrar struct {
	cfg  Config
	proc process.Manager
	now  func() time.Time
}

// New validates cfg and creates a Registrar.
func New(cfg Config, proc process.Manager) (*Registrar, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "17 3 * * *"
	}
	if cfg.Args == nil {
		cfg.Args = []string{"--ci"}
	}
	if cfg.Binary == "" {
		cfg.Binary = "crontab"
	}
	if cfg.Enabled {
		if cfg.Executable == "" {
			return nil, errors.New("scheduler: executable path is required")
		}
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", cfg.Schedule, err)
		}
	}
	return &Registrar{cfg: cfg, proc: proc, now: time.Now}, nil
}

// Entry renders the line that would be installed.
func (r *Registrar) Entry() string {
	parts := append([]string{r.cfg.Schedule, r.cfg.Executable}, r.cfg.Args...)
	line := strings.Join(parts, " ")
	if r.cfg.LogPath != "" {
		line += " >> " + r.cfg.LogPath + " 2>&1"
	}
	return line
}

// Ensure makes sure exactly one entry references the controller.
//
// # Description
//
// Reads the current crontab, and if no active line contains the
// executable path, appends Entry and writes the table back with every
// existing line preserved. Commented lines never count as present.
//
// Ensure never returns an error: an unavailable crontab is reported in the
// record's Status so the caller can log it and continue.
func (r *Registrar) Ensure(ctx context.Context) ledger.SchedulerRecord {
	rec := ledger.SchedulerRecord{CheckedAt: r.now().UTC()}
	if !r.cfg.Enabled {
		rec.Status = ledger.SchedulerDisabled
		return rec
	}
	rec.Entry = r.Entry()

	lines, err := r.read(ctx)
	if err != nil {
		return r.unavailable(rec, err)
	}
	if existing, ok := findEntry(lines, r.cfg.Executable); ok {
		slog.Debug("scheduled entry already present", "entry", existing)
		rec.Status = ledger.SchedulerPresent
		rec.Entry = existing
		return rec
	}

	lines = append(lines, rec.Entry)
	if _, err := r.proc.RunWithInput(ctx, r.cfg.Binary, []byte(strings.Join(lines, "\n")+"\n"), "-"); err != nil {
		return r.unavailable(rec, err)
	}
	slog.Info("scheduled entry installed", "entry", rec.Entry)
	rec.Status = ledger.SchedulerInstalled
	return rec
}

func (r *Registrar) unavailable(rec ledger.SchedulerRecord, err error) ledger.SchedulerRecord {
	slog.Warn("crontab unavailable, continuing without a schedule", "error", err)
	rec.Status = ledger.SchedulerUnavailable
	rec.Error = err.Error()
	return rec
}

// read returns the current crontab lines. An empty crontab is not an error.
func (r *Registrar) read(ctx context.Context) ([]string, error) {
	out, err := r.proc.Run(ctx, r.cfg.Binary, "-l")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s not installed: %w", r.cfg.Binary, err)
		}
		if strings.Contains(strings.ToLower(util.ExtractStderr(err)), "no crontab for") {
			return nil, nil
		}
		return nil, err
	}
	return parseLines(string(out)), nil
}

func parseLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// findEntry returns the first active line mentioning token.
func findEntry(lines []string, token string) (string, bool) {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.Contains(trimmed, token) {
			return trimmed, true
		}
	}
	return "", false
}

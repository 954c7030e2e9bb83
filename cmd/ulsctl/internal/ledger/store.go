// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger persists the last outcome of each major operation in one
// versioned JSON document.
//
// # Overview
//
// The document has independent namespaces (bootstrap, ingestion,
// scheduler). Every write is a read-merge-write of a single namespace under
// a host-scoped lock, followed by an atomic rename, so a concurrent reader
// sees either the old document or the new one and sibling namespaces are
// never lost. Namespaces this build does not know are carried through
// untouched.
//
// A flat KEY=value snapshot of the bootstrap namespace is written next to
// the document for tooling that cannot parse JSON.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/infra/process"
)

// Store reads and writes the ledger document.
//
// # Thread Safety
//
// Safe across goroutines and processes: writers serialize on the ledger
// lock file; readers never take the lock.
type Store struct {
	path       string
	legacyPath string
	lock       process.Locker
}

// NewStore creates a Store for the document at path. The lock file is
// path + ".lock"; the legacy snapshot is "last_run.env" in the same directory.
func NewStore(path string) *Store {
	return &Store{
		path:       path,
		legacyPath: filepath.Join(filepath.Dir(path), "last_run.env"),
		lock:       process.NewFileLock(path + ".lock"),
	}
}

// Path returns the document path.
func (s *Store) Path() string { return s.path }

// LegacyPath returns the KEY=value snapshot path.
func (s *Store) LegacyPath() string { return s.legacyPath }

// Exists reports whether the document file exists.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Read loads the document.
//
// # Outputs
//
//   - *Document: Never nil. Namespaces that are absent or fail to decode are nil.
//   - bool: Whether the file exists.
//   - error: Only for I/O errors other than not-exist. A corrupt document is
//     logged and read as empty.
func (s *Store) Read() (*Document, bool, error) {
	raw, exists, err := s.readRaw()
	if err != nil {
		return &Document{}, exists, err
	}

	doc := &Document{}
	if v, ok := raw["version"]; ok {
		_ = json.Unmarshal(v, &doc.Version)
	}
	decode(raw, Bootstrap, &doc.Bootstrap)
	decode(raw, Ingestion, &doc.Ingestion)
	decode(raw, Scheduler, &doc.Scheduler)
	return doc, exists, nil
}

// ReadRaw returns the document bytes as stored, or nil if absent.
func (s *Store) ReadRaw() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func decode[T any](raw map[string]json.RawMessage, ns Namespace, dst **T) {
	v, ok := raw[string(ns)]
	if !ok || string(v) == "null" {
		return
	}
	var rec T
	if err := json.Unmarshal(v, &rec); err != nil {
		slog.Warn("ledger namespace unreadable, treating as missing", "namespace", string(ns), "error", err)
		return
	}
	*dst = &rec
}

func (s *Store) readRaw() (map[string]json.RawMessage, bool, error) {
	raw := map[string]json.RawMessage{}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return raw, false, nil
	}
	if err != nil {
		return raw, true, fmt.Errorf("read ledger: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return raw, true, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Warn("ledger is corrupt, starting from an empty document", "path", s.path, "error", err)
		return map[string]json.RawMessage{}, true, nil
	}
	return raw, true, nil
}

// WriteBootstrap replaces the bootstrap namespace and refreshes the legacy snapshot.
func (s *Store) WriteBootstrap(ctx context.Context, rec BootstrapRecord) error {
	return s.write(ctx, Bootstrap, rec)
}

// WriteIngestion replaces the ingestion namespace.
func (s *Store) WriteIngestion(ctx context.Context, rec IngestionRecord) error {
	return s.write(ctx, Ingestion, rec)
}

// RecordIngestionSkip marks the last ingestion run as skipped without
// replacing the rest of the namespace. Source and row counts already on
// disk are kept as they are, so a run that skips because another process
// holds the import lock cannot overwrite what that process recorded.
func (s *Store) RecordIngestionSkip(ctx context.Context, reason string, at time.Time) error {
	return s.mutate(ctx, func(raw map[string]json.RawMessage) {
		fields := map[string]json.RawMessage{}
		if v, ok := raw[string(Ingestion)]; ok {
			if err := json.Unmarshal(v, &fields); err != nil || fields == nil {
				fields = map[string]json.RawMessage{}
			}
		}
		delete(fields, "stage")
		delete(fields, "error")
		fields["result"] = mustJSON(ResultSkip)
		fields["last_run_skip_reason"] = mustJSON(reason)
		fields["last_run_at"] = mustJSON(at.UTC())
		raw[string(Ingestion)] = mustJSON(fields)
	})
}

// mustJSON encodes values that cannot fail to marshal.
func mustJSON(v any) json.RawMessage {
	out, _ := json.Marshal(v)
	return out
}

// WriteScheduler replaces the scheduler namespace.
func (s *Store) WriteScheduler(ctx context.Context, rec SchedulerRecord) error {
	return s.write(ctx, Scheduler, rec)
}

// Drop removes one namespace. Used by the destructive reset, which wipes
// the data the namespace describes. Dropping an absent namespace is a no-op.
func (s *Store) Drop(ctx context.Context, ns Namespace) error {
	if !s.Exists() {
		return nil
	}
	return s.mutate(ctx, func(raw map[string]json.RawMessage) {
		delete(raw, string(ns))
	})
}

func (s *Store) write(ctx context.Context, ns Namespace, v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ns, err)
	}
	err = s.mutate(ctx, func(raw map[string]json.RawMessage) {
		raw[string(ns)] = encoded
	})
	if err != nil {
		return err
	}

	if ns == Bootstrap {
		if rec, ok := v.(BootstrapRecord); ok {
			if err := writeAtomic(s.legacyPath, legacySnapshot(rec)); err != nil {
				return fmt.Errorf("write legacy snapshot: %w", err)
			}
		}
	}
	slog.Debug("ledger namespace written", "namespace", string(ns), "path", s.path)
	return nil
}

// mutate applies fn to the raw document under the ledger lock and replaces
// the file atomically.
func (s *Store) mutate(ctx context.Context, fn func(raw map[string]json.RawMessage)) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	if err := s.lock.Acquire(ctx); err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	defer func() {
		if err := s.lock.Release(); err != nil {
			slog.Warn("ledger lock release failed", "error", err)
		}
	}()

	raw, _, err := s.readRaw()
	if err != nil {
		return err
	}
	fn(raw)
	raw["version"] = json.RawMessage(strconv.Itoa(Version))

	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	out = append(out, '\n')
	return writeAtomic(s.path, out)
}

// writeAtomic writes data to a temp file in the target directory, fsyncs,
// and renames over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func legacySnapshot(rec BootstrapRecord) []byte {
	kv := map[string]string{
		"ULS_LAST_RUN_ID":           rec.RunID,
		"ULS_LAST_RESULT":           rec.Result,
		"ULS_LAST_FAILED_STEP":      rec.FailedStep,
		"ULS_LAST_STARTED_AT":       formatTime(rec.StartedAt),
		"ULS_LAST_FINISHED_AT":      formatTime(rec.FinishedAt),
		"ULS_LAST_DURATION_SECONDS": strconv.FormatFloat(rec.DurationSeconds, 'f', 1, 64),
		"ULS_LAST_HOST":             rec.Host,
		"ULS_FLAG_COLDSTART":        strconv.FormatBool(rec.Flags.Coldstart),
		"ULS_FLAG_ROTATE_SECRETS":   strconv.FormatBool(rec.Flags.RotateSecrets),
		"ULS_FLAG_FORCE":            strconv.FormatBool(rec.Flags.Force),
		"ULS_FLAG_CI":               strconv.FormatBool(rec.Flags.CI),
		"ULS_FLAG_AUTO_UPGRADED":    strconv.FormatBool(rec.Flags.AutoUpgraded),
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, kv[k])
	}
	return []byte(b.String())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

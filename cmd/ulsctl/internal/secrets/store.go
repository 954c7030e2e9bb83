// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets manages the locally generated database credentials.
//
// Three credentials live as one file each in a private directory. They are
// created on first run or on explicit rotation only; every other run reads
// them. Values are held in memguard LockedBuffers and never logged; use
// Bundle.Fingerprint for operator-facing output.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/awnumar/memguard"
)

// Kind names one credential.
type Kind string

const (
	// RootPassword is the database root principal's password.
	RootPassword Kind = "mariadb_root_password"
	// LoaderPassword is the bulk-load principal's password.
	LoaderPassword Kind = "uls_password"
	// ReadOnlyPassword is the restricted read principal's password.
	ReadOnlyPassword Kind = "callbook_ro_password"
)

// Kinds lists every credential in a fixed order.
var Kinds = []Kind{RootPassword, LoaderPassword, ReadOnlyPassword}

var (
	// ErrSecretsMissing is returned by Load when any credential file is absent.
	ErrSecretsMissing = errors.New("secrets missing")

	// ErrSecretInvalid is returned by Load when a file holds an unusable value.
	ErrSecretInvalid = errors.New("secret value invalid")
)

// valuePattern is the accepted alphabet. Values are embedded in SQL literals
// and compose environment, so nothing needing quoting is allowed.
var valuePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16,}$`)

const entropyBytes = 32

// Bundle is a loaded or freshly generated set of credentials.
//
// Call Destroy when done; the values are wiped from locked memory.
type Bundle struct {
	values map[Kind]*memguard.LockedBuffer
}

// Value returns a copy of the credential. The copy lives in ordinary memory.
func (b *Bundle) Value(k Kind) string {
	buf, ok := b.values[k]
	if !ok || !buf.IsAlive() {
		return ""
	}
	return string(buf.Bytes())
}

// Fingerprint returns a log-safe identifier: first four characters and length.
func (b *Bundle) Fingerprint(k Kind) string {
	buf, ok := b.values[k]
	if !ok || !buf.IsAlive() {
		return "<none>"
	}
	v := buf.Bytes()
	n := 4
	if len(v) < n {
		n = len(v)
	}
	return fmt.Sprintf("%s…(%d)", v[:n], len(v))
}

// Destroy wipes all values.
func (b *Bundle) Destroy() {
	for _, buf := range b.values {
		buf.Destroy()
	}
}

// Store is the Secret Store.
type Store interface {
	// Present reports which credential files exist.
	Present() (map[Kind]bool, error)

	// Load reads all credentials. Missing files yield ErrSecretsMissing.
	Load() (*Bundle, error)

	// Generate creates fresh values for all credentials and atomically
	// replaces the files.
	Generate() (*Bundle, error)

	// Dir returns the secrets directory.
	Dir() string
}

// FileStore implements Store with one 0600 file per credential in a 0700 directory.
type FileStore struct {
	dir     string
	entropy io.Reader
	rename  func(oldpath, newpath string) error
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, entropy: rand.Reader, rename: os.Rename}
}

// Dir returns the secrets directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file path for a credential.
func (s *FileStore) Path(k Kind) string {
	return filepath.Join(s.dir, string(k))
}

// Present stats each credential file.
func (s *FileStore) Present() (map[Kind]bool, error) {
	out := make(map[Kind]bool, len(Kinds))
	for _, k := range Kinds {
		_, err := os.Stat(s.Path(k))
		switch {
		case err == nil:
			out[k] = true
		case errors.Is(err, fs.ErrNotExist):
			out[k] = false
		default:
			return nil, fmt.Errorf("stat %s: %w", s.Path(k), err)
		}
	}
	return out, nil
}

// AnyPresent reports whether at least one credential file exists.
func AnyPresent(present map[Kind]bool) bool {
	for _, ok := range present {
		if ok {
			return true
		}
	}
	return false
}

// Load reads every credential into locked memory.
func (s *FileStore) Load() (*Bundle, error) {
	present, err := s.Present()
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, k := range Kinds {
		if !present[k] {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrSecretsMissing, strings.Join(missing, ", "), s.dir)
	}

	b := &Bundle{values: make(map[Kind]*memguard.LockedBuffer, len(Kinds))}
	for _, k := range Kinds {
		path := s.Path(k)
		if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0o077 != 0 {
			slog.Warn("secret file is readable by others", "path", path, "mode", info.Mode().Perm().String())
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			b.Destroy()
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		value := []byte(strings.TrimSpace(string(raw)))
		memguard.WipeBytes(raw)
		if !valuePattern.Match(value) {
			b.Destroy()
			return nil, fmt.Errorf("%w: %s", ErrSecretInvalid, path)
		}
		b.values[k] = memguard.NewBufferFromBytes(value)
	}
	return b, nil
}

// Generate writes fresh credentials.
//
// # Description
//
// All three values are staged to temporary files in the secrets directory
// and fsynced before any rename. Existing files are hard-linked to a
// ".prev" backup, then the staged files are renamed over them in a fixed
// order. If any rename fails, the files already installed are restored
// from their backups, so the directory holds either the previous bundle
// or the new one. Backups are removed once every rename has succeeded.
//
// # Outputs
//
//   - *Bundle: The new values.
//   - error: On entropy, staging, or rename failure.
func (s *FileStore) Generate() (*Bundle, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create secrets dir: %w", err)
	}
	if err := os.Chmod(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("chmod secrets dir: %w", err)
	}

	b := &Bundle{values: make(map[Kind]*memguard.LockedBuffer, len(Kinds))}
	staged := make(map[Kind]string, len(Kinds))
	cleanup := func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
		b.Destroy()
	}

	for _, k := range Kinds {
		value, err := s.newValue()
		if err != nil {
			cleanup()
			return nil, err
		}
		tmp, err := stage(s.dir, k, value)
		if err != nil {
			memguard.WipeBytes(value)
			cleanup()
			return nil, err
		}
		staged[k] = tmp
		b.values[k] = memguard.NewBufferFromBytes(value)
	}

	if err := s.install(staged); err != nil {
		cleanup()
		return nil, err
	}

	for _, k := range Kinds {
		slog.Info("secret generated", "name", string(k), "fingerprint", b.Fingerprint(k))
	}
	return b, nil
}

// install moves every staged file into place, all or nothing. Staged
// entries are removed from the map as they are consumed.
func (s *FileStore) install(staged map[Kind]string) error {
	backups := make(map[Kind]string, len(Kinds))
	dropBackups := func() {
		for _, prev := range backups {
			os.Remove(prev)
		}
	}

	for _, k := range Kinds {
		prev := s.Path(k) + ".prev"
		os.Remove(prev)
		err := os.Link(s.Path(k), prev)
		switch {
		case err == nil:
			backups[k] = prev
		case errors.Is(err, fs.ErrNotExist):
		default:
			dropBackups()
			return fmt.Errorf("back up %s: %w", k, err)
		}
	}

	var installed []Kind
	for _, k := range Kinds {
		if err := s.rename(staged[k], s.Path(k)); err != nil {
			s.rollback(installed, backups)
			dropBackups()
			return fmt.Errorf("install %s: %w", k, err)
		}
		delete(staged, k)
		installed = append(installed, k)
	}
	dropBackups()
	syncDir(s.dir)
	return nil
}

// rollback restores each installed credential from its backup, or removes
// it when there was no previous file.
func (s *FileStore) rollback(installed []Kind, backups map[Kind]string) {
	for _, k := range installed {
		prev, ok := backups[k]
		if !ok {
			if err := os.Remove(s.Path(k)); err != nil {
				slog.Error("could not remove secret after failed rotation", "name", string(k), "error", err)
			}
			continue
		}
		// Consumed or, on failure, left on disk for manual recovery.
		delete(backups, k)
		if err := s.rename(prev, s.Path(k)); err != nil {
			slog.Error("could not restore secret after failed rotation", "name", string(k), "backup", prev, "error", err)
		}
	}
	syncDir(s.dir)
}

func (s *FileStore) newValue() ([]byte, error) {
	raw := make([]byte, entropyBytes)
	if _, err := io.ReadFull(s.entropy, raw); err != nil {
		return nil, fmt.Errorf("read entropy: %w", err)
	}
	out := make([]byte, base64.RawURLEncoding.EncodedLen(len(raw)))
	base64.RawURLEncoding.Encode(out, raw)
	memguard.WipeBytes(raw)
	return out, nil
}

func stage(dir string, k Kind, value []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+string(k)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", k, err)
	}
	name := f.Name()
	fail := func(err error) (string, error) {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("stage %s: %w", k, err)
	}
	if err := f.Chmod(0o600); err != nil {
		return fail(err)
	}
	if _, err := f.Write(value); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("stage %s: %w", k, err)
	}
	return name, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

// ValidValue reports whether v is acceptable as a credential.
func ValidValue(v string) bool {
	return valuePattern.MatchString(v)
}

var _ Store = (*FileStore)(nil)

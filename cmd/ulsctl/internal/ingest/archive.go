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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// RequiredMembers are the archive files the pipeline loads.
var RequiredMembers = []string{"HD.dat", "EN.dat", "AM.dat"}

// Extract writes the named members of the zip archive into dir.
//
// Members are matched by base name, case-insensitively, and written under
// their canonical name, so directory entries in the archive can never place
// files outside dir. Returns member name to extracted path.
func Extract(archive, dir string, members []string) (map[string]string, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create extract dir: %w", err)
	}

	want := make(map[string]string, len(members))
	for _, m := range members {
		want[strings.ToLower(m)] = m
	}

	out := make(map[string]string, len(members))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name, ok := want[strings.ToLower(filepath.Base(f.Name))]
		if !ok {
			continue
		}
		dst := filepath.Join(dir, name)
		if err := extractFile(f, dst); err != nil {
			return nil, fmt.Errorf("extract %s: %w", name, err)
		}
		out[name] = dst
	}

	var missing []string
	for _, m := range members {
		if _, ok := out[m]; !ok {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingMember, strings.Join(missing, ", "))
	}
	return out, nil
}

func extractFile(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

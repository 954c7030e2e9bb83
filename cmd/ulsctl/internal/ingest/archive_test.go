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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeArchive builds a zip holding the given members.
func makeArchive(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func validMembers() map[string]string {
	return map[string]string{
		"HD.dat":     "HD|1001|||W1AW|A||01/01/2020|01/01/2030|01/01/2020\n",
		"EN.dat":     "EN|1001|||W1AW|L||ARRL Inc|||||||||Newington|CT|06111||||\n",
		"AM.dat":     "AM|1001|||W1AW|E||||||||||||\n",
		"counts":     "ignored\n",
		"readme.txt": "ignored\n",
	}
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "l_amat.zip")
	require.NoError(t, os.WriteFile(archive, makeArchive(t, validMembers()), 0o644))

	files, err := Extract(archive, filepath.Join(dir, "extract"), RequiredMembers)
	require.NoError(t, err)
	require.Len(t, files, 3)

	data, err := os.ReadFile(files["AM.dat"])
	require.NoError(t, err)
	assert.Contains(t, string(data), "W1AW|E")
	assert.NoFileExists(t, filepath.Join(dir, "extract", "readme.txt"))
}

func TestExtract_NestedAndCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "a.zip")
	require.NoError(t, os.WriteFile(archive, makeArchive(t, map[string]string{
		"uls/hd.DAT": "x\n",
		"sub/EN.dat": "y\n",
		"AM.dat":     "z\n",
	}), 0o644))

	files, err := Extract(archive, filepath.Join(dir, "out"), RequiredMembers)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "HD.dat"), files["HD.dat"])
	assert.Equal(t, filepath.Join(dir, "out", "EN.dat"), files["EN.dat"])
}

func TestExtract_MissingMember(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "a.zip")
	require.NoError(t, os.WriteFile(archive, makeArchive(t, map[string]string{"HD.dat": "x\n"}), 0o644))

	_, err := Extract(archive, filepath.Join(dir, "out"), RequiredMembers)
	require.ErrorIs(t, err, ErrMissingMember)
	assert.Contains(t, err.Error(), "EN.dat")
	assert.Contains(t, err.Error(), "AM.dat")
}

func TestExtract_NotAZip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "a.zip")
	require.NoError(t, os.WriteFile(archive, []byte("<html>maintenance</html>"), 0o644))

	_, err := Extract(archive, filepath.Join(dir, "out"), RequiredMembers)
	assert.Error(t, err)
}

func TestTranscodeToUTF8(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "EN.dat")
	// "José Muñoz" in ISO-8859-1.
	require.NoError(t, os.WriteFile(src, []byte{'J', 'o', 's', 0xE9, ' ', 'M', 'u', 0xF1, 'o', 'z', '\n'}, 0o644))

	dst, err := TranscodeToUTF8(src)
	require.NoError(t, err)
	assert.Equal(t, src+".utf8", dst)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "José Muñoz\n", string(data))
}

func TestTranscodeToUTF8_MissingSource(t *testing.T) {
	_, err := TranscodeToUTF8(filepath.Join(t.TempDir(), "nope.dat"))
	assert.Error(t, err)
}

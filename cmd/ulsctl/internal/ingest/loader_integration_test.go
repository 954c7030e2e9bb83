// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build integration

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/database"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/testinfra"
)

func writeMembers(t *testing.T, members map[string]string) map[string]string {
	t.Helper()
	dir := t.TempDir()
	paths := make(map[string]string, len(members))
	for name, body := range members {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		paths[name] = p
	}
	return paths
}

func stageAndMerge(t *testing.T, l *MySQLLoader, paths map[string]string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.ApplySchema(ctx))
	for _, member := range []string{"HD.dat", "EN.dat", "AM.dat"} {
		require.NoError(t, l.Stage(ctx, member, paths[member]))
	}
	require.NoError(t, l.Merge(ctx))
	require.NoError(t, l.RebuildView(ctx))
}

func TestMySQLLoader_Integration_LoadsAndUpserts(t *testing.T) {
	db := testinfra.StartMariaDB(t)
	ctx := context.Background()

	conn, err := database.Open(ctx, db.Config(testinfra.LoaderUser, testinfra.LoaderPassword))
	require.NoError(t, err)
	defer conn.Close()
	loader := NewMySQLLoader(conn)

	first := writeMembers(t, map[string]string{
		"HD.dat": "HD|1001|||W1AW|A||01/01/2020|01/01/2030|01/01/2020\n" +
			"HD|1002|||K1ABC|A||02/02/2021|02/02/2031|02/02/2021\n",
		"EN.dat": "EN|1001|||W1AW|L||ARRL Inc|||||||||Newington|CT|06111||||\n" +
			"EN|1002|||K1ABC|L|||Jane|Q|Doe||||||Boston|MA|02101||||\n",
		"AM.dat": "AM|1001|||W1AW|||||||||||||\n" +
			"AM|1002|||K1ABC|E||||||||||||\n",
	})
	stageAndMerge(t, loader, first)

	staged, err := loader.StagedCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"stg_hd": 2, "stg_en": 2, "stg_am": 2}, staged)

	rows, classes, err := loader.Diagnostics(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"hd": 2, "en": 2, "am": 2}, rows)
	assert.Equal(t, int64(1), classes["E"])
	assert.Equal(t, int64(1), classes["NULL"])

	var name, class string
	require.NoError(t, conn.GetContext(ctx, &name,
		"SELECT licensee_name FROM v_callbook WHERE callsign = 'K1ABC'"))
	assert.Equal(t, "Jane Doe", name)
	require.NoError(t, conn.GetContext(ctx, &class,
		"SELECT operator_class_name FROM v_callbook WHERE callsign = 'W1AW'"))
	assert.Equal(t, "Club", class)

	view, err := loader.ViewDiagnostics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), view.Total)
	assert.Equal(t, int64(1), view.Club)
	assert.Zero(t, view.NullClassName)

	// A second weekly file changes one licensee; the upsert must update in
	// place rather than duplicate.
	second := writeMembers(t, map[string]string{
		"HD.dat": "HD|1002|||K1ABC|A||02/02/2021|02/02/2035|03/03/2025\n",
		"EN.dat": "EN|1002|||K1ABC|L|||Jane|Q|Doe||||||Cambridge|MA|02139||||\n",
		"AM.dat": "AM|1002|||K1ABC|E||||||||||||\n",
	})
	stageAndMerge(t, loader, second)

	rows, _, err = loader.Diagnostics(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"hd": 2, "en": 2, "am": 2}, rows)

	var city string
	require.NoError(t, conn.GetContext(ctx, &city,
		"SELECT city FROM v_callbook WHERE callsign = 'K1ABC'"))
	assert.Equal(t, "Cambridge", city)
}

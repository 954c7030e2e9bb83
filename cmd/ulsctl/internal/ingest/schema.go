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
	_ "embed"
	"strings"
)

//go:embed sql/schema.sql
var schemaSQL string

//go:embed sql/view.sql
var viewSQL string

// SchemaStatements returns the idempotent schema applied before staging.
func SchemaStatements() []string { return SplitStatements(schemaSQL) }

// ViewStatements returns the statements that rebuild the read view.
func ViewStatements() []string { return SplitStatements(viewSQL) }

// SplitStatements splits simple DDL on ';'.
//
// A leading UTF-8 BOM is dropped, full-line "--" comments and blank lines
// are removed, and empty statements are skipped. Procedures, triggers, and
// DELIMITER blocks are not supported.
func SplitStatements(sql string) []string {
	sql = strings.TrimPrefix(sql, "\ufeff")

	var out []string
	for _, raw := range strings.Split(sql, ";") {
		var kept []string
		for _, line := range strings.Split(raw, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			kept = append(kept, strings.TrimRight(line, " \t\r"))
		}
		if stmt := strings.TrimSpace(strings.Join(kept, "\n")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

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
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ledger"
)

// Loader is the storage side of the pipeline.
type Loader interface {
	// ApplySchema creates final tables if absent and recreates staging tables.
	ApplySchema(ctx context.Context) error

	// Stage bulk-loads one UTF-8 member file into its staging table.
	Stage(ctx context.Context, member, path string) error

	// StagedCounts returns the row count of every staging table.
	StagedCounts(ctx context.Context) (map[string]int64, error)

	// Merge upserts staging into final tables as one transaction.
	Merge(ctx context.Context) error

	// RebuildView replaces the read view.
	RebuildView(ctx context.Context) error

	// Diagnostics returns final row counts and the operator class distribution.
	Diagnostics(ctx context.Context) (rows map[string]int64, classes map[string]int64, err error)

	// ViewDiagnostics returns row totals as the read view presents them.
	ViewDiagnostics(ctx context.Context) (*ledger.ViewCounts, error)
}

// stagingTables maps archive member to staging table.
var stagingTables = map[string]string{
	"HD.dat": "stg_hd",
	"EN.dat": "stg_en",
	"AM.dat": "stg_am",
}

var finalTables = []string{"hd", "en", "am"}

func fieldVars(n int) string {
	vars := make([]string, n)
	for i := range vars {
		vars[i] = fmt.Sprintf("@f%d", i+1)
	}
	return strings.Join(vars, ", ")
}

// loadStatement builds the LOAD DATA statement for a staging table.
//
// HD records have 59 fields of which seven are kept, AM records 18 of which
// six are kept. EN is loaded positionally.
func loadStatement(table, path string) string {
	head := fmt.Sprintf("LOAD DATA LOCAL INFILE '%s'\nINTO TABLE %s\nCHARACTER SET utf8mb4\nFIELDS TERMINATED BY '|'\nLINES TERMINATED BY '\\n'\n", path, table)
	switch table {
	case "stg_hd":
		return head + "(" + fieldVars(59) + ")\nSET\n" +
			"  record_type = NULLIF(@f1,''),\n" +
			"  unique_system_identifier = NULLIF(@f2,''),\n" +
			"  call_sign = NULLIF(@f5,''),\n" +
			"  license_status = NULLIF(@f6,''),\n" +
			"  grant_date = NULLIF(@f8,''),\n" +
			"  expired_date = NULLIF(@f9,''),\n" +
			"  last_action_date = NULLIF(@f10,'')"
	case "stg_am":
		return head + "(" + fieldVars(18) + ")\nSET\n" +
			"  record_type = NULLIF(@f1,''),\n" +
			"  unique_system_identifier = NULLIF(@f2,''),\n" +
			"  uls_file_number = NULLIF(@f3,''),\n" +
			"  ebf_number = NULLIF(@f4,''),\n" +
			"  call_sign = NULLIF(@f5,''),\n" +
			"  operator_class = NULLIF(@f6,'')"
	default:
		return head + "(" + strings.Join(enColumns, ",") + ")"
	}
}

var enColumns = []string{
	"record_type", "unique_system_identifier", "uls_file_number", "ebf_number", "call_sign",
	"entity_type", "licensee_id", "entity_name", "first_name", "mi", "last_name", "suffix",
	"phone", "fax", "email", "street_address", "city", "state", "zip_code", "po_box",
	"attention_line", "sgin", "frn",
}

var mergeStatements = []string{
	`INSERT INTO hd (record_type, unique_system_identifier, call_sign, license_status, grant_date, expired_date, last_action_date)
SELECT record_type, unique_system_identifier, LEFT(TRIM(call_sign), 10), LEFT(TRIM(license_status), 1),
       STR_TO_DATE(NULLIF(grant_date,''), '%m/%d/%Y'),
       STR_TO_DATE(NULLIF(expired_date,''), '%m/%d/%Y'),
       STR_TO_DATE(NULLIF(last_action_date,''), '%m/%d/%Y')
FROM stg_hd
WHERE unique_system_identifier IS NOT NULL
ON DUPLICATE KEY UPDATE
  call_sign=VALUES(call_sign), license_status=VALUES(license_status), grant_date=VALUES(grant_date),
  expired_date=VALUES(expired_date), last_action_date=VALUES(last_action_date)`,

	`INSERT INTO en (record_type, unique_system_identifier, call_sign, entity_name, first_name, last_name, street_address, city, state, zip_code)
SELECT record_type, unique_system_identifier, LEFT(TRIM(call_sign), 10),
       NULLIF(TRIM(entity_name),''), NULLIF(TRIM(first_name),''), NULLIF(TRIM(last_name),''),
       NULLIF(TRIM(street_address),''), NULLIF(TRIM(city),''), LEFT(TRIM(state), 2), LEFT(TRIM(zip_code), 10)
FROM stg_en
WHERE unique_system_identifier IS NOT NULL
ON DUPLICATE KEY UPDATE
  call_sign=VALUES(call_sign), entity_name=VALUES(entity_name), first_name=VALUES(first_name),
  last_name=VALUES(last_name), street_address=VALUES(street_address), city=VALUES(city),
  state=VALUES(state), zip_code=VALUES(zip_code)`,

	`INSERT INTO am (unique_system_identifier, call_sign, operator_class)
SELECT unique_system_identifier, LEFT(TRIM(call_sign), 10), LEFT(TRIM(operator_class), 1)
FROM stg_am
WHERE unique_system_identifier IS NOT NULL
ON DUPLICATE KEY UPDATE
  call_sign=VALUES(call_sign), operator_class=VALUES(operator_class)`,
}

// MySQLLoader implements Loader over a MariaDB/MySQL connection.
//
// The connection must allow LOAD DATA LOCAL INFILE on the server side
// (local_infile=1). Files are registered with the driver for the duration
// of each load only.
type MySQLLoader struct {
	db *sqlx.DB
}

// NewMySQLLoader wraps db.
func NewMySQLLoader(db *sqlx.DB) *MySQLLoader {
	return &MySQLLoader{db: db}
}

// ApplySchema executes the embedded schema statement by statement.
func (l *MySQLLoader) ApplySchema(ctx context.Context) error {
	stmts := SchemaStatements()
	slog.Info("applying schema", "statements", len(stmts))
	for i, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d/%d (%s): %w", i+1, len(stmts), snippet(stmt), err)
		}
	}
	return nil
}

// Stage loads path into the staging table for member.
func (l *MySQLLoader) Stage(ctx context.Context, member, path string) error {
	table, ok := stagingTables[member]
	if !ok {
		return fmt.Errorf("no staging table for %s", member)
	}
	if strings.ContainsAny(path, "'\\") {
		return fmt.Errorf("refusing to load %q: path contains quote characters", path)
	}

	mysql.RegisterLocalFile(path)
	defer mysql.DeregisterLocalFile(path)

	res, err := l.db.ExecContext(ctx, loadStatement(table, path))
	if err != nil {
		return fmt.Errorf("load %s into %s: %w", member, table, err)
	}
	n, _ := res.RowsAffected()
	slog.Info("staged", "table", table, "rows", n)
	return nil
}

// StagedCounts counts rows in each staging table.
func (l *MySQLLoader) StagedCounts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(stagingTables))
	for _, table := range []string{"stg_hd", "stg_en", "stg_am"} {
		var n int64
		if err := l.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

// Merge runs the three upserts in one transaction.
func (l *MySQLLoader) Merge(ctx context.Context) (err error) {
	tx, err := l.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("merge rollback failed", "error", rbErr)
			}
		}
	}()

	for i, stmt := range mergeStatements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("merge %s: %w", finalTables[i], err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

// RebuildView replaces v_callbook.
func (l *MySQLLoader) RebuildView(ctx context.Context) error {
	for _, stmt := range ViewStatements() {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rebuild view: %w", err)
		}
	}
	return nil
}

type classCount struct {
	Class sql.NullString `db:"operator_class"`
	Count int64          `db:"cnt"`
}

// Diagnostics reads final row counts and the top operator classes.
func (l *MySQLLoader) Diagnostics(ctx context.Context) (map[string]int64, map[string]int64, error) {
	rows := make(map[string]int64, len(finalTables))
	for _, table := range finalTables {
		var n int64
		if err := l.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, nil, fmt.Errorf("count %s: %w", table, err)
		}
		rows[table] = n
	}

	var dist []classCount
	if err := l.db.SelectContext(ctx, &dist,
		"SELECT operator_class, COUNT(*) AS cnt FROM am GROUP BY operator_class ORDER BY cnt DESC LIMIT 10"); err != nil {
		return rows, nil, fmt.Errorf("operator class distribution: %w", err)
	}
	classes := make(map[string]int64, len(dist))
	for _, d := range dist {
		key := "NULL"
		if d.Class.Valid {
			key = d.Class.String
		}
		classes[key] = d.Count
	}
	return rows, classes, nil
}

const viewCountsSQL = `SELECT
  COUNT(*) AS total_rows,
  COALESCE(SUM(operator_class_name = 'Club'), 0) AS club_rows,
  COALESCE(SUM(operator_class_name IS NULL), 0) AS null_name_rows
FROM v_callbook`

// ViewDiagnostics counts v_callbook rows, club rows, and rows with no
// class name.
func (l *MySQLLoader) ViewDiagnostics(ctx context.Context) (*ledger.ViewCounts, error) {
	var v ledger.ViewCounts
	if err := l.db.GetContext(ctx, &v, viewCountsSQL); err != nil {
		return nil, fmt.Errorf("view diagnostics: %w", err)
	}
	return &v, nil
}

func snippet(stmt string) string {
	s := strings.Join(strings.Fields(stmt), " ")
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}

var _ Loader = (*MySQLLoader)(nil)

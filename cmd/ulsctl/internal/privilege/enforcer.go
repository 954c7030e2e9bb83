// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package privilege converges the restricted read principal used by the
// serving API to exactly one grant: SELECT on the callbook view.
package privilege

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/secrets"
)

var (
	// ErrViewMissing means the read view does not exist, which signals that
	// no ingestion has completed against this database.
	ErrViewMissing = errors.New("read view missing")

	// ErrGrantDrift means the grant set read back after enforcement is not
	// exactly SELECT on the view.
	ErrGrantDrift = errors.New("grant set does not match")

	// ErrInvalidCredential means the password cannot be embedded safely.
	ErrInvalidCredential = errors.New("invalid read-only credential")
)

var (
	identPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	hostPattern  = regexp.MustCompile(`^[A-Za-z0-9_.%-]+$`)
	grantPattern = regexp.MustCompile("^GRANT (.+?) ON (\\S+) TO ")

	// Matches the authentication clause MariaDB appends to the USAGE grant,
	// e.g. IDENTIFIED BY PASSWORD '*hash' or IDENTIFIED VIA plugin. A
	// trailing WITH GRANT OPTION is captured so it survives redaction.
	identifiedPattern = regexp.MustCompile(`(?i)\s+IDENTIFIED\s+(?:BY|VIA|WITH)\b.*?(\s+WITH\s+GRANT\s+OPTION)?$`)
)

// DB is the subset of *sqlx.DB the enforcer uses.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
}

// Target names the principal and the object it may read.
type Target struct {
	User     string
	Host     string
	Database string
	View     string
}

// DefaultTarget is callbook_ro@'%' reading uls.v_callbook.
func DefaultTarget() Target {
	return Target{User: "callbook_ro", Host: "%", Database: "uls", View: "v_callbook"}
}

func (t Target) validate() error {
	for _, id := range []string{t.User, t.Database, t.View} {
		if !identPattern.MatchString(id) {
			return fmt.Errorf("invalid identifier %q", id)
		}
	}
	if !hostPattern.MatchString(t.Host) {
		return fmt.Errorf("invalid host pattern %q", t.Host)
	}
	return nil
}

func (t Target) principal() string {
	return fmt.Sprintf("'%s'@'%s'", t.User, t.Host)
}

func (t Target) object() string {
	return fmt.Sprintf("`%s`.`%s`", t.Database, t.View)
}

// Result is what enforcement observed.
type Result struct {
	// Grants is the SHOW GRANTS output after enforcement, for display,
	// with any authentication clause removed.
	Grants []string
}

// Enforcer converges the restricted principal.
type Enforcer interface {
	Enforce(ctx context.Context, password string) (*Result, error)
}

// SQLEnforcer issues the administrative statements over a root connection.
type SQLEnforcer struct {
	db     DB
	target Target
}

// NewSQLEnforcer creates an enforcer for target over db.
func NewSQLEnforcer(db DB, target Target) *SQLEnforcer {
	return &SQLEnforcer{db: db, target: target}
}

// Enforce runs the convergence sequence.
//
// # Description
//
// Creates the principal if absent, resets its password to the current
// secret, revokes everything, confirms the view exists, grants SELECT on
// it, and reads the grant set back. Running it twice yields the same end
// state. The password is never logged.
//
// # Inputs
//
//   - password: The read-only secret. Must satisfy secrets.ValidValue.
//
// # Outputs
//
//   - *Result: Grants as read back. Nil on error.
//   - error: ErrViewMissing, ErrGrantDrift, ErrInvalidCredential, or a
//     wrapped driver error naming the failing statement.
func (e *SQLEnforcer) Enforce(ctx context.Context, password string) (*Result, error) {
	t := e.target
	if err := t.validate(); err != nil {
		return nil, err
	}
	if !secrets.ValidValue(password) {
		return nil, ErrInvalidCredential
	}

	steps := []struct {
		name string
		stmt string
	}{
		{"create user", "CREATE USER IF NOT EXISTS " + t.principal()},
		{"set password", fmt.Sprintf("ALTER USER %s IDENTIFIED BY '%s'", t.principal(), password)},
		{"revoke", "REVOKE ALL PRIVILEGES, GRANT OPTION FROM " + t.principal()},
	}
	for _, s := range steps {
		if _, err := e.db.ExecContext(ctx, s.stmt); err != nil {
			return nil, fmt.Errorf("%s %s: %w", s.name, t.principal(), err)
		}
	}

	if err := e.requireView(ctx); err != nil {
		return nil, err
	}

	if _, err := e.db.ExecContext(ctx, fmt.Sprintf("GRANT SELECT ON %s TO %s", t.object(), t.principal())); err != nil {
		return nil, fmt.Errorf("grant select on %s: %w", t.object(), err)
	}

	grants, err := e.showGrants(ctx)
	if err != nil {
		return nil, err
	}
	if err := verifyGrants(grants, t); err != nil {
		return &Result{Grants: grants}, err
	}
	slog.Info("read-only principal converged", "principal", t.principal(), "object", t.object())
	return &Result{Grants: grants}, nil
}

func (e *SQLEnforcer) requireView(ctx context.Context) error {
	t := e.target
	rows, err := e.db.QueryxContext(ctx, fmt.Sprintf("SHOW FULL TABLES FROM `%s` LIKE '%s'", t.Database, t.View))
	if err != nil {
		return fmt.Errorf("look up %s: %w", t.object(), err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return fmt.Errorf("look up %s: %w", t.object(), err)
		}
		if name == t.View && strings.EqualFold(kind, "VIEW") {
			return rows.Err()
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("look up %s: %w", t.object(), err)
	}
	return fmt.Errorf("%w: %s", ErrViewMissing, t.object())
}

func (e *SQLEnforcer) showGrants(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryxContext(ctx, "SHOW GRANTS FOR "+e.target.principal())
	if err != nil {
		return nil, fmt.Errorf("show grants: %w", err)
	}
	defer rows.Close()

	var grants []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("show grants: %w", err)
		}
		grants = append(grants, redactGrant(g))
	}
	return grants, rows.Err()
}

// redactGrant drops the authentication clause so a password hash never
// reaches the terminal or an error message.
func redactGrant(g string) string {
	return identifiedPattern.ReplaceAllString(g, "$1")
}

// verifyGrants accepts the implicit USAGE grant plus exactly one SELECT on
// the view.
func verifyGrants(grants []string, t Target) error {
	want := t.Database + "." + t.View
	var matched int
	for _, g := range grants {
		m := grantPattern.FindStringSubmatch(g)
		if m == nil {
			return fmt.Errorf("%w: unparseable grant %q", ErrGrantDrift, g)
		}
		privs, obj := strings.TrimSpace(m[1]), strings.ReplaceAll(m[2], "`", "")
		if privs == "USAGE" && obj == "*.*" {
			continue
		}
		if privs != "SELECT" || obj != want {
			return fmt.Errorf("%w: unexpected %q", ErrGrantDrift, g)
		}
		matched++
	}
	if matched != 1 {
		return fmt.Errorf("%w: %d SELECT grants on %s", ErrGrantDrift, matched, want)
	}
	return nil
}

var _ Enforcer = (*SQLEnforcer)(nil)

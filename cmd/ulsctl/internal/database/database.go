// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package database opens the MariaDB connections used by the ingestion
// pipeline (loader principal) and the privilege enforcer (root principal).
package database

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Config describes one authenticated connection to the storage service.
type Config struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string

	// Timeout bounds dialing and the initial ping. Default: 10s.
	Timeout time.Duration
}

// DSN renders the driver connection string.
//
// The password is embedded, so the result must never be logged. Use
// Redacted for log output.
func (c Config) DSN() string {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.Name
	mc.Timeout = timeout
	mc.ParseTime = true
	mc.Collation = "utf8mb4_general_ci"
	return mc.FormatDSN()
}

// Redacted is a log-safe description of the connection.
func (c Config) Redacted() string {
	return fmt.Sprintf("%s@%s/%s", c.User, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Name)
}

// Validate checks required fields.
func (c Config) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("database host is required")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("database port %d out of range", c.Port)
	case c.User == "":
		return fmt.Errorf("database user is required")
	}
	return nil
}

// Open connects and pings.
//
// # Description
//
// A single short-lived controller run needs very few connections; the pool
// is capped at two so a stuck statement cannot fan out.
//
// # Outputs
//
//   - *sqlx.DB: Live pool. Caller closes.
//   - error: Validation, dial, or authentication failure.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sqlx.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Redacted(), err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Redacted(), err)
	}
	slog.Debug("database connected", "target", cfg.Redacted())
	return db, nil
}

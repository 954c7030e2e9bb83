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

// Package testinfra starts disposable MariaDB servers for integration
// tests. Every helper skips the calling test when Docker is unavailable.
package testinfra

import (
	"context"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/database"
)

const (
	// DefaultMariaDBImage matches the image the stack's compose file pins.
	DefaultMariaDBImage = "mariadb:11.4"

	// RootPassword and LoaderPassword are fixed test credentials.
	RootPassword   = "IntegrationRoot1"
	LoaderPassword = "IntegrationLoader1"

	DatabaseName = "uls"
	LoaderUser   = "uls"
)

// MariaDB is a running server.
type MariaDB struct {
	testcontainers.Container
	Host string
	Port int
}

// SkipIfNoDocker skips the test if the Docker daemon is not reachable.
func SkipIfNoDocker(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

// StartMariaDB starts a server with the uls database and loader user
// created, and terminates it when the test ends.
func StartMariaDB(t *testing.T) *MariaDB {
	t.Helper()
	SkipIfNoDocker(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        DefaultMariaDBImage,
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MARIADB_ROOT_PASSWORD": RootPassword,
			"MARIADB_DATABASE":      DatabaseName,
			"MARIADB_USER":          LoaderUser,
			"MARIADB_PASSWORD":      LoaderPassword,
		},
		Cmd: []string{"--local-infile=1"},
		// The entrypoint runs a temporary server during initialization, so
		// the second readiness line is the real one.
		WaitingFor: wait.ForAll(
			wait.ForLog("ready for connections").WithOccurrence(2),
			wait.ForListeningPort("3306/tcp"),
		).WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mariadb: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, "3306/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	port, err := strconv.Atoi(mapped.Port())
	if err != nil {
		t.Fatalf("parse port %q: %v", mapped.Port(), err)
	}
	return &MariaDB{Container: container, Host: host, Port: port}
}

// Config returns connection settings for user on the uls database.
func (m *MariaDB) Config(user, password string) database.Config {
	return database.Config{
		Host:     m.Host,
		Port:     m.Port,
		Name:     DatabaseName,
		User:     user,
		Password: password,
		Timeout:  30 * time.Second,
	}
}

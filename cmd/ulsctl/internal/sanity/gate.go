// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sanity adapts the external verification step to a single
// pass/fail gate.
package sanity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/infra/process"
)

// ErrCheckFailed is returned when the verification reports failure.
var ErrCheckFailed = errors.New("sanity check failed")

// Gate is the verification collaborator.
type Gate interface {
	// Check runs the verification, writing any output to out.
	Check(ctx context.Context, out io.Writer) error

	// Describe names the check for operator output.
	Describe() string
}

// CommandGate runs an external command; exit status 0 passes.
type CommandGate struct {
	proc    process.Manager
	command []string
}

// NewCommandGate creates a gate running command[0] with command[1:].
func NewCommandGate(proc process.Manager, command []string) (*CommandGate, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, errors.New("sanity: empty command")
	}
	return &CommandGate{proc: proc, command: command}, nil
}

// Check implements Gate. The returned error wraps the *util.CommandError so
// the caller can tail its output.
func (g *CommandGate) Check(ctx context.Context, out io.Writer) error {
	if err := g.proc.RunStreaming(ctx, out, g.command[0], g.command[1:]...); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckFailed, err)
	}
	return nil
}

// Describe implements Gate.
func (g *CommandGate) Describe() string {
	return fmt.Sprintf("command %v", g.command)
}

// HTTPGate probes a health endpoint until it answers 2xx.
//
// The API is started without health gating, so a few connection refusals
// right after start are expected and retried.
type HTTPGate struct {
	URL      string
	Client   *http.Client
	Attempts uint64
	Interval time.Duration
}

// NewHTTPGate creates a gate with defaults of 15 attempts at 2s.
func NewHTTPGate(url string) *HTTPGate {
	return &HTTPGate{
		URL:      url,
		Client:   &http.Client{Timeout: 5 * time.Second},
		Attempts: 15,
		Interval: 2 * time.Second,
	}
}

// Check implements Gate.
func (g *HTTPGate) Check(ctx context.Context, out io.Writer) error {
	attempts := g.Attempts
	if attempts == 0 {
		attempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(g.Interval), attempts-1), ctx)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := g.Client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(out, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("GET %s returned %s", g.URL, resp.Status)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		slog.Debug("sanity endpoint not ready", "url", g.URL, "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return fmt.Errorf("%w: %w", ErrCheckFailed, err)
	}
	return nil
}

// Describe implements Gate.
func (g *HTTPGate) Describe() string {
	return "GET " + g.URL
}

// Tee returns a writer that copies to out and appends to the log at path.
// The returned close function must be called when the check is done.
func Tee(out io.Writer, path string) (io.Writer, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create sanity log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open sanity log: %w", err)
	}
	fmt.Fprintf(f, "=== sanity %s ===\n", time.Now().UTC().Format(time.RFC3339))
	return io.MultiWriter(out, f), f.Close, nil
}

var (
	_ Gate = (*CommandGate)(nil)
	_ Gate = (*HTTPGate)(nil)
)

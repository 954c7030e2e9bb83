// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// HeartbeatConfig configures the liveness indicator shown during a long blocking step.
type HeartbeatConfig struct {
	// Enabled turns the heartbeat on. Unattended (--ci) runs leave it off.
	Enabled bool

	// Message is shown next to each tick.
	Message string

	// Interval between ticks. On a terminal this is the frame rate; otherwise
	// a progress line is printed every Interval.
	Interval time.Duration

	// Writer receives the output. Default: os.Stderr.
	Writer io.Writer

	// Terminal selects spinner frames (true) or plain progress lines (false).
	Terminal bool
}

var heartbeatFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// WithHeartbeat runs fn while a heartbeat ticks alongside it.
//
// # Description
//
// The heartbeat is a side-effect-only task: it carries no data and fn's
// result is returned unchanged. The heartbeat is stopped and joined before
// WithHeartbeat returns, so no output is written after the paired step
// completes. When cfg.Enabled is false, fn runs alone.
//
// # Inputs
//
//   - ctx: Parent context. Cancelling it cancels fn's context.
//   - cfg: Heartbeat settings.
//   - fn: The blocking step.
//
// # Outputs
//
//   - error: Exactly the error fn returned.
func WithHeartbeat(ctx context.Context, cfg HeartbeatConfig, fn func(ctx context.Context) error) error {
	if !cfg.Enabled {
		return fn(ctx)
	}
	if cfg.Interval <= 0 {
		if cfg.Terminal {
			cfg.Interval = 100 * time.Millisecond
		} else {
			cfg.Interval = 15 * time.Second
		}
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	g.Go(func() error {
		tick(gctx, cfg, stop)
		return nil
	})

	var stepErr error
	g.Go(func() error {
		defer close(stop)
		stepErr = fn(gctx)
		return nil
	})

	_ = g.Wait()
	return stepErr
}

func tick(ctx context.Context, cfg HeartbeatConfig, stop <-chan struct{}) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	start := time.Now()
	frame := 0
	for {
		select {
		case <-stop:
			if cfg.Terminal {
				write(cfg.Writer, "\r\033[K")
			}
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start).Round(time.Second)
			if cfg.Terminal {
				write(cfg.Writer, fmt.Sprintf("\r%s %s (%s)", heartbeatFrames[frame%len(heartbeatFrames)], cfg.Message, elapsed))
				frame++
			} else {
				write(cfg.Writer, fmt.Sprintf("... %s (%s elapsed)\n", cfg.Message, elapsed))
			}
		}
	}
}

func write(w io.Writer, s string) {
	if _, err := io.WriteString(w, s); err != nil {
		slog.Debug("heartbeat write failed", "error", err)
	}
}

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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

// Fetcher talks to the upstream dataset source.
type Fetcher interface {
	// Probe returns the current validators without downloading the payload.
	Probe(ctx context.Context, url string) (Validators, error)

	// Download writes the payload to dest, verifying its length. prior
	// validators, when complete, are sent as conditional headers.
	Download(ctx context.Context, url string, prior Validators, dest string) (*Payload, error)
}

// Payload describes a verified download.
type Payload struct {
	Path       string
	SHA256     string
	Bytes      int64
	Validators Validators
}

// HTTPFetcher implements Fetcher over net/http.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher creates a fetcher with the given overall request timeout.
func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
}

// Probe issues a HEAD request. A server that rejects HEAD yields empty
// validators, which forces a download rather than a failure.
func (f *HTTPFetcher) Probe(ctx context.Context, url string) (Validators, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return Validators{}, err
	}
	f.decorate(req)

	resp, err := f.Client.Do(req)
	if err != nil {
		return Validators{}, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		slog.Debug("upstream rejects HEAD, continuing without validators", "status", resp.StatusCode)
		return Validators{}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Validators{}, fmt.Errorf("%w: HEAD %s returned %s", ErrUpstreamStatus, url, resp.Status)
	}
	return validatorsOf(resp), nil
}

// Download streams the payload to a temporary file next to dest, hashing as
// it goes, then renames it into place.
//
// # Outputs
//
//   - *Payload: Verified payload at dest.
//   - error: ErrNotModified on 304, ErrUpstreamStatus on other non-2xx,
//     ErrEmptyPayload for zero bytes, ErrTruncatedPayload when fewer bytes
//     arrived than Content-Length declared.
func (f *HTTPFetcher) Download(ctx context.Context, url string, prior Validators, dest string) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	f.decorate(req)
	if prior.Complete() {
		req.Header.Set("If-None-Match", prior.ETag)
		req.Header.Set("If-Modified-Since", prior.LastModified)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s returned %s", ErrUpstreamStatus, url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return nil, fmt.Errorf("create download file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	hash := sha256.New()
	progress := &progressWriter{total: resp.ContentLength, every: rate.Sometimes{Interval: 10 * time.Second}}
	n, copyErr := io.Copy(io.MultiWriter(tmp, hash, progress), resp.Body)
	closeErr := tmp.Close()

	if copyErr != nil {
		if resp.ContentLength > 0 && n < resp.ContentLength {
			return nil, fmt.Errorf("%w: got %d of %d bytes: %v", ErrTruncatedPayload, n, resp.ContentLength, copyErr)
		}
		return nil, fmt.Errorf("download %s: %w", url, copyErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("write download file: %w", closeErr)
	}
	if n == 0 {
		return nil, ErrEmptyPayload
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrTruncatedPayload, n, resp.ContentLength)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		return nil, fmt.Errorf("install download: %w", err)
	}

	p := &Payload{
		Path:       dest,
		SHA256:     hex.EncodeToString(hash.Sum(nil)),
		Bytes:      n,
		Validators: validatorsOf(resp),
	}
	slog.Info("download complete", "bytes", p.Bytes, "sha256", p.SHA256)
	return p, nil
}

func (f *HTTPFetcher) decorate(req *http.Request) {
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
}

func validatorsOf(resp *http.Response) Validators {
	return Validators{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
}

// IsPayloadError reports whether err is a verification failure of the payload itself.
func IsPayloadError(err error) bool {
	return errors.Is(err, ErrEmptyPayload) || errors.Is(err, ErrTruncatedPayload)
}

type progressWriter struct {
	total int64
	done  int64
	every rate.Sometimes
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.done += int64(len(b))
	p.every.Do(func() {
		slog.Info("downloading", "bytes", p.done, "total", p.total)
	})
	return len(b), nil
}

var _ Fetcher = (*HTTPFetcher)(nil)

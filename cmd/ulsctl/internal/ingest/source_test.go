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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testETag    = `"5e1-61a"`
	testLastMod = "Sun, 01 Mar 2026 00:00:00 GMT"
)

func newFetcher() *HTTPFetcher {
	return NewHTTPFetcher(10*time.Second, "ulsctl-test")
}

func TestProbe_ReturnsValidators(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "ulsctl-test", r.Header.Get("User-Agent"))
		w.Header().Set("ETag", testETag)
		w.Header().Set("Last-Modified", testLastMod)
	}))
	defer srv.Close()

	v, err := newFetcher().Probe(context.Background(), srv.URL+"/l_amat.zip")
	require.NoError(t, err)
	assert.Equal(t, Validators{ETag: testETag, LastModified: testLastMod}, v)
}

func TestProbe_HeadNotAllowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	v, err := newFetcher().Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, v.Complete())
}

func TestProbe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newFetcher().Probe(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrUpstreamStatus)
}

func TestDownload_HashesAndInstalls(t *testing.T) {
	body := []byte("payload bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", testETag)
		w.Header().Set("Last-Modified", testLastMod)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "cache", "l_amat.zip")
	p, err := newFetcher().Download(context.Background(), srv.URL, Validators{}, dest)
	require.NoError(t, err)

	sum := sha256.Sum256(body)
	assert.Equal(t, hex.EncodeToString(sum[:]), p.SHA256)
	assert.Equal(t, int64(len(body)), p.Bytes)
	assert.Equal(t, testETag, p.Validators.ETag)

	onDisk, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, onDisk)

	entries, _ := os.ReadDir(filepath.Dir(dest))
	assert.Len(t, entries, 1, "partial file removed")
}

func TestDownload_ConditionalNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == testETag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "l_amat.zip")
	_, err := newFetcher().Download(context.Background(), srv.URL, Validators{ETag: testETag, LastModified: testLastMod}, dest)
	assert.ErrorIs(t, err, ErrNotModified)
	assert.NoFileExists(t, dest)
}

func TestDownload_NonSuccessIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newFetcher().Download(context.Background(), srv.URL, Validators{}, filepath.Join(t.TempDir(), "a.zip"))
	assert.ErrorIs(t, err, ErrUpstreamStatus)
}

func TestDownload_EmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "a.zip")
	_, err := newFetcher().Download(context.Background(), srv.URL, Validators{}, dest)
	assert.ErrorIs(t, err, ErrEmptyPayload)
	assert.True(t, IsPayloadError(err))
	assert.NoFileExists(t, dest)
}

func TestDownload_Truncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(1000))
		_, _ = w.Write([]byte("only a little"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "a.zip")
	_, err := newFetcher().Download(context.Background(), srv.URL, Validators{}, dest)
	assert.ErrorIs(t, err, ErrTruncatedPayload)
	assert.NoFileExists(t, dest)
}

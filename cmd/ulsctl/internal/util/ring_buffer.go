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
	"bytes"
	"sync"
	"sync/atomic"
)

// RingBuffer is a fixed-capacity FIFO that overwrites its oldest entry when full.
//
// # Description
//
// Keeps the most recent N items of an unbounded stream. The controller uses it
// to retain the tail of external process output for fatal-step diagnostics.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type RingBuffer[T any] struct {
	buffer   []T
	head     int
	tail     int
	size     int
	capacity int
	dropped  int64
	mu       sync.Mutex
}

// NewRingBuffer creates a RingBuffer holding at most capacity items.
//
// Panics if capacity is not positive.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be positive")
	}

	return &RingBuffer[T]{
		buffer:   make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends an item, evicting the oldest when full.
//
// Returns true if an item was evicted.
func (r *RingBuffer[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := false
	if r.size == r.capacity {
		r.head = (r.head + 1) % r.capacity
		r.size--
		atomic.AddInt64(&r.dropped, 1)
		dropped = true
	}

	r.buffer[r.tail] = item
	r.tail = (r.tail + 1) % r.capacity
	r.size++

	return dropped
}

// Size returns the number of buffered items.
func (r *RingBuffer[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// DroppedCount returns how many items were evicted since creation.
func (r *RingBuffer[T]) DroppedCount() int64 {
	return atomic.LoadInt64(&r.dropped)
}

// ToSlice returns the buffered items oldest-first without draining.
func (r *RingBuffer[T]) ToSlice() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}

	result := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		result[i] = r.buffer[(r.head+i)%r.capacity]
	}
	return result
}

// TailWriter is an io.Writer that remembers the last N complete lines written.
//
// Partial lines are held until a newline arrives or Lines is called.
type TailWriter struct {
	lines   *RingBuffer[string]
	partial bytes.Buffer
	mu      sync.Mutex
}

// NewTailWriter creates a TailWriter keeping n lines.
func NewTailWriter(n int) *TailWriter {
	return &TailWriter{lines: NewRingBuffer[string](n)}
}

// Write implements io.Writer. It never fails.
func (w *TailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, b := range p {
		if b == '\n' {
			w.lines.Push(w.partial.String())
			w.partial.Reset()
			continue
		}
		w.partial.WriteByte(b)
	}
	return len(p), nil
}

// Lines returns the retained lines, including any trailing partial line.
func (w *TailWriter) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := w.lines.ToSlice()
	if w.partial.Len() > 0 {
		out = append(out, w.partial.String())
	}
	return out
}

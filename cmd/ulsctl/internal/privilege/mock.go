// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package privilege

import (
	"context"
	"sync"
)

// MockEnforcer is a test double for Enforcer.
type MockEnforcer struct {
	mu    sync.Mutex
	calls int

	EnforceFunc func(ctx context.Context, password string) (*Result, error)
}

// Enforce records the call and delegates to EnforceFunc.
func (m *MockEnforcer) Enforce(ctx context.Context, password string) (*Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.EnforceFunc != nil {
		return m.EnforceFunc(ctx, password)
	}
	return &Result{Grants: []string{"GRANT SELECT ON `uls`.`v_callbook` TO `callbook_ro`@`%`"}}, nil
}

// Calls returns how many times Enforce was called.
func (m *MockEnforcer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Enforcer = (*MockEnforcer)(nil)

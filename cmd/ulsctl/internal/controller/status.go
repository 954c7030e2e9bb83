// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package controller

import (
	"fmt"
	"io"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ledger"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/secrets"
)

// StatusSource is what a status report reads. It never takes a lock.
type StatusSource struct {
	Ledger interface {
		Path() string
		Read() (*ledger.Document, bool, error)
	}
	Secrets    secrets.Store
	ImportLock interface{ HolderPID() int }
}

// BuildStatus collects the ledger document, secret presence and the
// import lock holder. An unreadable namespace is reported missing rather
// than failing the report.
func BuildStatus(src StatusSource) (ledger.Report, error) {
	doc, exists, err := src.Ledger.Read()
	if err != nil {
		return ledger.Report{}, fmt.Errorf("read ledger: %w", err)
	}
	rep := ledger.Report{Path: src.Ledger.Path(), Exists: exists, Document: doc}

	if src.Secrets != nil {
		present, err := src.Secrets.Present()
		if err != nil {
			return ledger.Report{}, fmt.Errorf("inspect secrets: %w", err)
		}
		for _, k := range secrets.Kinds {
			rep.Secrets = append(rep.Secrets, ledger.SecretPresence{Name: string(k), Present: present[k]})
		}
	}
	if src.ImportLock != nil {
		rep.LockHolderPID = src.ImportLock.HolderPID()
	}
	return rep, nil
}

// RenderStatus writes the status view for this controller's state.
func (c *Controller) RenderStatus(w io.Writer) error {
	rep, err := BuildStatus(StatusSource{
		Ledger:     c.deps.Ledger,
		Secrets:    c.deps.Secrets,
		ImportLock: c.deps.ImportLock,
	})
	if err != nil {
		return err
	}
	return ledger.Render(w, rep)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/controller"
	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ledger"
	"github.com/hamcall/ulsbook/pkg/ux"
)

// runStatus is read-only: it never starts services, takes the import lock
// or writes the ledger.
func runStatus(cmd *cobra.Command, args []string) error {
	if statusJSON {
		raw, err := app.ledger.ReadRaw()
		if err != nil {
			return err
		}
		if raw == nil {
			ux.Warning("no prior run: " + app.ledger.Path() + " does not exist")
			raw = []byte("{}\n")
		}
		_, err = ux.Stdout().Write(raw)
		return err
	}

	rep, err := controller.BuildStatus(controller.StatusSource{
		Ledger:     app.ledger,
		Secrets:    app.secrets,
		ImportLock: app.importLock,
	})
	if err != nil {
		return fmt.Errorf("build status: %w", err)
	}
	return ledger.Render(ux.Stdout(), rep)
}

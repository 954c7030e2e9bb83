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

	"github.com/hamcall/ulsbook/cmd/ulsctl/internal/ingest"
	"github.com/hamcall/ulsbook/pkg/ux"
)

// runImport runs the ingestion pipeline alone, against a stack that is
// already up. It shares the import lock with reconcile runs, so a
// concurrent attempt records a "locked" skip instead of waiting.
func runImport(cmd *cobra.Command, args []string) error {
	bundle, err := app.secrets.Load()
	if err != nil {
		return fmt.Errorf("load credentials (run ulsctl once to initialize): %w", err)
	}
	defer bundle.Destroy()

	ing, closeFn, err := app.newIngestor(cmd.Context(), bundle)
	if err != nil {
		return fmt.Errorf("connect to storage: %w", err)
	}
	defer closeFn()

	res, err := ing.Run(cmd.Context())
	if err != nil {
		if res != nil {
			ux.Error(fmt.Sprintf("Import failed at %s", res.Stage))
		}
		return err
	}

	switch res.Outcome {
	case ingest.OutcomeSkipped:
		ux.Skipped("Import skipped: " + res.SkipReason)
	default:
		ux.Success(fmt.Sprintf("Imported %s", formatRows(res.Rows)))
	}
	return nil
}

func formatRows(rows map[string]int64) string {
	var total int64
	for _, n := range rows {
		total += n
	}
	return fmt.Sprintf("%d rows across %d tables", total, len(rows))
}

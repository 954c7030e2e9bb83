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

	"github.com/hamcall/ulsbook/cmd/ulsctl/config"
	"github.com/hamcall/ulsbook/pkg/ux"
)

func runConfigShow(cmd *cobra.Command, args []string) error {
	out, err := config.Marshal(app.cfg)
	if err != nil {
		return err
	}
	_, err = ux.Stdout().Write(out)
	return err
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	_, err := fmt.Fprintln(ux.Stdout(), app.cfgPath)
	return err
}

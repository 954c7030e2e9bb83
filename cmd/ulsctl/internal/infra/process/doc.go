// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package process wraps the host facilities the controller needs from the
// operating system: running external commands and holding host-scoped locks.
//
// # Overview
//
// [Manager] runs docker, crontab, and the sanity check. Non-zero exits are
// returned as *util.CommandError so callers can tail stderr into fatal step
// diagnostics. [MockManager] records every call for tests.
//
// [FileLock] is an flock(2) lock. The controller uses two:
//
//   - the import lock, taken non-blockingly around one ingestion attempt
//   - the ledger lock, taken blockingly around each read-merge-write
//
// Both are released by the kernel if the process dies.
package process

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package util provides leaf utilities for the ulsctl controller.
//
// Nothing here imports another internal package.
//
//   - [CommandError]: failure of an external command with captured stderr
//   - [RingBuffer] and [TailWriter]: bounded tails of process output
//   - [WithHeartbeat]: liveness output paired with a long blocking step
//   - [EnvVars]: validated environment for child processes, with redaction
package util

// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package migrations

import "embed"

// FS contains the embedded SQLite migrations for the entity store and ledger.
//
//go:embed *.sql
var FS embed.FS

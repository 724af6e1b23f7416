// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

/*
Package services provides suture.Service wrappers for chatcounter components.

Each wrapper translates a component's lifecycle into suture's
Serve(ctx) error and names itself through fmt.Stringer:

  - HTTPServerService: ListenAndServe/Shutdown (admin HTTP server)
  - LifecycleService: Start/Stop (job queue compactor)
  - RouterService: rebuilds and runs the Watermill consumer router
  - AuditService: periodic read-only counter drift audit

The counter worker pool implements Serve itself and is added to the tree
directly.

Returning an error from Serve makes suture restart the service with
backoff; returning ctx.Err() after cancellation is a clean stop.
*/
package services

// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

// Package jobqueue provides the durable, retrying work queue between the
// event consumers and the counter workers, backed by BadgerDB.
//
// # Lifecycle
//
//	Enqueue → task:pending ──Claim (lease)──→ Complete → task:done → compaction
//	                ↑                    │
//	                └── Fail (backoff) ──┤
//	                                     └── attempts exhausted → task:dead
//	task:dead ──Replay──→ task:pending
//
// # Delivery
//
// Claim leases a task for VisibilityTimeout and counts the delivery. A worker
// that crashes mid-task simply lets the lease lapse; the next Claim after
// expiry delivers the task again. Fail clears the lease and hides the task for
// min(BackoffBase * 2^(attempts-1), BackoffMax). Release hands the task back
// at once and uncounts the delivery. After MaxAttempts deliveries
// the task moves to the dead-letter set, where it stays until an operator
// replays it. Nothing is ever dropped.
//
// # Usage
//
//	q, err := jobqueue.Open(&cfg)
//	if err != nil {
//	    return err
//	}
//	defer q.Close()
//
//	task, err := q.Enqueue(ctx, jobqueue.NewTask{EventType: "chat_created", EventID: id, Payload: payload})
//
//	tasks, err := q.Claim(ctx, workerID, 10)
//	for _, t := range tasks {
//	    if err := process(t); err != nil {
//	        _, _ = q.Fail(ctx, t.ID, workerID, err)
//	        continue
//	    }
//	    _ = q.Complete(ctx, t.ID, workerID)
//	}
//
// Complete, Fail and Release only act for the worker holding the latest
// lease. A worker whose lease lapsed and was claimed by another gets
// ErrLeaseNotHeld and must drop its report.
package jobqueue

// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package store

import (
	"context"
	"fmt"
)

// DriftKind names the invariant a counter row violates.
type DriftKind string

const (
	// DriftAboveRows means a counter is larger than its number of child rows.
	DriftAboveRows DriftKind = "above_rows"

	// DriftLedgerMismatch means a counter differs from its number of ledger entries.
	DriftLedgerMismatch DriftKind = "ledger_mismatch"
)

// Drift describes one counter row that breaks a counter invariant.
type Drift struct {
	Counter string    `json:"counter"`
	Key     string    `json:"key"`
	Kind    DriftKind `json:"kind"`
	Stored  int64     `json:"stored"`
	Rows    int64     `json:"rows"`
	Ledger  int64     `json:"ledger"`
}

// DriftReport is the result of a full audit pass.
type DriftReport struct {
	Applications int64   `json:"applications_checked"`
	Chats        int64   `json:"chats_checked"`
	Drifts       []Drift `json:"drifts"`
}

// Drift checks every counter against its child rows and its ledger entries.
//
// A counter may lag its child rows (events not yet applied) but must never
// exceed them, and it must always equal its ledger count because both are
// written in the same transaction. The audit only reads.
func (s *Store) Drift(ctx context.Context) (*DriftReport, error) {
	report := &DriftReport{}

	appDrifts, n, err := s.auditCounter(ctx, ApplicationChats,
		`SELECT a.token, a.chats_count,
		        (SELECT COUNT(*) FROM chats c WHERE c.application_token = a.token),
		        (SELECT COUNT(*) FROM ledger_entries l WHERE l.counter = ? AND l.target_key = a.token)
		 FROM applications a`)
	if err != nil {
		return nil, err
	}
	report.Applications = n
	report.Drifts = append(report.Drifts, appDrifts...)

	chatDrifts, n, err := s.auditCounter(ctx, ChatMessages,
		`SELECT CAST(c.id AS TEXT), c.messages_count,
		        (SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id),
		        (SELECT COUNT(*) FROM ledger_entries l WHERE l.counter = ? AND l.target_key = CAST(c.id AS TEXT))
		 FROM chats c`)
	if err != nil {
		return nil, err
	}
	report.Chats = n
	report.Drifts = append(report.Drifts, chatDrifts...)

	return report, nil
}

func (s *Store) auditCounter(ctx context.Context, counter Counter, query string) ([]Drift, int64, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, counter.name)
	if err != nil {
		return nil, 0, unavailable("audit "+counter.name, err)
	}
	defer rows.Close()

	var (
		drifts  []Drift
		checked int64
	)
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.Key, &d.Stored, &d.Rows, &d.Ledger); err != nil {
			return nil, 0, fmt.Errorf("scan %s audit row: %w", counter.name, err)
		}
		checked++
		d.Counter = counter.name

		switch {
		case d.Stored > d.Rows:
			d.Kind = DriftAboveRows
		case d.Stored != d.Ledger:
			d.Kind = DriftLedgerMismatch
		default:
			continue
		}
		drifts = append(drifts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, unavailable("audit "+counter.name, err)
	}
	return drifts, checked, nil
}

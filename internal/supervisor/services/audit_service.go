// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package services

import (
	"context"
	"time"

	"github.com/tomtom215/chatcounter/internal/logging"
	"github.com/tomtom215/chatcounter/internal/metrics"
	"github.com/tomtom215/chatcounter/internal/store"
)

// DriftAuditor reports counters that break their invariants.
// Satisfied by *store.Store.
type DriftAuditor interface {
	Drift(ctx context.Context) (*store.DriftReport, error)
}

// AuditService runs the read-only counter drift audit on a fixed interval
// and exports the result as metrics. It never repairs anything; drift is an
// operator signal.
type AuditService struct {
	auditor  DriftAuditor
	interval time.Duration
	name     string
}

// NewAuditService creates an audit service running every interval.
func NewAuditService(auditor DriftAuditor, interval time.Duration) *AuditService {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &AuditService{auditor: auditor, interval: interval, name: "counter-audit"}
}

// Serve implements suture.Service. The first audit runs immediately.
func (s *AuditService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs one audit pass and records its metrics.
func (s *AuditService) RunOnce(ctx context.Context) *store.DriftReport {
	start := time.Now()
	report, err := s.auditor.Drift(ctx)
	duration := time.Since(start)

	if err != nil {
		metrics.RecordAudit(duration, nil, err)
		if ctx.Err() == nil {
			logging.Error().Err(err).Msg("Counter drift audit failed")
		}
		return nil
	}

	drifted := make(map[[2]string]int)
	for _, d := range report.Drifts {
		drifted[[2]string{d.Counter, string(d.Kind)}]++
	}
	metrics.RecordAudit(duration, drifted, nil)

	event := logging.Info()
	if len(report.Drifts) > 0 {
		event = logging.Warn()
		for _, d := range report.Drifts {
			logging.Warn().
				Str("counter", d.Counter).
				Str("key", d.Key).
				Str("kind", string(d.Kind)).
				Int64("stored", d.Stored).
				Int64("rows", d.Rows).
				Int64("ledger", d.Ledger).
				Msg("Counter drift detected")
		}
	}
	event.
		Int64("applications", report.Applications).
		Int64("chats", report.Chats).
		Int("drifted", len(report.Drifts)).
		Dur("duration", duration).
		Msg("Counter drift audit completed")

	return report
}

// String implements fmt.Stringer.
func (s *AuditService) String() string {
	return s.name
}

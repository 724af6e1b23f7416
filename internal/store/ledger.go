// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/chatcounter/internal/logging"
	"github.com/tomtom215/chatcounter/internal/metrics"
)

// Counter identifies a derived counter column and the natural key that locates its row.
type Counter struct {
	name     string
	table    string
	column   string
	keyWhere string
}

var (
	// ApplicationChats is applications.chats_count, keyed by application token.
	ApplicationChats = Counter{
		name:     "application.chats_count",
		table:    "applications",
		column:   "chats_count",
		keyWhere: "token = ?",
	}

	// ChatMessages is chats.messages_count, keyed by chat id.
	ChatMessages = Counter{
		name:     "chat.messages_count",
		table:    "chats",
		column:   "messages_count",
		keyWhere: "id = ?",
	}
)

// String returns the counter name recorded in ledger entries.
func (c Counter) String() string {
	return c.name
}

// ParseCounter resolves a counter name produced by Counter.String.
func ParseCounter(name string) (Counter, error) {
	switch name {
	case ApplicationChats.name:
		return ApplicationChats, nil
	case ChatMessages.name:
		return ChatMessages, nil
	default:
		return Counter{}, fmt.Errorf("unknown counter %q", name)
	}
}

// Key is a natural key value. Application tokens are strings, chat ids are integers.
type Key struct {
	str   string
	num   int64
	isNum bool
}

// TokenKey builds an application-token key.
func TokenKey(token string) Key {
	return Key{str: token}
}

// IDKey builds a numeric row-id key.
func IDKey(id int64) Key {
	return Key{num: id, isNum: true}
}

// String renders the key for ledger rows and logs.
func (k Key) String() string {
	if k.isNum {
		return strconv.FormatInt(k.num, 10)
	}
	return k.str
}

func (k Key) arg() any {
	if k.isNum {
		return k.num
	}
	return k.str
}

// LedgerEntry records that an event has been applied to a counter.
type LedgerEntry struct {
	EventID   string
	EventType string
	Counter   string
	TargetKey string
	AppliedAt time.Time
}

// Increment describes one duplicate-safe counter increment.
type Increment struct {
	EventID   string
	EventType string
	Counter   Counter
	Key       Key
}

func (inc Increment) validate() error {
	if strings.TrimSpace(inc.EventID) == "" {
		return fmt.Errorf("increment: event id is required")
	}
	if inc.Counter.table == "" {
		return fmt.Errorf("increment %s: counter is required", inc.EventID)
	}
	return nil
}

// Outcome is the result of a successful Apply.
type Outcome int

const (
	// OutcomeApplied means the ledger entry was inserted and the counter incremented.
	OutcomeApplied Outcome = iota + 1

	// OutcomeDuplicate means the event was already in the ledger; nothing changed.
	OutcomeDuplicate
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Tx is a single store transaction.
type Tx struct {
	tx  *sql.Tx
	now time.Time
}

// InTx runs fn inside one transaction. The transaction commits when fn returns
// nil and rolls back otherwise; fn's error is returned unchanged.
func (s *Store) InTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}

	if err := fn(&Tx{tx: sqlTx, now: s.now()}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logging.Warn().Err(rbErr).Msg("Entity store rollback failed")
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return unavailable("commit transaction", err)
	}
	return nil
}

// InsertLedgerEntry records entry. It returns ErrDuplicateKey when an entry
// with the same event id already exists; the transaction stays usable.
func (t *Tx) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) error {
	appliedAt := entry.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = t.now
	}

	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (event_id, event_type, counter, target_key, applied_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (event_id) DO NOTHING`,
		entry.EventID, entry.EventType, entry.Counter, entry.TargetKey, toMillis(appliedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return unavailable("insert ledger entry", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("insert ledger entry", err)
	}
	if n == 0 {
		return ErrDuplicateKey
	}
	return nil
}

// AtomicIncrement adds one to counter on the row matching key. The read and
// write happen in a single UPDATE statement. ErrNotFound is returned when no
// row matches.
func (t *Tx) AtomicIncrement(ctx context.Context, counter Counter, key Key) error {
	if counter.table == "" {
		return fmt.Errorf("atomic increment: counter is required")
	}

	//nolint:gosec // table, column and predicate come from the fixed Counter values above
	query := "UPDATE " + counter.table +
		" SET " + counter.column + " = " + counter.column + " + 1, updated_at = ?" +
		" WHERE " + counter.keyWhere

	res, err := t.tx.ExecContext(ctx, query, toMillis(t.now), key.arg())
	if err != nil {
		return unavailable("atomic increment "+counter.name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("atomic increment "+counter.name, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", counter.name, key, ErrNotFound)
	}
	return nil
}

// Apply performs a duplicate-safe increment in one transaction:
//
//  1. insert the ledger entry; a duplicate commits nothing and reports OutcomeDuplicate
//  2. increment the counter; a missing row rolls back the ledger insert and returns ErrNotFound
//
// Any other error is ErrUnavailable (or the context error) and leaves no trace.
func (s *Store) Apply(ctx context.Context, inc Increment) (Outcome, error) {
	if err := inc.validate(); err != nil {
		return 0, err
	}

	start := time.Now()
	outcome := OutcomeApplied
	err := s.InTx(ctx, func(tx *Tx) error {
		err := tx.InsertLedgerEntry(ctx, LedgerEntry{
			EventID:   inc.EventID,
			EventType: inc.EventType,
			Counter:   inc.Counter.name,
			TargetKey: inc.Key.String(),
		})
		if errors.Is(err, ErrDuplicateKey) {
			outcome = OutcomeDuplicate
			return nil
		}
		if err != nil {
			return err
		}
		return tx.AtomicIncrement(ctx, inc.Counter, inc.Key)
	})
	metrics.RecordStoreOperation("apply", time.Since(start), unexpected(err))
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

// GetLedgerEntry returns the ledger entry for eventID or ErrNotFound.
func (s *Store) GetLedgerEntry(ctx context.Context, eventID string) (*LedgerEntry, error) {
	var (
		entry     LedgerEntry
		appliedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT event_id, event_type, counter, target_key, applied_at
		 FROM ledger_entries WHERE event_id = ?`, eventID,
	).Scan(&entry.EventID, &entry.EventType, &entry.Counter, &entry.TargetKey, &appliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger entry %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get ledger entry", err)
	}
	entry.AppliedAt = fromMillis(appliedAt)
	return &entry, nil
}

// LedgerEntryExists reports whether eventID has been applied.
func (s *Store) LedgerEntryExists(ctx context.Context, eventID string) (bool, error) {
	_, err := s.GetLedgerEntry(ctx, eventID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CountLedgerEntries returns how many events have been applied to counter for key.
func (s *Store) CountLedgerEntries(ctx context.Context, counter Counter, key Key) (int64, error) {
	var n int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE counter = ? AND target_key = ?`,
		counter.name, key.String(),
	).Scan(&n)
	if err != nil {
		return 0, unavailable("count ledger entries", err)
	}
	return n, nil
}

// unexpected filters out ErrNotFound, which is an expected outcome while the
// creating write is not yet visible.
func unexpected(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
